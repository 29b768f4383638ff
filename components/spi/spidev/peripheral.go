// Package spidev drives the two chip selects of a kernel SPI bus through its spidev character
// devices, /dev/spidevB.0 and /dev/spidevB.1.
package spidev

import (
	"context"
	"fmt"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/rtspi/components/spi"
	"go.viam.com/rtspi/registry"
	"go.viam.com/rtspi/utils"
)

// ModelName is the registered name of this backend.
const ModelName = "spidev"

func init() {
	registry.RegisterPeripheral(ModelName, registry.Registration{
		Constructor: func(ctx context.Context, attributes utils.AttributeMap, logger golog.Logger) (spi.Peripheral, error) {
			attrs, err := utils.TransformAttributeMapToStruct[*Attributes](attributes)
			if err != nil {
				return nil, err
			}
			if err := attrs.Validate("attributes"); err != nil {
				return nil, err
			}
			return NewPeripheral(attrs, logger), nil
		},
		Description: "Linux spidev character devices via ioctl",
	})
}

// Attributes configure the backend.
type Attributes struct {
	// Bus is the kernel SPI bus number.
	Bus int `json:"bus"`
}

// Validate ensures all parts of the attributes are valid.
func (attrs *Attributes) Validate(path string) error {
	if attrs.Bus < 0 {
		return goutils.NewConfigValidationError(path, errors.Errorf("bus %d is negative", attrs.Bus))
	}
	return nil
}

// SPI_IOC_WR_MODE32 flags.
const (
	modeCPHA     = 0x01
	modeCPOL     = 0x02
	modeCSHigh   = 0x04
	modeLSBFirst = 0x08
)

// A device is one open spidev node.
type device interface {
	SetMode(mode uint32) error
	SetMaxSpeed(hz uint32) error
	// Transfer exchanges len(tx) bytes into rx at hz.
	Transfer(tx, rx []byte, hz uint32) error
	Close() error
}

type written struct {
	mode  uint32
	speed uint32
	valid bool
}

// Peripheral is a kernel SPI bus.
type Peripheral struct {
	mu     sync.Mutex
	bus    int
	open   func(path string) (device, error)
	logger golog.Logger

	devs     [spi.NumChipSelects]device
	written  [spi.NumChipSelects]written
	begun    bool
	lsbFirst bool
	mode     spi.DataMode
	divider  spi.ClockDivider
	polarity [spi.NumChipSelects]spi.ChipSelectPolarity
	selected spi.ChipSelect
}

// NewPeripheral returns the bus described by attrs. Nothing is opened until Init.
func NewPeripheral(attrs *Attributes, logger golog.Logger) *Peripheral {
	return &Peripheral{
		bus:     attrs.Bus,
		open:    openDevice,
		logger:  logger,
		divider: spi.SlowestClockDivider,
	}
}

// DevicePath returns the spidev node of chip select cs.
func (p *Peripheral) DevicePath(cs spi.ChipSelect) string {
	return fmt.Sprintf("/dev/spidev%d.%d", p.bus, int(cs))
}

// Init opens the spidev nodes of both chip selects.
func (p *Peripheral) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for cs := range p.devs {
		path := p.DevicePath(spi.ChipSelect(cs))
		dev, err := p.open(path)
		if err != nil {
			return multierr.Combine(errors.Wrapf(err, "opening %s", path), p.closeDevices())
		}
		p.devs[cs] = dev
	}
	p.logger.Debugw("spidev nodes opened", "bus", p.bus)
	return nil
}

// Begin starts a session. The kernel already muxed the pins.
func (p *Peripheral) Begin() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.devs[spi.CS0] == nil {
		return errors.New("spidev nodes not open")
	}
	p.begun = true
	return nil
}

// End ends the session.
func (p *Peripheral) End() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.begun = false
	return nil
}

// SetBitOrder sets the bit order of the next transfers.
func (p *Peripheral) SetBitOrder(order spi.BitOrder) error {
	if !order.Valid() {
		return errors.Wrapf(spi.ErrInvalidArgument, "bit order %d", int32(order))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lsbFirst = order == spi.LSBFirst
	return nil
}

// SetDataMode sets the data mode of the next transfers.
func (p *Peripheral) SetDataMode(mode spi.DataMode) error {
	if !mode.Valid() {
		return errors.Wrapf(spi.ErrInvalidArgument, "data mode %d", int32(mode))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode = mode
	return nil
}

// SetClockDivider sets the bus clock of the next transfers.
func (p *Peripheral) SetClockDivider(divider spi.ClockDivider) error {
	if !divider.Valid() {
		return errors.Wrapf(spi.ErrInvalidArgument, "clock divider %d", int32(divider))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.divider = divider
	return nil
}

// SetChipSelectPolarity sets the active level of one chip select line.
func (p *Peripheral) SetChipSelectPolarity(cs spi.ChipSelect, polarity spi.ChipSelectPolarity) error {
	if !cs.Valid() {
		return errors.Wrapf(spi.ErrInvalidArgument, "chip select %d", int(cs))
	}
	if !polarity.Valid() {
		return errors.Wrapf(spi.ErrInvalidArgument, "chip select polarity %d", int32(polarity))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.polarity[cs] = polarity
	return nil
}

// SelectChip picks the spidev node of the next transfers.
func (p *Peripheral) SelectChip(cs spi.ChipSelect) error {
	if !cs.Valid() {
		return errors.Wrapf(spi.ErrInvalidArgument, "chip select %d", int(cs))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selected = cs
	return nil
}

func (p *Peripheral) modeBits() uint32 {
	var bits uint32
	if p.mode.CPHA() != 0 {
		bits |= modeCPHA
	}
	if p.mode.CPOL() != 0 {
		bits |= modeCPOL
	}
	if p.polarity[p.selected] == spi.ActiveHigh {
		bits |= modeCSHigh
	}
	if p.lsbFirst {
		bits |= modeLSBFirst
	}
	return bits
}

// Transfer writes the settings to the selected node if they changed since it was last used and
// exchanges len(tx) bytes.
func (p *Peripheral) Transfer(tx, rx []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.begun {
		return errors.New("transfer outside of an SPI session")
	}
	if len(tx) > spi.MaxBufferSize {
		return errors.Wrapf(spi.ErrInvalidArgument, "transfer of %d bytes", len(tx))
	}
	dev := p.devs[p.selected]
	w := &p.written[p.selected]
	mode, speed := p.modeBits(), p.divider.Frequency()
	if !w.valid || w.mode != mode {
		if err := dev.SetMode(mode); err != nil {
			w.valid = false
			return errors.Wrapf(err, "setting mode %#x on %s", mode, p.DevicePath(p.selected))
		}
	}
	if !w.valid || w.speed != speed {
		if err := dev.SetMaxSpeed(speed); err != nil {
			w.valid = false
			return errors.Wrapf(err, "setting speed %d Hz on %s", speed, p.DevicePath(p.selected))
		}
	}
	*w = written{mode: mode, speed: speed, valid: true}
	if len(tx) == 0 {
		return nil
	}
	return dev.Transfer(tx, rx[:len(tx)], speed)
}

func (p *Peripheral) closeDevices() error {
	var err error
	for cs, dev := range p.devs {
		if dev != nil {
			err = multierr.Combine(err, dev.Close())
		}
		p.devs[cs] = nil
		p.written[cs] = written{}
	}
	return err
}

// Close closes both spidev nodes.
func (p *Peripheral) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeDevices()
}

// RealTimeSafe is false: every transfer is a system call.
func (p *Peripheral) RealTimeSafe() bool {
	return false
}
