// Package genericlinux drives any SPI port the Linux kernel exposes, through periph.io. Every
// transfer is a system call, so the backend is not real-time safe.
package genericlinux

import (
	"context"
	"fmt"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	periphspi "periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"go.viam.com/rtspi/components/spi"
	"go.viam.com/rtspi/registry"
	"go.viam.com/rtspi/utils"
)

// ModelName is the registered name of this backend.
const ModelName = "genericlinux"

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
		Description: "Linux SPI port via periph.io, optional GPIO chip selects",
	})
}

// Attributes configure the backend.
type Attributes struct {
	// Bus is the kernel SPI bus number.
	Bus int `json:"bus"`
	// ChipSelectPins, when set, name the GPIO lines driven as chip select 0 and 1 instead of the
	// controller's own chip select lines. Without them every chip select is active low, and a
	// session set to active high fails each of its transfers with EINVAL.
	ChipSelectPins []string `json:"cs_pins,omitempty"`
}

// Validate ensures all parts of the attributes are valid.
func (attrs *Attributes) Validate(path string) error {
	if attrs.Bus < 0 {
		return goutils.NewConfigValidationError(path, errors.Errorf("bus %d is negative", attrs.Bus))
	}
	if n := len(attrs.ChipSelectPins); n != 0 && n != spi.NumChipSelects {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("cs_pins must name %d pins, got %d", spi.NumChipSelects, n))
	}
	for i, name := range attrs.ChipSelectPins {
		if name == "" {
			return goutils.NewConfigValidationFieldRequiredError(fmt.Sprintf("%s.cs_pins.%d", path, i), "name")
		}
	}
	return nil
}

// A portConn is a connected port. It is closed after every transfer.
type portConn interface {
	Tx(w, r []byte) error
	Close() error
}

type dialFunc func(name string, f physic.Frequency, mode periphspi.Mode) (portConn, error)

type periphConn struct {
	periphspi.Conn
	port periphspi.PortCloser
}

func (c *periphConn) Close() error {
	return c.port.Close()
}

func dialPeriph(name string, f physic.Frequency, mode periphspi.Mode) (portConn, error) {
	port, err := spireg.Open(name)
	if err != nil {
		return nil, err
	}
	conn, err := port.Connect(f, mode, 8)
	if err != nil {
		return nil, multierr.Combine(err, port.Close())
	}
	return &periphConn{Conn: conn, port: port}, nil
}

type outPin interface {
	Out(l gpio.Level) error
}

func lookupPin(name string) (outPin, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, errors.Errorf("no GPIO pin named %q", name)
	}
	return pin, nil
}

func initHost() error {
	_, err := host.Init()
	return err
}

// Peripheral is a Linux SPI port. The settings are held here and handed to the kernel with each
// transfer.
type Peripheral struct {
	mu       sync.Mutex
	bus      int
	pinNames []string
	logger   golog.Logger

	initHost  func() error
	dial      dialFunc
	lookupPin func(name string) (outPin, error)

	begun    bool
	pins     []outPin
	lsbFirst bool
	mode     spi.DataMode
	divider  spi.ClockDivider
	polarity [spi.NumChipSelects]spi.ChipSelectPolarity
	selected spi.ChipSelect

	warnedActiveHigh [spi.NumChipSelects]bool
}

// NewPeripheral returns the port described by attrs. Nothing is touched until Init.
func NewPeripheral(attrs *Attributes, logger golog.Logger) *Peripheral {
	return &Peripheral{
		bus:       attrs.Bus,
		pinNames:  attrs.ChipSelectPins,
		logger:    logger,
		initHost:  initHost,
		dial:      dialPeriph,
		lookupPin: lookupPin,
		divider:   spi.SlowestClockDivider,
	}
}

func (p *Peripheral) gpioChipSelect() bool {
	return len(p.pinNames) != 0
}

func (p *Peripheral) portName(cs spi.ChipSelect) string {
	if p.gpioChipSelect() {
		cs = spi.CS0
	}
	return fmt.Sprintf("SPI%d.%d", p.bus, int(cs))
}

// Init loads the periph.io host drivers.
func (p *Peripheral) Init() error {
	if err := p.initHost(); err != nil {
		return errors.Wrap(err, "loading host drivers")
	}
	p.logger.Debugw("host drivers loaded", "bus", p.bus, "cs_pins", p.pinNames)
	return nil
}

// Begin claims the chip select pins, if any, and drives them inactive.
func (p *Peripheral) Begin() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pins := make([]outPin, 0, len(p.pinNames))
	for _, name := range p.pinNames {
		pin, err := p.lookupPin(name)
		if err != nil {
			return err
		}
		pins = append(pins, pin)
	}
	p.pins = pins
	for cs := range p.pins {
		if err := p.deassert(spi.ChipSelect(cs)); err != nil {
			return err
		}
	}
	p.begun = true
	return nil
}

// End releases the chip select pins.
func (p *Peripheral) End() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pins = nil
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

// SetChipSelectPolarity sets the active level of one chip select line. The kernel's own chip
// select lines are always active low; active high needs GPIO chip selects.
func (p *Peripheral) SetChipSelectPolarity(cs spi.ChipSelect, polarity spi.ChipSelectPolarity) error {
	if !cs.Valid() {
		return errors.Wrapf(spi.ErrInvalidArgument, "chip select %d", int(cs))
	}
	if !polarity.Valid() {
		return errors.Wrapf(spi.ErrInvalidArgument, "chip select polarity %d", int32(polarity))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if polarity == spi.ActiveHigh && !p.gpioChipSelect() {
		if !p.warnedActiveHigh[cs] {
			p.warnedActiveHigh[cs] = true
			p.logger.Warnw("active high chip select needs cs_pins, transfers on this chip select will fail",
				"bus", p.bus, "chip_select", cs)
		}
		return errors.Wrap(spi.ErrInvalidArgument, "active high chip select requires cs_pins")
	}
	p.polarity[cs] = polarity
	if p.begun && len(p.pins) != 0 {
		return p.deassert(cs)
	}
	return nil
}

// SelectChip picks the chip select line of the next transfers.
func (p *Peripheral) SelectChip(cs spi.ChipSelect) error {
	if !cs.Valid() {
		return errors.Wrapf(spi.ErrInvalidArgument, "chip select %d", int(cs))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selected = cs
	return nil
}

func (p *Peripheral) level(cs spi.ChipSelect, active bool) gpio.Level {
	high := p.polarity[cs] == spi.ActiveHigh
	if !active {
		high = !high
	}
	return gpio.Level(high)
}

func (p *Peripheral) assert(cs spi.ChipSelect) error {
	return errors.Wrapf(p.pins[cs].Out(p.level(cs, true)), "asserting chip select %d", int(cs))
}

func (p *Peripheral) deassert(cs spi.ChipSelect) error {
	return errors.Wrapf(p.pins[cs].Out(p.level(cs, false)), "releasing chip select %d", int(cs))
}

func (p *Peripheral) periphMode() periphspi.Mode {
	mode := periphspi.Mode(p.mode)
	if p.lsbFirst {
		mode |= periphspi.LSBFirst
	}
	if p.gpioChipSelect() {
		mode |= periphspi.NoCS
	}
	return mode
}

// Transfer opens the port of the selected chip select, connects it with the current settings
// and exchanges len(tx) bytes.
func (p *Peripheral) Transfer(tx, rx []byte) (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.begun {
		return errors.New("transfer outside of an SPI session")
	}
	if len(tx) == 0 {
		return nil
	}
	name := p.portName(p.selected)
	conn, err := p.dial(name, physic.Frequency(p.divider.Frequency())*physic.Hertz, p.periphMode())
	if err != nil {
		return errors.Wrapf(err, "opening %s", name)
	}
	defer func() {
		err = multierr.Combine(err, conn.Close())
	}()

	if len(p.pins) != 0 {
		if err := p.assert(p.selected); err != nil {
			return err
		}
		defer func() {
			err = multierr.Combine(err, p.deassert(p.selected))
		}()
	}
	return conn.Tx(tx, rx[:len(tx)])
}

// Close does nothing; ports are only held during a transfer.
func (p *Peripheral) Close() error {
	return nil
}

// RealTimeSafe is false: every transfer is a system call.
func (p *Peripheral) RealTimeSafe() bool {
	return false
}
