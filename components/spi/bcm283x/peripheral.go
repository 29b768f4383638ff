// Package bcm283x drives the SPI0 controller of a BCM283x (Raspberry Pi) directly through its
// memory mapped registers. Transfers busy-wait on the FIFO and never enter the kernel, so they
// may run from a real-time context.
package bcm283x

import (
	"context"
	"math/bits"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/stianeikeland/go-rpio/v4"

	"go.viam.com/rtspi/components/spi"
	"go.viam.com/rtspi/registry"
	"go.viam.com/rtspi/utils"
)

// ModelName is the registered name of this backend.
const ModelName = "bcm283x"

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
			return NewPeripheral(logger), nil
		},
		Description: "BCM283x SPI0 registers via go-rpio, real-time safe",
	})
}

// Attributes configure the backend. The controller has nothing to configure; the struct exists so
// unknown attributes are rejected.
type Attributes struct{}

// Validate ensures all parts of the attributes are valid.
func (attrs *Attributes) Validate(path string) error {
	return nil
}

// registers is the subset of go-rpio the peripheral uses.
type registers interface {
	Open() error
	Close() error
	SpiBegin() error
	SpiEnd()
	SpiSpeed(hz int)
	SpiMode(cpol, cpha uint8)
	SpiChipSelect(cs uint8)
	SpiChipSelectPolarity(cs, polarity uint8)
	SpiExchange(data []byte)
}

type rpioRegisters struct{}

func (rpioRegisters) Open() error                              { return rpio.Open() }
func (rpioRegisters) Close() error                             { return rpio.Close() }
func (rpioRegisters) SpiBegin() error                          { return rpio.SpiBegin(rpio.Spi0) }
func (rpioRegisters) SpiEnd()                                  { rpio.SpiEnd(rpio.Spi0) }
func (rpioRegisters) SpiSpeed(hz int)                          { rpio.SpiSpeed(hz) }
func (rpioRegisters) SpiMode(cpol, cpha uint8)                 { rpio.SpiMode(cpol, cpha) }
func (rpioRegisters) SpiChipSelect(cs uint8)                   { rpio.SpiChipSelect(cs) }
func (rpioRegisters) SpiChipSelectPolarity(cs, polarity uint8) { rpio.SpiChipSelectPolarity(cs, polarity) }
func (rpioRegisters) SpiExchange(data []byte)                  { rpio.SpiExchange(data) }

// Peripheral is the SPI0 controller.
type Peripheral struct {
	mu       sync.Mutex
	regs     registers
	mapped   bool
	begun    bool
	lsbFirst bool
	logger   golog.Logger
}

// NewPeripheral returns the SPI0 controller. Nothing is mapped until Init.
func NewPeripheral(logger golog.Logger) *Peripheral {
	return newPeripheral(rpioRegisters{}, logger)
}

func newPeripheral(regs registers, logger golog.Logger) *Peripheral {
	return &Peripheral{regs: regs, logger: logger}
}

// Init maps the GPIO and SPI register blocks.
func (p *Peripheral) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.regs.Open(); err != nil {
		return errors.Wrap(err, "mapping peripheral registers")
	}
	p.mapped = true
	p.logger.Debugw("peripheral registers mapped")
	return nil
}

// Begin switches the SPI0 pins to their SPI function and resets the control register.
func (p *Peripheral) Begin() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.mapped {
		return errors.New("peripheral registers not mapped")
	}
	if err := p.regs.SpiBegin(); err != nil {
		return errors.Wrap(err, "entering SPI mode")
	}
	p.begun = true
	return nil
}

// End returns the SPI0 pins to inputs.
func (p *Peripheral) End() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.begun {
		return nil
	}
	p.regs.SpiEnd()
	p.begun = false
	return nil
}

// SetBitOrder records the bit order. The controller only shifts MSB first, so LSB first is
// produced by reversing every byte around the exchange.
func (p *Peripheral) SetBitOrder(order spi.BitOrder) error {
	if !order.Valid() {
		return errors.Wrapf(spi.ErrInvalidArgument, "bit order %d", int32(order))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lsbFirst = order == spi.LSBFirst
	return nil
}

// SetDataMode sets CPOL and CPHA.
func (p *Peripheral) SetDataMode(mode spi.DataMode) error {
	if !mode.Valid() {
		return errors.Wrapf(spi.ErrInvalidArgument, "data mode %d", int32(mode))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.regs.SpiMode(mode.CPOL(), mode.CPHA())
	return nil
}

// SetClockDivider programs the clock divider register.
func (p *Peripheral) SetClockDivider(divider spi.ClockDivider) error {
	if !divider.Valid() {
		return errors.Wrapf(spi.ErrInvalidArgument, "clock divider %d", int32(divider))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.regs.SpiSpeed(speedFor(divider))
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
	p.regs.SpiChipSelectPolarity(uint8(cs), uint8(polarity))
	return nil
}

// SelectChip picks the chip select line the controller asserts.
func (p *Peripheral) SelectChip(cs spi.ChipSelect) error {
	if !cs.Valid() {
		return errors.Wrapf(spi.ErrInvalidArgument, "chip select %d", int(cs))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.regs.SpiChipSelect(uint8(cs))
	return nil
}

// Transfer exchanges len(tx) bytes through the FIFO.
func (p *Peripheral) Transfer(tx, rx []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.begun {
		return errors.New("transfer outside of an SPI session")
	}
	data := rx[:len(tx)]
	copy(data, tx)
	if p.lsbFirst {
		reverseBits(data)
	}
	p.regs.SpiExchange(data)
	if p.lsbFirst {
		reverseBits(data)
	}
	return nil
}

// Close unmaps the registers.
func (p *Peripheral) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.mapped {
		return nil
	}
	p.mapped = false
	return errors.Wrap(p.regs.Close(), "unmapping peripheral registers")
}

// RealTimeSafe is true: transfers never make a system call.
func (p *Peripheral) RealTimeSafe() bool {
	return true
}

func reverseBits(data []byte) {
	for i, b := range data {
		data[i] = bits.Reverse8(b)
	}
}

// speedFor returns the bus clock to request from go-rpio so it programs divider. go-rpio computes
// the register value as CoreClockHz/hz with bit 0 cleared, which cannot produce the register value
// 0; the slowest setting is approximated by the largest reachable divider.
func speedFor(divider spi.ClockDivider) int {
	if divider == spi.Speed4kHz {
		return int(spi.CoreClockHz/(1<<16-2)) + 1
	}
	return int(divider.Frequency())
}
