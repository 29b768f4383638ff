package spi

import (
	"fmt"

	"github.com/pkg/errors"
)

// CoreClockHz is the clock the peripheral divides down to produce the bus clock.
const CoreClockHz = 250_000_000

// BitOrder is the order bits of a byte are shifted out in.
type BitOrder int32

// Bit orders.
const (
	LSBFirst BitOrder = 0
	MSBFirst BitOrder = 1
)

// Valid returns whether b is a legal bit order.
func (b BitOrder) Valid() bool {
	return b == LSBFirst || b == MSBFirst
}

func (b BitOrder) String() string {
	switch b {
	case LSBFirst:
		return "lsb-first"
	case MSBFirst:
		return "msb-first"
	default:
		return fmt.Sprintf("BitOrder(%d)", int32(b))
	}
}

// DataMode is the clock polarity (CPOL) and phase (CPHA) pair.
//   - Mode 0: CPOL=0, CPHA=0
//   - Mode 1: CPOL=0, CPHA=1
//   - Mode 2: CPOL=1, CPHA=0
//   - Mode 3: CPOL=1, CPHA=1
type DataMode int32

// Data modes.
const (
	Mode0 DataMode = iota
	Mode1
	Mode2
	Mode3
)

// Valid returns whether m is a legal data mode.
func (m DataMode) Valid() bool {
	return m >= Mode0 && m <= Mode3
}

// CPOL returns the clock polarity bit of the mode.
func (m DataMode) CPOL() uint8 {
	return uint8(m>>1) & 1
}

// CPHA returns the clock phase bit of the mode.
func (m DataMode) CPHA() uint8 {
	return uint8(m) & 1
}

func (m DataMode) String() string {
	if !m.Valid() {
		return fmt.Sprintf("DataMode(%d)", int32(m))
	}
	return fmt.Sprintf("mode%d", int32(m))
}

// ClockDivider divides CoreClockHz to produce the bus clock. The constants are named after the
// resulting bus clock.
type ClockDivider int32

// Clock dividers. Speed4kHz (0) is read by the hardware as 65536.
const (
	Speed4kHz   ClockDivider = 0
	Speed7kHz   ClockDivider = 32768
	Speed15kHz  ClockDivider = 16384
	Speed30kHz  ClockDivider = 8192
	Speed61kHz  ClockDivider = 4096
	Speed122kHz ClockDivider = 2048
	Speed244kHz ClockDivider = 1024
	Speed488kHz ClockDivider = 512
	Speed976kHz ClockDivider = 256
	Speed2MHz   ClockDivider = 128
	Speed4MHz   ClockDivider = 64
	Speed8MHz   ClockDivider = 32
	Speed15MHz  ClockDivider = 16
	Speed31MHz  ClockDivider = 8
	Speed62MHz  ClockDivider = 4
	Speed125MHz ClockDivider = 2
)

// SlowestClockDivider is the largest explicit divider and the default for new sessions.
const SlowestClockDivider = Speed7kHz

var clockDividers = []ClockDivider{
	Speed4kHz, Speed7kHz, Speed15kHz, Speed30kHz, Speed61kHz, Speed122kHz, Speed244kHz, Speed488kHz,
	Speed976kHz, Speed2MHz, Speed4MHz, Speed8MHz, Speed15MHz, Speed31MHz, Speed62MHz, Speed125MHz,
}

// ClockDividers returns every legal clock divider from slowest to fastest bus clock.
func ClockDividers() []ClockDivider {
	out := make([]ClockDivider, len(clockDividers))
	copy(out, clockDividers)
	return out
}

// Valid returns whether d is a legal clock divider.
func (d ClockDivider) Valid() bool {
	if d == Speed4kHz {
		return true
	}
	return d >= Speed125MHz && d <= Speed7kHz && d&(d-1) == 0
}

// Effective returns the divisor actually applied by the hardware.
func (d ClockDivider) Effective() uint32 {
	if d == Speed4kHz {
		return 1 << 16
	}
	return uint32(d)
}

// Frequency returns the resulting bus clock in Hz.
func (d ClockDivider) Frequency() uint32 {
	return CoreClockHz / d.Effective()
}

func (d ClockDivider) String() string {
	if !d.Valid() {
		return fmt.Sprintf("ClockDivider(%d)", int32(d))
	}
	hz := d.Frequency()
	if hz >= 1_000_000 {
		return fmt.Sprintf("%d (%.3g MHz)", int32(d), float64(hz)/1e6)
	}
	return fmt.Sprintf("%d (%.4g kHz)", int32(d), float64(hz)/1e3)
}

// ChipSelect is the chip select line a logical device is bound to.
type ChipSelect int

// Chip select lines.
const (
	CS0 ChipSelect = 0
	CS1 ChipSelect = 1
)

// NumChipSelects is the number of logical devices on the bus.
const NumChipSelects = 2

// Valid returns whether cs is a chip select line of the bus.
func (cs ChipSelect) Valid() bool {
	return cs == CS0 || cs == CS1
}

func (cs ChipSelect) String() string {
	return fmt.Sprintf("cs%d", int(cs))
}

// ChipSelectPolarity is the level of an asserted chip select line.
type ChipSelectPolarity int32

// Chip select polarities.
const (
	ActiveLow  ChipSelectPolarity = 0
	ActiveHigh ChipSelectPolarity = 1
)

// Valid returns whether p is a legal polarity.
func (p ChipSelectPolarity) Valid() bool {
	return p == ActiveLow || p == ActiveHigh
}

func (p ChipSelectPolarity) String() string {
	switch p {
	case ActiveLow:
		return "active-low"
	case ActiveHigh:
		return "active-high"
	default:
		return fmt.Sprintf("ChipSelectPolarity(%d)", int32(p))
	}
}

// ParseBitOrder validates v as a bit order.
func ParseBitOrder(v int32) (BitOrder, error) {
	if b := BitOrder(v); b.Valid() {
		return b, nil
	}
	return 0, errors.Wrapf(ErrInvalidArgument, "bit order %d", v)
}

// ParseDataMode validates v as a data mode.
func ParseDataMode(v int32) (DataMode, error) {
	if m := DataMode(v); m.Valid() {
		return m, nil
	}
	return 0, errors.Wrapf(ErrInvalidArgument, "data mode %d", v)
}

// ParseClockDivider validates v as a clock divider.
func ParseClockDivider(v int32) (ClockDivider, error) {
	if d := ClockDivider(v); d.Valid() {
		return d, nil
	}
	return 0, errors.Wrapf(ErrInvalidArgument, "clock divider %d", v)
}

// ParseChipSelectPolarity validates v as a chip select polarity.
func ParseChipSelectPolarity(v int32) (ChipSelectPolarity, error) {
	if p := ChipSelectPolarity(v); p.Valid() {
		return p, nil
	}
	return 0, errors.Wrapf(ErrInvalidArgument, "chip select polarity %d", v)
}

// A Config is the set of transfer parameters of one logical device. Only the setters can change
// it, and they reject any value outside of the parameter's legal set, so a Config always holds
// legal values.
type Config struct {
	bitOrder     BitOrder
	dataMode     DataMode
	clockDivider ClockDivider
	chipSelect   ChipSelect
	csPolarity   ChipSelectPolarity
}

// DefaultConfig returns the configuration every new session on cs starts with.
func DefaultConfig(cs ChipSelect) Config {
	return Config{
		bitOrder:     MSBFirst,
		dataMode:     Mode0,
		clockDivider: SlowestClockDivider,
		chipSelect:   cs,
		csPolarity:   ActiveLow,
	}
}

// BitOrder returns the configured bit order.
func (c Config) BitOrder() BitOrder { return c.bitOrder }

// DataMode returns the configured data mode.
func (c Config) DataMode() DataMode { return c.dataMode }

// ClockDivider returns the configured clock divider.
func (c Config) ClockDivider() ClockDivider { return c.clockDivider }

// ChipSelect returns the chip select line, fixed at creation.
func (c Config) ChipSelect() ChipSelect { return c.chipSelect }

// ChipSelectPolarity returns the configured chip select polarity.
func (c Config) ChipSelectPolarity() ChipSelectPolarity { return c.csPolarity }

func (c Config) String() string {
	return fmt.Sprintf("%s %s %s divider=%s %s",
		c.chipSelect, c.bitOrder, c.dataMode, c.clockDivider, c.csPolarity)
}

// SetBitOrder sets the bit order if v is legal.
func (c *Config) SetBitOrder(v int32) error {
	b, err := ParseBitOrder(v)
	if err != nil {
		return err
	}
	c.bitOrder = b
	return nil
}

// SetDataMode sets the data mode if v is legal.
func (c *Config) SetDataMode(v int32) error {
	m, err := ParseDataMode(v)
	if err != nil {
		return err
	}
	c.dataMode = m
	return nil
}

// SetClockDivider sets the clock divider if v is legal.
func (c *Config) SetClockDivider(v int32) error {
	d, err := ParseClockDivider(v)
	if err != nil {
		return err
	}
	c.clockDivider = d
	return nil
}

// SetChipSelectPolarity sets the chip select polarity if v is legal.
func (c *Config) SetChipSelectPolarity(v int32) error {
	p, err := ParseChipSelectPolarity(v)
	if err != nil {
		return err
	}
	c.csPolarity = p
	return nil
}
