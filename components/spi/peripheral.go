// Package spi implements two logical SPI devices, one per chip select line, on top of a single
// shared SPI peripheral.
package spi

// A Peripheral is the SPI controller hardware. Its register state is global: every setter changes
// the peripheral for all chip selects until it is changed again.
type Peripheral interface {
	// Init maps the peripheral. It is called once before anything else.
	Init() error
	// Begin puts the peripheral pins in SPI mode.
	Begin() error
	// End returns the peripheral pins to their default mode.
	End() error

	SetBitOrder(order BitOrder) error
	SetDataMode(mode DataMode) error
	SetClockDivider(divider ClockDivider) error
	SetChipSelectPolarity(cs ChipSelect, polarity ChipSelectPolarity) error

	// SelectChip picks the chip select line asserted by the next Transfer.
	SelectChip(cs ChipSelect) error

	// Transfer performs one blocking bidirectional exchange. rx is at least as long as tx.
	Transfer(tx, rx []byte) error

	// Close unmaps the peripheral.
	Close() error

	// RealTimeSafe returns whether Transfer can run from a bounded-latency context.
	RealTimeSafe() bool
}
