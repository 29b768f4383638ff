// Package inject provides implementations of driver interfaces whose methods can be replaced per
// test.
package inject

import (
	"go.viam.com/rtspi/components/spi"
)

// Peripheral is an injected spi.Peripheral.
type Peripheral struct {
	spi.Peripheral
	InitFunc                  func() error
	BeginFunc                 func() error
	EndFunc                   func() error
	SetBitOrderFunc           func(order spi.BitOrder) error
	SetDataModeFunc           func(mode spi.DataMode) error
	SetClockDividerFunc       func(divider spi.ClockDivider) error
	SetChipSelectPolarityFunc func(cs spi.ChipSelect, polarity spi.ChipSelectPolarity) error
	SelectChipFunc            func(cs spi.ChipSelect) error
	TransferFunc              func(tx, rx []byte) error
	CloseFunc                 func() error
	RealTimeSafeFunc          func() bool
}

// Init calls the injected Init or the real version.
func (p *Peripheral) Init() error {
	if p.InitFunc == nil {
		return p.Peripheral.Init()
	}
	return p.InitFunc()
}

// Begin calls the injected Begin or the real version.
func (p *Peripheral) Begin() error {
	if p.BeginFunc == nil {
		return p.Peripheral.Begin()
	}
	return p.BeginFunc()
}

// End calls the injected End or the real version.
func (p *Peripheral) End() error {
	if p.EndFunc == nil {
		return p.Peripheral.End()
	}
	return p.EndFunc()
}

// SetBitOrder calls the injected SetBitOrder or the real version.
func (p *Peripheral) SetBitOrder(order spi.BitOrder) error {
	if p.SetBitOrderFunc == nil {
		return p.Peripheral.SetBitOrder(order)
	}
	return p.SetBitOrderFunc(order)
}

// SetDataMode calls the injected SetDataMode or the real version.
func (p *Peripheral) SetDataMode(mode spi.DataMode) error {
	if p.SetDataModeFunc == nil {
		return p.Peripheral.SetDataMode(mode)
	}
	return p.SetDataModeFunc(mode)
}

// SetClockDivider calls the injected SetClockDivider or the real version.
func (p *Peripheral) SetClockDivider(divider spi.ClockDivider) error {
	if p.SetClockDividerFunc == nil {
		return p.Peripheral.SetClockDivider(divider)
	}
	return p.SetClockDividerFunc(divider)
}

// SetChipSelectPolarity calls the injected SetChipSelectPolarity or the real version.
func (p *Peripheral) SetChipSelectPolarity(cs spi.ChipSelect, polarity spi.ChipSelectPolarity) error {
	if p.SetChipSelectPolarityFunc == nil {
		return p.Peripheral.SetChipSelectPolarity(cs, polarity)
	}
	return p.SetChipSelectPolarityFunc(cs, polarity)
}

// SelectChip calls the injected SelectChip or the real version.
func (p *Peripheral) SelectChip(cs spi.ChipSelect) error {
	if p.SelectChipFunc == nil {
		return p.Peripheral.SelectChip(cs)
	}
	return p.SelectChipFunc(cs)
}

// Transfer calls the injected Transfer or the real version.
func (p *Peripheral) Transfer(tx, rx []byte) error {
	if p.TransferFunc == nil {
		return p.Peripheral.Transfer(tx, rx)
	}
	return p.TransferFunc(tx, rx)
}

// Close calls the injected Close or the real version.
func (p *Peripheral) Close() error {
	if p.CloseFunc == nil {
		return p.Peripheral.Close()
	}
	return p.CloseFunc()
}

// RealTimeSafe calls the injected RealTimeSafe or the real version.
func (p *Peripheral) RealTimeSafe() bool {
	if p.RealTimeSafeFunc == nil {
		return p.Peripheral.RealTimeSafe()
	}
	return p.RealTimeSafeFunc()
}
