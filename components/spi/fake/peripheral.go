// Package fake implements an in-memory SPI peripheral. It keeps the register state a real
// controller would and records every transfer together with the settings in effect.
package fake

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/rtspi/components/spi"
	"go.viam.com/rtspi/registry"
	"go.viam.com/rtspi/utils"
)

// ModelName is the registered name of this backend.
const ModelName = "fake"

// Transform names accepted in attributes.
const (
	TransformEcho   = "echo"
	TransformInvert = "invert"
	TransformZero   = "zero"
)

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
			return NewFromAttributes(attrs, logger), nil
		},
		Description: "in-memory peripheral, no hardware",
	})
}

// Attributes configure a fake peripheral from a config file.
type Attributes struct {
	Transform    string `json:"transform,omitempty"`
	RealTimeSafe *bool  `json:"realtime_safe,omitempty"`
	FailInit     bool   `json:"fail_init,omitempty"`
}

// Validate ensures all parts of the attributes are valid.
func (attrs *Attributes) Validate(path string) error {
	switch attrs.Transform {
	case "", TransformEcho, TransformInvert, TransformZero:
		return nil
	default:
		return goutils.NewConfigValidationError(path, errors.Errorf("unknown transform %q", attrs.Transform))
	}
}

// A TransformFunc produces the bytes shifted in for the bytes shifted out. rx is as long as tx.
type TransformFunc func(tx, rx []byte)

// Echo shifts back what was shifted out, as a loopback wire would.
func Echo(tx, rx []byte) {
	copy(rx, tx)
}

// Invert shifts back the complement of every byte shifted out.
func Invert(tx, rx []byte) {
	for i, b := range tx {
		rx[i] = ^b
	}
}

// Zero shifts back zeros, as a disconnected MISO line pulled low would.
func Zero(tx, rx []byte) {
	for i := range rx {
		rx[i] = 0
	}
}

// Settings are the register values of the peripheral.
type Settings struct {
	BitOrder     spi.BitOrder
	DataMode     spi.DataMode
	ClockDivider spi.ClockDivider
	ChipSelect   spi.ChipSelect
	Polarity     [spi.NumChipSelects]spi.ChipSelectPolarity
}

// SelectedPolarity returns the polarity of the selected chip select line.
func (s Settings) SelectedPolarity() spi.ChipSelectPolarity {
	return s.Polarity[s.ChipSelect]
}

// A Transfer is one recorded exchange.
type Transfer struct {
	Settings Settings
	Tx       []byte
	Rx       []byte
}

// Peripheral is a fake spi.Peripheral.
type Peripheral struct {
	mu           sync.Mutex
	transform    TransformFunc
	realTimeSafe bool
	clk          *clock.Mock
	initErr      error
	logger       golog.Logger

	mapped    bool
	begun     bool
	settings  Settings
	calls     []string
	transfers []Transfer
}

// An Option configures a fake Peripheral.
type Option func(*Peripheral)

// WithTransform sets the function producing received bytes. The default is Echo.
func WithTransform(fn TransformFunc) Option {
	return func(p *Peripheral) {
		p.transform = fn
	}
}

// WithMockClock makes every transfer advance clk by the time it would take on a real bus.
func WithMockClock(clk *clock.Mock) Option {
	return func(p *Peripheral) {
		p.clk = clk
	}
}

// WithRealTimeSafe sets what RealTimeSafe reports. The default is true.
func WithRealTimeSafe(safe bool) Option {
	return func(p *Peripheral) {
		p.realTimeSafe = safe
	}
}

// WithInitError makes Init fail with err.
func WithInitError(err error) Option {
	return func(p *Peripheral) {
		p.initErr = err
	}
}

// NewPeripheral returns a fake peripheral in its reset state.
func NewPeripheral(logger golog.Logger, opts ...Option) *Peripheral {
	p := &Peripheral{
		transform:    Echo,
		realTimeSafe: true,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewFromAttributes returns a fake peripheral configured by attrs.
func NewFromAttributes(attrs *Attributes, logger golog.Logger) *Peripheral {
	var opts []Option
	switch attrs.Transform {
	case TransformInvert:
		opts = append(opts, WithTransform(Invert))
	case TransformZero:
		opts = append(opts, WithTransform(Zero))
	}
	if attrs.RealTimeSafe != nil {
		opts = append(opts, WithRealTimeSafe(*attrs.RealTimeSafe))
	}
	if attrs.FailInit {
		opts = append(opts, WithInitError(errors.New("fake peripheral configured to fail init")))
	}
	return NewPeripheral(logger, opts...)
}

func (p *Peripheral) call(name string) {
	p.calls = append(p.calls, name)
}

// Init maps the fake peripheral.
func (p *Peripheral) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.call("init")
	if p.initErr != nil {
		return p.initErr
	}
	p.mapped = true
	p.logger.Debugw("fake peripheral mapped", "realtime_safe", p.realTimeSafe)
	return nil
}

// Begin enters SPI mode.
func (p *Peripheral) Begin() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.call("begin")
	if !p.mapped {
		return errors.New("peripheral not initialized")
	}
	p.begun = true
	return nil
}

// End leaves SPI mode.
func (p *Peripheral) End() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.call("end")
	p.begun = false
	return nil
}

// SetBitOrder sets the bit order register.
func (p *Peripheral) SetBitOrder(order spi.BitOrder) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.call("set_bit_order")
	p.settings.BitOrder = order
	return nil
}

// SetDataMode sets the data mode register.
func (p *Peripheral) SetDataMode(mode spi.DataMode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.call("set_data_mode")
	p.settings.DataMode = mode
	return nil
}

// SetClockDivider sets the clock divider register.
func (p *Peripheral) SetClockDivider(divider spi.ClockDivider) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.call("set_clock_divider")
	p.settings.ClockDivider = divider
	return nil
}

// SetChipSelectPolarity sets the polarity of one chip select line.
func (p *Peripheral) SetChipSelectPolarity(cs spi.ChipSelect, polarity spi.ChipSelectPolarity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.call("set_cs_polarity")
	if !cs.Valid() {
		return errors.Errorf("no chip select line %d", int(cs))
	}
	p.settings.Polarity[cs] = polarity
	return nil
}

// SelectChip selects the chip select line for the next transfer.
func (p *Peripheral) SelectChip(cs spi.ChipSelect) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.call("select_chip")
	if !cs.Valid() {
		return errors.Errorf("no chip select line %d", int(cs))
	}
	p.settings.ChipSelect = cs
	return nil
}

// Transfer runs the transform over tx and records the exchange.
func (p *Peripheral) Transfer(tx, rx []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.call("transfer")
	if !p.begun {
		return errors.New("transfer outside of an SPI session")
	}
	p.transform(tx, rx[:len(tx)])
	p.transfers = append(p.transfers, Transfer{
		Settings: p.settings,
		Tx:       append([]byte{}, tx...),
		Rx:       append([]byte{}, rx[:len(tx)]...),
	})
	if p.clk != nil {
		p.clk.Add(spi.EstimateTransferDuration(p.settings.ClockDivider, len(tx)))
	}
	return nil
}

// Close unmaps the fake peripheral.
func (p *Peripheral) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.call("close")
	p.mapped = false
	return nil
}

// RealTimeSafe reports the configured value.
func (p *Peripheral) RealTimeSafe() bool {
	return p.realTimeSafe
}

// Settings returns the current register values.
func (p *Peripheral) Settings() Settings {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings
}

// Calls returns the names of every method called so far, in order.
func (p *Peripheral) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.calls...)
}

// Transfers returns every recorded exchange, oldest first.
func (p *Peripheral) Transfers() []Transfer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Transfer{}, p.transfers...)
}

// LastTransfer returns the most recent exchange.
func (p *Peripheral) LastTransfer() (Transfer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.transfers) == 0 {
		return Transfer{}, false
	}
	return p.transfers[len(p.transfers)-1], true
}

// Reset forgets recorded calls and transfers.
func (p *Peripheral) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
	p.transfers = nil
}
