package spi

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
)

// slowTransferFactor is how many times its estimate a transfer may take before it is reported.
const slowTransferFactor = 4

// EstimateTransferDuration returns how long exchanging n bytes takes at the given clock divider.
func EstimateTransferDuration(divider ClockDivider, n int) time.Duration {
	bits := uint64(n) * 8
	return time.Duration(bits * uint64(divider.Effective()) * uint64(time.Second) / CoreClockHz)
}

// Stats are cumulative transfer statistics of a Bus.
type Stats struct {
	Transfers    uint64
	Failures     uint64
	Bytes        uint64
	LastDuration time.Duration
	MaxDuration  time.Duration
}

// A Bus owns the shared peripheral. Logical devices never talk to the peripheral directly; they
// open a Handle, which holds the bus exclusively until it is closed.
type Bus struct {
	mu     sync.Mutex
	hw     Peripheral
	clk    clock.Clock
	logger golog.Logger

	statsMu sync.Mutex
	stats   Stats
}

// A BusOption configures a Bus.
type BusOption func(*Bus)

// WithClock sets the clock used to time transfers.
func WithClock(clk clock.Clock) BusOption {
	return func(b *Bus) {
		b.clk = clk
	}
}

// NewBus returns a bus over hw.
func NewBus(hw Peripheral, logger golog.Logger, opts ...BusOption) *Bus {
	b := &Bus{
		hw:     hw,
		clk:    clock.New(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Peripheral returns the underlying peripheral.
func (b *Bus) Peripheral() Peripheral {
	return b.hw
}

// OpenHandle locks the shared bus and returns a handle that MUST be closed when done.
func (b *Bus) OpenHandle() *Handle {
	b.mu.Lock()
	return &Handle{bus: b}
}

// Transfer applies conf and exchanges tx for rx while holding the bus.
func (b *Bus) Transfer(conf Config, tx, rx []byte) error {
	h := b.OpenHandle()
	defer h.release()
	return h.Xfer(conf, tx, rx)
}

// Stats returns a snapshot of the transfer statistics.
func (b *Bus) Stats() Stats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return b.stats
}

func (b *Bus) record(conf Config, n int, took time.Duration, err error) {
	b.statsMu.Lock()
	b.stats.Transfers++
	if err != nil {
		b.stats.Failures++
	} else {
		b.stats.Bytes += uint64(n)
	}
	b.stats.LastDuration = took
	if took > b.stats.MaxDuration {
		b.stats.MaxDuration = took
	}
	b.statsMu.Unlock()

	if err != nil {
		return
	}
	if estimate := EstimateTransferDuration(conf.ClockDivider(), n); n > 0 && took > slowTransferFactor*estimate {
		b.logger.Warnw("transfer took longer than expected",
			"chip_select", conf.ChipSelect(), "bytes", n, "took", took, "expected", estimate)
	}
}

// A Handle is exclusive use of a Bus. It MUST be closed to release the bus.
type Handle struct {
	bus    *Bus
	closed bool
}

// Apply writes every parameter of conf to the peripheral and selects its chip.
func (h *Handle) Apply(conf Config) error {
	if h.closed {
		return errors.New("can't use Apply() on an already closed Handle")
	}
	hw := h.bus.hw
	if err := hw.SetBitOrder(conf.BitOrder()); err != nil {
		return errors.Wrapf(err, "setting bit order %s", conf.BitOrder())
	}
	if err := hw.SetDataMode(conf.DataMode()); err != nil {
		return errors.Wrapf(err, "setting data mode %s", conf.DataMode())
	}
	if err := hw.SetClockDivider(conf.ClockDivider()); err != nil {
		return errors.Wrapf(err, "setting clock divider %s", conf.ClockDivider())
	}
	if err := hw.SetChipSelectPolarity(conf.ChipSelect(), conf.ChipSelectPolarity()); err != nil {
		return errors.Wrapf(err, "setting %s polarity %s", conf.ChipSelect(), conf.ChipSelectPolarity())
	}
	if err := hw.SelectChip(conf.ChipSelect()); err != nil {
		return errors.Wrapf(err, "selecting %s", conf.ChipSelect())
	}
	return nil
}

// Xfer performs a single SPI transfer for the logical device described by conf. The complete
// configuration is written to the peripheral first, every time: the other logical device may have
// changed any of it since this device last transferred. The number of bytes received is equal to
// the number of bytes sent.
func (h *Handle) Xfer(conf Config, tx, rx []byte) error {
	if h.closed {
		return errors.New("can't use Xfer() on an already closed Handle")
	}
	if len(rx) < len(tx) {
		return errors.Wrapf(ErrInvalidArgument, "receive buffer of %d bytes for a %d byte transfer", len(rx), len(tx))
	}
	if err := h.Apply(conf); err != nil {
		h.bus.record(conf, len(tx), 0, err)
		return err
	}
	start := h.bus.clk.Now()
	err := h.bus.hw.Transfer(tx, rx[:len(tx)])
	h.bus.record(conf, len(tx), h.bus.clk.Since(start), err)
	if err != nil {
		return errors.Wrapf(err, "transferring %d bytes on %s", len(tx), conf.ChipSelect())
	}
	return nil
}

// Close releases the bus.
func (h *Handle) Close() error {
	if h.closed {
		return errors.New("handle already closed")
	}
	h.release()
	return nil
}

func (h *Handle) release() {
	if h.closed {
		return
	}
	h.closed = true
	h.bus.mu.Unlock()
}
