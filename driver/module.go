// Package driver loads and unloads the SPI driver module: it brings up the shared peripheral and
// registers one device node per chip select.
package driver

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/rtspi/components/spi"
	"go.viam.com/rtspi/config"
	"go.viam.com/rtspi/registry"
	"go.viam.com/rtspi/rtdev"
	"go.viam.com/rtspi/utils"
)

var (
	// ErrInitializationFailure is returned by Load when the peripheral or the real-time subsystem
	// cannot be brought up.
	ErrInitializationFailure = errors.New("initialization failure")
	// ErrRegistrationFailure is returned by Load when a device node cannot be registered.
	ErrRegistrationFailure = errors.New("registration failure")
)

// An Entry is a registered device node.
type Entry struct {
	Label      string
	Minor      int
	ChipSelect spi.ChipSelect
}

// Params are what Load needs to bring up the module.
type Params struct {
	Peripheral spi.Peripheral
	Framework  *rtdev.Framework
	// Labels name the device node of each chip select. Empty labels take config.DefaultLabels.
	Labels [spi.NumChipSelects]string
	// Clock times bus transfers. Defaults to the wall clock.
	Clock  clock.Clock
	Logger golog.Logger
}

// A Module is a loaded driver module.
type Module struct {
	mu       sync.Mutex
	fw       *rtdev.Framework
	hw       spi.Peripheral
	bus      *spi.Bus
	entries  []Entry
	unloaded bool
	logger   golog.Logger
}

// Load initializes the peripheral, configures it with conservative defaults and registers a
// device node for each chip select. On failure nothing stays registered and the peripheral is
// released.
func Load(ctx context.Context, params Params) (*Module, error) {
	logger := params.Logger
	fw := params.Framework
	hw := params.Peripheral

	if err := fw.Available(); err != nil {
		logger.Errorw("real-time subsystem unavailable", "error", err)
		return nil, multierr.Combine(ErrInitializationFailure, err)
	}
	if err := hw.Init(); err != nil {
		logger.Errorw("cannot initialize peripheral", "error", err)
		return nil, multierr.Combine(ErrInitializationFailure, err)
	}
	if err := hw.Begin(); err != nil {
		logger.Errorw("cannot begin SPI session", "error", err)
		return nil, multierr.Combine(ErrInitializationFailure, err, hw.Close())
	}

	var busOpts []spi.BusOption
	if params.Clock != nil {
		busOpts = append(busOpts, spi.WithClock(params.Clock))
	}
	bus := spi.NewBus(hw, logger.Named("bus"), busOpts...)

	if err := applyDefaults(bus); err != nil {
		logger.Errorw("cannot configure peripheral defaults", "error", err)
		return nil, multierr.Combine(ErrInitializationFailure, err, hw.End(), hw.Close())
	}

	m := &Module{
		fw:     fw,
		hw:     hw,
		bus:    bus,
		logger: logger,
	}
	drv := &spiDriver{bus: bus, logger: logger.Named("device")}
	for _, cs := range []spi.ChipSelect{spi.CS0, spi.CS1} {
		label := params.Labels[cs]
		if label == "" {
			label = config.DefaultLabels[cs]
		}
		desc := rtdev.Descriptor{Name: label, Minor: int(cs), Driver: drv}
		if err := fw.Register(desc); err != nil {
			logger.Errorw("cannot register device", "label", label, "chip_select", cs, "error", err)
			return nil, multierr.Combine(ErrRegistrationFailure, err, m.teardown(ctx))
		}
		m.entries = append(m.entries, Entry{Label: label, Minor: int(cs), ChipSelect: cs})
	}
	logger.Infow("module loaded", "devices", m.Labels(), "nodes", fw.Names(), "realtime_safe", hw.RealTimeSafe())
	return m, nil
}

// applyDefaults writes the settings of a new session to the peripheral for both chip selects,
// finishing with chip select 0 selected.
func applyDefaults(bus *spi.Bus) error {
	h := bus.OpenHandle()
	err := h.Apply(spi.DefaultConfig(spi.CS1))
	if err == nil {
		err = h.Apply(spi.DefaultConfig(spi.CS0))
	}
	return multierr.Combine(err, h.Close())
}

// LoadFromConfig creates the configured backend's peripheral and loads the module on a new
// framework. When the config requires real time, loading fails unless the real-time core is active.
func LoadFromConfig(ctx context.Context, conf *config.Config, logger golog.Logger) (*Module, error) {
	reg := registry.PeripheralLookup(conf.Backend)
	if reg == nil {
		return nil, multierr.Combine(ErrInitializationFailure,
			utils.NewUnsupportedBackendError(conf.Backend, registry.RegisteredPeripherals()))
	}
	hw, err := reg.Constructor(ctx, conf.Attributes, logger.Named(conf.Backend))
	if err != nil {
		logger.Errorw("cannot create peripheral", "backend", conf.Backend, "error", err)
		return nil, multierr.Combine(ErrInitializationFailure, err)
	}

	var fwOpts []rtdev.Option
	if conf.RequireRealTime {
		fwOpts = append(fwOpts, rtdev.WithProbe(rtdev.XenomaiProbe))
	}
	return Load(ctx, Params{
		Peripheral: hw,
		Framework:  rtdev.NewFramework(logger.Named("rtdev"), fwOpts...),
		Labels:     conf.Labels(),
		Logger:     logger,
	})
}

// Entries returns the registered device nodes.
func (m *Module) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry{}, m.entries...)
}

// Labels returns the names of the registered device nodes by chip select.
func (m *Module) Labels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	labels := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		labels = append(labels, e.Label)
	}
	return labels
}

// Framework returns the framework the device nodes are registered with.
func (m *Module) Framework() *rtdev.Framework {
	return m.fw
}

// Bus returns the shared bus.
func (m *Module) Bus() *spi.Bus {
	return m.bus
}

// Open opens the device node of chip select cs.
func (m *Module) Open(ctx context.Context, cs spi.ChipSelect) (*rtdev.File, error) {
	m.mu.Lock()
	var label string
	for _, e := range m.entries {
		if e.ChipSelect == cs {
			label = e.Label
		}
	}
	m.mu.Unlock()
	if label == "" {
		return nil, errors.Wrapf(rtdev.ErrNoDevice, "chip select %d", int(cs))
	}
	return m.fw.Open(ctx, label)
}

// Unload unregisters both device nodes, closing any open file on them, then ends the SPI session
// and releases the peripheral.
func (m *Module) Unload(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unloaded {
		return errors.New("module already unloaded")
	}
	m.unloaded = true
	err := m.teardown(ctx)
	if err != nil {
		m.logger.Errorw("errors unloading module", "error", err)
	} else {
		m.logger.Infow("module unloaded")
	}
	return err
}

func (m *Module) teardown(ctx context.Context) error {
	var err error
	for i := len(m.entries) - 1; i >= 0; i-- {
		err = multierr.Combine(err, m.fw.Unregister(ctx, m.entries[i].Label))
	}
	m.entries = nil
	return multierr.Combine(err, m.hw.End(), m.hw.Close())
}
