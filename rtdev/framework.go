// Package rtdev is a small device registration framework. Drivers register named device nodes,
// each with a fixed minor number; callers open a node to get an exclusive File whose operations
// are dispatched to the driver's handlers from either a real-time or a non-real-time execution
// context.
package rtdev

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/edaniels/golog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// MaxNameLen is the longest device node name that can be registered.
const MaxNameLen = 31

var (
	// ErrNameCollision is returned when registering a name or minor that is already taken.
	ErrNameCollision = errors.New("device node already registered")
	// ErrMalformedDescriptor is returned when registering an unusable descriptor.
	ErrMalformedDescriptor = errors.New("malformed device descriptor")
)

// A Driver opens per-file handles for the device nodes it registered.
type Driver interface {
	// Open is called once per successful open of a node. The returned handle is only used if the
	// outcome is a success.
	Open(ec ExecContext, minor int) (Handle, Outcome)
}

// A Handle is the driver side of one open File.
type Handle interface {
	Close(ec ExecContext) Outcome
	Read(ec ExecContext, dst UserBuffer) Outcome
	Write(ec ExecContext, src UserBuffer) Outcome
	Ioctl(ec ExecContext, request uint32, arg UserBuffer) Outcome
}

// A Descriptor describes a device node to register.
type Descriptor struct {
	Name   string
	Minor  int
	Driver Driver
}

// Validate ensures the descriptor can be registered.
func (desc Descriptor) Validate() error {
	switch {
	case desc.Name == "":
		return errors.Wrap(ErrMalformedDescriptor, "name is required")
	case len(desc.Name) > MaxNameLen:
		return errors.Wrapf(ErrMalformedDescriptor, "name %q is longer than %d bytes", desc.Name, MaxNameLen)
	case strings.ContainsAny(desc.Name, "/\x00"):
		return errors.Wrapf(ErrMalformedDescriptor, "name %q contains an illegal character", desc.Name)
	case desc.Minor < 0:
		return errors.Wrapf(ErrMalformedDescriptor, "negative minor %d", desc.Minor)
	case desc.Driver == nil:
		return errors.Wrapf(ErrMalformedDescriptor, "no driver for %q", desc.Name)
	}
	return nil
}

type node struct {
	desc Descriptor
	open *File
	// gone is set once Unregister starts; the node no longer opens.
	gone bool
}

// A Framework holds the registered device nodes.
type Framework struct {
	mu     sync.Mutex
	nodes  map[string]*node
	minors map[int]string
	probe  func() error
	logger golog.Logger
}

// An Option configures a Framework.
type Option func(*Framework)

// WithProbe sets the check used by Available to decide whether the real-time subsystem is usable.
func WithProbe(probe func() error) Option {
	return func(fw *Framework) {
		fw.probe = probe
	}
}

// NewFramework returns an empty framework. Without a probe option the real-time subsystem is
// always considered available.
func NewFramework(logger golog.Logger, opts ...Option) *Framework {
	fw := &Framework{
		nodes:  map[string]*node{},
		minors: map[int]string{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(fw)
	}
	return fw
}

// XenomaiProbe reports whether the Xenomai real-time core is active on this host.
func XenomaiProbe() error {
	if _, err := os.Stat("/proc/xenomai"); err != nil {
		return errors.Wrap(err, "real-time core is not active")
	}
	return nil
}

// Available returns an error if the real-time subsystem is not usable.
func (fw *Framework) Available() error {
	if fw.probe == nil {
		return nil
	}
	return fw.probe()
}

// Register adds a device node.
func (fw *Framework) Register(desc Descriptor) error {
	if err := desc.Validate(); err != nil {
		fw.logger.Errorw("cannot register device", "name", desc.Name, "error", err)
		return err
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()
	if _, ok := fw.nodes[desc.Name]; ok {
		fw.logger.Errorw("cannot register device", "name", desc.Name, "error", ErrNameCollision)
		return errors.Wrapf(ErrNameCollision, "name %q", desc.Name)
	}
	if other, ok := fw.minors[desc.Minor]; ok {
		fw.logger.Errorw("cannot register device", "name", desc.Name, "minor", desc.Minor, "taken_by", other)
		return errors.Wrapf(ErrNameCollision, "minor %d already used by %q", desc.Minor, other)
	}
	fw.nodes[desc.Name] = &node{desc: desc}
	fw.minors[desc.Minor] = desc.Name
	fw.logger.Debugw("registered device", "name", desc.Name, "minor", desc.Minor)
	return nil
}

// Unregister removes a device node. A file still open on the node is closed first.
func (fw *Framework) Unregister(ctx context.Context, name string) error {
	fw.mu.Lock()
	n, ok := fw.nodes[name]
	if !ok || n.gone {
		fw.mu.Unlock()
		fw.logger.Errorw("cannot unregister device", "name", name, "error", ErrNoDevice)
		return errors.Wrapf(ErrNoDevice, "%q", name)
	}
	n.gone = true
	open := n.open
	fw.mu.Unlock()

	var err error
	if open != nil {
		fw.logger.Warnw("closing file still open on unregistered device", "name", name, "file", open.ID())
		err = open.Close(WithExecContext(ctx, NonRealTime))
	}

	fw.mu.Lock()
	delete(fw.nodes, name)
	delete(fw.minors, n.desc.Minor)
	fw.mu.Unlock()
	fw.logger.Debugw("unregistered device", "name", name)
	return err
}

// Names returns the sorted names of all registered device nodes.
func (fw *Framework) Names() []string {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	names := make([]string, 0, len(fw.nodes))
	for name := range fw.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open opens the named device node. Only one file may be open per node at a time.
func (fw *Framework) Open(ctx context.Context, name string) (*File, error) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	n, ok := fw.nodes[name]
	if !ok || n.gone {
		fw.logger.Warnw("cannot open device", "name", name, "error", ErrNoDevice)
		return nil, errors.Wrapf(ErrNoDevice, "%q", name)
	}
	if n.open != nil {
		fw.logger.Warnw("cannot open device", "name", name, "error", ErrBusy, "open_file", n.open.ID())
		return nil, errors.Wrapf(ErrBusy, "%q", name)
	}

	var handle Handle
	_, err := fw.invoke(ctx, "open", func(ec ExecContext) Outcome {
		var out Outcome
		handle, out = n.desc.Driver.Open(ec, n.desc.Minor)
		return out
	})
	if err != nil {
		fw.logger.Errorw("driver failed to open device", "name", name, "error", err)
		return nil, err
	}

	f := &File{
		id:     uuid.New(),
		fw:     fw,
		node:   n,
		handle: handle,
	}
	f.logger = fw.logger.With("device", name, "file", f.id)
	n.open = f
	return f, nil
}

func (fw *Framework) release(f *File) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if f.node.open == f {
		f.node.open = nil
	}
}

// invoke runs handler from the caller's execution context, re-invoking it once from the other
// context if it asks to be retried.
func (fw *Framework) invoke(ctx context.Context, op string, handler func(ec ExecContext) Outcome) (int, error) {
	ec := ExecContextFrom(ctx)
	out := handler(ec)
	if out.Retry() {
		fw.logger.Debugw("handler retrying in other execution context", "op", op, "from", ec, "to", ec.Other())
		out = handler(ec.Other())
		if out.Retry() {
			fw.logger.Errorw("handler declined both execution contexts", "op", op)
			return 0, errors.Wrapf(ErrNoHandler, "%s", op)
		}
	}
	return out.Result()
}
