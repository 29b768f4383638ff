package rtdev

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/edaniels/golog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// IoctlArgSize is the size of the integer argument passed with Ioctl.
const IoctlArgSize = 4

// A File is an open device node. Operations on a file run to completion on the caller's goroutine
// in the execution context attached to the ctx they are given.
type File struct {
	mu     sync.Mutex
	id     uuid.UUID
	fw     *Framework
	node   *node
	handle Handle
	closed bool
	logger golog.Logger
}

// ID returns the unique id of this open file.
func (f *File) ID() uuid.UUID {
	return f.id
}

// Name returns the name of the device node this file was opened on.
func (f *File) Name() string {
	return f.node.desc.Name
}

// Minor returns the minor number of the device node this file was opened on.
func (f *File) Minor() int {
	return f.node.desc.Minor
}

// Read reads up to len(p) bytes from the device.
func (f *File) Read(ctx context.Context, p []byte) (int, error) {
	return f.ReadUser(ctx, Bytes(p))
}

// ReadUser reads up to dst.Len() bytes from the device into caller memory.
func (f *File) ReadUser(ctx context.Context, dst UserBuffer) (int, error) {
	return f.do(ctx, "read", func(ec ExecContext) Outcome {
		return f.handle.Read(ec, dst)
	})
}

// Write writes p to the device.
func (f *File) Write(ctx context.Context, p []byte) (int, error) {
	return f.WriteUser(ctx, Bytes(p))
}

// WriteUser writes src.Len() bytes of caller memory to the device.
func (f *File) WriteUser(ctx context.Context, src UserBuffer) (int, error) {
	return f.do(ctx, "write", func(ec ExecContext) Outcome {
		return f.handle.Write(ec, src)
	})
}

// Ioctl issues an out-of-band request with a 4-byte integer argument.
func (f *File) Ioctl(ctx context.Context, request uint32, arg int32) (int, error) {
	buf := make(Bytes, IoctlArgSize)
	binary.LittleEndian.PutUint32(buf, uint32(arg))
	return f.IoctlUser(ctx, request, buf)
}

// IoctlUser issues an out-of-band request whose argument lives in caller memory.
func (f *File) IoctlUser(ctx context.Context, request uint32, arg UserBuffer) (int, error) {
	return f.do(ctx, "ioctl", func(ec ExecContext) Outcome {
		return f.handle.Ioctl(ec, request, arg)
	})
}

// Close closes the file and releases the device node for another opener.
func (f *File) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.Wrap(ErrBadFile, "close")
	}
	_, err := f.fw.invoke(ctx, "close", f.handle.Close)
	// released regardless of the driver's result.
	f.closed = true
	f.fw.release(f)
	if err != nil {
		f.logger.Errorw("driver failed to close device", "error", err)
	}
	return err
}

func (f *File) do(ctx context.Context, op string, handler func(ec ExecContext) Outcome) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		f.logger.Warnw("operation on closed file", "op", op)
		return 0, errors.Wrap(ErrBadFile, op)
	}
	return f.fw.invoke(ctx, op, handler)
}
