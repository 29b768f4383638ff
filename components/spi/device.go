package spi

import (
	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"go.viam.com/rtspi/rtdev"
)

// A Device is the context of one open session on a logical device. It is owned by that session
// alone, so it is not safe for concurrent use.
type Device struct {
	conf   Config
	tx     Buffer
	rx     Buffer
	bus    *Bus
	logger golog.Logger
}

// NewDevice returns a device on cs with the default configuration and empty buffers.
func NewDevice(bus *Bus, cs ChipSelect, logger golog.Logger) (*Device, error) {
	if !cs.Valid() {
		return nil, errors.Wrapf(ErrInvalidArgument, "chip select %d", int(cs))
	}
	return &Device{
		conf:   DefaultConfig(cs),
		bus:    bus,
		logger: logger,
	}, nil
}

// Config returns the current configuration.
func (d *Device) Config() Config {
	return d.conf
}

// Pending returns the number of received bytes not yet read.
func (d *Device) Pending() int {
	return d.rx.Len()
}

// Write sends src over the bus and captures the same number of bytes into the receive buffer.
// On success it returns src.Len().
func (d *Device) Write(src rtdev.UserBuffer) (int, error) {
	n := src.Len()
	if n > MaxBufferSize {
		d.logger.Warnw("write larger than buffer", "chip_select", d.conf.ChipSelect(), "size", n, "max", MaxBufferSize)
		return 0, errors.Wrapf(ErrInvalidArgument, "write of %d bytes exceeds %d", n, MaxBufferSize)
	}
	if err := src.CopyIn(d.tx.room(n)); err != nil {
		d.logger.Errorw("cannot copy write data", "chip_select", d.conf.ChipSelect(), "size", n, "error", err)
		return 0, err
	}
	d.tx.setLen(n)

	if unread := d.rx.Len(); unread > 0 {
		d.logger.Warnw("overwriting unread receive data", "chip_select", d.conf.ChipSelect(), "unread", unread)
	}
	if err := d.bus.Transfer(d.conf, d.tx.Bytes(), d.rx.room(n)); err != nil {
		d.rx.Reset()
		d.logger.Errorw("transfer failed", "chip_select", d.conf.ChipSelect(), "size", n, "error", err)
		return 0, err
	}
	d.rx.setLen(n)
	return n, nil
}

// Read copies up to dst.Len() received bytes to dst. The receive buffer is emptied whether or not
// the copy succeeds, so a second Read with no Write in between returns nothing.
func (d *Device) Read(dst rtdev.UserBuffer) (int, error) {
	n := dst.Len()
	if n > MaxBufferSize {
		n = MaxBufferSize
	}
	if n > d.rx.Len() {
		n = d.rx.Len()
	}
	err := dst.CopyOut(d.rx.Bytes()[:n])
	d.rx.Reset()
	if err != nil {
		d.logger.Errorw("cannot copy read data", "chip_select", d.conf.ChipSelect(), "size", n, "error", err)
		return 0, err
	}
	return n, nil
}
