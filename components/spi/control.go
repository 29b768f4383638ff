package spi

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"go.viam.com/rtspi/rtdev"
)

// A Request is a control request code.
type Request uint32

// Control requests. Each takes a 4-byte little-endian integer argument.
const (
	RequestSetBitOrder           Request = 0
	RequestSetDataMode           Request = 1
	RequestSetSpeed              Request = 2
	RequestSetChipSelectPolarity Request = 3
)

// Valid returns whether r is a known request code.
func (r Request) Valid() bool {
	return r <= RequestSetChipSelectPolarity
}

func (r Request) String() string {
	switch r {
	case RequestSetBitOrder:
		return "set_bit_order"
	case RequestSetDataMode:
		return "set_data_mode"
	case RequestSetSpeed:
		return "set_speed"
	case RequestSetChipSelectPolarity:
		return "set_cs_polarity"
	default:
		return fmt.Sprintf("Request(%d)", uint32(r))
	}
}

func (c *Config) apply(req Request, v int32) error {
	switch req {
	case RequestSetBitOrder:
		return c.SetBitOrder(v)
	case RequestSetDataMode:
		return c.SetDataMode(v)
	case RequestSetSpeed:
		return c.SetClockDivider(v)
	case RequestSetChipSelectPolarity:
		return c.SetChipSelectPolarity(v)
	default:
		return errors.Wrapf(ErrInvalidArgument, "unknown request %d", uint32(req))
	}
}

// Control changes one configuration parameter. The argument is only read for a known request.
func (d *Device) Control(req Request, arg rtdev.UserBuffer) error {
	if !req.Valid() {
		d.logger.Warnw("unknown control request", "chip_select", d.conf.ChipSelect(), "request", uint32(req))
		return errors.Wrapf(ErrInvalidArgument, "unknown request %d", uint32(req))
	}
	var raw [rtdev.IoctlArgSize]byte
	if err := arg.CopyIn(raw[:]); err != nil {
		d.logger.Errorw("cannot copy control argument", "chip_select", d.conf.ChipSelect(), "request", req, "error", err)
		return err
	}
	v := int32(binary.LittleEndian.Uint32(raw[:]))
	if err := d.conf.apply(req, v); err != nil {
		d.logger.Warnw("rejected control request", "chip_select", d.conf.ChipSelect(), "request", req, "value", v, "error", err)
		return err
	}
	d.logger.Debugw("applied control request", "chip_select", d.conf.ChipSelect(), "request", req, "value", v)
	return nil
}
