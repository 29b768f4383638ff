package driver

import (
	"github.com/edaniels/golog"

	"go.viam.com/rtspi/components/spi"
	"go.viam.com/rtspi/rtdev"
)

// spiDriver opens a fresh spi.Device on the shared bus for every open of one of the module's
// device nodes. The node's minor is its chip select.
type spiDriver struct {
	bus    *spi.Bus
	logger golog.Logger
}

func outcome(n int, err error) rtdev.Outcome {
	if err != nil {
		return rtdev.Failure(err)
	}
	return rtdev.Success(n)
}

// Open allocates the device context, so it only runs outside of real-time.
func (d *spiDriver) Open(ec rtdev.ExecContext, minor int) (rtdev.Handle, rtdev.Outcome) {
	if ec == rtdev.RealTime {
		return nil, rtdev.RetryInOtherContext()
	}
	dev, err := spi.NewDevice(d.bus, spi.ChipSelect(minor), d.logger)
	if err != nil {
		d.logger.Errorw("cannot create device context", "minor", minor, "error", err)
		return nil, rtdev.Failure(err)
	}
	d.logger.Debugw("opened device", "chip_select", spi.ChipSelect(minor))
	return &session{dev: dev, realTimeSafe: d.bus.Peripheral().RealTimeSafe()}, rtdev.Success(0)
}

// A session is one open of a device node. Its device context dies with it.
type session struct {
	dev          *spi.Device
	realTimeSafe bool
}

func (s *session) Close(ec rtdev.ExecContext) rtdev.Outcome {
	if ec == rtdev.RealTime {
		return rtdev.RetryInOtherContext()
	}
	s.dev = nil
	return rtdev.Success(0)
}

func (s *session) Read(ec rtdev.ExecContext, dst rtdev.UserBuffer) rtdev.Outcome {
	return outcome(s.dev.Read(dst))
}

func (s *session) Write(ec rtdev.ExecContext, src rtdev.UserBuffer) rtdev.Outcome {
	if ec == rtdev.RealTime && !s.realTimeSafe {
		return rtdev.RetryInOtherContext()
	}
	return outcome(s.dev.Write(src))
}

func (s *session) Ioctl(ec rtdev.ExecContext, request uint32, arg rtdev.UserBuffer) rtdev.Outcome {
	return outcome(0, s.dev.Control(spi.Request(request), arg))
}
