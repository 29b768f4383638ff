package spi

import (
	"go.viam.com/rtspi/rtdev"
)

// ErrInvalidArgument is returned, before anything is changed, for an oversized write, a
// configuration value outside of its legal set, or an unknown control request.
var ErrInvalidArgument = rtdev.ErrInvalidArgument
