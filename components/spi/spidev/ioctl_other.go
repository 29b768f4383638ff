//go:build !linux

package spidev

import "github.com/pkg/errors"

func openDevice(path string) (device, error) {
	return nil, errors.Errorf("cannot open %s: spidev is only available on linux", path)
}
