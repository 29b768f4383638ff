// Package config defines the structures to configure the SPI driver module.
package config

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/rtspi/components/spi"
	"go.viam.com/rtspi/rtdev"
	rutils "go.viam.com/rtspi/utils"
)

// DefaultLabels are the device node names used for chip selects without a configured label.
var DefaultLabels = [spi.NumChipSelects]string{"spi0.0", "spi0.1"}

// A Config describes the configuration of the driver module.
type Config struct {
	ConfigFilePath string `json:"-"`

	Backend         string              `json:"backend"`
	Attributes      rutils.AttributeMap `json:"attributes,omitempty"`
	Devices         []DeviceConfig      `json:"devices,omitempty"`
	RequireRealTime bool                `json:"require_realtime,omitempty"`
}

// Ensure ensures all parts of the config are valid.
func (c *Config) Ensure() error {
	if c.Backend == "" {
		return utils.NewConfigValidationFieldRequiredError("", "backend")
	}
	if len(c.Devices) > spi.NumChipSelects {
		return utils.NewConfigValidationError("devices",
			errors.Errorf("at most %d devices can be configured, got %d", spi.NumChipSelects, len(c.Devices)))
	}
	labels := map[string]bool{}
	chipSelects := map[int]bool{}
	for idx, dev := range c.Devices {
		path := fmt.Sprintf("%s.%d", "devices", idx)
		if err := dev.Validate(path); err != nil {
			return err
		}
		if labels[dev.Label] {
			return utils.NewConfigValidationError(path, errors.Errorf("duplicate label %q", dev.Label))
		}
		if chipSelects[dev.ChipSelect] {
			return utils.NewConfigValidationError(path, errors.Errorf("duplicate chip_select %d", dev.ChipSelect))
		}
		labels[dev.Label] = true
		chipSelects[dev.ChipSelect] = true
	}

	// a default label must not collide with a configured one
	all := c.Labels()
	if all[0] == all[1] {
		return utils.NewConfigValidationError("devices", errors.Errorf("label %q used for both chip selects", all[0]))
	}
	return nil
}

// Labels returns the device node name of each chip select.
func (c *Config) Labels() [spi.NumChipSelects]string {
	labels := DefaultLabels
	for _, dev := range c.Devices {
		if spi.ChipSelect(dev.ChipSelect).Valid() {
			labels[dev.ChipSelect] = dev.Label
		}
	}
	return labels
}

// A DeviceConfig names the device node of one chip select.
type DeviceConfig struct {
	Label      string `json:"label"`
	ChipSelect int    `json:"chip_select"`
}

// Validate ensures all parts of the config are valid.
func (config *DeviceConfig) Validate(path string) error {
	if config.Label == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "label")
	}
	if len(config.Label) > rtdev.MaxNameLen {
		return utils.NewConfigValidationError(path,
			errors.Errorf("label %q is longer than %d bytes", config.Label, rtdev.MaxNameLen))
	}
	if strings.ContainsAny(config.Label, "/\x00") {
		return utils.NewConfigValidationError(path, errors.Errorf("label %q contains an illegal character", config.Label))
	}
	if !spi.ChipSelect(config.ChipSelect).Valid() {
		return utils.NewConfigValidationError(path, errors.Errorf("chip_select must be 0 or 1, got %d", config.ChipSelect))
	}
	return nil
}
