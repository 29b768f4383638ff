// Package registry operates the global registry of SPI peripheral backends.
package registry

import (
	"context"
	"sort"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"go.viam.com/rtspi/components/spi"
	"go.viam.com/rtspi/utils"
)

// A CreatePeripheral creates a peripheral from backend attributes.
type CreatePeripheral func(ctx context.Context, attributes utils.AttributeMap, logger golog.Logger) (spi.Peripheral, error)

// A Registration describes how to create a backend's peripheral.
type Registration struct {
	Constructor CreatePeripheral
	// Description is a one line summary shown by tools.
	Description string
}

var peripheralRegistry = map[string]Registration{}

// RegisterPeripheral registers a backend model to a creator.
func RegisterPeripheral(model string, creator Registration) {
	if _, old := peripheralRegistry[model]; old {
		panic(errors.Errorf("trying to register two peripherals with same model %s", model))
	}
	if creator.Constructor == nil {
		panic(errors.Errorf("cannot register a nil constructor for model %s", model))
	}
	peripheralRegistry[model] = creator
}

// PeripheralLookup looks up a peripheral registration by the given model. nil is returned if
// there is no registration.
func PeripheralLookup(model string) *Registration {
	if registration, ok := peripheralRegistry[model]; ok {
		return &registration
	}
	return nil
}

// RegisteredPeripherals returns the sorted models of all registered backends.
func RegisteredPeripherals() []string {
	models := make([]string, 0, len(peripheralRegistry))
	for model := range peripheralRegistry {
		models = append(models, model)
	}
	sort.Strings(models)
	return models
}
