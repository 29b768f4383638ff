// Package utils contains helpers shared by the driver, its backends and its tools.
package utils

import (
	"strings"

	"github.com/pkg/errors"
)

// NewUnsupportedBackendError is used when no peripheral backend is registered under a model.
// known lists the models that are registered.
func NewUnsupportedBackendError(model string, known []string) error {
	return errors.Errorf("no peripheral backend registered for model %q (known: %s)", model, strings.Join(known, ", "))
}
