// Package register registers all SPI peripheral backends.
package register

import (
	// register backends.
	_ "go.viam.com/rtspi/components/spi/bcm283x"
	_ "go.viam.com/rtspi/components/spi/fake"
	_ "go.viam.com/rtspi/components/spi/genericlinux"
	_ "go.viam.com/rtspi/components/spi/spidev"
)
