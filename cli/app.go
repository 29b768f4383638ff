// Package cli contains the rtspi command line tool.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

// CLI flags.
const (
	generalFlagConfig = "config"
	generalFlagDebug  = "debug"

	transferFlagDevice     = "device"
	transferFlagBitOrder   = "bit-order"
	transferFlagMode       = "mode"
	transferFlagDivider    = "divider"
	transferFlagCSPolarity = "cs-polarity"
	transferFlagReadLength = "read"
)

var app = &cli.App{
	Name:            "rtspi",
	Usage:           "load the SPI driver module and talk to its devices",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    generalFlagConfig,
			Aliases: []string{"c"},
			Usage:   "load configuration from `FILE`; without it the in-memory echo backend is used",
		},
		&cli.BoolFlag{
			Name:    generalFlagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
	},
	Commands: []*cli.Command{
		{
			Name:   "devices",
			Usage:  "load the module and list its device nodes",
			Action: DevicesAction,
		},
		{
			Name:   "speeds",
			Usage:  "list the legal clock dividers and their bus clocks",
			Action: SpeedsAction,
		},
		{
			Name:      "transfer",
			Usage:     "write bytes to a device and print what was shifted back",
			UsageText: "rtspi transfer [options] <hex bytes...>",
			Description: `Bytes are given in hex, either one per argument or run together.

Example, reading a register of a chip on chip select 1 in mode 3:
rtspi --config spi.json transfer --device 1 --mode 3 --divider 64 8f 00`,
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  transferFlagDevice,
					Usage: "chip select of the device to open (0 or 1)",
					Value: 0,
				},
				&cli.StringFlag{
					Name:  transferFlagBitOrder,
					Usage: "bit order: msb or lsb",
				},
				&cli.IntFlag{
					Name:  transferFlagMode,
					Usage: "data mode 0-3",
				},
				&cli.IntFlag{
					Name:  transferFlagDivider,
					Usage: "clock divider; see the speeds command",
				},
				&cli.StringFlag{
					Name:  transferFlagCSPolarity,
					Usage: "chip select polarity: low or high",
				},
				&cli.IntFlag{
					Name:        transferFlagReadLength,
					Usage:       "bytes to read back",
					DefaultText: "as many as written",
				},
			},
			Action: TransferAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
