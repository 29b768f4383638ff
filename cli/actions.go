package cli

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/edaniels/golog"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"go.viam.com/rtspi/components/spi"
	"go.viam.com/rtspi/components/spi/fake"
	// register backends.
	_ "go.viam.com/rtspi/components/spi/register"
	"go.viam.com/rtspi/config"
	"go.viam.com/rtspi/driver"
	"go.viam.com/rtspi/registry"
	"go.viam.com/rtspi/rtdev"
)

func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

func newLogger(c *cli.Context) golog.Logger {
	if c.Bool(generalFlagDebug) {
		return golog.NewDebugLogger("rtspi")
	}
	return zap.NewNop().Sugar()
}

func readConfig(c *cli.Context, logger golog.Logger) (*config.Config, error) {
	path := c.String(generalFlagConfig)
	if path == "" {
		return &config.Config{Backend: fake.ModelName}, nil
	}
	return config.Read(c.Context, path, logger)
}

// withModule loads the module for the duration of fn and unloads it afterwards.
func withModule(c *cli.Context, fn func(conf *config.Config, m *driver.Module) error) (err error) {
	logger := newLogger(c)
	conf, err := readConfig(c, logger)
	if err != nil {
		return err
	}
	m, err := driver.LoadFromConfig(c.Context, conf, logger)
	if err != nil {
		return errors.Wrapf(err, "loading %s backend", conf.Backend)
	}
	defer func() {
		err = multierr.Combine(err, m.Unload(context.Background()))
	}()
	return fn(conf, m)
}

// DevicesAction lists the device nodes of the loaded module.
func DevicesAction(c *cli.Context) error {
	return withModule(c, func(conf *config.Config, m *driver.Module) error {
		desc := ""
		if reg := registry.PeripheralLookup(conf.Backend); reg != nil {
			desc = reg.Description
		}
		printf(c.App.Writer, "backend %s: %s", conf.Backend, desc)

		t := table.NewWriter()
		t.AppendHeader(table.Row{"Label", "Minor", "Chip Select", "Defaults", "Real-time Safe"})
		for _, e := range m.Entries() {
			t.AppendRow(table.Row{
				e.Label,
				e.Minor,
				e.ChipSelect,
				spi.DefaultConfig(e.ChipSelect).String(),
				m.Bus().Peripheral().RealTimeSafe(),
			})
		}
		printf(c.App.Writer, "%s", t.Render())
		printf(c.App.Writer, "nodes: %s", strings.Join(m.Framework().Names(), " "))
		printf(c.App.Writer, "backends: %s", strings.Join(registry.RegisteredPeripherals(), " "))
		return nil
	})
}

// SpeedsAction prints the clock divider table.
func SpeedsAction(c *cli.Context) error {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Divider", "Effective", "Bus Clock (Hz)", "1 KiB Transfer"})
	for _, d := range spi.ClockDividers() {
		t.AppendRow(table.Row{
			int32(d),
			d.Effective(),
			d.Frequency(),
			spi.EstimateTransferDuration(d, spi.MaxBufferSize),
		})
	}
	printf(c.App.Writer, "%s", t.Render())
	return nil
}

// TransferAction writes the hex bytes given as arguments to a device, reads back what was
// shifted in and prints it.
func TransferAction(c *cli.Context) error {
	tx, err := parseHexArgs(c.Args().Slice())
	if err != nil {
		return err
	}
	cs := spi.ChipSelect(c.Int(transferFlagDevice))
	if !cs.Valid() {
		return errors.Errorf("no device on chip select %d", int(cs))
	}
	requests, err := controlRequests(c)
	if err != nil {
		return err
	}
	readLen := len(tx)
	if c.IsSet(transferFlagReadLength) {
		readLen = c.Int(transferFlagReadLength)
		if readLen < 0 || readLen > spi.MaxBufferSize {
			return errors.Errorf("--%s %d is outside of 0..%d", transferFlagReadLength, readLen, spi.MaxBufferSize)
		}
	}

	return withModule(c, func(conf *config.Config, m *driver.Module) (err error) {
		f, err := m.Open(c.Context, cs)
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Combine(err, f.Close(c.Context))
		}()

		for _, r := range requests {
			if _, err := f.Ioctl(c.Context, uint32(r.req), r.arg); err != nil {
				return errors.Wrapf(err, "%s %d (status %d)", r.req, r.arg, rtdev.Errno(err))
			}
		}
		if _, err := f.Write(c.Context, tx); err != nil {
			return errors.Wrapf(err, "write (status %d)", rtdev.Errno(err))
		}
		rx := make([]byte, readLen)
		n, err := f.Read(c.Context, rx)
		if err != nil {
			return errors.Wrapf(err, "read (status %d)", rtdev.Errno(err))
		}

		stats := m.Bus().Stats()
		printf(c.App.Writer, "tx: % x", tx)
		printf(c.App.Writer, "rx: % x", rx[:n])
		printf(c.App.Writer, "%d bytes on %s in %s", len(tx), f.Name(), stats.LastDuration)
		return nil
	})
}

type controlRequest struct {
	req spi.Request
	arg int32
}

// controlRequests turns the set flags into control requests, in request code order.
func controlRequests(c *cli.Context) ([]controlRequest, error) {
	var requests []controlRequest
	if c.IsSet(transferFlagBitOrder) {
		order, err := parseBitOrder(c.String(transferFlagBitOrder))
		if err != nil {
			return nil, err
		}
		requests = append(requests, controlRequest{spi.RequestSetBitOrder, int32(order)})
	}
	if c.IsSet(transferFlagMode) {
		mode, err := int32Flag(c, transferFlagMode)
		if err != nil {
			return nil, err
		}
		requests = append(requests, controlRequest{spi.RequestSetDataMode, mode})
	}
	if c.IsSet(transferFlagDivider) {
		divider, err := int32Flag(c, transferFlagDivider)
		if err != nil {
			return nil, err
		}
		requests = append(requests, controlRequest{spi.RequestSetSpeed, divider})
	}
	if c.IsSet(transferFlagCSPolarity) {
		polarity, err := parseChipSelectPolarity(c.String(transferFlagCSPolarity))
		if err != nil {
			return nil, err
		}
		requests = append(requests, controlRequest{spi.RequestSetChipSelectPolarity, int32(polarity)})
	}
	return requests, nil
}

// int32Flag returns an int flag that must fit the 32-bit control argument.
func int32Flag(c *cli.Context, name string) (int32, error) {
	v := c.Int(name)
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, errors.Errorf("--%s %d does not fit a 32-bit control argument", name, v)
	}
	return int32(v), nil
}

func parseBitOrder(s string) (spi.BitOrder, error) {
	switch strings.ToLower(s) {
	case "msb", "msb-first":
		return spi.MSBFirst, nil
	case "lsb", "lsb-first":
		return spi.LSBFirst, nil
	}
	return 0, errors.Errorf("unknown bit order %q, expected msb or lsb", s)
}

func parseChipSelectPolarity(s string) (spi.ChipSelectPolarity, error) {
	switch strings.ToLower(s) {
	case "low", "active-low":
		return spi.ActiveLow, nil
	case "high", "active-high":
		return spi.ActiveHigh, nil
	}
	return 0, errors.Errorf("unknown chip select polarity %q, expected low or high", s)
}

// parseHexArgs parses bytes given in hex. An argument may hold several bytes run together and
// may carry a 0x prefix.
func parseHexArgs(args []string) ([]byte, error) {
	var out []byte
	for _, arg := range args {
		s := strings.TrimPrefix(strings.ToLower(arg), "0x")
		if len(s)%2 == 1 {
			s = "0" + s
		}
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, errors.Wrapf(err, "argument %s", strconv.Quote(arg))
		}
		out = append(out, b...)
	}
	if len(out) > spi.MaxBufferSize {
		return nil, errors.Errorf("%d bytes given, at most %d fit in one transfer", len(out), spi.MaxBufferSize)
	}
	return out, nil
}
