package fake

import (
	"context"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/rtspi/components/spi"
	"go.viam.com/rtspi/registry"
	"go.viam.com/rtspi/utils"
)

func TestTransforms(t *testing.T) {
	tx := []byte{0x00, 0x0f, 0xa5}
	rx := make([]byte, 3)

	Echo(tx, rx)
	test.That(t, rx, test.ShouldResemble, []byte{0x00, 0x0f, 0xa5})
	Invert(tx, rx)
	test.That(t, rx, test.ShouldResemble, []byte{0xff, 0xf0, 0x5a})
	Zero(tx, rx)
	test.That(t, rx, test.ShouldResemble, []byte{0, 0, 0})
}

func TestSessionOrdering(t *testing.T) {
	logger := golog.NewTestLogger(t)
	p := NewPeripheral(logger)

	test.That(t, p.Begin(), test.ShouldNotBeNil)
	test.That(t, p.Transfer([]byte{1}, make([]byte, 1)), test.ShouldNotBeNil)
	test.That(t, p.Init(), test.ShouldBeNil)
	test.That(t, p.Transfer([]byte{1}, make([]byte, 1)), test.ShouldNotBeNil)
	test.That(t, p.Begin(), test.ShouldBeNil)
	test.That(t, p.Transfer([]byte{1}, make([]byte, 1)), test.ShouldBeNil)
	test.That(t, p.End(), test.ShouldBeNil)
	test.That(t, p.Transfer([]byte{1}, make([]byte, 1)), test.ShouldNotBeNil)
	test.That(t, p.Close(), test.ShouldBeNil)

	test.That(t, p.Calls(), test.ShouldResemble, []string{
		"begin", "transfer", "init", "transfer", "begin", "transfer", "end", "transfer", "close",
	})
	test.That(t, p.Transfers(), test.ShouldHaveLength, 1)

	p.Reset()
	test.That(t, p.Calls(), test.ShouldBeEmpty)
	_, ok := p.LastTransfer()
	test.That(t, ok, test.ShouldBeFalse)
}

func TestRecordsSettings(t *testing.T) {
	logger := golog.NewTestLogger(t)
	clk := clock.NewMock()
	p := NewPeripheral(logger, WithMockClock(clk), WithTransform(Invert))
	test.That(t, p.Init(), test.ShouldBeNil)
	test.That(t, p.Begin(), test.ShouldBeNil)

	test.That(t, p.SetBitOrder(spi.MSBFirst), test.ShouldBeNil)
	test.That(t, p.SetDataMode(spi.Mode2), test.ShouldBeNil)
	test.That(t, p.SetClockDivider(spi.Speed2MHz), test.ShouldBeNil)
	test.That(t, p.SetChipSelectPolarity(spi.CS1, spi.ActiveHigh), test.ShouldBeNil)
	test.That(t, p.SetChipSelectPolarity(spi.ChipSelect(3), spi.ActiveHigh), test.ShouldNotBeNil)
	test.That(t, p.SelectChip(spi.CS1), test.ShouldBeNil)
	test.That(t, p.SelectChip(spi.ChipSelect(-1)), test.ShouldNotBeNil)

	start := clk.Now()
	rx := make([]byte, 4)
	test.That(t, p.Transfer([]byte{1, 2}, rx), test.ShouldBeNil)
	test.That(t, rx, test.ShouldResemble, []byte{0xfe, 0xfd, 0, 0})
	test.That(t, clk.Now().Sub(start), test.ShouldEqual, spi.EstimateTransferDuration(spi.Speed2MHz, 2))

	last, ok := p.LastTransfer()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, last.Tx, test.ShouldResemble, []byte{1, 2})
	test.That(t, last.Rx, test.ShouldResemble, []byte{0xfe, 0xfd})
	test.That(t, last.Settings, test.ShouldResemble, Settings{
		BitOrder:     spi.MSBFirst,
		DataMode:     spi.Mode2,
		ClockDivider: spi.Speed2MHz,
		ChipSelect:   spi.CS1,
		Polarity:     [spi.NumChipSelects]spi.ChipSelectPolarity{spi.ActiveLow, spi.ActiveHigh},
	})
	test.That(t, last.Settings.SelectedPolarity(), test.ShouldEqual, spi.ActiveHigh)
}

func TestInitError(t *testing.T) {
	logger := golog.NewTestLogger(t)
	errBoom := errors.New("no mapping")
	p := NewPeripheral(logger, WithInitError(errBoom), WithRealTimeSafe(false))
	test.That(t, errors.Is(p.Init(), errBoom), test.ShouldBeTrue)
	test.That(t, p.RealTimeSafe(), test.ShouldBeFalse)
}

func TestAttributes(t *testing.T) {
	for _, tc := range []struct {
		transform string
		valid     bool
	}{
		{"", true},
		{TransformEcho, true},
		{TransformInvert, true},
		{TransformZero, true},
		{"random", false},
	} {
		err := (&Attributes{Transform: tc.transform}).Validate("path")
		if tc.valid {
			test.That(t, err, test.ShouldBeNil)
		} else {
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, `error validating "path"`)
		}
	}
}

func TestRegistered(t *testing.T) {
	logger := golog.NewTestLogger(t)
	reg := registry.PeripheralLookup(ModelName)
	test.That(t, reg, test.ShouldNotBeNil)

	hw, err := reg.Constructor(context.Background(), utils.AttributeMap{
		"transform":     "zero",
		"realtime_safe": false,
	}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, hw.RealTimeSafe(), test.ShouldBeFalse)
	test.That(t, hw.Init(), test.ShouldBeNil)
	test.That(t, hw.Begin(), test.ShouldBeNil)
	rx := []byte{9, 9}
	test.That(t, hw.Transfer([]byte{1, 2}, rx), test.ShouldBeNil)
	test.That(t, rx, test.ShouldResemble, []byte{0, 0})

	_, err = reg.Constructor(context.Background(), utils.AttributeMap{"speed": 3}, logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = reg.Constructor(context.Background(), utils.AttributeMap{"transform": "loud"}, logger)
	test.That(t, err, test.ShouldNotBeNil)

	hw, err = reg.Constructor(context.Background(), utils.AttributeMap{"fail_init": true}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, hw.Init(), test.ShouldNotBeNil)
}
