package genericlinux

import (
	"context"
	"testing"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	periphspi "periph.io/x/conn/v3/spi"

	"go.viam.com/rtspi/components/spi"
	"go.viam.com/rtspi/registry"
	"go.viam.com/rtspi/utils"
)

type dial struct {
	name string
	freq physic.Frequency
	mode periphspi.Mode
}

type fakeConn struct {
	h      *harness
	closed bool
}

func (c *fakeConn) Tx(w, r []byte) error {
	c.h.events = append(c.h.events, "tx")
	if c.h.txErr != nil {
		return c.h.txErr
	}
	copy(r, w)
	return nil
}

func (c *fakeConn) Close() error {
	c.h.events = append(c.h.events, "close")
	c.closed = true
	return nil
}

type fakePin struct {
	h    *harness
	name string
}

func (pin *fakePin) Out(l gpio.Level) error {
	pin.h.events = append(pin.h.events, pin.name+"="+l.String())
	return nil
}

type harness struct {
	dials  []dial
	events []string
	txErr  error
}

func newTestPeripheral(t *testing.T, attrs *Attributes) (*Peripheral, *harness) {
	t.Helper()
	h := &harness{}
	p := NewPeripheral(attrs, golog.NewTestLogger(t))
	p.initHost = func() error { return nil }
	p.dial = func(name string, f physic.Frequency, mode periphspi.Mode) (portConn, error) {
		if name == "SPI9.0" {
			return nil, errors.New("no such port")
		}
		h.dials = append(h.dials, dial{name, f, mode})
		return &fakeConn{h: h}, nil
	}
	p.lookupPin = func(name string) (outPin, error) {
		if name == "missing" {
			return nil, errors.New("no GPIO pin")
		}
		return &fakePin{h: h, name: name}, nil
	}
	test.That(t, p.Init(), test.ShouldBeNil)
	test.That(t, p.Begin(), test.ShouldBeNil)
	return p, h
}

func TestAttributesValidate(t *testing.T) {
	test.That(t, (&Attributes{}).Validate("attributes"), test.ShouldBeNil)
	test.That(t, (&Attributes{Bus: 1, ChipSelectPins: []string{"GPIO8", "GPIO7"}}).Validate("attributes"), test.ShouldBeNil)

	err := (&Attributes{Bus: -1}).Validate("attributes")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "negative")

	err = (&Attributes{ChipSelectPins: []string{"GPIO8"}}).Validate("attributes")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "cs_pins must name 2 pins")

	err = (&Attributes{ChipSelectPins: []string{"GPIO8", ""}}).Validate("attributes")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `"attributes.cs_pins.1"`)
}

func TestNativeChipSelect(t *testing.T) {
	p, h := newTestPeripheral(t, &Attributes{Bus: 1})
	test.That(t, p.RealTimeSafe(), test.ShouldBeFalse)

	test.That(t, p.SetBitOrder(spi.LSBFirst), test.ShouldBeNil)
	test.That(t, p.SetDataMode(spi.Mode3), test.ShouldBeNil)
	test.That(t, p.SetClockDivider(spi.Speed2MHz), test.ShouldBeNil)
	test.That(t, p.SetChipSelectPolarity(spi.CS1, spi.ActiveLow), test.ShouldBeNil)
	test.That(t, p.SelectChip(spi.CS1), test.ShouldBeNil)

	rx := make([]byte, 3)
	test.That(t, p.Transfer([]byte{1, 2}, rx), test.ShouldBeNil)
	test.That(t, rx, test.ShouldResemble, []byte{1, 2, 0})
	test.That(t, h.dials, test.ShouldResemble, []dial{{
		name: "SPI1.1",
		freq: physic.Frequency(spi.Speed2MHz.Frequency()) * physic.Hertz,
		mode: periphspi.Mode3 | periphspi.LSBFirst,
	}})
	test.That(t, h.events, test.ShouldResemble, []string{"tx", "close"})

	err := p.SetChipSelectPolarity(spi.CS0, spi.ActiveHigh)
	test.That(t, errors.Is(err, spi.ErrInvalidArgument), test.ShouldBeTrue)

	// nothing is dialed for an empty exchange
	test.That(t, p.Transfer(nil, nil), test.ShouldBeNil)
	test.That(t, h.dials, test.ShouldHaveLength, 1)
}

func TestActiveHighWithoutPinsWarnsOnce(t *testing.T) {
	logger, logs := golog.NewObservedTestLogger(t)
	p, h := newTestPeripheral(t, &Attributes{})
	p.logger = logger

	for i := 0; i < 3; i++ {
		err := p.SetChipSelectPolarity(spi.CS1, spi.ActiveHigh)
		test.That(t, errors.Is(err, spi.ErrInvalidArgument), test.ShouldBeTrue)
	}
	err := p.SetChipSelectPolarity(spi.CS0, spi.ActiveHigh)
	test.That(t, errors.Is(err, spi.ErrInvalidArgument), test.ShouldBeTrue)

	warnings := logs.FilterMessage("active high chip select needs cs_pins, transfers on this chip select will fail")
	test.That(t, warnings.Len(), test.ShouldEqual, 2)
	test.That(t, warnings.All()[0].ContextMap()["chip_select"], test.ShouldEqual, "cs1")
	test.That(t, h.dials, test.ShouldBeEmpty)
}

func TestGPIOChipSelect(t *testing.T) {
	p, h := newTestPeripheral(t, &Attributes{ChipSelectPins: []string{"GPIO8", "GPIO7"}})
	test.That(t, h.events, test.ShouldResemble, []string{"GPIO8=High", "GPIO7=High"})
	h.events = nil

	test.That(t, p.SetChipSelectPolarity(spi.CS1, spi.ActiveHigh), test.ShouldBeNil)
	test.That(t, h.events, test.ShouldResemble, []string{"GPIO7=Low"})
	test.That(t, p.SelectChip(spi.CS1), test.ShouldBeNil)
	h.events = nil

	test.That(t, p.Transfer([]byte{5}, make([]byte, 1)), test.ShouldBeNil)
	test.That(t, h.events, test.ShouldResemble, []string{"GPIO7=High", "tx", "GPIO7=Low", "close"})
	test.That(t, h.dials[0].name, test.ShouldEqual, "SPI0.0")
	test.That(t, h.dials[0].mode, test.ShouldEqual, periphspi.Mode0|periphspi.NoCS)
}

func TestTransferErrors(t *testing.T) {
	p, h := newTestPeripheral(t, &Attributes{})
	errBoom := errors.New("bus fault")
	h.txErr = errBoom
	err := p.Transfer([]byte{1}, make([]byte, 1))
	test.That(t, errors.Is(err, errBoom), test.ShouldBeTrue)
	test.That(t, h.events, test.ShouldResemble, []string{"tx", "close"})

	p, _ = newTestPeripheral(t, &Attributes{Bus: 9})
	err = p.Transfer([]byte{1}, make([]byte, 1))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "opening SPI9.0")

	test.That(t, p.End(), test.ShouldBeNil)
	test.That(t, p.Transfer([]byte{1}, make([]byte, 1)), test.ShouldNotBeNil)
	test.That(t, p.Close(), test.ShouldBeNil)
}

func TestBeginMissingPin(t *testing.T) {
	p := NewPeripheral(&Attributes{ChipSelectPins: []string{"GPIO8", "missing"}}, golog.NewTestLogger(t))
	p.lookupPin = func(name string) (outPin, error) {
		if name == "missing" {
			return nil, errors.New("no GPIO pin")
		}
		return &fakePin{h: &harness{}, name: name}, nil
	}
	test.That(t, p.Begin(), test.ShouldNotBeNil)
	test.That(t, p.Transfer([]byte{1}, make([]byte, 1)), test.ShouldNotBeNil)
}

func TestRegistered(t *testing.T) {
	logger := golog.NewTestLogger(t)
	reg := registry.PeripheralLookup(ModelName)
	test.That(t, reg, test.ShouldNotBeNil)

	hw, err := reg.Constructor(context.Background(), utils.AttributeMap{
		"bus":     1,
		"cs_pins": []interface{}{"GPIO8", "GPIO7"},
	}, logger)
	test.That(t, err, test.ShouldBeNil)
	p, ok := hw.(*Peripheral)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, p.portName(spi.CS1), test.ShouldEqual, "SPI1.0")

	_, err = reg.Constructor(context.Background(), utils.AttributeMap{"cs_pins": []interface{}{"GPIO8"}}, logger)
	test.That(t, err, test.ShouldNotBeNil)
}
