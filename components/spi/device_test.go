package spi_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"golang.org/x/sys/unix"

	"go.viam.com/rtspi/components/spi"
	"go.viam.com/rtspi/components/spi/fake"
	"go.viam.com/rtspi/rtdev"
	"go.viam.com/rtspi/testutils/inject"
)

func newTestDevice(t *testing.T, logger golog.Logger, cs spi.ChipSelect, opts ...fake.Option) (*spi.Device, *fake.Peripheral) {
	t.Helper()
	hw := newBeganPeripheral(t, logger, opts...)
	dev, err := spi.NewDevice(spi.NewBus(hw, logger), cs, logger)
	test.That(t, err, test.ShouldBeNil)
	return dev, hw
}

func faultingBuffer(n int) *inject.UserBuffer {
	return &inject.UserBuffer{
		UserBuffer: make(rtdev.Bytes, n),
		CopyInFunc: func(dst []byte) error {
			return rtdev.NewCopyFault("copy from caller", -14)
		},
		CopyOutFunc: func(src []byte) error {
			return rtdev.NewCopyFault("copy to caller", -14)
		},
	}
}

func arg(v int32) rtdev.Bytes {
	buf := make(rtdev.Bytes, rtdev.IoctlArgSize)
	binary.LittleEndian.PutUint32(buf, uint32(v))
	return buf
}

func TestNewDevice(t *testing.T) {
	logger := golog.NewTestLogger(t)
	hw := newBeganPeripheral(t, logger)
	_, err := spi.NewDevice(spi.NewBus(hw, logger), spi.ChipSelect(2), logger)
	test.That(t, errors.Is(err, spi.ErrInvalidArgument), test.ShouldBeTrue)

	dev, err := spi.NewDevice(spi.NewBus(hw, logger), spi.CS1, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dev.Config(), test.ShouldResemble, spi.DefaultConfig(spi.CS1))
	test.That(t, dev.Pending(), test.ShouldEqual, 0)
}

func TestWriteThenRead(t *testing.T) {
	logger := golog.NewTestLogger(t)
	dev, _ := newTestDevice(t, logger, spi.CS0, fake.WithTransform(fake.Invert))

	out := make([]byte, spi.MaxBufferSize)
	for i := range out {
		out[i] = byte(i * 7)
	}
	for s := 0; s <= spi.MaxBufferSize; s++ {
		n, err := dev.Write(rtdev.Bytes(out[:s]))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, n, test.ShouldEqual, s)

		in := make([]byte, s)
		n, err = dev.Read(rtdev.Bytes(in))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, n, test.ShouldEqual, s)

		expected := make([]byte, s)
		fake.Invert(out[:s], expected)
		if !bytes.Equal(in, expected) {
			t.Fatalf("size %d: read %x, expected %x", s, in, expected)
		}
	}
}

func TestOversizedWrite(t *testing.T) {
	logger, logs := golog.NewObservedTestLogger(t)
	dev, hw := newTestDevice(t, logger, spi.CS0)

	_, err := dev.Write(rtdev.Bytes{0xaa, 0xbb})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dev.Control(spi.RequestSetDataMode, arg(2)), test.ShouldBeNil)
	conf := dev.Config()

	n, err := dev.Write(make(rtdev.Bytes, spi.MaxBufferSize+1))
	test.That(t, errors.Is(err, spi.ErrInvalidArgument), test.ShouldBeTrue)
	test.That(t, rtdev.Errno(err), test.ShouldEqual, -int(unix.EINVAL))
	test.That(t, n, test.ShouldEqual, 0)
	test.That(t, logs.FilterMessage("write larger than buffer").Len(), test.ShouldEqual, 1)

	test.That(t, hw.Transfers(), test.ShouldHaveLength, 1)
	test.That(t, dev.Config(), test.ShouldResemble, conf)
	test.That(t, dev.Pending(), test.ShouldEqual, 2)

	in := make([]byte, 10)
	n, err = dev.Read(rtdev.Bytes(in))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, in[:n], test.ShouldResemble, []byte{0xaa, 0xbb})
}

func TestReadIsDestructive(t *testing.T) {
	logger := golog.NewTestLogger(t)
	dev, _ := newTestDevice(t, logger, spi.CS1)

	_, err := dev.Write(rtdev.Bytes{1, 2, 3, 4})
	test.That(t, err, test.ShouldBeNil)

	// a short read still drops the rest
	in := make([]byte, 2)
	n, err := dev.Read(rtdev.Bytes(in))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 2)
	test.That(t, in, test.ShouldResemble, []byte{1, 2})

	n, err = dev.Read(rtdev.Bytes(make([]byte, 10)))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 0)

	// nothing written yet on a fresh device
	dev, _ = newTestDevice(t, logger, spi.CS0)
	n, err = dev.Read(rtdev.Bytes(make([]byte, 10)))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 0)
}

func TestReadLargerThanBuffer(t *testing.T) {
	logger := golog.NewTestLogger(t)
	dev, _ := newTestDevice(t, logger, spi.CS0)

	out := bytes.Repeat([]byte{0x5a}, spi.MaxBufferSize)
	_, err := dev.Write(rtdev.Bytes(out))
	test.That(t, err, test.ShouldBeNil)

	n, err := dev.Read(rtdev.Bytes(make([]byte, 4*spi.MaxBufferSize)))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, spi.MaxBufferSize)
}

func TestOverwritingUnreadData(t *testing.T) {
	logger, logs := golog.NewObservedTestLogger(t)
	dev, _ := newTestDevice(t, logger, spi.CS0)

	_, err := dev.Write(rtdev.Bytes{1, 2, 3})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logs.FilterMessage("overwriting unread receive data").Len(), test.ShouldEqual, 0)

	_, err = dev.Write(rtdev.Bytes{4, 5})
	test.That(t, err, test.ShouldBeNil)
	warnings := logs.FilterMessage("overwriting unread receive data").All()
	test.That(t, warnings, test.ShouldHaveLength, 1)
	test.That(t, warnings[0].ContextMap()["unread"], test.ShouldEqual, 3)

	in := make([]byte, 10)
	n, err := dev.Read(rtdev.Bytes(in))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, in[:n], test.ShouldResemble, []byte{4, 5})
}

func TestWriteCopyFault(t *testing.T) {
	logger := golog.NewTestLogger(t)
	dev, hw := newTestDevice(t, logger, spi.CS0)

	_, err := dev.Write(rtdev.Bytes{9})
	test.That(t, err, test.ShouldBeNil)

	n, err := dev.Write(faultingBuffer(4))
	test.That(t, rtdev.IsCopyFault(err), test.ShouldBeTrue)
	test.That(t, rtdev.Errno(err), test.ShouldEqual, -int(unix.EFAULT))
	test.That(t, n, test.ShouldEqual, 0)
	test.That(t, hw.Transfers(), test.ShouldHaveLength, 1)

	// the earlier reception is untouched
	in := make([]byte, 4)
	n, err = dev.Read(rtdev.Bytes(in))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, in[:n], test.ShouldResemble, []byte{9})
}

func TestReadCopyFault(t *testing.T) {
	logger := golog.NewTestLogger(t)
	dev, _ := newTestDevice(t, logger, spi.CS0)

	_, err := dev.Write(rtdev.Bytes{1, 2})
	test.That(t, err, test.ShouldBeNil)

	_, err = dev.Read(faultingBuffer(2))
	test.That(t, rtdev.IsCopyFault(err), test.ShouldBeTrue)
	test.That(t, dev.Pending(), test.ShouldEqual, 0)
}

func TestWriteTransferFailure(t *testing.T) {
	logger, logs := golog.NewObservedTestLogger(t)
	errBoom := errors.New("bus fault")
	hw := &inject.Peripheral{Peripheral: newBeganPeripheral(t, logger)}
	dev, err := spi.NewDevice(spi.NewBus(hw, logger), spi.CS0, logger)
	test.That(t, err, test.ShouldBeNil)

	_, err = dev.Write(rtdev.Bytes{1})
	test.That(t, err, test.ShouldBeNil)

	hw.TransferFunc = func(tx, rx []byte) error {
		return errBoom
	}
	n, err := dev.Write(rtdev.Bytes{2, 3})
	test.That(t, errors.Is(err, errBoom), test.ShouldBeTrue)
	test.That(t, rtdev.Errno(err), test.ShouldEqual, -int(unix.EIO))
	test.That(t, n, test.ShouldEqual, 0)
	test.That(t, dev.Pending(), test.ShouldEqual, 0)
	test.That(t, logs.FilterMessage("transfer failed").Len(), test.ShouldEqual, 1)
}

func TestZeroLengthWrite(t *testing.T) {
	logger := golog.NewTestLogger(t)
	dev, hw := newTestDevice(t, logger, spi.CS0)

	n, err := dev.Write(rtdev.Bytes{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 0)
	test.That(t, hw.Transfers(), test.ShouldHaveLength, 1)
	test.That(t, dev.Pending(), test.ShouldEqual, 0)
}
