//go:build linux

package spidev

import (
	"os"
	"unsafe"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"go.viam.com/rtspi/components/spi"
)

// See include/uapi/linux/spi/spidev.h.
const (
	iocWrMaxSpeedHz = 0x40046b04
	iocWrMode32     = 0x40046b05
)

// iocTransfer is struct spi_ioc_transfer.
type iocTransfer struct {
	TxBuf          uint64
	RxBuf          uint64
	Length         uint32
	SpeedHz        uint32
	DelayUsecs     uint16
	BitsPerWord    uint8
	CSChange       uint8
	TxNBits        uint8
	RxNBits        uint8
	WordDelayUsecs uint8
	Pad            uint8
}

// iocMessage is SPI_IOC_MESSAGE(n).
func iocMessage(n int) uintptr {
	size := uintptr(n) * unsafe.Sizeof(iocTransfer{})
	return 0x40006b00 | size<<16
}

// spidevFile is an open spidev node. The kernel reads and writes the transfer buffers through
// pointers, so they live in an anonymous mapping the garbage collector never moves.
type spidevFile struct {
	f   *os.File
	buf []byte
}

func openDevice(path string) (device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	buf, err := unix.Mmap(-1, 0, 2*spi.MaxBufferSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "mapping transfer buffers"), f.Close())
	}
	return &spidevFile{f: f, buf: buf}, nil
}

func (d *spidevFile) ioctl(request uintptr, arg unsafe.Pointer) error {
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), request, uintptr(arg)); errno != 0 {
		return errno
	}
	return nil
}

func (d *spidevFile) SetMode(mode uint32) error {
	return d.ioctl(iocWrMode32, unsafe.Pointer(&mode))
}

func (d *spidevFile) SetMaxSpeed(hz uint32) error {
	return d.ioctl(iocWrMaxSpeedHz, unsafe.Pointer(&hz))
}

func (d *spidevFile) Transfer(tx, rx []byte, hz uint32) error {
	n := len(tx)
	txBuf, rxBuf := d.buf[:spi.MaxBufferSize], d.buf[spi.MaxBufferSize:]
	copy(txBuf, tx)
	xfer := iocTransfer{
		TxBuf:       uint64(uintptr(unsafe.Pointer(&txBuf[0]))),
		RxBuf:       uint64(uintptr(unsafe.Pointer(&rxBuf[0]))),
		Length:      uint32(n),
		SpeedHz:     hz,
		BitsPerWord: 8,
	}
	if err := d.ioctl(iocMessage(1), unsafe.Pointer(&xfer)); err != nil {
		return errors.Wrapf(err, "exchanging %d bytes on %s", n, d.f.Name())
	}
	copy(rx, rxBuf[:n])
	return nil
}

func (d *spidevFile) Close() error {
	return multierr.Combine(unix.Munmap(d.buf), d.f.Close())
}
