package inject

import (
	"go.viam.com/rtspi/rtdev"
)

// UserBuffer is an injected rtdev.UserBuffer.
type UserBuffer struct {
	rtdev.UserBuffer
	LenFunc     func() int
	CopyInFunc  func(dst []byte) error
	CopyOutFunc func(src []byte) error
}

// Len calls the injected Len or the real version.
func (b *UserBuffer) Len() int {
	if b.LenFunc == nil {
		return b.UserBuffer.Len()
	}
	return b.LenFunc()
}

// CopyIn calls the injected CopyIn or the real version.
func (b *UserBuffer) CopyIn(dst []byte) error {
	if b.CopyInFunc == nil {
		return b.UserBuffer.CopyIn(dst)
	}
	return b.CopyInFunc(dst)
}

// CopyOut calls the injected CopyOut or the real version.
func (b *UserBuffer) CopyOut(src []byte) error {
	if b.CopyOutFunc == nil {
		return b.UserBuffer.CopyOut(src)
	}
	return b.CopyOutFunc(src)
}
