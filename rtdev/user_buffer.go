package rtdev

// A UserBuffer is caller-owned memory. Drivers never touch it directly; they only perform
// bounded copies into and out of it, which may fail with a *CopyFaultError.
type UserBuffer interface {
	// Len is the number of bytes the caller made available.
	Len() int
	// CopyIn copies len(dst) bytes from the start of the caller's memory into dst.
	CopyIn(dst []byte) error
	// CopyOut copies src to the start of the caller's memory.
	CopyOut(src []byte) error
}

// Bytes is a UserBuffer backed by a byte slice.
type Bytes []byte

// Len returns the length of the slice.
func (b Bytes) Len() int {
	return len(b)
}

// CopyIn copies from the slice into dst.
func (b Bytes) CopyIn(dst []byte) error {
	if len(dst) > len(b) {
		return NewCopyFault("copy from caller", 0)
	}
	copy(dst, b)
	return nil
}

// CopyOut copies src into the slice.
func (b Bytes) CopyOut(src []byte) error {
	if len(src) > len(b) {
		return NewCopyFault("copy to caller", 0)
	}
	copy(b, src)
	return nil
}
