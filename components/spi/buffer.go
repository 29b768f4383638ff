package spi

// MaxBufferSize is the capacity of the transmit and receive buffers, and so the largest write.
const MaxBufferSize = 1024

// A Buffer is a fixed-capacity byte container. Only the first Len bytes are meaningful.
type Buffer struct {
	length int
	data   [MaxBufferSize]byte
}

// Len returns the number of used bytes.
func (b *Buffer) Len() int {
	return b.length
}

// Bytes returns the used bytes. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.length]
}

// Reset marks the buffer empty.
func (b *Buffer) Reset() {
	b.length = 0
}

// room returns the first n bytes of storage without changing the used length.
func (b *Buffer) room(n int) []byte {
	return b.data[:n]
}

func (b *Buffer) setLen(n int) {
	if n < 0 || n > MaxBufferSize {
		panic("spi: buffer length out of range")
	}
	b.length = n
}
