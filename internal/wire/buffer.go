// Package wire implements the byte-level codec for the xpol server protocol.
//
// Every multi-byte value travels in the server's native order, which is
// little-endian. Values are read and written through the host's native
// order and byte-reversed only when the host differs, so a little-endian
// host never swaps.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"math/bits"
)

// ErrBufferTooSmall is returned when a read would run past the end of
// the buffer contents.
var ErrBufferTooSmall = errors.New("buffer too small")

// HostLittleEndian reports whether the host stores integers least
// significant byte first. Evaluated once at start-up.
var HostLittleEndian = detectLittleEndian()

func detectLittleEndian() bool {
	var b [2]byte
	binary.NativeEndian.PutUint16(b[:], 0x0102)
	return b[0] == 0x02
}

// Buffer is a growable byte buffer with a read cursor. Writes append to
// the end; reads consume from the cursor.
type Buffer struct {
	data []byte
	pos  int
	swap bool
}

// NewBuffer returns an empty buffer with the given capacity that swaps
// byte order only if the host is big-endian.
func NewBuffer(capacity int) *Buffer {
	return NewBufferOrder(capacity, !HostLittleEndian)
}

// NewBufferOrder returns an empty buffer with an explicit swap setting.
func NewBufferOrder(capacity int, swap bool) *Buffer {
	return &Buffer{data: make([]byte, 0, capacity), swap: swap}
}

// Swapped reports whether the buffer reverses byte order.
func (b *Buffer) Swapped() bool { return b.swap }

// Reset empties the buffer, keeping its capacity.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.pos = 0
}

// Grow ensures room for at least n more bytes without reallocating.
func (b *Buffer) Grow(n int) {
	if cap(b.data)-len(b.data) >= n {
		return
	}
	next := make([]byte, len(b.data), 2*cap(b.data)+n)
	copy(next, b.data)
	b.data = next
}

// Load replaces the buffer contents with a copy of p and rewinds the cursor.
func (b *Buffer) Load(p []byte) {
	b.Reset()
	b.Grow(len(p))
	b.data = append(b.data, p...)
}

// Wrap makes p the buffer contents without copying and rewinds the cursor.
// The caller must not modify p while the buffer is in use.
func (b *Buffer) Wrap(p []byte) {
	b.data = p
	b.pos = 0
}

// ReadFrom replaces the buffer contents with exactly n bytes read from r.
// A short read returns io.ErrUnexpectedEOF (or the underlying error) and
// leaves the buffer empty.
func (b *Buffer) ReadFrom(r io.Reader, n int) error {
	b.Reset()
	if n < 0 {
		return fmt.Errorf("%w: negative length %d", ErrBufferTooSmall, n)
	}
	b.Grow(n)
	b.data = b.data[:n]
	if _, err := io.ReadFull(r, b.data); err != nil {
		b.Reset()
		return err
	}
	return nil
}

// Bytes returns the buffer contents, including bytes already read.
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the total number of bytes in the buffer.
func (b *Buffer) Len() int { return len(b.data) }

// Pos returns the read cursor.
func (b *Buffer) Pos() int { return b.pos }

// Remaining returns the number of unread bytes.
func (b *Buffer) Remaining() int { return len(b.data) - b.pos }

func (b *Buffer) next(n int) ([]byte, error) {
	if n < 0 || b.pos+n > len(b.data) {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d",
			ErrBufferTooSmall, n, b.pos, len(b.data))
	}
	p := b.data[b.pos : b.pos+n]
	b.pos += n
	return p, nil
}

// Skip advances the cursor by n bytes.
func (b *Buffer) Skip(n int) error {
	_, err := b.next(n)
	return err
}

// Raw returns the next n bytes without copying.
func (b *Buffer) Raw(n int) ([]byte, error) {
	return b.next(n)
}

// U32 reads an unsigned 32-bit integer.
func (b *Buffer) U32() (uint32, error) {
	p, err := b.next(4)
	if err != nil {
		return 0, err
	}
	v := binary.NativeEndian.Uint32(p)
	if b.swap {
		v = bits.ReverseBytes32(v)
	}
	return v, nil
}

// I32 reads a signed 32-bit integer.
func (b *Buffer) I32() (int32, error) {
	v, err := b.U32()
	return int32(v), err
}

// U64 reads an unsigned 64-bit integer.
func (b *Buffer) U64() (uint64, error) {
	p, err := b.next(8)
	if err != nil {
		return 0, err
	}
	v := binary.NativeEndian.Uint64(p)
	if b.swap {
		v = bits.ReverseBytes64(v)
	}
	return v, nil
}

// I64 reads a signed 64-bit integer.
func (b *Buffer) I64() (int64, error) {
	v, err := b.U64()
	return int64(v), err
}

// F32 reads an IEEE-754 single.
func (b *Buffer) F32() (float32, error) {
	v, err := b.U32()
	return math.Float32frombits(v), err
}

// F64 reads an IEEE-754 double.
func (b *Buffer) F64() (float64, error) {
	v, err := b.U64()
	return math.Float64frombits(v), err
}

// String reads a fixed-length field of n bytes and returns the text
// before the first NUL.
func (b *Buffer) String(n int) (string, error) {
	p, err := b.next(n)
	if err != nil {
		return "", err
	}
	for i, c := range p {
		if c == 0 {
			return string(p[:i]), nil
		}
	}
	return string(p), nil
}

// PutU32 appends an unsigned 32-bit integer.
func (b *Buffer) PutU32(v uint32) {
	if b.swap {
		v = bits.ReverseBytes32(v)
	}
	b.data = binary.NativeEndian.AppendUint32(b.data, v)
}

// PutI32 appends a signed 32-bit integer.
func (b *Buffer) PutI32(v int32) { b.PutU32(uint32(v)) }

// PutU64 appends an unsigned 64-bit integer.
func (b *Buffer) PutU64(v uint64) {
	if b.swap {
		v = bits.ReverseBytes64(v)
	}
	b.data = binary.NativeEndian.AppendUint64(b.data, v)
}

// PutI64 appends a signed 64-bit integer.
func (b *Buffer) PutI64(v int64) { b.PutU64(uint64(v)) }

// PutF32 appends an IEEE-754 single.
func (b *Buffer) PutF32(v float32) { b.PutU32(math.Float32bits(v)) }

// PutF64 appends an IEEE-754 double.
func (b *Buffer) PutF64(v float64) { b.PutU64(math.Float64bits(v)) }

// PutString appends s as a fixed-length field of n bytes, truncating or
// padding with NULs.
func (b *Buffer) PutString(s string, n int) {
	b.Grow(n)
	if len(s) > n {
		s = s[:n]
	}
	b.data = append(b.data, s...)
	for i := len(s); i < n; i++ {
		b.data = append(b.data, 0)
	}
}

// PutBytes appends p verbatim.
func (b *Buffer) PutBytes(p []byte) {
	b.data = append(b.data, p...)
}
