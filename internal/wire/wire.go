// Package wire implements the binary pack/unpack primitives shared by the game
// state, commands, events and packets. All integers are big-endian.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

var (
	ErrShortBuffer   = errors.New("wire: short buffer")
	ErrUnknownTag    = errors.New("wire: unknown discriminant")
	ErrStringTooLong = errors.New("wire: string too long")
	ErrPacketTooLong = errors.New("wire: packet too long")
)

// PacketHeaderLen is the type byte plus the 8-byte body length.
const PacketHeaderLen = 1 + 8

// Writer appends a canonical encoding to an in-memory buffer.
type Writer struct {
	buf []byte
}

func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

func (w *Writer) Bytes() []byte { return w.buf }
func (w *Writer) Len() int      { return len(w.buf) }

func (w *Writer) U8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) Bool(v bool) {
	if v {
		w.U8(1)
		return
	}
	w.U8(0)
}

func (w *Writer) U16(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }
func (w *Writer) U32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }
func (w *Writer) U64(v uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }

func (w *Writer) F32(v float32) { w.U32(math.Float32bits(v)) }

// String writes a 2-byte length followed by the raw bytes. Strings longer than
// 65535 bytes are truncated; callers bound their strings well below that.
func (w *Writer) String(s string) {
	if len(s) > math.MaxUint16 {
		s = s[:math.MaxUint16]
	}
	w.U16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *Writer) Raw(b []byte) { w.buf = append(w.buf, b...) }

// Reader is a cursor over an encoded buffer. The first failure is sticky: every
// later read returns a zero value and Err reports the original cause.
type Reader struct {
	buf []byte
	off int
	err error
}

func NewReader(b []byte) *Reader { return &Reader{buf: b} }

func (r *Reader) Err() error     { return r.err }
func (r *Reader) Remaining() int { return len(r.buf) - r.off }
func (r *Reader) Offset() int    { return r.off }

// Fail records err unless an earlier error is already recorded.
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.Remaining() < n {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortBuffer, n, r.off, r.Remaining())
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) U8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) Bool() bool { return r.U8() != 0 }

func (r *Reader) U16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *Reader) U32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *Reader) U64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *Reader) F32() float32 { return math.Float32frombits(r.U32()) }

// String reads a length-prefixed string, failing if the advertised length
// exceeds maxLen.
func (r *Reader) String(maxLen int) string {
	n := int(r.U16())
	if r.err != nil {
		return ""
	}
	if n > maxLen {
		r.err = fmt.Errorf("%w: %d > %d", ErrStringTooLong, n, maxLen)
		return ""
	}
	b := r.take(n)
	if b == nil {
		return ""
	}
	return string(b)
}

// UnknownTag records a fatal decode error for an unrecognized discriminant.
func (r *Reader) UnknownTag(what string, tag uint8) {
	r.Fail(fmt.Errorf("%w: %s 0x%02x", ErrUnknownTag, what, tag))
}

// AppendPacket frames body as type byte, 8-byte length, body.
func AppendPacket(dst []byte, typ uint8, body []byte) []byte {
	dst = append(dst, typ)
	dst = binary.BigEndian.AppendUint64(dst, uint64(len(body)))
	return append(dst, body...)
}

// ReadPacket reads one framed packet from r, buffering exactly the advertised
// number of body bytes. Bodies larger than maxLen are rejected before reading.
func ReadPacket(r io.Reader, maxLen uint64) (typ uint8, body []byte, err error) {
	var hdr [PacketHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint64(hdr[1:])
	if n > maxLen {
		return 0, nil, fmt.Errorf("%w: %d > %d", ErrPacketTooLong, n, maxLen)
	}
	body = make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return hdr[0], body, nil
}
