package wire

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestWriterReader_Primitives(t *testing.T) {
	w := NewWriter(64)
	w.U8(7)
	w.Bool(true)
	w.U16(0xBEEF)
	w.U32(0xDEADBEEF)
	w.U64(1 << 40)
	w.F32(1.5)
	w.String("0xABC")

	r := NewReader(w.Bytes())
	if got := r.U8(); got != 7 {
		t.Fatalf("U8=%d want 7", got)
	}
	if !r.Bool() {
		t.Fatalf("Bool=false want true")
	}
	if got := r.U16(); got != 0xBEEF {
		t.Fatalf("U16=%x", got)
	}
	if got := r.U32(); got != 0xDEADBEEF {
		t.Fatalf("U32=%x", got)
	}
	if got := r.U64(); got != 1<<40 {
		t.Fatalf("U64=%d", got)
	}
	if got := r.F32(); got != 1.5 {
		t.Fatalf("F32=%v", got)
	}
	if got := r.String(42); got != "0xABC" {
		t.Fatalf("String=%q", got)
	}
	if r.Err() != nil || r.Remaining() != 0 {
		t.Fatalf("err=%v remaining=%d", r.Err(), r.Remaining())
	}
}

func TestWriter_BigEndian(t *testing.T) {
	w := NewWriter(8)
	w.U16(0x0102)
	if !bytes.Equal(w.Bytes(), []byte{0x01, 0x02}) {
		t.Fatalf("bytes=%v", w.Bytes())
	}
}

func TestReader_ShortBufferIsSticky(t *testing.T) {
	r := NewReader([]byte{0x01})
	_ = r.U32()
	if !errors.Is(r.Err(), ErrShortBuffer) {
		t.Fatalf("err=%v want ErrShortBuffer", r.Err())
	}
	if got := r.U8(); got != 0 {
		t.Fatalf("read after failure returned %d", got)
	}
	if !errors.Is(r.Err(), ErrShortBuffer) {
		t.Fatalf("error was replaced: %v", r.Err())
	}
}

func TestReader_StringTooLong(t *testing.T) {
	w := NewWriter(64)
	w.String("0123456789")
	r := NewReader(w.Bytes())
	_ = r.String(4)
	if !errors.Is(r.Err(), ErrStringTooLong) {
		t.Fatalf("err=%v want ErrStringTooLong", r.Err())
	}
}

func TestReader_UnknownTag(t *testing.T) {
	r := NewReader(nil)
	r.UnknownTag("cmd", 0x7f)
	if !errors.Is(r.Err(), ErrUnknownTag) {
		t.Fatalf("err=%v want ErrUnknownTag", r.Err())
	}
}

func TestPacket_RoundTripAcrossPartialReads(t *testing.T) {
	framed := AppendPacket(nil, 'F', []byte("hello"))
	framed = AppendPacket(framed, 'R', nil)

	// One byte at a time, like a slow TCP peer.
	src := &oneByteReader{b: framed}
	typ, body, err := ReadPacket(src, 1024)
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if typ != 'F' || string(body) != "hello" {
		t.Fatalf("typ=%c body=%q", typ, body)
	}
	typ, body, err = ReadPacket(src, 1024)
	if err != nil {
		t.Fatalf("ReadPacket 2: %v", err)
	}
	if typ != 'R' || len(body) != 0 {
		t.Fatalf("typ=%c body=%q", typ, body)
	}
	if _, _, err := ReadPacket(src, 1024); err != io.EOF {
		t.Fatalf("err=%v want EOF", err)
	}
}

func TestReadPacket_RejectsOversizedBody(t *testing.T) {
	framed := AppendPacket(nil, 'F', make([]byte, 32))
	if _, _, err := ReadPacket(bytes.NewReader(framed), 16); !errors.Is(err, ErrPacketTooLong) {
		t.Fatalf("err=%v want ErrPacketTooLong", err)
	}
}

type oneByteReader struct {
	b []byte
}

func (r *oneByteReader) Read(p []byte) (int, error) {
	if len(r.b) == 0 {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	p[0] = r.b[0]
	r.b = r.b[1:]
	return 1, nil
}
