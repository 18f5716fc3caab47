package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"goldprime.ai/internal/game"
	"goldprime.ai/internal/wire"
)

const (
	DefaultPort = 8473

	// AddressLen is the size of a checksummed address string.
	AddressLen = 42

	// MaxPerFrame is the most AuthdCmds or Events one frame packet carries.
	MaxPerFrame = 255

	// MaxCmdLen bounds an inbound command frame (2-byte length prefix).
	MaxCmdLen = 1<<16 - 1

	// MaxPacketLen bounds server packets accepted by clients.
	MaxPacketLen = 64 << 20
)

type PacketType uint8

const (
	PacketResync    PacketType = 1
	PacketFrameCmds PacketType = 2
)

func (t PacketType) String() string {
	switch t {
	case PacketResync:
		return "Resync"
	case PacketFrameCmds:
		return "FrameCmds"
	}
	return fmt.Sprintf("PacketType(%d)", uint8(t))
}

var (
	ErrTooManyEntries = errors.New("protocol: too many entries for one frame")
	ErrTrailingBytes  = errors.New("protocol: trailing bytes in packet")
	ErrEmptyCmd       = errors.New("protocol: empty command frame")
)

// FrameEventsPacket is one frame's replication unit: the commands accepted
// for the frame in arrival order, followed by the server's events.
type FrameEventsPacket struct {
	Frame  uint64
	Cmds   []game.AuthdCmd
	Events []game.Event
}

func (p *FrameEventsPacket) Pack(w *wire.Writer) error {
	if len(p.Cmds) > MaxPerFrame || len(p.Events) > MaxPerFrame {
		return fmt.Errorf("%w: %d cmds, %d events", ErrTooManyEntries, len(p.Cmds), len(p.Events))
	}
	w.U64(p.Frame)
	w.U8(uint8(len(p.Cmds)))
	w.U8(uint8(len(p.Events)))
	for _, c := range p.Cmds {
		c.Pack(w)
	}
	for _, e := range p.Events {
		game.PackEvent(w, e)
	}
	return nil
}

func UnpackFrameEventsPacket(body []byte) (FrameEventsPacket, error) {
	r := wire.NewReader(body)
	var p FrameEventsPacket
	p.Frame = r.U64()
	nCmds := int(r.U8())
	nEvents := int(r.U8())
	for i := 0; i < nCmds && r.Err() == nil; i++ {
		c := game.UnpackAuthdCmd(r)
		if r.Err() == nil {
			p.Cmds = append(p.Cmds, c)
		}
	}
	for i := 0; i < nEvents && r.Err() == nil; i++ {
		e := game.UnpackEvent(r)
		if r.Err() == nil {
			p.Events = append(p.Events, e)
		}
	}
	if err := r.Err(); err != nil {
		return FrameEventsPacket{}, fmt.Errorf("frame packet: %w", err)
	}
	if r.Remaining() != 0 {
		return FrameEventsPacket{}, fmt.Errorf("frame packet: %w: %d bytes", ErrTrailingBytes, r.Remaining())
	}
	return p, nil
}

// EncodeFrame frames p as a FrameCmds packet.
func EncodeFrame(p *FrameEventsPacket) ([]byte, error) {
	w := wire.NewWriter(64)
	if err := p.Pack(w); err != nil {
		return nil, err
	}
	return wire.AppendPacket(nil, uint8(PacketFrameCmds), w.Bytes()), nil
}

// EncodeResync frames the packed game as a Resync packet.
func EncodeResync(gameBytes []byte) []byte {
	return wire.AppendPacket(nil, uint8(PacketResync), gameBytes)
}

func ReadPacket(r io.Reader) (PacketType, []byte, error) {
	typ, body, err := wire.ReadPacket(r, MaxPacketLen)
	return PacketType(typ), body, err
}

// AppendCmdFrame frames one client command with a 2-byte big-endian length.
func AppendCmdFrame(dst []byte, c game.Cmd) []byte {
	body := game.EncodeCmd(c)
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(body)))
	return append(dst, body...)
}

// ReadCmdFrame reads exactly one length-prefixed command body.
func ReadCmdFrame(r io.Reader) ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(hdr[:])
	if n == 0 {
		return nil, ErrEmptyCmd
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}
