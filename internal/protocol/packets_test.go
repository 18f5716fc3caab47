package protocol

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"goldprime.ai/internal/game"
	"goldprime.ai/internal/wire"
)

const addrA = "0xAbC0000000000000000000000000000000000001"

func everyCmd() []game.Cmd {
	units := game.UnitCmd{Units: []game.EntityRef{1, 2, 300}}
	return []game.Cmd{
		&game.MoveCmd{UnitCmd: units, Dest: game.Vec2{X: 1.5, Y: -2}},
		&game.PickupCmd{UnitCmd: units, Pile: 7},
		&game.PutdownCmd{UnitCmd: units, Target: game.PointTarget(game.Vec2{X: 3, Y: 4})},
		&game.PutdownCmd{UnitCmd: units, Target: game.EntityTarget(9)},
		&game.GatewayBuildPrimeCmd{UnitCmd: units},
		&game.GatewayScuttleCmd{UnitCmd: units, Prime: 11},
		&game.SpawnBeaconCmd{Pos: game.Vec2{X: -10, Y: 10}},
		&game.WithdrawCmd{Amount: 0},
		&game.WithdrawCmd{Amount: 123456},
	}
}

func everyEvent() []game.Event {
	return []game.Event{
		&game.BalanceUpdateEvent{Address: addrA, Amount: 2000, IsDeposit: true},
		&game.BalanceUpdateEvent{Address: addrA, Amount: 500},
		&game.HoneypotAddedEvent{Amount: 5000},
	}
}

func TestFrameEventsPacket_RoundTripEveryVariant(t *testing.T) {
	in := FrameEventsPacket{Frame: 1 << 33}
	for _, c := range everyCmd() {
		in.Cmds = append(in.Cmds, game.AuthdCmd{Address: addrA, Cmd: c})
	}
	in.Events = everyEvent()

	b, err := EncodeFrame(&in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	typ, body, err := ReadPacket(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != PacketFrameCmds {
		t.Fatalf("type=%s", typ)
	}
	out, err := UnpackFrameEventsPacket(body)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch:\n in=%+v\nout=%+v", in, out)
	}

	// Re-encoding yields the same bytes.
	b2, err := EncodeFrame(&out)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(b, b2) {
		t.Fatalf("re-encoded bytes differ")
	}
}

func TestFrameEventsPacket_EmptyFrame(t *testing.T) {
	b, err := EncodeFrame(&FrameEventsPacket{Frame: 3})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(b) != wire.PacketHeaderLen+8+1+1 {
		t.Fatalf("len=%d", len(b))
	}
	out, err := UnpackFrameEventsPacket(b[wire.PacketHeaderLen:])
	if err != nil || out.Frame != 3 || len(out.Cmds) != 0 || len(out.Events) != 0 {
		t.Fatalf("out=%+v err=%v", out, err)
	}
}

func TestFrameEventsPacket_RejectsTooMany(t *testing.T) {
	p := FrameEventsPacket{}
	for i := 0; i < MaxPerFrame+1; i++ {
		p.Events = append(p.Events, &game.HoneypotAddedEvent{Amount: 1})
	}
	if _, err := EncodeFrame(&p); !errors.Is(err, ErrTooManyEntries) {
		t.Fatalf("err=%v want ErrTooManyEntries", err)
	}
}

func TestUnpackFrameEventsPacket_Malformed(t *testing.T) {
	w := wire.NewWriter(16)
	w.U64(1)
	w.U8(0)
	w.U8(1)
	w.U8(0x7F) // no such event
	if _, err := UnpackFrameEventsPacket(w.Bytes()); !errors.Is(err, wire.ErrUnknownTag) {
		t.Fatalf("err=%v want ErrUnknownTag", err)
	}

	good, _ := EncodeFrame(&FrameEventsPacket{Frame: 1, Events: everyEvent()})
	body := good[wire.PacketHeaderLen:]
	if _, err := UnpackFrameEventsPacket(body[:len(body)-2]); !errors.Is(err, wire.ErrShortBuffer) {
		t.Fatalf("truncated err=%v", err)
	}
	if _, err := UnpackFrameEventsPacket(append(append([]byte{}, body...), 0)); !errors.Is(err, ErrTrailingBytes) {
		t.Fatalf("trailing err=%v", err)
	}
}

func TestCmdFrame_RoundTrip(t *testing.T) {
	var buf []byte
	for _, c := range everyCmd() {
		buf = AppendCmdFrame(buf, c)
	}
	r := bytes.NewReader(buf)
	for i, want := range everyCmd() {
		body, err := ReadCmdFrame(r)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		got, err := game.DecodeCmd(body)
		if err != nil {
			t.Fatalf("decode %d: %v", i, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("cmd %d: got %+v want %+v", i, got, want)
		}
	}
	if _, err := ReadCmdFrame(r); err == nil {
		t.Fatalf("expected EOF after last frame")
	}
}

func TestReadCmdFrame_Empty(t *testing.T) {
	if _, err := ReadCmdFrame(bytes.NewReader([]byte{0, 0})); !errors.Is(err, ErrEmptyCmd) {
		t.Fatalf("err=%v want ErrEmptyCmd", err)
	}
}

func TestResync_CarriesGame(t *testing.T) {
	g := game.NewGame()
	g.ApplyEvent(&game.BalanceUpdateEvent{Address: addrA, Amount: 42, IsDeposit: true})
	b := EncodeResync(g.PackBytes())
	typ, body, err := ReadPacket(bytes.NewReader(b))
	if err != nil || typ != PacketResync {
		t.Fatalf("typ=%s err=%v", typ, err)
	}
	g2, err := game.NewGameFromBytes(body)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if g2.CreditOf(addrA) != 42 {
		t.Fatalf("credit=%d", g2.CreditOf(addrA))
	}
}
