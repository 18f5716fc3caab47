package game

import (
	"encoding/hex"
	"errors"
	"fmt"

	"goldprime.ai/internal/coins"
	"goldprime.ai/internal/wire"
)

var ErrUnknownEventKind = errors.New("game: unknown event kind")

type FrameLogger interface {
	WriteFrame(entry FrameLogEntry) error
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

type FrameLogEntry struct {
	Frame  uint64          `json:"frame"`
	Cmds   []RecordedCmd   `json:"cmds,omitempty"`
	Events []RecordedEvent `json:"events,omitempty"`
	Digest string          `json:"digest"`
}

// RecordedCmd keeps the packed command so a frame log can be replayed.
type RecordedCmd struct {
	Address string `json:"address"`
	Kind    string `json:"kind"`
	Body    string `json:"body"` // hex
}

type RecordedEvent struct {
	Kind      string `json:"kind"`
	Address   string `json:"address,omitempty"`
	Amount    uint64 `json:"amount"`
	IsDeposit bool   `json:"is_deposit,omitempty"`
}

// AuditEntry records one fiat operation, the only way credit enters or leaves
// the game.
type AuditEntry struct {
	Frame   uint64 `json:"frame"`
	Action  string `json:"action"` // deposit, withdraw, honeypot
	Address string `json:"address,omitempty"`
	Amount  uint64 `json:"amount"`
	Applied bool   `json:"applied"`
	Reason  string `json:"reason,omitempty"`
}

func RecordCmd(c AuthdCmd) RecordedCmd {
	w := wire.NewWriter(32)
	c.Cmd.pack(w)
	return RecordedCmd{
		Address: c.Address,
		Kind:    c.Cmd.Kind().String(),
		Body:    hex.EncodeToString(w.Bytes()),
	}
}

func RecordEvent(e Event) RecordedEvent {
	switch v := e.(type) {
	case *BalanceUpdateEvent:
		return RecordedEvent{Kind: v.Kind().String(), Address: v.Address, Amount: uint64(v.Amount), IsDeposit: v.IsDeposit}
	case *HoneypotAddedEvent:
		return RecordedEvent{Kind: v.Kind().String(), Amount: uint64(v.Amount)}
	}
	return RecordedEvent{Kind: e.Kind().String()}
}

// ReplayCmd rebuilds a recorded command.
func ReplayCmd(rc RecordedCmd) (AuthdCmd, error) {
	kind, ok := cmdKindByName[rc.Kind]
	if !ok {
		return AuthdCmd{}, ErrUnknownCmdKind
	}
	body, err := hex.DecodeString(rc.Body)
	if err != nil {
		return AuthdCmd{}, err
	}
	w := wire.NewWriter(len(body) + 1)
	w.U8(uint8(kind))
	w.Raw(body)
	c, err := DecodeCmd(w.Bytes())
	if err != nil {
		return AuthdCmd{}, err
	}
	return AuthdCmd{Address: rc.Address, Cmd: c}, nil
}

// ReplayEvent rebuilds a recorded event.
func ReplayEvent(re RecordedEvent) (Event, error) {
	switch re.Kind {
	case EventBalanceUpdate.String():
		return &BalanceUpdateEvent{Address: re.Address, Amount: coins.Int(re.Amount), IsDeposit: re.IsDeposit}, nil
	case EventHoneypotAdded.String():
		return &HoneypotAddedEvent{Amount: coins.Int(re.Amount)}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEventKind, re.Kind)
}

var (
	ErrFrameGap       = errors.New("game: logged frame does not follow")
	ErrDigestMismatch = errors.New("game: digest mismatch")
)

// ReplayFrame steps g through one logged frame in the order the frame loop
// ran it and checks the digest recorded for it.
func (g *Game) ReplayFrame(entry FrameLogEntry) error {
	if entry.Frame != g.Frame {
		return fmt.Errorf("%w: at frame %d, log has %d", ErrFrameGap, g.Frame, entry.Frame)
	}
	for _, re := range entry.Events {
		e, err := ReplayEvent(re)
		if err != nil {
			return fmt.Errorf("frame %d: %w", entry.Frame, err)
		}
		g.ApplyEvent(e)
	}
	for _, rc := range entry.Cmds {
		c, err := ReplayCmd(rc)
		if err != nil {
			return fmt.Errorf("frame %d: %w", entry.Frame, err)
		}
		// The loop drops commands that fail to dispatch, withdrawals included.
		_ = g.Dispatch(c)
	}
	g.Iterate()
	if got := g.Digest(); got != entry.Digest {
		return fmt.Errorf("%w at frame %d: got=%s want=%s", ErrDigestMismatch, entry.Frame, got, entry.Digest)
	}
	g.Frame++
	return nil
}
