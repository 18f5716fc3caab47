package game

import (
	"fmt"

	"goldprime.ai/internal/coins"
	"goldprime.ai/internal/wire"
)

type EventKind uint8

const (
	EventBalanceUpdate EventKind = 1
	EventHoneypotAdded EventKind = 2
)

func (k EventKind) String() string {
	switch k {
	case EventBalanceUpdate:
		return "BalanceUpdate"
	case EventHoneypotAdded:
		return "HoneypotAdded"
	}
	return fmt.Sprintf("EventKind(%d)", uint8(k))
}

// Event is a ledger fact produced by the server. Clients receive events to
// stay in step but never send them.
type Event interface {
	Kind() EventKind
	pack(w *wire.Writer)
	unpack(r *wire.Reader)
	apply(g *Game)
}

// BalanceUpdateEvent is a confirmed deposit or an actuated withdrawal.
type BalanceUpdateEvent struct {
	Address   string
	Amount    coins.Int
	IsDeposit bool
}

type HoneypotAddedEvent struct {
	Amount coins.Int
}

func (*BalanceUpdateEvent) Kind() EventKind { return EventBalanceUpdate }
func (*HoneypotAddedEvent) Kind() EventKind { return EventHoneypotAdded }

func (e *BalanceUpdateEvent) pack(w *wire.Writer) {
	w.String(e.Address)
	w.U64(uint64(e.Amount))
	w.Bool(e.IsDeposit)
}

func (e *BalanceUpdateEvent) unpack(r *wire.Reader) {
	e.Address = r.String(MaxAddressLen)
	e.Amount = coins.Int(r.U64())
	e.IsDeposit = r.Bool()
}

func (e *BalanceUpdateEvent) apply(g *Game) {
	p := g.PlayerOrCreate(e.Address)
	if e.IsDeposit {
		if !g.fiatCreate(&p.Credit, e.Amount, "deposit", e.Address, "credit full") {
			// The deposit file is gone; this line is what a refund works from.
			g.log.Errorf("frame %d: deposit of %s (%s wei) to %s refused, credit %s is at its limit",
				g.Frame, coins.DollarString(e.Amount), coins.CoinsIntToWeiDepositString(e.Amount),
				e.Address, coins.DollarString(p.Credit.Held()))
		}
		return
	}
	if !g.fiatDestroy(&p.Credit, e.Amount, "withdraw", e.Address, "exceeds credit") {
		g.log.Errorf("frame %d: withdrawal of %s from %s exceeds its credit %s",
			g.Frame, coins.DollarString(e.Amount), e.Address, coins.DollarString(p.Credit.Held()))
	}
}

func (e *HoneypotAddedEvent) pack(w *wire.Writer)   { w.U64(uint64(e.Amount)) }
func (e *HoneypotAddedEvent) unpack(r *wire.Reader) { e.Amount = coins.Int(r.U64()) }

func (e *HoneypotAddedEvent) apply(g *Game) {
	if !g.fiatCreate(&g.Honeypot, e.Amount, "honeypot", "", "honeypot full") {
		g.log.Errorf("frame %d: honeypot deposit of %s (%s wei) refused",
			g.Frame, coins.DollarString(e.Amount), coins.CoinsIntToWeiDepositString(e.Amount))
	}
}

// ApplyEvent mutates the game by one event.
func (g *Game) ApplyEvent(e Event) { e.apply(g) }

func PackEvent(w *wire.Writer, e Event) {
	w.U8(uint8(e.Kind()))
	e.pack(w)
}

// UnpackEvent reads one tagged event. On failure it returns nil and r.Err()
// is set.
func UnpackEvent(r *wire.Reader) Event {
	kind := EventKind(r.U8())
	if r.Err() != nil {
		return nil
	}
	var e Event
	switch kind {
	case EventBalanceUpdate:
		e = &BalanceUpdateEvent{}
	case EventHoneypotAdded:
		e = &HoneypotAddedEvent{}
	default:
		r.UnknownTag("event", uint8(kind))
		return nil
	}
	e.unpack(r)
	if r.Err() != nil {
		return nil
	}
	return e
}
