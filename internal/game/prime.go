package game

import (
	"goldprime.ai/internal/coins"
	"goldprime.ai/internal/wire"
)

const (
	PrimeCost         coins.Int = 500
	PrimeHeldMax      coins.Int = 5000
	PrimeTransferRate coins.Int = 10 // per frame
	PrimeSpeed        float32   = 2
	PrimeRange        float32   = 10
)

type PrimeState uint8

const (
	PrimeIdle PrimeState = iota
	PrimePickupGold
	PrimePutdownGold
)

// Prime is the worker unit: it carries credit between gold piles, gateways and
// the ground.
type Prime struct {
	EntityBase
	Unit
	Mobile

	Held  coins.Coins `json:"-"`
	State PrimeState  `json:"state"`
	Job   Target      `json:"job"`
}

func (p *Prime) Kind() EntityKind { return KindPrime }

func (p *Prime) cmdMove(dest Vec2) {
	p.State = PrimeIdle
	p.Job = Target{}
	p.setTarget(PointTarget(dest), 0)
}

func (p *Prime) cmdPickup(pile EntityRef) {
	p.State = PrimePickupGold
	p.Job = EntityTarget(pile)
	p.setTarget(p.Job, PrimeRange)
}

func (p *Prime) cmdPutdown(t Target) {
	p.State = PrimePutdownGold
	p.Job = t
	p.setTarget(t, PrimeRange)
}

func (p *Prime) goIdle() {
	p.State = PrimeIdle
	p.Job = Target{}
	p.clearTarget()
}

func (p *Prime) step(g *Game) {
	if !p.IsActive() {
		return
	}
	inRange := p.moveToward(g, &p.EntityBase, PrimeSpeed)

	switch p.State {
	case PrimeIdle:
		if inRange {
			p.clearTarget()
		}
	case PrimePickupGold:
		pile, ok := g.goldPile(p.Job.Entity)
		if !ok {
			p.goIdle()
			return
		}
		if !inRange {
			return
		}
		pile.Gold.TransferUpTo(PrimeTransferRate, &p.Held)
		if p.Held.IsFull() || pile.Gold.Held() == 0 {
			p.goIdle()
		}
	case PrimePutdownGold:
		p.stepPutdown(g, inRange)
	}
}

func (p *Prime) stepPutdown(g *Game, inRange bool) {
	if p.Held.Held() == 0 {
		p.goIdle()
		return
	}
	switch p.Job.Kind {
	case TargetPoint:
		if !inRange {
			return
		}
		// Drop onto the ground: a fresh pile becomes the new job target.
		pile := g.spawnGoldPile(p.Job.Point)
		p.Held.TransferUpTo(PrimeTransferRate, &pile.Gold)
		p.cmdPutdown(EntityTarget(pile.ID))
	case TargetEntity:
		dst, ok := g.putdownLedger(p.Job.Entity, p.Owner)
		if !ok {
			p.goIdle()
			return
		}
		if !inRange {
			return
		}
		p.Held.TransferUpTo(PrimeTransferRate, dst)
		if p.Held.Held() == 0 || dst.IsFull() {
			p.goIdle()
		}
	default:
		p.goIdle()
	}
}

func (p *Prime) packBody(w *wire.Writer) {
	p.packUnit(w)
	p.packMobile(w)
	p.Held.Pack(w)
	w.U8(uint8(p.State))
	p.Job.pack(w)
}

func (p *Prime) unpackBody(r *wire.Reader) {
	p.unpackUnit(r)
	p.unpackMobile(r)
	p.Held.Unpack(r)
	state := PrimeState(r.U8())
	switch state {
	case PrimeIdle, PrimePickupGold, PrimePutdownGold:
		p.State = state
	default:
		r.UnknownTag("prime state", uint8(state))
	}
	p.Job = unpackTarget(r)
}
