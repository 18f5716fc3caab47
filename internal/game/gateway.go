package game

import (
	"goldprime.ai/internal/coins"
	"goldprime.ai/internal/wire"
)

const (
	GatewayCost      coins.Int = 4000
	GatewayBuildRate coins.Int = 50 // per frame, both building and reclaiming
)

type GatewayState uint8

const (
	GatewayIdle GatewayState = iota
	GatewaySpawning
	GatewayReclaiming
	GatewayReclaimingSelf
)

// Gateway is the building that converts its owner's credit into primes and
// back. Until fully built it is a beacon that draws its own cost from the
// owner's credit.
type Gateway struct {
	EntityBase
	Unit

	State    GatewayState `json:"state"`
	TargetID EntityRef    `json:"target_id,omitempty"`
}

func (gw *Gateway) Kind() EntityKind { return KindGateway }

func (gw *Gateway) step(g *Game) {
	owner := g.PlayerOrCreate(gw.Owner)
	if gw.State == GatewayReclaimingSelf {
		gw.Built.TransferUpTo(GatewayBuildRate, &owner.Credit)
		if gw.Built.Held() == 0 {
			gw.die()
		}
		return
	}
	if !gw.IsActive() {
		owner.Credit.TransferUpTo(GatewayBuildRate, &gw.Built)
		return
	}

	switch gw.State {
	case GatewayIdle:
	case GatewaySpawning:
		prime, ok := g.prime(gw.TargetID)
		if !ok {
			gw.goIdle()
			return
		}
		owner.Credit.TransferUpTo(GatewayBuildRate, &prime.Built)
		if prime.IsActive() {
			gw.goIdle()
		}
	case GatewayReclaiming:
		prime, ok := g.prime(gw.TargetID)
		if !ok {
			gw.goIdle()
			return
		}
		left := GatewayBuildRate
		left -= prime.Held.TransferUpTo(left, &owner.Credit)
		prime.Built.TransferUpTo(left, &owner.Credit)
		if prime.Held.Held() == 0 && prime.Built.Held() == 0 {
			prime.die()
			gw.goIdle()
		}
	}
}

func (gw *Gateway) goIdle() {
	gw.State = GatewayIdle
	gw.TargetID = NoEntity
}

func (gw *Gateway) startSpawningPrime(g *Game) *Prime {
	prime := g.spawnPrime(gw.Pos.Add(Vec2{X: PrimeRange, Y: 0}), gw.Owner, false)
	gw.State = GatewaySpawning
	gw.TargetID = prime.ID
	return prime
}

func (gw *Gateway) packBody(w *wire.Writer) {
	gw.packUnit(w)
	w.U8(uint8(gw.State))
	w.U32(uint32(gw.TargetID))
}

func (gw *Gateway) unpackBody(r *wire.Reader) {
	gw.unpackUnit(r)
	state := GatewayState(r.U8())
	switch state {
	case GatewayIdle, GatewaySpawning, GatewayReclaiming, GatewayReclaimingSelf:
		gw.State = state
	default:
		r.UnknownTag("gateway state", uint8(state))
	}
	gw.TargetID = EntityRef(r.U32())
}
