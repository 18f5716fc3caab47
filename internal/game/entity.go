package game

import (
	"goldprime.ai/internal/coins"
	"goldprime.ai/internal/wire"
)

type EntityKind uint8

const (
	KindGoldPile EntityKind = 1
	KindPrime    EntityKind = 2
	KindGateway  EntityKind = 3
)

func (k EntityKind) String() string {
	switch k {
	case KindGoldPile:
		return "GoldPile"
	case KindPrime:
		return "Prime"
	case KindGateway:
		return "Gateway"
	}
	return "Unknown"
}

// Entity is the closed set of simulated things: *GoldPile, *Prime, *Gateway.
type Entity interface {
	Base() *EntityBase
	Kind() EntityKind

	packBody(w *wire.Writer)
	unpackBody(r *wire.Reader)
	step(g *Game)
}

// EntityBase holds the attributes every entity shares. Entities never hold
// pointers to each other or to their Game; behavior receives the Game.
type EntityBase struct {
	ID   EntityRef `json:"id"`
	Pos  Vec2      `json:"pos"`
	Dead bool      `json:"dead,omitempty"`
}

func (b *EntityBase) Base() *EntityBase { return b }

func (b *EntityBase) die() { b.Dead = true }

// Unit is the layer shared by buildable, player-owned entities. A unit is
// active once its Built ledger reaches the unit's credit cost.
type Unit struct {
	Owner string      `json:"owner"`
	Built coins.Coins `json:"-"`
}

func newUnit(owner string, cost coins.Int, alreadyBuilt bool) Unit {
	u := Unit{Owner: owner, Built: coins.Empty(cost)}
	if alreadyBuilt {
		u.Built = coins.New(cost, cost)
	}
	return u
}

func (u *Unit) IsActive() bool { return u.Built.IsFull() }

func (u *Unit) packUnit(w *wire.Writer) {
	w.String(u.Owner)
	u.Built.Pack(w)
}

func (u *Unit) unpackUnit(r *wire.Reader) {
	u.Owner = r.String(MaxAddressLen)
	u.Built.Unpack(r)
}

// Mobile is the movement layer of mobile units.
type Mobile struct {
	MoveTarget  Target  `json:"move_target"`
	TargetRange float32 `json:"target_range"`
}

func (m *Mobile) setTarget(t Target, rng float32) {
	m.MoveTarget = t
	m.TargetRange = rng
}

func (m *Mobile) clearTarget() { m.MoveTarget = Target{} }

// moveToward advances base toward the move target. It reports whether the
// unit is within range of a resolvable target.
func (m *Mobile) moveToward(g *Game, base *EntityBase, speed float32) (inRange bool) {
	if !m.MoveTarget.IsSet() {
		return false
	}
	dest, ok := m.MoveTarget.ResolvePoint(g)
	if !ok {
		m.clearTarget()
		return false
	}
	delta := dest.Sub(base.Pos)
	dist := delta.Len()
	if dist <= m.TargetRange {
		return true
	}
	travel := dist - m.TargetRange
	if travel > speed {
		travel = speed
	}
	base.Pos = base.Pos.Add(delta.Scale(travel / dist))
	return dist-travel <= m.TargetRange
}

func (m *Mobile) packMobile(w *wire.Writer) {
	m.MoveTarget.pack(w)
	w.F32(m.TargetRange)
}

func (m *Mobile) unpackMobile(r *wire.Reader) {
	m.MoveTarget = unpackTarget(r)
	m.TargetRange = r.F32()
}

// newEntityForKind returns a zero entity of kind, ready to be unpacked.
func newEntityForKind(kind EntityKind, id EntityRef, pos Vec2) (Entity, bool) {
	base := EntityBase{ID: id, Pos: pos}
	switch kind {
	case KindGoldPile:
		return &GoldPile{EntityBase: base, Gold: coins.Empty(coins.MaxCoins)}, true
	case KindPrime:
		return &Prime{
			EntityBase: base,
			Unit:       newUnit("", PrimeCost, false),
			Held:       coins.Empty(PrimeHeldMax),
		}, true
	case KindGateway:
		return &Gateway{EntityBase: base, Unit: newUnit("", GatewayCost, false)}, true
	}
	return nil, false
}

// entityLedgers lists every credit ledger an entity holds.
func entityLedgers(e Entity) []*coins.Coins {
	switch v := e.(type) {
	case *GoldPile:
		return []*coins.Coins{&v.Gold}
	case *Prime:
		return []*coins.Coins{&v.Built, &v.Held}
	case *Gateway:
		return []*coins.Coins{&v.Built}
	}
	return nil
}
