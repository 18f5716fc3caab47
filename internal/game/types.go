package game

import (
	"errors"
	"math"

	"goldprime.ai/internal/wire"
)

// EntityRef is a handle into a Game's entity table. Refs come from a monotonic
// counter and are never reused.
type EntityRef uint32

// NoEntity is never allocated.
const NoEntity EntityRef = 0

// MaxAddressLen bounds addresses on the wire ("0x" + 40 hex chars).
const MaxAddressLen = 42

// ErrNonFinite rejects NaN and infinite coordinates on the wire.
var ErrNonFinite = errors.New("game: non-finite coordinate")

type Vec2 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

func (v Vec2) Add(o Vec2) Vec2 { return Vec2{v.X + o.X, v.Y + o.Y} }
func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{v.X - o.X, v.Y - o.Y} }

func (v Vec2) Scale(f float32) Vec2 { return Vec2{v.X * f, v.Y * f} }

func (v Vec2) Len() float32 { return float32(math.Hypot(float64(v.X), float64(v.Y))) }

func (v Vec2) DistanceTo(o Vec2) float32 { return o.Sub(v).Len() }

func finite(f float32) bool {
	return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
}

func (v Vec2) pack(w *wire.Writer) {
	w.F32(v.X)
	w.F32(v.Y)
}

func unpackVec2(r *wire.Reader) Vec2 {
	x := r.F32()
	y := r.F32()
	if !finite(x) || !finite(y) {
		r.Fail(ErrNonFinite)
		return Vec2{}
	}
	return Vec2{x, y}
}

type TargetKind uint8

const (
	TargetPoint  TargetKind = 1
	TargetEntity TargetKind = 2
)

// Target addresses either a point in space or an entity.
type Target struct {
	Kind   TargetKind `json:"kind"`
	Point  Vec2       `json:"point,omitempty"`
	Entity EntityRef  `json:"entity,omitempty"`
}

func PointTarget(p Vec2) Target { return Target{Kind: TargetPoint, Point: p} }

func EntityTarget(ref EntityRef) Target { return Target{Kind: TargetEntity, Entity: ref} }

func (t Target) IsSet() bool { return t.Kind == TargetPoint || t.Kind == TargetEntity }

// ResolvePoint returns the target's current position. An entity target whose
// entity is dead or unknown does not resolve.
func (t Target) ResolvePoint(g *Game) (Vec2, bool) {
	switch t.Kind {
	case TargetPoint:
		return t.Point, true
	case TargetEntity:
		e, ok := g.EntityRefToPtr(t.Entity)
		if !ok {
			return Vec2{}, false
		}
		return e.Base().Pos, true
	}
	return Vec2{}, false
}

func (t Target) pack(w *wire.Writer) {
	w.U8(uint8(t.Kind))
	switch t.Kind {
	case TargetPoint:
		t.Point.pack(w)
	case TargetEntity:
		w.U32(uint32(t.Entity))
	}
}

func unpackTarget(r *wire.Reader) Target {
	kind := TargetKind(r.U8())
	switch kind {
	case TargetPoint:
		return PointTarget(unpackVec2(r))
	case TargetEntity:
		return EntityTarget(EntityRef(r.U32()))
	case 0:
		return Target{}
	default:
		r.UnknownTag("target", uint8(kind))
		return Target{}
	}
}
