package game

import (
	"goldprime.ai/internal/coins"
	"goldprime.ai/internal/wire"
)

// GoldPile is unowned credit lying in the world.
type GoldPile struct {
	EntityBase
	Gold coins.Coins `json:"-"`
}

func (p *GoldPile) Kind() EntityKind { return KindGoldPile }

func (p *GoldPile) packBody(w *wire.Writer)   { p.Gold.Pack(w) }
func (p *GoldPile) unpackBody(r *wire.Reader) { p.Gold.Unpack(r) }

func (p *GoldPile) step(*Game) {}
