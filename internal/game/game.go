package game

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/decred/slog"

	"goldprime.ai/internal/coins"
	"goldprime.ai/internal/wire"
)

const (
	HoneypotDripRate coins.Int = 100 // per frame
	maxPackedEntries           = 1 << 24
)

var (
	ErrTrailingBytes = errors.New("game: trailing bytes after game state")
	ErrDuplicateRef  = errors.New("game: duplicate entity ref")
)

// HoneypotPos is where the honeypot pile is (re)spawned.
var HoneypotPos = Vec2{X: 0, Y: 0}

type Player struct {
	Address string
	Credit  coins.Coins
}

// Game is the root aggregate. It owns every entity and ledger; it is not safe
// for concurrent use and is mutated only by the frame loop.
type Game struct {
	Frame uint64

	nextRef  EntityRef
	entities []Entity
	byRef    map[EntityRef]Entity

	players   []*Player
	playerIdx map[string]*Player

	Honeypot     coins.Coins
	honeypotPile EntityRef

	log   slog.Logger
	audit AuditLogger
}

func NewGame() *Game {
	return &Game{
		byRef:     map[EntityRef]Entity{},
		playerIdx: map[string]*Player{},
		Honeypot:  coins.Empty(coins.MaxCoins),
		log:       slog.Disabled,
	}
}

func (g *Game) SetLogger(l slog.Logger)      { g.log = l }
func (g *Game) SetAuditLogger(l AuditLogger) { g.audit = l }

// EntityRefToPtr looks up a live entity. Dead and unknown refs are both
// reported as not found.
func (g *Game) EntityRefToPtr(ref EntityRef) (Entity, bool) {
	e, ok := g.byRef[ref]
	if !ok || e.Base().Dead {
		return nil, false
	}
	return e, true
}

func (g *Game) Entities() []Entity { return g.entities }

func (g *Game) EntityCount() int {
	n := 0
	for _, e := range g.entities {
		if !e.Base().Dead {
			n++
		}
	}
	return n
}

func (g *Game) NextEntityRef() EntityRef {
	g.nextRef++
	return g.nextRef
}

func (g *Game) addEntity(e Entity) {
	g.entities = append(g.entities, e)
	g.byRef[e.Base().ID] = e
}

func (g *Game) goldPile(ref EntityRef) (*GoldPile, bool) {
	e, ok := g.EntityRefToPtr(ref)
	if !ok {
		return nil, false
	}
	p, ok := e.(*GoldPile)
	return p, ok
}

func (g *Game) prime(ref EntityRef) (*Prime, bool) {
	e, ok := g.EntityRefToPtr(ref)
	if !ok {
		return nil, false
	}
	p, ok := e.(*Prime)
	return p, ok
}

func (g *Game) gateway(ref EntityRef) (*Gateway, bool) {
	e, ok := g.EntityRefToPtr(ref)
	if !ok {
		return nil, false
	}
	gw, ok := e.(*Gateway)
	return gw, ok
}

// spawnGoldPile creates an empty pile; gold only ever arrives by transfer.
func (g *Game) spawnGoldPile(pos Vec2) *GoldPile {
	p := &GoldPile{
		EntityBase: EntityBase{ID: g.NextEntityRef(), Pos: pos},
		Gold:       coins.Empty(coins.MaxCoins),
	}
	g.addEntity(p)
	return p
}

func (g *Game) spawnPrime(pos Vec2, owner string, alreadyBuilt bool) *Prime {
	p := &Prime{
		EntityBase: EntityBase{ID: g.NextEntityRef(), Pos: pos},
		Unit:       newUnit(owner, PrimeCost, alreadyBuilt),
		Held:       coins.Empty(PrimeHeldMax),
	}
	g.addEntity(p)
	return p
}

func (g *Game) spawnGateway(pos Vec2, owner string, alreadyBuilt bool) *Gateway {
	gw := &Gateway{
		EntityBase: EntityBase{ID: g.NextEntityRef(), Pos: pos},
		Unit:       newUnit(owner, GatewayCost, alreadyBuilt),
	}
	g.addEntity(gw)
	return gw
}

// putdownLedger resolves where a prime owned by owner may unload: a gold pile,
// or one of the owner's own active gateways, which credits the owner directly.
func (g *Game) putdownLedger(ref EntityRef, owner string) (*coins.Coins, bool) {
	e, ok := g.EntityRefToPtr(ref)
	if !ok {
		return nil, false
	}
	switch v := e.(type) {
	case *GoldPile:
		return &v.Gold, true
	case *Gateway:
		if v.Owner != owner || !v.IsActive() {
			return nil, false
		}
		return &g.PlayerOrCreate(owner).Credit, true
	}
	return nil, false
}

func (g *Game) Player(address string) (*Player, bool) {
	p, ok := g.playerIdx[address]
	return p, ok
}

func (g *Game) PlayerOrCreate(address string) *Player {
	if p, ok := g.playerIdx[address]; ok {
		return p
	}
	p := &Player{Address: address, Credit: coins.Empty(coins.MaxCoins)}
	g.players = append(g.players, p)
	g.playerIdx[address] = p
	return p
}

func (g *Game) Players() []*Player { return g.players }

// CreditOf returns the player's credit, zero for unknown addresses.
func (g *Game) CreditOf(address string) coins.Int {
	if p, ok := g.playerIdx[address]; ok {
		return p.Credit.Held()
	}
	return 0
}

// TotalCredit sums every ledger in the game.
func (g *Game) TotalCredit() coins.Int {
	total := g.Honeypot.Held()
	for _, p := range g.players {
		total += p.Credit.Held()
	}
	for _, e := range g.entities {
		for _, c := range entityLedgers(e) {
			total += c.Held()
		}
	}
	return total
}

// Iterate advances the simulation by one step. Entities spawned during the step
// first act on the next one.
func (g *Game) Iterate() {
	n := len(g.entities)
	for i := 0; i < n; i++ {
		e := g.entities[i]
		if e.Base().Dead {
			continue
		}
		e.step(g)
	}
	g.dripHoneypot()
	g.compact()
}

func (g *Game) dripHoneypot() {
	if g.Honeypot.Held() == 0 {
		return
	}
	pile, ok := g.goldPile(g.honeypotPile)
	if !ok {
		pile = g.spawnGoldPile(HoneypotPos)
		g.honeypotPile = pile.ID
	}
	g.Honeypot.TransferUpTo(HoneypotDripRate, &pile.Gold)
}

// compact drops dead entities and empty gold piles. Entities are only marked
// dead with empty ledgers, so compaction never destroys credit.
func (g *Game) compact() {
	live := g.entities[:0]
	for _, e := range g.entities {
		b := e.Base()
		if p, ok := e.(*GoldPile); ok && p.Gold.Held() == 0 && p.ID != g.honeypotPile {
			b.die()
		}
		if b.Dead {
			for _, c := range entityLedgers(e) {
				if c.Held() != 0 {
					g.log.Errorf("frame %d: %s %d died holding %s", g.Frame, e.Kind(), b.ID, coins.DollarString(c.Held()))
				}
			}
			delete(g.byRef, b.ID)
			continue
		}
		live = append(live, e)
	}
	for i := len(live); i < len(g.entities); i++ {
		g.entities[i] = nil
	}
	g.entities = live
}

// fiatCreate and fiatDestroy are the only paths that change the total credit
// in the game. Every call is audited.
func (g *Game) fiatCreate(dst *coins.Coins, amount coins.Int, action, address, reason string) bool {
	ok := dst.CreateMoreByFiat(amount)
	g.recordFiat(action, address, amount, ok, reason)
	return ok
}

func (g *Game) fiatDestroy(src *coins.Coins, amount coins.Int, action, address, reason string) bool {
	ok := src.DestroySomeByFiat(amount)
	g.recordFiat(action, address, amount, ok, reason)
	return ok
}

// reason is kept only for refused operations.
func (g *Game) recordFiat(action, address string, amount coins.Int, ok bool, reason string) {
	if ok {
		g.log.Infof("frame %d: %s %s %s", g.Frame, action, address, coins.DollarString(amount))
		reason = ""
	} else {
		g.log.Warnf("frame %d: %s %s %s refused by ledger", g.Frame, action, address, coins.DollarString(amount))
	}
	if g.audit == nil {
		return
	}
	err := g.audit.WriteAudit(AuditEntry{
		Frame:   g.Frame,
		Action:  action,
		Address: address,
		Amount:  uint64(amount),
		Applied: ok,
		Reason:  reason,
	})
	if err != nil {
		g.log.Warnf("frame %d: audit %s %s %s: %v", g.Frame, action, address, coins.DollarString(amount), err)
	}
}

// Pack writes the full game state. It is the resync packet body and the
// snapshot payload.
func (g *Game) Pack(w *wire.Writer) {
	w.U64(g.Frame)
	w.U32(uint32(g.nextRef))
	g.Honeypot.Pack(w)
	w.U32(uint32(g.honeypotPile))

	w.U32(uint32(len(g.players)))
	for _, p := range g.players {
		w.String(p.Address)
		p.Credit.Pack(w)
	}

	w.U32(uint32(g.EntityCount()))
	for _, e := range g.entities {
		b := e.Base()
		if b.Dead {
			continue
		}
		w.U8(uint8(e.Kind()))
		w.U32(uint32(b.ID))
		b.Pos.pack(w)
		e.packBody(w)
	}
}

func (g *Game) PackBytes() []byte {
	w := wire.NewWriter(1024)
	g.Pack(w)
	return w.Bytes()
}

// Unpack reads a game written by Pack. Ledger maxima are not on the wire; they
// come from the entity kind.
func Unpack(r *wire.Reader) (*Game, error) {
	g := NewGame()
	g.Frame = r.U64()
	g.nextRef = EntityRef(r.U32())
	g.Honeypot.Unpack(r)
	g.honeypotPile = EntityRef(r.U32())

	nPlayers := r.U32()
	if nPlayers > maxPackedEntries {
		return nil, fmt.Errorf("game: %d players: %w", nPlayers, wire.ErrShortBuffer)
	}
	for i := uint32(0); i < nPlayers && r.Err() == nil; i++ {
		p := g.PlayerOrCreate(r.String(MaxAddressLen))
		p.Credit.Unpack(r)
	}

	nEntities := r.U32()
	if nEntities > maxPackedEntries {
		return nil, fmt.Errorf("game: %d entities: %w", nEntities, wire.ErrShortBuffer)
	}
	for i := uint32(0); i < nEntities && r.Err() == nil; i++ {
		kind := EntityKind(r.U8())
		id := EntityRef(r.U32())
		pos := unpackVec2(r)
		if r.Err() != nil {
			break
		}
		e, ok := newEntityForKind(kind, id, pos)
		if !ok {
			r.UnknownTag("entity", uint8(kind))
			break
		}
		e.unpackBody(r)
		if _, dup := g.byRef[id]; dup || id == NoEntity || id > g.nextRef {
			return nil, fmt.Errorf("game: entity %d: %w", id, ErrDuplicateRef)
		}
		g.addEntity(e)
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("game: unpack: %w", err)
	}
	return g, nil
}

func NewGameFromBytes(b []byte) (*Game, error) {
	r := wire.NewReader(b)
	g, err := Unpack(r)
	if err != nil {
		return nil, err
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("game: %d bytes: %w", r.Remaining(), ErrTrailingBytes)
	}
	return g, nil
}

// Digest is a stable hash of the packed state.
func (g *Game) Digest() string {
	sum := sha256.Sum256(g.PackBytes())
	return hex.EncodeToString(sum[:])
}

// TopPlayers returns up to n players ordered by credit, richest first.
func (g *Game) TopPlayers(n int) []*Player {
	out := append([]*Player(nil), g.players...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Credit.Held() > out[j].Credit.Held() })
	if len(out) > n {
		out = out[:n]
	}
	return out
}
