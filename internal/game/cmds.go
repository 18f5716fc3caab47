package game

import (
	"errors"
	"fmt"

	"goldprime.ai/internal/coins"
	"goldprime.ai/internal/wire"
)

type CmdKind uint8

const (
	CmdMove              CmdKind = 1
	CmdPickup            CmdKind = 2
	CmdPutdown           CmdKind = 3
	CmdGatewayBuildPrime CmdKind = 4
	CmdGatewayScuttle    CmdKind = 5
	CmdSpawnBeacon       CmdKind = 6
	CmdWithdraw          CmdKind = 7
)

var cmdKindNames = map[CmdKind]string{
	CmdMove:              "Move",
	CmdPickup:            "Pickup",
	CmdPutdown:           "Putdown",
	CmdGatewayBuildPrime: "GatewayBuildPrime",
	CmdGatewayScuttle:    "GatewayScuttle",
	CmdSpawnBeacon:       "SpawnBeacon",
	CmdWithdraw:          "Withdraw",
}

var cmdKindByName = func() map[string]CmdKind {
	m := make(map[string]CmdKind, len(cmdKindNames))
	for k, n := range cmdKindNames {
		m[n] = k
	}
	return m
}()

func (k CmdKind) String() string {
	if n, ok := cmdKindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("CmdKind(%d)", uint8(k))
}

// MaxUnitsPerCmd is the most units one UnitCmd can address (u8 count).
const MaxUnitsPerCmd = 255

var (
	ErrUnknownCmdKind  = errors.New("game: unknown command kind")
	ErrTrailingCmd     = errors.New("game: trailing bytes after command")
	ErrNotDispatchable = errors.New("game: command is not dispatched by the game")
)

// Cmd is an unauthenticated player intent.
type Cmd interface {
	Kind() CmdKind
	pack(w *wire.Writer)
	unpack(r *wire.Reader)
}

// AuthdCmd is a Cmd paired with the address that sent it. Commands are only
// ever executed in this form.
type AuthdCmd struct {
	Address string
	Cmd     Cmd
}

// UnitCmd addresses a list of the sender's units.
type UnitCmd struct {
	Units []EntityRef
}

func (u *UnitCmd) packUnits(w *wire.Writer) {
	n := len(u.Units)
	if n > MaxUnitsPerCmd {
		n = MaxUnitsPerCmd
	}
	w.U8(uint8(n))
	for _, ref := range u.Units[:n] {
		w.U32(uint32(ref))
	}
}

func (u *UnitCmd) unpackUnits(r *wire.Reader) {
	n := int(r.U8())
	u.Units = nil
	for i := 0; i < n && r.Err() == nil; i++ {
		u.Units = append(u.Units, EntityRef(r.U32()))
	}
}

type MoveCmd struct {
	UnitCmd
	Dest Vec2
}

type PickupCmd struct {
	UnitCmd
	Pile EntityRef
}

type PutdownCmd struct {
	UnitCmd
	Target Target
}

type GatewayBuildPrimeCmd struct {
	UnitCmd
}

// GatewayScuttleCmd reclaims Prime back into its owner's credit, or the
// gateway itself when Prime is NoEntity.
type GatewayScuttleCmd struct {
	UnitCmd
	Prime EntityRef
}

type SpawnBeaconCmd struct {
	Pos Vec2
}

// WithdrawCmd asks for Amount credit to be paid out; zero means everything.
type WithdrawCmd struct {
	Amount coins.Int
}

func (*MoveCmd) Kind() CmdKind              { return CmdMove }
func (*PickupCmd) Kind() CmdKind            { return CmdPickup }
func (*PutdownCmd) Kind() CmdKind           { return CmdPutdown }
func (*GatewayBuildPrimeCmd) Kind() CmdKind { return CmdGatewayBuildPrime }
func (*GatewayScuttleCmd) Kind() CmdKind    { return CmdGatewayScuttle }
func (*SpawnBeaconCmd) Kind() CmdKind       { return CmdSpawnBeacon }
func (*WithdrawCmd) Kind() CmdKind          { return CmdWithdraw }

func (c *MoveCmd) pack(w *wire.Writer) {
	c.packUnits(w)
	c.Dest.pack(w)
}

func (c *MoveCmd) unpack(r *wire.Reader) {
	c.unpackUnits(r)
	c.Dest = unpackVec2(r)
}

func (c *PickupCmd) pack(w *wire.Writer) {
	c.packUnits(w)
	w.U32(uint32(c.Pile))
}

func (c *PickupCmd) unpack(r *wire.Reader) {
	c.unpackUnits(r)
	c.Pile = EntityRef(r.U32())
}

func (c *PutdownCmd) pack(w *wire.Writer) {
	c.packUnits(w)
	c.Target.pack(w)
}

func (c *PutdownCmd) unpack(r *wire.Reader) {
	c.unpackUnits(r)
	c.Target = unpackTarget(r)
}

func (c *GatewayBuildPrimeCmd) pack(w *wire.Writer)   { c.packUnits(w) }
func (c *GatewayBuildPrimeCmd) unpack(r *wire.Reader) { c.unpackUnits(r) }

func (c *GatewayScuttleCmd) pack(w *wire.Writer) {
	c.packUnits(w)
	w.U32(uint32(c.Prime))
}

func (c *GatewayScuttleCmd) unpack(r *wire.Reader) {
	c.unpackUnits(r)
	c.Prime = EntityRef(r.U32())
}

func (c *SpawnBeaconCmd) pack(w *wire.Writer)   { c.Pos.pack(w) }
func (c *SpawnBeaconCmd) unpack(r *wire.Reader) { c.Pos = unpackVec2(r) }

func (c *WithdrawCmd) pack(w *wire.Writer)   { w.U64(uint64(c.Amount)) }
func (c *WithdrawCmd) unpack(r *wire.Reader) { c.Amount = coins.Int(r.U64()) }

var newCmd = map[CmdKind]func() Cmd{
	CmdMove:              func() Cmd { return &MoveCmd{} },
	CmdPickup:            func() Cmd { return &PickupCmd{} },
	CmdPutdown:           func() Cmd { return &PutdownCmd{} },
	CmdGatewayBuildPrime: func() Cmd { return &GatewayBuildPrimeCmd{} },
	CmdGatewayScuttle:    func() Cmd { return &GatewayScuttleCmd{} },
	CmdSpawnBeacon:       func() Cmd { return &SpawnBeaconCmd{} },
	CmdWithdraw:          func() Cmd { return &WithdrawCmd{} },
}

// PackCmd writes the kind byte followed by the command body.
func PackCmd(w *wire.Writer, c Cmd) {
	w.U8(uint8(c.Kind()))
	c.pack(w)
}

// UnpackCmd reads one tagged command. On failure it returns nil and r.Err()
// is set.
func UnpackCmd(r *wire.Reader) Cmd {
	kind := CmdKind(r.U8())
	if r.Err() != nil {
		return nil
	}
	mk, ok := newCmd[kind]
	if !ok {
		r.UnknownTag("cmd", uint8(kind))
		return nil
	}
	c := mk()
	c.unpack(r)
	if r.Err() != nil {
		return nil
	}
	return c
}

// DecodeCmd decodes a command that must span all of b.
func DecodeCmd(b []byte) (Cmd, error) {
	r := wire.NewReader(b)
	c := UnpackCmd(r)
	if err := r.Err(); err != nil {
		return nil, err
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrTrailingCmd, r.Remaining())
	}
	return c, nil
}

func EncodeCmd(c Cmd) []byte {
	w := wire.NewWriter(32)
	PackCmd(w, c)
	return w.Bytes()
}

func (a AuthdCmd) Pack(w *wire.Writer) {
	w.String(a.Address)
	PackCmd(w, a.Cmd)
}

func UnpackAuthdCmd(r *wire.Reader) AuthdCmd {
	addr := r.String(MaxAddressLen)
	c := UnpackCmd(r)
	return AuthdCmd{Address: addr, Cmd: c}
}

type cmdHandler func(g *Game, c Cmd, address string)

func handle[C Cmd](f func(g *Game, c C, address string)) cmdHandler {
	return func(g *Game, c Cmd, address string) { f(g, c.(C), address) }
}

// cmdHandlers dispatches by kind. WithdrawCmd is absent: it is settled by the
// frame loop against the external ledger.
var cmdHandlers = map[CmdKind]cmdHandler{
	CmdMove:              handle(executeMove),
	CmdPickup:            handle(executePickup),
	CmdPutdown:           handle(executePutdown),
	CmdGatewayBuildPrime: handle(executeGatewayBuildPrime),
	CmdGatewayScuttle:    handle(executeGatewayScuttle),
	CmdSpawnBeacon:       handle(executeSpawnBeacon),
}

// Dispatch executes c as its sender. Commands that do not apply (foreign or
// unknown units, insufficient credit) are no-ops.
func (g *Game) Dispatch(c AuthdCmd) error {
	if c.Cmd == nil {
		return ErrUnknownCmdKind
	}
	h, ok := cmdHandlers[c.Cmd.Kind()]
	if !ok {
		if c.Cmd.Kind() == CmdWithdraw {
			return ErrNotDispatchable
		}
		return fmt.Errorf("%w: %s", ErrUnknownCmdKind, c.Cmd.Kind())
	}
	h(g, c.Cmd, c.Address)
	return nil
}

// ownedPrimes yields the sender's active primes among refs.
func (g *Game) ownedPrimes(refs []EntityRef, address string) []*Prime {
	var out []*Prime
	for _, ref := range refs {
		p, ok := g.prime(ref)
		if !ok || p.Owner != address || !p.IsActive() {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (g *Game) ownedIdleGateways(refs []EntityRef, address string) []*Gateway {
	var out []*Gateway
	for _, ref := range refs {
		gw, ok := g.gateway(ref)
		if !ok || gw.Owner != address || !gw.IsActive() || gw.State != GatewayIdle {
			continue
		}
		out = append(out, gw)
	}
	return out
}

func executeMove(g *Game, c *MoveCmd, address string) {
	for _, p := range g.ownedPrimes(c.Units, address) {
		p.cmdMove(c.Dest)
	}
}

func executePickup(g *Game, c *PickupCmd, address string) {
	if _, ok := g.goldPile(c.Pile); !ok {
		return
	}
	for _, p := range g.ownedPrimes(c.Units, address) {
		p.cmdPickup(c.Pile)
	}
}

func executePutdown(g *Game, c *PutdownCmd, address string) {
	if !c.Target.IsSet() {
		return
	}
	for _, p := range g.ownedPrimes(c.Units, address) {
		p.cmdPutdown(c.Target)
	}
}

func executeGatewayBuildPrime(g *Game, c *GatewayBuildPrimeCmd, address string) {
	for _, gw := range g.ownedIdleGateways(c.Units, address) {
		if g.CreditOf(address) < PrimeCost {
			return
		}
		gw.startSpawningPrime(g)
	}
}

func executeGatewayScuttle(g *Game, c *GatewayScuttleCmd, address string) {
	for _, gw := range g.ownedIdleGateways(c.Units, address) {
		if c.Prime == NoEntity || c.Prime == gw.ID {
			gw.State = GatewayReclaimingSelf
			continue
		}
		p, ok := g.prime(c.Prime)
		if !ok || p.Owner != address {
			continue
		}
		p.goIdle()
		gw.State = GatewayReclaiming
		gw.TargetID = p.ID
		return
	}
}

func executeSpawnBeacon(g *Game, c *SpawnBeaconCmd, address string) {
	if g.CreditOf(address) < GatewayCost {
		return
	}
	g.spawnGateway(c.Pos, address, false)
}
