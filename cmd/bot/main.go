package main

import (
	"bufio"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/slog"

	"goldprime.ai/internal/auth"
	"goldprime.ai/internal/coins"
	"goldprime.ai/internal/game"
	"goldprime.ai/internal/protocol"
)

func main() {
	var (
		addr      = flag.String("addr", fmt.Sprintf("localhost:%d", protocol.DefaultPort), "game server address")
		keyFile   = flag.String("key", "bot.key", "hex secp256k1 private key (created if missing)")
		admin     = flag.String("admin_token", "", "log in with the admin token instead of a signature")
		challenge = flag.Int("challenge_len", 50, "server challenge length")
		withdraw  = flag.Int64("withdraw_every", 0, "withdraw everything every N frames (0 disables)")
		level     = flag.String("log_level", "info", "log level")
	)
	flag.Parse()

	backend := slog.NewBackend(os.Stdout)
	log := backend.Logger("BOT")
	if lvl, ok := slog.LevelFromString(*level); ok {
		log.SetLevel(lvl)
	}

	response := *admin
	var priv *secp256k1.PrivateKey
	if response == "" {
		var err error
		priv, err = loadOrCreateKey(*keyFile)
		if err != nil {
			log.Criticalf("key: %v", err)
			os.Exit(1)
		}
	}

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		log.Criticalf("dial: %v", err)
		os.Exit(1)
	}
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.Close()
	}()

	br := bufio.NewReader(conn)
	me, err := login(conn, br, *challenge, priv, response)
	if err != nil {
		log.Criticalf("login: %v", err)
		os.Exit(1)
	}
	log.Infof("logged in as %s", me)

	b := &bot{conn: conn, me: me, log: log, withdrawEvery: uint64(*withdraw), rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
	if err := b.run(br); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		log.Errorf("disconnected: %v", err)
		os.Exit(1)
	}
}

func loadOrCreateKey(path string) (*secp256k1.PrivateKey, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		priv, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, []byte(hex.EncodeToString(priv.Serialize())+"\n"), 0o600); err != nil {
			return nil, err
		}
		return priv, nil
	}
	if err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(b)))
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("%s: not a 32-byte hex key", path)
	}
	return secp256k1.PrivKeyFromBytes(raw), nil
}

// login answers the challenge and returns the address the server assigned.
func login(w io.Writer, r io.Reader, challengeLen int, priv *secp256k1.PrivateKey, adminToken string) (string, error) {
	challenge := make([]byte, challengeLen)
	if _, err := io.ReadFull(r, challenge); err != nil {
		return "", fmt.Errorf("read challenge: %w", err)
	}
	response := adminToken
	if priv != nil {
		response = auth.SignChallenge(priv, string(challenge))
	}
	if _, err := io.WriteString(w, response+"\n"); err != nil {
		return "", err
	}
	addr := make([]byte, protocol.AddressLen)
	if _, err := io.ReadFull(r, addr); err != nil {
		return "", fmt.Errorf("read address: %w", err)
	}
	return string(addr), nil
}

// bot keeps a local replica by applying frames the same way the server does
// and issues commands from it.
type bot struct {
	conn          net.Conn
	me            string
	log           slog.Logger
	withdrawEvery uint64
	rng           *rand.Rand

	g *game.Game
}

func (b *bot) run(r io.Reader) error {
	for {
		typ, body, err := protocol.ReadPacket(r)
		if err != nil {
			return err
		}
		switch typ {
		case protocol.PacketResync:
			g, err := game.NewGameFromBytes(body)
			if err != nil {
				return fmt.Errorf("resync: %w", err)
			}
			b.g = g
			b.log.Infof("resync at frame %d (%d entities, credit %s)", g.Frame, g.EntityCount(), coins.DollarString(g.CreditOf(b.me)))
		case protocol.PacketFrameCmds:
			pkt, err := protocol.UnpackFrameEventsPacket(body)
			if err != nil {
				return err
			}
			if b.g == nil || pkt.Frame != b.g.Frame {
				return fmt.Errorf("frame %d does not follow replica", pkt.Frame)
			}
			b.apply(&pkt)
			if err := b.act(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unexpected packet %s", typ)
		}
	}
}

func (b *bot) apply(pkt *protocol.FrameEventsPacket) {
	for _, e := range pkt.Events {
		b.g.ApplyEvent(e)
	}
	for _, c := range pkt.Cmds {
		// Withdrawals settle server side and come back as events.
		_ = b.g.Dispatch(c)
	}
	b.g.Iterate()
	b.g.Frame++
}

func (b *bot) act() error {
	var cmds []game.Cmd
	credit := b.g.CreditOf(b.me)
	var gateways, idle []game.EntityRef
	var piles []*game.GoldPile
	for _, e := range b.g.Entities() {
		if e.Base().Dead {
			continue
		}
		switch v := e.(type) {
		case *game.Gateway:
			if v.Owner == b.me && v.IsActive() {
				gateways = append(gateways, v.ID)
			}
		case *game.Prime:
			if v.Owner == b.me && v.IsActive() && v.State == game.PrimeIdle {
				idle = append(idle, v.ID)
			}
		case *game.GoldPile:
			piles = append(piles, v)
		}
	}

	switch {
	case len(gateways) == 0 && credit >= game.GatewayCost:
		cmds = append(cmds, &game.SpawnBeaconCmd{Pos: game.Vec2{X: b.rng.Float32()*200 - 100, Y: b.rng.Float32()*200 - 100}})
	case len(gateways) > 0 && credit >= game.PrimeCost && b.g.Frame%20 == 0:
		cmds = append(cmds, &game.GatewayBuildPrimeCmd{UnitCmd: game.UnitCmd{Units: gateways[:1]}})
	}
	switch {
	case len(idle) > 0 && len(piles) > 0:
		p := piles[b.rng.Intn(len(piles))]
		cmds = append(cmds, &game.PickupCmd{UnitCmd: game.UnitCmd{Units: idle}, Pile: p.ID})
	case len(idle) > 0 && b.g.Frame%50 == 0:
		// Nothing to collect; wander.
		dest := game.Vec2{X: b.rng.Float32()*200 - 100, Y: b.rng.Float32()*200 - 100}
		cmds = append(cmds, &game.MoveCmd{UnitCmd: game.UnitCmd{Units: idle}, Dest: dest})
	}
	if b.withdrawEvery > 0 && b.g.Frame%b.withdrawEvery == 0 && credit > 0 {
		b.log.Infof("withdrawing %s", coins.DollarString(credit))
		cmds = append(cmds, &game.WithdrawCmd{})
	}

	if len(cmds) == 0 {
		return nil
	}
	var buf []byte
	for _, c := range cmds {
		buf = protocol.AppendCmdFrame(buf, c)
	}
	_, err := b.conn.Write(buf)
	return err
}
