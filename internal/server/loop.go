// Package server runs the authoritative frame loop: it settles the external
// ledger, replicates each frame's commands and events to every client and
// then advances the game.
package server

import (
	"context"
	"time"

	"github.com/decred/slog"

	"goldprime.ai/internal/coins"
	"goldprime.ai/internal/game"
	"goldprime.ai/internal/observerproto"
	"goldprime.ai/internal/persistence/snapshot"
	"goldprime.ai/internal/protocol"
	"goldprime.ai/internal/transport/tcp"
)

const leaderboardSize = 10

// DepositSource reports ledger facts confirmed since the last poll.
type DepositSource interface {
	Poll() ([]game.Event, error)
}

// WithdrawalSink pays credit out of the game. A nil error means the payout is
// durably committed.
type WithdrawalSink interface {
	Actuate(address string, amount coins.Int) error
}

type SnapshotSink interface {
	Submit(s snapshot.SnapshotV1) bool
}

type FrameObserver interface {
	ObserveFrame(msg observerproto.FrameMsg)
}

type Config struct {
	FrameInterval time.Duration
	// SnapshotEvery is in frames; zero disables periodic snapshots.
	SnapshotEvery uint64
}

// Options are the loop's collaborators. Deposits and Withdrawals are
// required; the rest may be nil.
type Options struct {
	Deposits    DepositSource
	Withdrawals WithdrawalSink
	FrameLog    game.FrameLogger
	Snapshots   SnapshotSink
	Observer    FrameObserver
	Log         slog.Logger
}

type Loop struct {
	cfg    Config
	g      *game.Game
	log    slog.Logger
	events <-chan tcp.Event

	deposits    DepositSource
	withdrawals WithdrawalSink
	frameLog    game.FrameLogger
	snapshots   SnapshotSink
	observer    FrameObserver

	channels []*tcp.Channel

	pendingCmds        []game.AuthdCmd
	pendingEvents      []game.Event
	pendingWithdrawals []game.AuthdCmd

	stateReq chan chan observerproto.StateResponse
	snapReq  chan chan observerproto.SnapshotResponse
}

func NewLoop(cfg Config, g *game.Game, events <-chan tcp.Event, opts Options) *Loop {
	log := opts.Log
	if log == nil {
		log = slog.Disabled
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = 50 * time.Millisecond
	}
	return &Loop{
		cfg:         cfg,
		g:           g,
		log:         log,
		events:      events,
		deposits:    opts.Deposits,
		withdrawals: opts.Withdrawals,
		frameLog:    opts.FrameLog,
		snapshots:   opts.Snapshots,
		observer:    opts.Observer,
		stateReq:    make(chan chan observerproto.StateResponse),
		snapReq:     make(chan chan observerproto.SnapshotResponse),
	}
}

// SetObserver must be called before Run.
func (l *Loop) SetObserver(o FrameObserver) { l.observer = o }

// Game is only safe to touch from the loop goroutine, or before Run starts.
func (l *Loop) Game() *game.Game { return l.g }

// Run ticks at the configured interval until ctx ends. A late tick runs
// immediately; game time never advances by more than one frame per tick.
func (l *Loop) Run(ctx context.Context) error {
	timer := time.NewTimer(l.cfg.FrameInterval)
	defer timer.Stop()
	defer l.closeAll()
	next := time.Now().Add(l.cfg.FrameInterval)

	l.log.Infof("frame loop running at frame %d, %s per frame", l.g.Frame, l.cfg.FrameInterval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-l.events:
			l.handle(ev)
		case resp := <-l.stateReq:
			resp <- l.state()
		case resp := <-l.snapReq:
			resp <- l.snapshotNow()
		case <-timer.C:
			l.Step()
			next = next.Add(l.cfg.FrameInterval)
			d := time.Until(next)
			if d < 0 {
				d = 0
			}
			timer.Reset(d)
		}
	}
}

// State asks the loop for a summary. It blocks until the loop answers or ctx
// ends.
func (l *Loop) State(ctx context.Context) (observerproto.StateResponse, error) {
	resp := make(chan observerproto.StateResponse, 1)
	select {
	case l.stateReq <- resp:
	case <-ctx.Done():
		return observerproto.StateResponse{}, ctx.Err()
	}
	select {
	case s := <-resp:
		return s, nil
	case <-ctx.Done():
		return observerproto.StateResponse{}, ctx.Err()
	}
}

// SnapshotNow hands the current state to the snapshot sink.
func (l *Loop) SnapshotNow(ctx context.Context) (observerproto.SnapshotResponse, error) {
	resp := make(chan observerproto.SnapshotResponse, 1)
	select {
	case l.snapReq <- resp:
	case <-ctx.Done():
		return observerproto.SnapshotResponse{}, ctx.Err()
	}
	select {
	case s := <-resp:
		return s, nil
	case <-ctx.Done():
		return observerproto.SnapshotResponse{}, ctx.Err()
	}
}

func (l *Loop) handle(ev tcp.Event) {
	switch ev.Kind {
	case tcp.EventOpened:
		l.channels = append(l.channels, ev.Channel)
	case tcp.EventAuthed:
		l.log.Debugf("%s waiting for first sync at frame %d", ev.Channel, l.g.Frame)
	case tcp.EventCmd:
		l.pendingCmds = append(l.pendingCmds, ev.Cmd)
	}
}

// drain takes every connection event already queued, in order.
func (l *Loop) drain() {
	for {
		select {
		case ev := <-l.events:
			l.handle(ev)
		default:
			return
		}
	}
}

// Step runs one frame.
func (l *Loop) Step() {
	l.drain()

	// A payout is committed by the time its debit exists, so the debit must
	// land this frame. Debits go ahead of anything carried over; there are at
	// most MaxPerFrame of them because each comes from last frame's commands.
	debits := l.settleWithdrawals()
	l.pendingEvents = append(debits, l.pendingEvents...)
	l.pendingEvents = append(l.pendingEvents, l.pollDeposits()...)

	pkt := l.takeFrame()
	framePkt, err := protocol.EncodeFrame(&pkt)
	if err != nil {
		// takeFrame never exceeds the per-frame limits.
		l.log.Criticalf("frame %d: encode: %v", pkt.Frame, err)
		return
	}
	l.broadcast(framePkt)

	for _, e := range pkt.Events {
		l.g.ApplyEvent(e)
	}
	for _, c := range pkt.Cmds {
		if w, ok := c.Cmd.(*game.WithdrawCmd); ok {
			l.pendingWithdrawals = append(l.pendingWithdrawals, game.AuthdCmd{Address: c.Address, Cmd: w})
			continue
		}
		if err := l.g.Dispatch(c); err != nil {
			l.log.Warnf("frame %d: dropping %s from %s: %v", pkt.Frame, c.Cmd.Kind(), c.Address, err)
		}
	}
	l.g.Iterate()

	digest := l.g.Digest()
	l.logFrame(&pkt, digest)
	l.g.Frame++
	l.observe(&pkt, digest)
	if l.cfg.SnapshotEvery > 0 && l.g.Frame%l.cfg.SnapshotEvery == 0 {
		l.snapshotNow()
	}
}

// settleWithdrawals clamps and actuates the withdrawals dispatched last frame.
// Amounts paid earlier in the same batch are reserved, so no address can be
// paid more than its credit.
func (l *Loop) settleWithdrawals() []game.Event {
	if len(l.pendingWithdrawals) == 0 {
		return nil
	}
	reserved := map[string]coins.Int{}

	var out []game.Event
	for _, c := range l.pendingWithdrawals {
		req := c.Cmd.(*game.WithdrawCmd)
		available := l.available(c.Address, reserved)
		amount := req.Amount
		if amount == 0 || amount > available {
			amount = available
		}
		if amount == 0 {
			l.log.Debugf("frame %d: withdrawal by %s has nothing to pay", l.g.Frame, c.Address)
			continue
		}
		if amount > l.available(c.Address, reserved) {
			l.log.Errorf("frame %d: withdrawal of %s by %s exceeds available credit, rejected",
				l.g.Frame, coins.DollarString(amount), c.Address)
			continue
		}
		if l.withdrawals == nil {
			l.log.Errorf("frame %d: no withdrawal sink, rejecting withdrawal by %s", l.g.Frame, c.Address)
			continue
		}
		if err := l.withdrawals.Actuate(c.Address, amount); err != nil {
			l.log.Errorf("frame %d: actuate withdrawal of %s by %s: %v",
				l.g.Frame, coins.DollarString(amount), c.Address, err)
			continue
		}
		reserved[c.Address] += amount
		out = append(out, &game.BalanceUpdateEvent{Address: c.Address, Amount: amount})
	}
	clear(l.pendingWithdrawals)
	l.pendingWithdrawals = l.pendingWithdrawals[:0]
	return out
}

func (l *Loop) available(address string, reserved map[string]coins.Int) coins.Int {
	credit := l.g.CreditOf(address)
	if r := reserved[address]; r < credit {
		return credit - r
	}
	return 0
}

func (l *Loop) pollDeposits() []game.Event {
	if l.deposits == nil {
		return nil
	}
	evs, err := l.deposits.Poll()
	if err != nil {
		l.log.Warnf("frame %d: poll deposits: %v", l.g.Frame, err)
	}
	return evs
}

// takeFrame moves up to MaxPerFrame commands and events into this frame's
// packet. The remainder stays queued, in order, for the next frame.
func (l *Loop) takeFrame() protocol.FrameEventsPacket {
	pkt := protocol.FrameEventsPacket{Frame: l.g.Frame}
	var n int
	pkt.Cmds, n = takeUpTo(l.pendingCmds, protocol.MaxPerFrame)
	l.pendingCmds = l.pendingCmds[n:]
	pkt.Events, n = takeUpTo(l.pendingEvents, protocol.MaxPerFrame)
	l.pendingEvents = l.pendingEvents[n:]
	if len(l.pendingCmds) > 0 || len(l.pendingEvents) > 0 {
		l.log.Warnf("frame %d: carrying %d cmds and %d events to the next frame",
			pkt.Frame, len(l.pendingCmds), len(l.pendingEvents))
	}
	return pkt
}

func takeUpTo[T any](q []T, n int) ([]T, int) {
	if len(q) < n {
		n = len(q)
	}
	out := make([]T, n)
	copy(out, q[:n])
	return out, n
}

// broadcast sends the frame to every synced channel. Channels waiting for
// their first sync get the full state first. Closed channels are pruned.
func (l *Loop) broadcast(framePkt []byte) {
	var resync []byte
	live := l.channels[:0]
	for _, ch := range l.channels {
		switch ch.State() {
		case tcp.Closed:
			l.log.Debugf("pruning %s", ch)
			continue
		case tcp.ReadyForFirstSync:
			if resync == nil {
				resync = protocol.EncodeResync(l.g.PackBytes())
			}
			if ch.Send(resync) && ch.Send(framePkt) {
				ch.Promote(tcp.ReadyForFirstSync, tcp.UpToDate)
			}
		case tcp.UpToDate:
			ch.Send(framePkt)
		}
		live = append(live, ch)
	}
	clear(l.channels[len(live):])
	l.channels = live
}

func (l *Loop) closeAll() {
	for _, ch := range l.channels {
		ch.Close(nil)
	}
	l.channels = nil
}

func (l *Loop) logFrame(pkt *protocol.FrameEventsPacket, digest string) {
	if l.frameLog == nil {
		return
	}
	entry := game.FrameLogEntry{Frame: pkt.Frame, Digest: digest}
	for _, c := range pkt.Cmds {
		entry.Cmds = append(entry.Cmds, game.RecordCmd(c))
	}
	for _, e := range pkt.Events {
		entry.Events = append(entry.Events, game.RecordEvent(e))
	}
	if err := l.frameLog.WriteFrame(entry); err != nil {
		l.log.Warnf("frame %d: frame log: %v", pkt.Frame, err)
	}
}

func (l *Loop) observe(pkt *protocol.FrameEventsPacket, digest string) {
	if l.observer == nil {
		return
	}
	msg := observerproto.FrameMsg{
		Type:            "FRAME",
		ProtocolVersion: observerproto.Version,
		Frame:           pkt.Frame,
		Digest:          digest,
		Clients:         len(l.channels),
		Entities:        l.g.EntityCount(),
		TotalCredit:     uint64(l.g.TotalCredit()),
		Honeypot:        uint64(l.g.Honeypot.Held()),
		Leaders:         l.leaders(),
	}
	for _, c := range pkt.Cmds {
		msg.Cmds = append(msg.Cmds, game.RecordCmd(c))
	}
	for _, e := range pkt.Events {
		msg.Events = append(msg.Events, game.RecordEvent(e))
	}
	l.observer.ObserveFrame(msg)
}

func (l *Loop) leaders() []observerproto.PlayerCredit {
	var out []observerproto.PlayerCredit
	for _, p := range l.g.TopPlayers(leaderboardSize) {
		held := p.Credit.Held()
		out = append(out, observerproto.PlayerCredit{
			Address: p.Address,
			Credit:  uint64(held),
			Dollars: coins.DollarString(held),
		})
	}
	return out
}

func (l *Loop) state() observerproto.StateResponse {
	s := observerproto.StateResponse{
		ProtocolVersion: observerproto.Version,
		Frame:           l.g.Frame,
		Digest:          l.g.Digest(),
		Entities:        l.g.EntityCount(),
		Players:         len(l.g.Players()),
		PendingCmds:     len(l.pendingCmds),
		PendingWdraw:    len(l.pendingWithdrawals),
		TotalCredit:     uint64(l.g.TotalCredit()),
		Honeypot:        uint64(l.g.Honeypot.Held()),
		Leaders:         l.leaders(),
	}
	for _, ch := range l.channels {
		switch ch.State() {
		case tcp.Closed:
			continue
		case tcp.UpToDate:
			s.UpToDate++
		}
		s.Clients++
	}
	return s
}

func (l *Loop) snapshotNow() observerproto.SnapshotResponse {
	resp := observerproto.SnapshotResponse{Frame: l.g.Frame}
	if l.snapshots == nil {
		return resp
	}
	b := l.g.PackBytes()
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version:     snapshot.Version,
			Frame:       l.g.Frame,
			Digest:      l.g.Digest(),
			TotalCredit: uint64(l.g.TotalCredit()),
			Players:     len(l.g.Players()),
			Entities:    l.g.EntityCount(),
		},
		Game: b,
	}
	resp.Queued = l.snapshots.Submit(snap)
	if !resp.Queued {
		l.log.Warnf("frame %d: snapshot writer backed up, snapshot dropped", l.g.Frame)
	}
	return resp
}
