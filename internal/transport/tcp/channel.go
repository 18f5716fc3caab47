// Package tcp carries the game protocol over plain TCP: a challenge handshake
// followed by length-prefixed commands inbound and framed packets outbound.
package tcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/decred/slog"

	"goldprime.ai/internal/auth"
	"goldprime.ai/internal/game"
	"goldprime.ai/internal/protocol"
)

type State int32

const (
	DoingHandshake State = iota
	ReadyForFirstSync
	UpToDate
	Closed
)

func (s State) String() string {
	switch s {
	case DoingHandshake:
		return "DoingHandshake"
	case ReadyForFirstSync:
		return "ReadyForFirstSync"
	case UpToDate:
		return "UpToDate"
	case Closed:
		return "Closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

var ErrQueueFull = errors.New("tcp: send queue full")

type Config struct {
	ChallengeLen      int
	MaxHandshakeBytes int
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	// MaxQueuedPackets closes a channel whose client stops draining.
	MaxQueuedPackets int
}

func DefaultConfig() Config {
	return Config{
		ChallengeLen:      auth.DefaultChallengeLen,
		MaxHandshakeBytes: 150,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxQueuedPackets:  1024,
	}
}

type EventKind int

const (
	EventOpened EventKind = iota + 1
	EventAuthed
	EventCmd
)

// Event is what a connection reports to the frame loop. All events share one
// channel so the loop observes them in arrival order.
type Event struct {
	Kind    EventKind
	Channel *Channel
	Cmd     game.AuthdCmd
}

// Channel is one client connection. State is written by the frame loop
// (promotions) and by any goroutine that closes it.
type Channel struct {
	id   uint64
	conn net.Conn
	cfg  Config
	log  slog.Logger

	state   atomic.Int32
	address atomic.Value

	mu    sync.Mutex
	queue [][]byte
	wake  chan struct{}

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	sent atomic.Uint64
}

func newChannel(id uint64, conn net.Conn, cfg Config, log slog.Logger) *Channel {
	c := &Channel{
		id:   id,
		conn: conn,
		cfg:  cfg,
		log:  log,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	c.state.Store(int32(DoingHandshake))
	return c
}

func (c *Channel) ID() uint64 { return c.id }

func (c *Channel) State() State { return State(c.state.Load()) }

// Address is empty until the handshake succeeds.
func (c *Channel) Address() string {
	a, _ := c.address.Load().(string)
	return a
}

func (c *Channel) RemoteAddr() string { return c.conn.RemoteAddr().String() }

// PacketsSent counts packets fully written to the socket.
func (c *Channel) PacketsSent() uint64 { return c.sent.Load() }

// Done is closed once the channel is Closed.
func (c *Channel) Done() <-chan struct{} { return c.done }

func (c *Channel) String() string {
	if a := c.Address(); a != "" {
		return fmt.Sprintf("C%d(%s)", c.id, a)
	}
	return fmt.Sprintf("C%d(%s)", c.id, c.RemoteAddr())
}

// Promote moves the channel from one live state to the next. It fails if the
// channel is not in from, in particular once it is Closed.
func (c *Channel) Promote(from, to State) bool {
	if from == Closed {
		return false
	}
	return c.state.CompareAndSwap(int32(from), int32(to))
}

// Close moves the channel to Closed, abandons queued packets and closes the
// socket. Only the first call has any effect.
func (c *Channel) Close(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state.Store(int32(Closed))
		c.queue = nil
		c.closeErr = err
		c.mu.Unlock()
		close(c.done)
		_ = c.conn.Close()
		if err != nil {
			c.log.Debugf("%s closed: %v", c, err)
		} else {
			c.log.Debugf("%s closed", c)
		}
	})
}

// Err is the reason the channel closed, if any.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// Send queues pkt behind any earlier packets. It reports false if the channel
// is closed, including when the queue limit closes it.
func (c *Channel) Send(pkt []byte) bool {
	c.mu.Lock()
	if c.State() == Closed {
		c.mu.Unlock()
		return false
	}
	if c.cfg.MaxQueuedPackets > 0 && len(c.queue) >= c.cfg.MaxQueuedPackets {
		c.mu.Unlock()
		c.Close(ErrQueueFull)
		return false
	}
	c.queue = append(c.queue, pkt)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

func (c *Channel) next() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return nil, false
	}
	pkt := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	return pkt, true
}

// writeLoop keeps exactly one packet in flight.
func (c *Channel) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}
		for {
			pkt, ok := c.next()
			if !ok {
				break
			}
			if c.cfg.WriteTimeout > 0 {
				_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			}
			if _, err := c.conn.Write(pkt); err != nil {
				c.Close(fmt.Errorf("send: %w", err))
				return
			}
			c.sent.Add(1)
		}
	}
}

func (c *Channel) emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// serve runs the handshake and then the receive loop until the connection
// fails or ctx ends.
func (c *Channel) serve(ctx context.Context, events chan<- Event, v *auth.Verifier) {
	stop := context.AfterFunc(ctx, func() { c.Close(ctx.Err()) })
	defer stop()

	br, addr, err := c.handshake(v)
	if err != nil {
		c.Close(fmt.Errorf("handshake: %w", err))
		return
	}
	c.address.Store(addr)
	// Packets queued from here on are written after the address echo.
	if !c.Promote(DoingHandshake, ReadyForFirstSync) {
		return
	}
	if _, err := c.conn.Write([]byte(addr)); err != nil {
		c.Close(fmt.Errorf("handshake: write address: %w", err))
		return
	}
	_ = c.conn.SetDeadline(time.Time{})
	if !c.emit(ctx, events, Event{Kind: EventAuthed, Channel: c}) {
		return
	}
	c.log.Infof("%s authenticated from %s", c, c.RemoteAddr())
	go c.writeLoop()

	for {
		body, err := protocol.ReadCmdFrame(br)
		if err != nil {
			c.Close(fmt.Errorf("recv: %w", err))
			return
		}
		cmd, err := game.DecodeCmd(body)
		if err != nil {
			c.Close(fmt.Errorf("decode: %w", err))
			return
		}
		ev := Event{Kind: EventCmd, Channel: c, Cmd: game.AuthdCmd{Address: addr, Cmd: cmd}}
		if !c.emit(ctx, events, ev) {
			return
		}
	}
}

// handshake sends the challenge and verifies one newline-terminated
// response. The returned reader carries any command bytes the client sent
// right behind its response.
func (c *Channel) handshake(v *auth.Verifier) (*bufio.Reader, string, error) {
	challenge, err := auth.NewChallenge(c.cfg.ChallengeLen)
	if err != nil {
		return nil, "", err
	}
	if c.cfg.HandshakeTimeout > 0 {
		_ = c.conn.SetDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	}
	if _, err := c.conn.Write([]byte(challenge)); err != nil {
		return nil, "", fmt.Errorf("write challenge: %w", err)
	}
	br := bufio.NewReaderSize(c.conn, c.cfg.MaxHandshakeBytes)
	line, err := br.ReadSlice('\n')
	if err != nil {
		return nil, "", fmt.Errorf("read response: %w", err)
	}
	addr, err := v.Verify(challenge, string(line))
	if err != nil {
		return nil, "", err
	}
	return br, addr, nil
}
