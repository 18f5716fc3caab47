package tcp

import (
	"context"
	"errors"
	"net"
	"sync/atomic"

	"github.com/decred/slog"

	"goldprime.ai/internal/auth"
)

// Server accepts connections and reports them to the frame loop through
// Events.
type Server struct {
	cfg      Config
	verifier *auth.Verifier
	log      slog.Logger
	events   chan Event
	nextID   atomic.Uint64
}

func NewServer(cfg Config, v *auth.Verifier, log slog.Logger, eventBuffer int) *Server {
	if log == nil {
		log = slog.Disabled
	}
	if eventBuffer <= 0 {
		eventBuffer = 4096
	}
	return &Server{
		cfg:      cfg,
		verifier: v,
		log:      log,
		events:   make(chan Event, eventBuffer),
	}
}

func (s *Server) Events() <-chan Event { return s.events }

// Serve accepts on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	s.log.Infof("listening on %s", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if err := s.ServeConn(ctx, conn); err != nil {
			return nil
		}
	}
}

// ServeConn registers conn with the loop and starts its handshake. It fails
// only when ctx has ended.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) error {
	c := newChannel(s.nextID.Add(1), conn, s.cfg, s.log)
	select {
	case s.events <- Event{Kind: EventOpened, Channel: c}:
	case <-ctx.Done():
		_ = conn.Close()
		return ctx.Err()
	}
	s.log.Debugf("%s accepted", c)
	go c.serve(ctx, s.events, s.verifier)
	return nil
}
