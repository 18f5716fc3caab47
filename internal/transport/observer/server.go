package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/decred/slog"
	"github.com/gorilla/websocket"

	"goldprime.ai/internal/adminauth"
	"goldprime.ai/internal/observerproto"
	"goldprime.ai/internal/persistence/indexdb"
)

// Loop is the part of the frame loop the admin API queries.
type Loop interface {
	State(ctx context.Context) (observerproto.StateResponse, error)
	SnapshotNow(ctx context.Context) (observerproto.SnapshotResponse, error)
}

type Server struct {
	loop Loop
	auth *adminauth.Auth
	log  slog.Logger

	// IndexStats, when set, adds index writer gauges to /metrics.
	IndexStats func() indexdb.Stats

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu   sync.Mutex
	subs map[uint64]chan []byte

	frames  atomic.Uint64
	dropped atomic.Uint64
}

// NewServer builds the HTTP side. A nil auth leaves admin endpoints limited
// to loopback callers.
func NewServer(loop Loop, auth *adminauth.Auth, log slog.Logger) *Server {
	if log == nil {
		log = slog.Disabled
	}
	return &Server{
		loop: loop,
		auth: auth,
		log:  log,
		subs: map[uint64]chan []byte{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// ObserveFrame fans one frame out to every subscriber. It runs on the frame
// loop and never blocks: a slow subscriber only keeps the latest frame.
func (s *Server) ObserveFrame(msg observerproto.FrameMsg) {
	s.frames.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subs) == 0 {
		return
	}
	b, err := json.Marshal(msg)
	if err != nil {
		s.log.Errorf("marshal frame %d: %v", msg.Frame, err)
		return
	}
	for _, ch := range s.subs {
		if !sendLatest(ch, b) {
			s.dropped.Add(1)
		}
	}
}

// sendLatest reports false when it had to drop an older frame.
func sendLatest(ch chan []byte, b []byte) bool {
	select {
	case ch <- b:
		return true
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
	return false
}

func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Server) subscribe() (uint64, chan []byte) {
	id := s.nextID.Add(1)
	ch := make(chan []byte, 8)
	s.mu.Lock()
	s.subs[id] = ch
	s.mu.Unlock()
	return id, ch
}

func (s *Server) unsubscribe(id uint64) {
	s.mu.Lock()
	delete(s.subs, id)
	s.mu.Unlock()
}

// Handler routes the whole HTTP surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", s.metrics)
	mux.Handle("/admin/v1/state", s.admin(http.HandlerFunc(s.state)))
	mux.Handle("/admin/v1/snapshot", s.admin(http.HandlerFunc(s.snapshot)))
	mux.Handle("/admin/v1/observer/ws", s.admin(http.HandlerFunc(s.ws)))
	return mux
}

func (s *Server) admin(h http.Handler) http.Handler {
	if s.auth != nil {
		return s.auth.RequireAuth(h)
	}
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h.ServeHTTP(rw, r)
	})
}

func (s *Server) state(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	st, err := s.loop.State(ctx)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusServiceUnavailable)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(st)
}

func (s *Server) snapshot(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	resp, err := s.loop.SnapshotNow(ctx)
	rw.Header().Set("Content-Type", "application/json")
	if err != nil {
		rw.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
		return
	}
	if !resp.Queued {
		rw.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(rw).Encode(resp)
}

func (s *Server) metrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	st, err := s.loop.State(ctx)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusServiceUnavailable)
		return
	}

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP goldprime_frame Current frame.\n")
	fmt.Fprintf(rw, "# TYPE goldprime_frame gauge\n")
	fmt.Fprintf(rw, "goldprime_frame %d\n", st.Frame)

	fmt.Fprintf(rw, "# HELP goldprime_clients Connected clients by sync state.\n")
	fmt.Fprintf(rw, "# TYPE goldprime_clients gauge\n")
	fmt.Fprintf(rw, "goldprime_clients{state=%q} %d\n", "up_to_date", st.UpToDate)
	fmt.Fprintf(rw, "goldprime_clients{state=%q} %d\n", "pending", st.Clients-st.UpToDate)

	fmt.Fprintf(rw, "# HELP goldprime_entities Live entities.\n")
	fmt.Fprintf(rw, "# TYPE goldprime_entities gauge\n")
	fmt.Fprintf(rw, "goldprime_entities %d\n", st.Entities)

	fmt.Fprintf(rw, "# HELP goldprime_credit Credit held in the game.\n")
	fmt.Fprintf(rw, "# TYPE goldprime_credit gauge\n")
	fmt.Fprintf(rw, "goldprime_credit{pool=%q} %d\n", "total", st.TotalCredit)
	fmt.Fprintf(rw, "goldprime_credit{pool=%q} %d\n", "honeypot", st.Honeypot)

	fmt.Fprintf(rw, "# HELP goldprime_queue_depth Work waiting for the next frame.\n")
	fmt.Fprintf(rw, "# TYPE goldprime_queue_depth gauge\n")
	fmt.Fprintf(rw, "goldprime_queue_depth{queue=%q} %d\n", "cmds", st.PendingCmds)
	fmt.Fprintf(rw, "goldprime_queue_depth{queue=%q} %d\n", "withdrawals", st.PendingWdraw)

	fmt.Fprintf(rw, "# HELP goldprime_observer_subscribers Observer feed subscribers.\n")
	fmt.Fprintf(rw, "# TYPE goldprime_observer_subscribers gauge\n")
	fmt.Fprintf(rw, "goldprime_observer_subscribers %d\n", s.Subscribers())
	fmt.Fprintf(rw, "# HELP goldprime_observer_frames_total Frames published to the feed.\n")
	fmt.Fprintf(rw, "# TYPE goldprime_observer_frames_total counter\n")
	fmt.Fprintf(rw, "goldprime_observer_frames_total %d\n", s.frames.Load())
	fmt.Fprintf(rw, "# HELP goldprime_observer_dropped_total Frames replaced before a subscriber read them.\n")
	fmt.Fprintf(rw, "# TYPE goldprime_observer_dropped_total counter\n")
	fmt.Fprintf(rw, "goldprime_observer_dropped_total %d\n", s.dropped.Load())

	if s.IndexStats != nil {
		is := s.IndexStats()
		fmt.Fprintf(rw, "# HELP goldprime_index_queue_depth Index writer backlog.\n")
		fmt.Fprintf(rw, "# TYPE goldprime_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "goldprime_index_queue_depth %d\n", is.QueueDepth)
		fmt.Fprintf(rw, "# HELP goldprime_index_dropped_total Index rows dropped under load.\n")
		fmt.Fprintf(rw, "# TYPE goldprime_index_dropped_total counter\n")
		fmt.Fprintf(rw, "goldprime_index_dropped_total{table=%q} %d\n", "frames", is.DropFrameTotal)
		fmt.Fprintf(rw, "goldprime_index_dropped_total{table=%q} %d\n", "audits", is.DropAuditTotal)
		fmt.Fprintf(rw, "goldprime_index_dropped_total{table=%q} %d\n", "ledger", is.DropLedgerTotal)
		fmt.Fprintf(rw, "goldprime_index_dropped_total{table=%q} %d\n", "snapshots", is.DropSnapshotTotal)
	}
}

func (s *Server) ws(rw http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	id, out := s.subscribe()
	defer s.unsubscribe(id)
	s.log.Debugf("observer O%d subscribed from %s", id, r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Writer goroutine.
	writeErr := make(chan error, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				writeErr <- ctx.Err()
				return
			case b := <-out:
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					writeErr <- err
					return
				}
			}
		}
	}()

	// Reader loop: observers only listen; reading surfaces the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	cancel()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

	// Best-effort wait for the writer to stop so it doesn't outlive conn.
	select {
	case <-writeErr:
	case <-time.After(500 * time.Millisecond):
	}
	s.log.Debugf("observer O%d left", id)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
