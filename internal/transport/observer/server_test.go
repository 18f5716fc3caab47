package observer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"goldprime.ai/internal/adminauth"
	"goldprime.ai/internal/observerproto"
	"goldprime.ai/internal/persistence/indexdb"
)

type fakeLoop struct {
	st     observerproto.StateResponse
	queued bool
	err    error
}

func (f *fakeLoop) State(ctx context.Context) (observerproto.StateResponse, error) {
	return f.st, f.err
}

func (f *fakeLoop) SnapshotNow(ctx context.Context) (observerproto.SnapshotResponse, error) {
	return observerproto.SnapshotResponse{Frame: f.st.Frame, Queued: f.queued}, f.err
}

func newTestServer(t *testing.T, loop *fakeLoop) (*Server, *httptest.Server, string) {
	t.Helper()
	a := adminauth.NewWithKey(bytes.Repeat([]byte{1}, 32))
	tok, err := a.Mint("test", time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	s := NewServer(loop, a, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts, tok
}

func get(t *testing.T, url, tok string) (int, string) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func TestStateRequiresToken(t *testing.T) {
	loop := &fakeLoop{st: observerproto.StateResponse{Frame: 42, Clients: 3, TotalCredit: 9000}}
	_, ts, tok := newTestServer(t, loop)

	if code, _ := get(t, ts.URL+"/admin/v1/state", ""); code != http.StatusUnauthorized {
		t.Fatalf("no token code=%d", code)
	}
	code, body := get(t, ts.URL+"/admin/v1/state", tok)
	if code != http.StatusOK {
		t.Fatalf("code=%d body=%s", code, body)
	}
	var st observerproto.StateResponse
	if err := json.Unmarshal([]byte(body), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Frame != 42 || st.Clients != 3 || st.TotalCredit != 9000 {
		t.Fatalf("state=%+v", st)
	}
}

func TestSnapshotEndpoint(t *testing.T) {
	loop := &fakeLoop{st: observerproto.StateResponse{Frame: 7}, queued: true}
	_, ts, tok := newTestServer(t, loop)

	if code, _ := get(t, ts.URL+"/admin/v1/snapshot", tok); code != http.StatusMethodNotAllowed {
		t.Fatalf("GET code=%d", code)
	}
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/admin/v1/snapshot", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var out observerproto.SnapshotResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || !out.Queued || out.Frame != 7 {
		t.Fatalf("code=%d resp=%+v", resp.StatusCode, out)
	}
}

func TestMetricsAndHealth(t *testing.T) {
	loop := &fakeLoop{st: observerproto.StateResponse{Frame: 5, Clients: 2, UpToDate: 1, Honeypot: 300}}
	s, ts, _ := newTestServer(t, loop)
	s.IndexStats = func() indexdb.Stats { return indexdb.Stats{QueueDepth: 4, DropLedgerTotal: 2} }

	if code, body := get(t, ts.URL+"/healthz", ""); code != http.StatusOK || body != "ok" {
		t.Fatalf("healthz code=%d body=%q", code, body)
	}
	code, body := get(t, ts.URL+"/metrics", "")
	if code != http.StatusOK {
		t.Fatalf("metrics code=%d", code)
	}
	for _, want := range []string{
		"goldprime_frame 5\n",
		`goldprime_clients{state="pending"} 1`,
		`goldprime_credit{pool="honeypot"} 300`,
		"goldprime_index_queue_depth 4\n",
		`goldprime_index_dropped_total{table="ledger"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}

	loop.err = errors.New("loop stopped")
	if code, _ := get(t, ts.URL+"/metrics", ""); code != http.StatusServiceUnavailable {
		t.Fatalf("stopped loop code=%d", code)
	}
}

func TestObserverFeed(t *testing.T) {
	s, ts, tok := newTestServer(t, &fakeLoop{})
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/admin/v1/observer/ws?token=" + tok
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for s.Subscribers() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("never subscribed")
		}
		time.Sleep(time.Millisecond)
	}

	s.ObserveFrame(observerproto.FrameMsg{Type: "FRAME", ProtocolVersion: observerproto.Version, Frame: 9, TotalCredit: 100})
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg observerproto.FrameMsg
	if err := json.Unmarshal(b, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Frame != 9 || msg.TotalCredit != 100 {
		t.Fatalf("msg=%+v", msg)
	}
}

func TestSendLatestKeepsNewest(t *testing.T) {
	ch := make(chan []byte, 1)
	if !sendLatest(ch, []byte("a")) {
		t.Fatalf("first send dropped")
	}
	if sendLatest(ch, []byte("b")) {
		t.Fatalf("second send should replace the first")
	}
	if got := string(<-ch); got != "b" {
		t.Fatalf("got %q want b", got)
	}
}
