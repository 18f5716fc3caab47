package accounting

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"goldprime.ai/internal/game"
)

type memRecorder struct{ entries []LedgerEntry }

func (m *memRecorder) RecordLedger(e LedgerEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

func newDirs(t *testing.T) Dirs {
	t.Helper()
	d := Dirs{Root: t.TempDir()}
	if err := d.Ensure(); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	return d
}

func writeDeposit(t *testing.T, d Dirs, name, content string) string {
	t.Helper()
	p := filepath.Join(d.Deposits(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestDepositPoller_DepositAndHoneypot(t *testing.T) {
	d := newDirs(t)
	rec := &memRecorder{}
	p := writeDeposit(t, d, "0001", "0xABC 2000000000000000000\nhoneypot 5000000000000000000\n")

	events, err := NewDepositPoller(d, nil, rec).Poll()
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events=%d want 2", len(events))
	}
	bu, ok := events[0].(*game.BalanceUpdateEvent)
	if !ok || bu.Address != "0xABC" || bu.Amount != 2000 || !bu.IsDeposit {
		t.Fatalf("event0=%+v", events[0])
	}
	hp, ok := events[1].(*game.HoneypotAddedEvent)
	if !ok || hp.Amount != 5000 {
		t.Fatalf("event1=%+v", events[1])
	}
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Fatalf("deposit file not removed: %v", err)
	}
	if len(rec.entries) != 2 || rec.entries[0].Kind != "deposit" || rec.entries[1].Kind != "honeypot" {
		t.Fatalf("ledger=%+v", rec.entries)
	}

	// Nothing left to account.
	events, err = NewDepositPoller(d, nil, nil).Poll()
	if err != nil || len(events) != 0 {
		t.Fatalf("second poll events=%d err=%v", len(events), err)
	}
}

func TestDepositPoller_SkipsMalformedLines(t *testing.T) {
	d := newDirs(t)
	writeDeposit(t, d, "a", strings.Join([]string{
		"garbage",
		"0xABC not-a-number",
		"0xABC -5",
		"0xABC 1000000000000000000 extra",
		"nothex 1000000000000000000",
		"0xDEF 999999999999999",
		"",
		"0xDEF 1000000000000000",
	}, "\n"))

	events, err := NewDepositPoller(d, nil, nil).Poll()
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events=%d want 1: %+v", len(events), events)
	}
	if bu := events[0].(*game.BalanceUpdateEvent); bu.Address != "0xDEF" || bu.Amount != 1 {
		t.Fatalf("event=%+v", bu)
	}
}

func TestDepositPoller_FilesInNameOrderAndChecksummed(t *testing.T) {
	d := newDirs(t)
	writeDeposit(t, d, "0002", "honeypot 3000000000000000000\n")
	writeDeposit(t, d, "0001", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed 1000000000000000000\n")
	writeDeposit(t, d, ".partial", "0xABC 1000000000000000000\n")

	events, err := NewDepositPoller(d, nil, nil).Poll()
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events=%d want 2", len(events))
	}
	bu := events[0].(*game.BalanceUpdateEvent)
	if bu.Address != "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed" {
		t.Fatalf("address=%s", bu.Address)
	}
	if _, ok := events[1].(*game.HoneypotAddedEvent); !ok {
		t.Fatalf("event1=%T", events[1])
	}
	if _, err := os.Stat(filepath.Join(d.Deposits(), ".partial")); err != nil {
		t.Fatalf("hidden file touched: %v", err)
	}
}

func TestDepositPoller_MissingDirIsAnError(t *testing.T) {
	if _, err := NewDepositPoller(Dirs{Root: filepath.Join(t.TempDir(), "nope")}, nil, nil).Poll(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestWithdrawalWriter_CommitsByRename(t *testing.T) {
	d := newDirs(t)
	rec := &memRecorder{}
	w := NewWithdrawalWriter(d, nil, rec)

	if err := w.Actuate("0xABC", 500); err != nil {
		t.Fatalf("actuate: %v", err)
	}
	if err := w.Actuate("0xABC", 1); err != nil {
		t.Fatalf("actuate: %v", err)
	}

	tmp, _ := os.ReadDir(d.Tmp())
	if len(tmp) != 0 {
		t.Fatalf("tmp not empty: %d", len(tmp))
	}
	files, err := os.ReadDir(d.Withdrawals())
	if err != nil || len(files) != 2 {
		t.Fatalf("withdrawals=%d err=%v", len(files), err)
	}
	var contents []string
	for _, f := range files {
		b, err := os.ReadFile(filepath.Join(d.Withdrawals(), f.Name()))
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		contents = append(contents, string(b))
	}
	want := map[string]bool{"0xABC 500000000000000000\n": true, "0xABC 1000000000000000\n": true}
	for _, c := range contents {
		if !want[c] {
			t.Fatalf("unexpected withdrawal %q", c)
		}
	}
	if len(rec.entries) != 2 || rec.entries[0].Kind != "withdrawal" || rec.entries[0].Wei != "500000000000000000" {
		t.Fatalf("ledger=%+v", rec.entries)
	}
}

func TestWithdrawalWriter_FailsWithoutDirs(t *testing.T) {
	w := NewWithdrawalWriter(Dirs{Root: filepath.Join(t.TempDir(), "nope")}, nil, nil)
	if err := w.Actuate("0xABC", 5); err == nil {
		t.Fatalf("expected error")
	}
}
