package server

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"goldprime.ai/internal/game"
	persistlog "goldprime.ai/internal/persistence/log"
	"goldprime.ai/internal/persistence/snapshot"
)

func TestResumeReplaysWithdrawalAfterSnapshot(t *testing.T) {
	dir := t.TempDir()
	snapDir := filepath.Join(dir, "snapshots")

	f := newFixture(t, nil)
	fl := persistlog.NewFrameLogger(dir)
	t.Cleanup(func() { _ = fl.Close() })
	snaps := &memSnapshots{}
	f.loop.frameLog = fl
	f.loop.snapshots = snaps
	f.loop.cfg.SnapshotEvery = 2

	f.dep.batches = [][]game.Event{{&game.BalanceUpdateEvent{Address: addrA, Amount: 500, IsDeposit: true}}}
	f.loop.Step()
	f.loop.Step()
	if len(snaps.snaps) != 1 || snaps.snaps[0].Header.Frame != 2 {
		t.Fatalf("snapshots=%d", len(snaps.snaps))
	}
	if err := snapshot.WriteSnapshot(snapshot.PathFor(snapDir, 2), snaps.snaps[0]); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}

	f.loop.pendingCmds = append(f.loop.pendingCmds, game.AuthdCmd{Address: addrA, Cmd: &game.WithdrawCmd{}})
	f.loop.Step()
	f.loop.Step()
	if len(f.wd.paid) != 1 || f.wd.paid[0] != (payout{addrA, 500}) {
		t.Fatalf("paid=%+v", f.wd.paid)
	}

	// Crash: the frame log is never closed.
	g, info, err := Resume(snapDir, filepath.Join(dir, "frames"), nil)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if info.SnapshotFrame != 2 || info.Replayed != 2 {
		t.Fatalf("info=%+v", info)
	}
	if g.Frame != f.g.Frame || g.Digest() != f.g.Digest() {
		t.Fatalf("resumed frame=%d, live frame=%d", g.Frame, f.g.Frame)
	}
	if g.CreditOf(addrA) != 0 {
		t.Fatalf("credit=%d after resume, the payout was refunded", g.CreditOf(addrA))
	}

	wd := &fakeWithdrawals{}
	l := NewLoop(Config{FrameInterval: time.Millisecond}, g, nil, Options{Deposits: &fakeDeposits{}, Withdrawals: wd})
	l.pendingCmds = append(l.pendingCmds, game.AuthdCmd{Address: addrA, Cmd: &game.WithdrawCmd{}})
	l.Step()
	l.Step()
	if len(wd.paid) != 0 {
		t.Fatalf("paid again after resume: %+v", wd.paid)
	}
}

func TestResumeWithoutSnapshotStartsFresh(t *testing.T) {
	dir := t.TempDir()
	g, info, err := Resume(filepath.Join(dir, "snapshots"), filepath.Join(dir, "frames"), nil)
	if err != nil || info.Snapshot != "" || g.Frame != 0 {
		t.Fatalf("info=%+v frame=%d err=%v", info, g.Frame, err)
	}
}

func TestResumeRefusesBrokenLog(t *testing.T) {
	base := game.NewGame()
	base.Frame = 7
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{Version: snapshot.Version, Frame: 7, Digest: base.Digest()},
		Game:   base.PackBytes(),
	}

	for name, entry := range map[string]game.FrameLogEntry{
		"gap":     {Frame: 8, Digest: "x"},
		"diverge": {Frame: 7, Digest: "not-the-digest"},
	} {
		dir := t.TempDir()
		snapDir := filepath.Join(dir, "snapshots")
		if err := snapshot.WriteSnapshot(snapshot.PathFor(snapDir, 7), snap); err != nil {
			t.Fatalf("%s: write snapshot: %v", name, err)
		}
		fl := persistlog.NewFrameLogger(dir)
		_ = fl.WriteFrame(game.FrameLogEntry{Frame: 6, Digest: "older frames are skipped"})
		_ = fl.WriteFrame(entry)
		_ = fl.Close()

		_, _, err := Resume(snapDir, filepath.Join(dir, "frames"), nil)
		want := game.ErrFrameGap
		if name == "diverge" {
			want = game.ErrDigestMismatch
		}
		if !errors.Is(err, want) {
			t.Fatalf("%s: err=%v", name, err)
		}
	}
}
