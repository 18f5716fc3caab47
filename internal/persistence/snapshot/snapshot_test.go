package snapshot

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteReadSnapshot(t *testing.T) {
	dir := t.TempDir()
	in := SnapshotV1{
		Header: Header{Version: Version, Frame: 120, Digest: "abc", TotalCredit: 5000, Players: 2, Entities: 3},
		Game:   []byte{1, 2, 3, 4, 5},
	}
	path := PathFor(dir, in.Header.Frame)
	if err := WriteSnapshot(path, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Header != in.Header || !bytes.Equal(out.Game, in.Game) {
		t.Fatalf("out=%+v", out)
	}
	h, err := ReadHeader(path)
	if err != nil || h != in.Header {
		t.Fatalf("header=%+v err=%v", h, err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("tmp file left behind")
	}
}

func TestLatest(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := Latest(filepath.Join(dir, "missing")); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("missing dir err=%v", err)
	}
	for _, f := range []uint64{9, 100, 20} {
		if err := WriteSnapshot(PathFor(dir, f), SnapshotV1{Header: Header{Version: Version, Frame: f}}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	_ = os.WriteFile(filepath.Join(dir, "junk.snap.zst"), nil, 0o644)

	path, frame, err := Latest(dir)
	if err != nil || frame != 100 || path != PathFor(dir, 100) {
		t.Fatalf("path=%s frame=%d err=%v", path, frame, err)
	}
	frames, err := List(dir)
	if err != nil || len(frames) != 3 || frames[0] != 9 || frames[2] != 100 {
		t.Fatalf("frames=%v err=%v", frames, err)
	}
}

func TestWriter_FlushesOnCancel(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, nil, 4)
	written := make(chan uint64, 4)
	w.OnWritten = func(_ string, h Header) { written <- h.Frame }

	if !w.Submit(SnapshotV1{Header: Header{Version: Version, Frame: 7}}) {
		t.Fatalf("submit dropped")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	select {
	case f := <-written:
		if f != 7 {
			t.Fatalf("frame=%d", f)
		}
	case <-time.After(time.Second):
		t.Fatalf("snapshot not written")
	}
}

func TestWriter_SubmitDropsWhenFull(t *testing.T) {
	w := NewWriter(t.TempDir(), nil, 1)
	if !w.Submit(SnapshotV1{}) {
		t.Fatalf("first submit dropped")
	}
	if w.Submit(SnapshotV1{}) {
		t.Fatalf("second submit accepted")
	}
}
