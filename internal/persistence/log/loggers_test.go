package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"goldprime.ai/internal/game"
)

func readJSONL(t *testing.T, dir string) []map[string]any {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.jsonl.zst"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("files=%v err=%v", matches, err)
	}
	f, err := os.Open(matches[0])
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	defer dec.Close()

	var out []map[string]any
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

func TestFrameAndAuditLoggers(t *testing.T) {
	dir := t.TempDir()
	fl := NewFrameLogger(dir)
	al := NewAuditLogger(dir)

	for i := uint64(0); i < 3; i++ {
		if err := fl.WriteFrame(game.FrameLogEntry{Frame: i, Digest: "d"}); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}
	if err := al.WriteAudit(game.AuditEntry{Frame: 2, Action: "deposit", Address: "0xABC", Amount: 2000, Applied: true}); err != nil {
		t.Fatalf("write audit: %v", err)
	}
	if err := fl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := al.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	frames := readJSONL(t, filepath.Join(dir, "frames"))
	if len(frames) != 3 || frames[2]["frame"].(float64) != 2 {
		t.Fatalf("frames=%v", frames)
	}
	audits := readJSONL(t, filepath.Join(dir, "audit"))
	if len(audits) != 1 || audits[0]["action"] != "deposit" || audits[0]["amount"].(float64) != 2000 {
		t.Fatalf("audits=%v", audits)
	}
}

func TestWriterSurvivesCrashAndRestartInSameHour(t *testing.T) {
	dir := t.TempDir()
	hour := func() time.Time { return time.Date(2026, 10, 19, 15, 4, 0, 0, time.UTC) }

	first := NewWriter(dir, "frames")
	first.now = hour
	for i := uint64(0); i < 3; i++ {
		if err := first.Append(game.FrameLogEntry{Frame: i, Digest: "d"}, i == 2); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	// Crash: the file is never finished.
	_ = first.f.Close()

	second := NewWriter(dir, "frames")
	second.now = hour
	for i := uint64(3); i < 5; i++ {
		if err := second.Append(game.FrameLogEntry{Frame: i, Digest: "d"}, false); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := second.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := ListFiles(dir, "frames")
	if err != nil || len(files) != 2 {
		t.Fatalf("files=%v err=%v", files, err)
	}
	if filepath.Base(files[0]) != "frames-2026-10-19-15-000.jsonl.zst" || filepath.Base(files[1]) != "frames-2026-10-19-15-001.jsonl.zst" {
		t.Fatalf("files=%v", files)
	}

	var got []uint64
	if err := ReadAll(dir, "frames", func(e game.FrameLogEntry) error {
		got = append(got, e.Frame)
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("frames=%v", got)
	}
	for i, f := range got {
		if f != uint64(i) {
			t.Fatalf("frames=%v", got)
		}
	}
}
