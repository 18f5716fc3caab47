// Package log keeps the server's append-only records: one JSON object per
// line, zstd-compressed, in hourly files.
//
// Every line is written as its own zstd block, so a file cut short by a crash
// still reads back up to its last line. A process never appends to a file it
// did not create; a restart within the hour opens the next sequence number.
package log

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"goldprime.ai/internal/accounting"
	"goldprime.ai/internal/game"
)

const fileSuffix = ".jsonl.zst"

// Writer appends JSON lines under dir to files named
// <prefix>-<YYYY-MM-DD-HH>-<seq>.jsonl.zst.
type Writer struct {
	dir    string
	prefix string
	now    func() time.Time

	mu   sync.Mutex
	hour string
	f    *os.File
	enc  *zstd.Encoder
	line []byte
}

func NewWriter(dir, prefix string) *Writer {
	return &Writer{dir: dir, prefix: prefix, now: time.Now}
}

// Append writes v as one line. A durable line is on disk when
// Append returns.
func (w *Writer) Append(v any, durable bool) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if hour := w.now().UTC().Format("2006-01-02-15"); hour != w.hour {
		if err := w.openLocked(hour); err != nil {
			return err
		}
	}
	w.line = append(append(w.line[:0], b...), '\n')
	if _, err := w.enc.Write(w.line); err != nil {
		return err
	}
	if err := w.enc.Flush(); err != nil {
		return err
	}
	if durable {
		return w.f.Sync()
	}
	return nil
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *Writer) openLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	var f *os.File
	for seq := 0; ; seq++ {
		path := filepath.Join(w.dir, fmt.Sprintf("%s-%s-%03d%s", w.prefix, hour, seq, fileSuffix))
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return err
		}
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderConcurrency(1))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f, w.enc, w.hour = f, enc, hour
	return nil
}

func (w *Writer) closeLocked() error {
	if w.f == nil {
		return nil
	}
	err := w.enc.Close()
	if serr := w.f.Sync(); err == nil {
		err = serr
	}
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	w.f, w.enc, w.hour = nil, nil, ""
	return err
}

// FrameLogger records every frame. Frames that carry ledger events are
// synced before the next frame starts; a restart replays them.
type FrameLogger struct{ w *Writer }

func NewFrameLogger(dataDir string) *FrameLogger {
	return &FrameLogger{w: NewWriter(filepath.Join(dataDir, "frames"), "frames")}
}

func (l *FrameLogger) WriteFrame(e game.FrameLogEntry) error { return l.w.Append(e, len(e.Events) > 0) }
func (l *FrameLogger) Close() error                          { return l.w.Close() }

// AuditLogger records fiat operations.
type AuditLogger struct{ w *Writer }

func NewAuditLogger(dataDir string) *AuditLogger {
	return &AuditLogger{w: NewWriter(filepath.Join(dataDir, "audit"), "audit")}
}

func (l *AuditLogger) WriteAudit(e game.AuditEntry) error { return l.w.Append(e, true) }
func (l *AuditLogger) Close() error                       { return l.w.Close() }

// LedgerLogger records committed deposit and withdrawal files.
type LedgerLogger struct{ w *Writer }

func NewLedgerLogger(dataDir string) *LedgerLogger {
	return &LedgerLogger{w: NewWriter(filepath.Join(dataDir, "ledger"), "ledger")}
}

func (l *LedgerLogger) RecordLedger(e accounting.LedgerEntry) error { return l.w.Append(e, true) }
func (l *LedgerLogger) Close() error                                { return l.w.Close() }
