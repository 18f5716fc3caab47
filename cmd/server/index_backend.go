package main

import (
	"path/filepath"

	"github.com/decred/slog"

	"goldprime.ai/internal/accounting"
	"goldprime.ai/internal/game"
	"goldprime.ai/internal/persistence/indexdb"
)

// openIndex opens the sqlite read model. It never affects the game: a
// failure disables indexing instead of stopping the server.
func openIndex(dataDir string, disableDB bool, log slog.Logger) *indexdb.SQLiteIndex {
	if disableDB {
		log.Infof("index disabled")
		return nil
	}
	path := filepath.Join(dataDir, "index.db")
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		log.Errorf("open index %s: %v (continuing without it)", path, err)
		return nil
	}
	log.Infof("index at %s", path)
	return idx
}

type multiFrameLogger []game.FrameLogger

func (m multiFrameLogger) WriteFrame(entry game.FrameLogEntry) error {
	var first error
	for _, l := range m {
		if err := l.WriteFrame(entry); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type multiAuditLogger []game.AuditLogger

func (m multiAuditLogger) WriteAudit(entry game.AuditEntry) error {
	var first error
	for _, l := range m {
		if err := l.WriteAudit(entry); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type multiLedgerRecorder []accounting.LedgerRecorder

func (m multiLedgerRecorder) RecordLedger(entry accounting.LedgerEntry) error {
	var first error
	for _, l := range m {
		if err := l.RecordLedger(entry); err != nil && first == nil {
			first = err
		}
	}
	return first
}
