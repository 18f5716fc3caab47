package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"goldprime.ai/internal/accounting"
	"goldprime.ai/internal/game"
	"goldprime.ai/internal/persistence/snapshot"
)

// SQLiteIndex is a queryable secondary index over frames, fiat audits, ledger
// files and snapshots. Writes are queued to one writer goroutine and dropped
// when it falls behind; the JSONL logs remain the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropFrame    atomic.Uint64
	dropAudit    atomic.Uint64
	dropLedger   atomic.Uint64
	dropSnapshot atomic.Uint64
}

type reqKind int

const (
	reqFrame reqKind = iota + 1
	reqAudit
	reqLedger
	reqSnapshot
)

type req struct {
	kind reqKind

	frame    game.FrameLogEntry
	audit    game.AuditEntry
	ledger   accounting.LedgerEntry
	snapshot snapshotRow
}

type snapshotRow struct {
	Frame       uint64
	Path        string
	Digest      string
	TotalCredit uint64
	Players     int
	Entities    int
}

type Stats struct {
	QueueDepth    int `json:"queue_depth"`
	QueueCapacity int `json:"queue_capacity"`

	DropFrameTotal    uint64 `json:"drop_frame_total"`
	DropAuditTotal    uint64 `json:"drop_audit_total"`
	DropLedgerTotal   uint64 `json:"drop_ledger_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS frames (
			frame INTEGER PRIMARY KEY,
			digest TEXT NOT NULL,
			cmds INTEGER NOT NULL,
			events INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS audits (
			frame INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			action TEXT NOT NULL,
			address TEXT NOT NULL,
			amount INTEGER NOT NULL,
			applied INTEGER NOT NULL,
			reason TEXT,
			PRIMARY KEY (frame, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_address_frame ON audits(address, frame);`,
		`CREATE TABLE IF NOT EXISTS ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			recorded_at TEXT NOT NULL,
			kind TEXT NOT NULL,
			address TEXT NOT NULL,
			amount INTEGER NOT NULL,
			wei TEXT NOT NULL,
			file TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_address ON ledger(address, id);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			frame INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			digest TEXT NOT NULL,
			total_credit INTEGER NOT NULL,
			players INTEGER NOT NULL,
			entities INTEGER NOT NULL
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		drops.Add(1)
	}
}

func (s *SQLiteIndex) WriteFrame(entry game.FrameLogEntry) error {
	s.enqueue(req{kind: reqFrame, frame: entry}, &s.dropFrame)
	return nil
}

func (s *SQLiteIndex) WriteAudit(entry game.AuditEntry) error {
	s.enqueue(req{kind: reqAudit, audit: entry}, &s.dropAudit)
	return nil
}

func (s *SQLiteIndex) RecordLedger(entry accounting.LedgerEntry) error {
	s.enqueue(req{kind: reqLedger, ledger: entry}, &s.dropLedger)
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, h snapshot.Header) {
	s.enqueue(req{kind: reqSnapshot, snapshot: snapshotRow{
		Frame:       h.Frame,
		Path:        path,
		Digest:      h.Digest,
		TotalCredit: h.TotalCredit,
		Players:     h.Players,
		Entities:    h.Entities,
	}}, &s.dropSnapshot)
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropFrameTotal:    s.dropFrame.Load(),
		DropAuditTotal:    s.dropAudit.Load(),
		DropLedgerTotal:   s.dropLedger.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertFrame, _ := s.db.Prepare(`INSERT OR REPLACE INTO frames(frame,digest,cmds,events,raw_json) VALUES(?,?,?,?,?)`)
	insertAudit, _ := s.db.Prepare(`INSERT OR REPLACE INTO audits(frame,seq,action,address,amount,applied,reason) VALUES(?,?,?,?,?,?,?)`)
	insertLedger, _ := s.db.Prepare(`INSERT INTO ledger(recorded_at,kind,address,amount,wei,file) VALUES(?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(frame,path,digest,total_credit,players,entities) VALUES(?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertFrame, insertAudit, insertLedger, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second

		lastAuditFrame uint64
		auditSeq       int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqFrame:
			b, _ := json.Marshal(r.frame)
			exec(insertFrame, int64(r.frame.Frame), r.frame.Digest, len(r.frame.Cmds), len(r.frame.Events), string(b))

		case reqAudit:
			a := r.audit
			if a.Frame != lastAuditFrame {
				lastAuditFrame = a.Frame
				auditSeq = 0
			}
			seq := auditSeq
			auditSeq++
			exec(insertAudit, int64(a.Frame), seq, a.Action, a.Address, int64(a.Amount), a.Applied, a.Reason)

		case reqLedger:
			l := r.ledger
			exec(insertLedger, l.Time.UTC().Format(time.RFC3339Nano), l.Kind, l.Address, int64(l.Amount), l.Wei, l.File)

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, int64(sn.Frame), sn.Path, sn.Digest, int64(sn.TotalCredit), sn.Players, sn.Entities)
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}
