package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// dbCmd queries the sqlite index the server maintains next to its logs.
func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional; defaults to <data>/index.db)")
	address := fs.String("address", "", "address filter (ledger, audits)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index.db")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	switch q {
	case "snapshots":
		err = queryRows(db, `SELECT frame,path,digest,total_credit,players,entities FROM snapshots ORDER BY frame DESC LIMIT ?`,
			[]any{*limit}, func(rows *sql.Rows) (any, error) {
				var r struct {
					Frame       int64  `json:"frame"`
					Path        string `json:"path"`
					Digest      string `json:"digest"`
					TotalCredit int64  `json:"total_credit"`
					Players     int    `json:"players"`
					Entities    int    `json:"entities"`
				}
				err := rows.Scan(&r.Frame, &r.Path, &r.Digest, &r.TotalCredit, &r.Players, &r.Entities)
				return r, err
			})

	case "ledger":
		query := `SELECT id,recorded_at,kind,address,amount,wei,file FROM ledger`
		qargs := []any{}
		if *address != "" {
			query += ` WHERE address=? COLLATE NOCASE`
			qargs = append(qargs, *address)
		}
		query += ` ORDER BY id DESC LIMIT ?`
		qargs = append(qargs, *limit)
		err = queryRows(db, query, qargs, func(rows *sql.Rows) (any, error) {
			var r struct {
				ID         int64  `json:"id"`
				RecordedAt string `json:"recorded_at"`
				Kind       string `json:"kind"`
				Address    string `json:"address"`
				Amount     int64  `json:"amount"`
				Wei        string `json:"wei"`
				File       string `json:"file"`
			}
			err := rows.Scan(&r.ID, &r.RecordedAt, &r.Kind, &r.Address, &r.Amount, &r.Wei, &r.File)
			return r, err
		})

	case "audits":
		query := `SELECT frame,seq,action,address,amount,applied,COALESCE(reason,'') FROM audits`
		qargs := []any{}
		if *address != "" {
			query += ` WHERE address=? COLLATE NOCASE`
			qargs = append(qargs, *address)
		}
		query += ` ORDER BY frame DESC, seq DESC LIMIT ?`
		qargs = append(qargs, *limit)
		err = queryRows(db, query, qargs, func(rows *sql.Rows) (any, error) {
			var r struct {
				Frame   int64  `json:"frame"`
				Seq     int    `json:"seq"`
				Action  string `json:"action"`
				Address string `json:"address"`
				Amount  int64  `json:"amount"`
				Applied bool   `json:"applied"`
				Reason  string `json:"reason,omitempty"`
			}
			err := rows.Scan(&r.Frame, &r.Seq, &r.Action, &r.Address, &r.Amount, &r.Applied, &r.Reason)
			return r, err
		})

	case "frames":
		err = queryRows(db, `SELECT frame,digest,cmds,events FROM frames ORDER BY frame DESC LIMIT ?`,
			[]any{*limit}, func(rows *sql.Rows) (any, error) {
				var r struct {
					Frame  int64  `json:"frame"`
					Digest string `json:"digest"`
					Cmds   int    `json:"cmds"`
					Events int    `json:"events"`
				}
				err := rows.Scan(&r.Frame, &r.Digest, &r.Cmds, &r.Events)
				return r, err
			})

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(snapshots|ledger|audits|frames)")
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, q+":", err)
		os.Exit(1)
	}
}

func queryRows(db *sql.DB, query string, args []any, scan func(*sql.Rows) (any, error)) error {
	rows, err := db.Query(query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return err
		}
		printJSON(r)
	}
	return rows.Err()
}
