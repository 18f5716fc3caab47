package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"goldprime.ai/internal/adminauth"
	"goldprime.ai/internal/coins"
	"goldprime.ai/internal/game"
	persistlog "goldprime.ai/internal/persistence/log"
	"goldprime.ai/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "audit":
			auditCmd(os.Args[2:])
			return
		case "verify":
			verifyCmd(os.Args[2:])
			return
		case "token":
			tokenCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints the header of every snapshot in the data dir.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	dir := filepath.Join(*dataDir, "snapshots")
	frames, err := snapshot.List(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	for _, f := range frames {
		h, err := snapshot.ReadHeader(snapshot.PathFor(dir, f))
		if err != nil {
			fmt.Fprintf(os.Stderr, "%d: %v\n", f, err)
			continue
		}
		fmt.Printf("frame=%d players=%d entities=%d credit=%s digest=%s\n",
			h.Frame, h.Players, h.Entities, coins.DollarString(coins.Int(h.TotalCredit)), h.Digest)
	}
}

// auditCmd prints fiat operations from the audit log, optionally filtered.
func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	address := fs.String("address", "", "only this address (optional)")
	action := fs.String("action", "", "deposit|withdraw|honeypot (optional)")
	since := fs.Uint64("since_frame", 0, "from this frame (inclusive)")
	refused := fs.Bool("refused", false, "only operations the ledger refused")
	_ = fs.Parse(args)

	var (
		n       int
		created uint64
		removed uint64
	)
	err := persistlog.ReadAll(filepath.Join(*dataDir, "audit"), "audit", func(e game.AuditEntry) error {
		if e.Frame < *since {
			return nil
		}
		if *address != "" && !strings.EqualFold(e.Address, *address) {
			return nil
		}
		if *action != "" && e.Action != *action {
			return nil
		}
		if *refused && e.Applied {
			return nil
		}
		printJSON(e)
		n++
		if e.Applied {
			if e.Action == "withdraw" {
				removed += e.Amount
			} else {
				created += e.Amount
			}
		}
		return nil
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "read audit:", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "entries=%d created=%s destroyed=%s\n", n,
		coins.DollarString(coins.Int(created)), coins.DollarString(coins.Int(removed)))
}

// verifyCmd unpacks a snapshot and checks its digest.
func verifyCmd(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to latest)")
	top := fs.Int("top", 10, "print the richest players")
	_ = fs.Parse(args)

	path := *snapPath
	if path == "" {
		var err error
		path, _, err = snapshot.Latest(filepath.Join(*dataDir, "snapshots"))
		if err != nil {
			fmt.Fprintln(os.Stderr, "latest:", err)
			os.Exit(2)
		}
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	g, err := game.NewGameFromBytes(snap.Game)
	if err != nil {
		fmt.Fprintln(os.Stderr, "unpack:", err)
		os.Exit(1)
	}
	if d := g.Digest(); d != snap.Header.Digest {
		fmt.Fprintf(os.Stderr, "digest mismatch: header=%s game=%s\n", snap.Header.Digest, d)
		os.Exit(1)
	}
	if got := uint64(g.TotalCredit()); got != snap.Header.TotalCredit {
		fmt.Fprintf(os.Stderr, "credit mismatch: header=%d game=%d\n", snap.Header.TotalCredit, got)
		os.Exit(1)
	}
	fmt.Printf("verify ok: %s frame=%d credit=%s honeypot=%s\n",
		filepath.Base(path), g.Frame, coins.DollarString(g.TotalCredit()), coins.DollarString(g.Honeypot.Held()))
	for _, p := range g.TopPlayers(*top) {
		fmt.Printf("  %s %s\n", p.Address, coins.DollarString(p.Credit.Held()))
	}
}

// tokenCmd mints an admin bearer token from the server's key file.
func tokenCmd(args []string) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	keyFile := fs.String("key", "", "jwt key path (optional; defaults to <data>/admin_jwt.key)")
	subject := fs.String("sub", "admin", "token subject")
	ttl := fs.Duration("ttl", adminauth.DefaultTTL, "token lifetime")
	_ = fs.Parse(args)

	path := *keyFile
	if path == "" {
		path = filepath.Join(*dataDir, "admin_jwt.key")
	}
	a, err := adminauth.LoadKey(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load key:", err)
		os.Exit(1)
	}
	tok, err := a.Mint(*subject, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mint:", err)
		os.Exit(1)
	}
	fmt.Println(tok)
	fmt.Fprintf(os.Stderr, "expires %s\n", time.Now().Add(*ttl).UTC().Format(time.RFC3339))
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}
