// Package accounting exchanges deposits and withdrawals with the external
// payment process through files in a shared directory.
//
// Layout under the root:
//
//	pending_deposits/     written by the chain watcher, consumed and removed here
//	pending_withdrawals/  written here (rename from tmp/), consumed by the payer
//	tmp/                  staging for withdrawal files
package accounting

import (
	"os"
	"path/filepath"
	"regexp"
	"time"

	"goldprime.ai/internal/auth"
)

const (
	DepositsDir    = "pending_deposits"
	WithdrawalsDir = "pending_withdrawals"
	TmpDir         = "tmp"

	// HoneypotAddress marks a deposit line that feeds the honeypot.
	HoneypotAddress = "honeypot"
)

type Dirs struct {
	Root string
}

func (d Dirs) Deposits() string    { return filepath.Join(d.Root, DepositsDir) }
func (d Dirs) Withdrawals() string { return filepath.Join(d.Root, WithdrawalsDir) }
func (d Dirs) Tmp() string         { return filepath.Join(d.Root, TmpDir) }

func (d Dirs) Ensure() error {
	for _, p := range []string{d.Deposits(), d.Withdrawals(), d.Tmp()} {
		if err := os.MkdirAll(p, 0o755); err != nil {
			return err
		}
	}
	return nil
}

type LedgerEntry struct {
	Time    time.Time `json:"time"`
	Kind    string    `json:"kind"` // deposit, honeypot, withdrawal
	Address string    `json:"address,omitempty"`
	Amount  uint64    `json:"amount"`
	Wei     string    `json:"wei"`
	File    string    `json:"file"`
}

// LedgerRecorder receives every entry once it has been committed.
type LedgerRecorder interface {
	RecordLedger(entry LedgerEntry) error
}

var hexAddress = regexp.MustCompile(`^0[xX][0-9a-fA-F]{40}$`)

// normalizeAddress checksums full-length hex addresses so they match the
// addresses handed out at login. Anything else is kept verbatim.
func normalizeAddress(addr string) string {
	if hexAddress.MatchString(addr) {
		return auth.ChecksumAddress(addr)
	}
	return addr
}
