package accounting

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/decred/slog"
	"github.com/google/uuid"

	"goldprime.ai/internal/coins"
)

// WithdrawalWriter hands withdrawals to the external payer. Each withdrawal
// is one file, staged in tmp/ and renamed into pending_withdrawals/.
type WithdrawalWriter struct {
	dirs  Dirs
	log   slog.Logger
	rec   LedgerRecorder
	clock atomic.Uint64

	now func() time.Time
}

func NewWithdrawalWriter(dirs Dirs, log slog.Logger, rec LedgerRecorder) *WithdrawalWriter {
	if log == nil {
		log = slog.Disabled
	}
	return &WithdrawalWriter{dirs: dirs, log: log, rec: rec, now: time.Now}
}

// Actuate durably records a payout of amount credit to address. Once it
// returns nil the payout is committed.
func (w *WithdrawalWriter) Actuate(address string, amount coins.Int) error {
	now := w.now().UTC()
	name := fmt.Sprintf("%d-%d-%s", now.Unix(), w.clock.Add(1), uuid.NewString())
	wei := coins.CoinsIntToWeiDepositString(amount)

	tmp := filepath.Join(w.dirs.Tmp(), name)
	if err := writeSynced(tmp, []byte(address+" "+wei+"\n")); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("stage withdrawal: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(w.dirs.Withdrawals(), name)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit withdrawal: %w", err)
	}
	w.log.Infof("withdrawal %s %s committed as %s", address, coins.DollarString(amount), name)
	if w.rec != nil {
		_ = w.rec.RecordLedger(LedgerEntry{Time: now, Kind: "withdrawal", Address: address, Amount: uint64(amount), Wei: wei, File: name})
	}
	return nil
}

func writeSynced(path string, b []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
