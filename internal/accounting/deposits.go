package accounting

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/decred/slog"

	"goldprime.ai/internal/coins"
	"goldprime.ai/internal/game"
)

// DepositPoller turns deposit files into events. A file is removed only
// after every line in it was accounted; removal is the commit point.
type DepositPoller struct {
	dirs Dirs
	log  slog.Logger
	rec  LedgerRecorder
}

func NewDepositPoller(dirs Dirs, log slog.Logger, rec LedgerRecorder) *DepositPoller {
	if log == nil {
		log = slog.Disabled
	}
	return &DepositPoller{dirs: dirs, log: log, rec: rec}
}

// Poll consumes every pending deposit file in name order. Malformed lines are
// skipped with a warning; unreadable files stay for the next poll.
func (p *DepositPoller) Poll() ([]game.Event, error) {
	entries, err := os.ReadDir(p.dirs.Deposits())
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var events []game.Event
	for _, name := range names {
		path := filepath.Join(p.dirs.Deposits(), name)
		b, err := os.ReadFile(path)
		if err != nil {
			p.log.Warnf("read deposit file %s: %v", name, err)
			continue
		}
		evs, ledger, err := p.parse(name, b)
		if err != nil {
			p.log.Warnf("parse deposit file %s: %v (left for retry)", name, err)
			continue
		}
		if err := os.Remove(path); err != nil {
			p.log.Errorf("remove deposit file %s: %v (left for retry, %d entries not applied)", name, err, len(evs))
			continue
		}
		events = append(events, evs...)
		for _, le := range ledger {
			p.log.Infof("%s %s %s from %s", le.Kind, le.Address, coins.DollarString(coins.Int(le.Amount)), name)
			if p.rec != nil {
				_ = p.rec.RecordLedger(le)
			}
		}
	}
	return events, nil
}

func (p *DepositPoller) parse(name string, b []byte) ([]game.Event, []LedgerEntry, error) {
	var (
		events []game.Event
		ledger []LedgerEntry
		now    = time.Now().UTC()
	)
	sc := bufio.NewScanner(bytes.NewReader(b))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			p.log.Warnf("%s:%d: expected \"<address> <wei>\", skipping %q", name, lineNo, line)
			continue
		}
		addr, wei := fields[0], fields[1]
		amount, err := coins.WeiDepositStringToCoinsInt(wei)
		if err != nil {
			p.log.Warnf("%s:%d: %v, skipping", name, lineNo, err)
			continue
		}
		if amount == 0 {
			p.log.Debugf("%s:%d: %s wei is below one credit unit", name, lineNo, wei)
			continue
		}
		if addr == HoneypotAddress {
			events = append(events, &game.HoneypotAddedEvent{Amount: amount})
			ledger = append(ledger, LedgerEntry{Time: now, Kind: "honeypot", Amount: uint64(amount), Wei: wei, File: name})
			continue
		}
		if len(addr) > game.MaxAddressLen || !strings.HasPrefix(addr, "0x") {
			p.log.Warnf("%s:%d: bad address %q, skipping", name, lineNo, addr)
			continue
		}
		addr = normalizeAddress(addr)
		events = append(events, &game.BalanceUpdateEvent{Address: addr, Amount: amount, IsDeposit: true})
		ledger = append(ledger, LedgerEntry{Time: now, Kind: "deposit", Address: addr, Amount: uint64(amount), Wei: wei, File: name})
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	return events, ledger, nil
}
