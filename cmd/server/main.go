package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/decred/slog"
	"golang.org/x/sync/errgroup"

	"goldprime.ai/internal/accounting"
	"goldprime.ai/internal/adminauth"
	"goldprime.ai/internal/auth"
	"goldprime.ai/internal/config"
	"goldprime.ai/internal/game"
	persistlog "goldprime.ai/internal/persistence/log"
	"goldprime.ai/internal/persistence/snapshot"
	"goldprime.ai/internal/server"
	"goldprime.ai/internal/transport/observer"
	"goldprime.ai/internal/transport/tcp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "goldprime: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	defaults := config.Defaults()
	configPath := flag.String("config", "", "path to server.yaml (optional)")
	flag.String("listen", defaults.ListenAddr, "game TCP listen address")
	flag.String("http", defaults.HTTPAddr, "observer/admin http listen address (empty to disable)")
	flag.String("data", defaults.DataDir, "runtime data directory")
	flag.String("accounting", defaults.AccountingDir, "accounting directory shared with the payment process")
	flag.String("log_level", defaults.LogLevel, "trace|debug|info|warn|error|critical|off")
	flag.String("log_file", defaults.LogFile, "also log to this file")
	flag.Bool("disable_db", defaults.DisableDB, "disable the sqlite index")
	flag.Bool("load_latest_snapshot", defaults.LoadLatestSnapshot, "resume from the latest snapshot in the data dir")
	flag.Int("frame_ms", defaults.FrameMS, "frame interval in milliseconds")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// Only flags given on the command line override the file.
	var overrideErr error
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" || overrideErr != nil {
			return
		}
		overrideErr = cfg.Override(f.Name, f.Value.String())
	})
	if overrideErr != nil {
		return overrideErr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logs, err := newSubsystems(cfg.Level(), cfg.LogFile)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer logs.Close()
	log := logs.SRVR

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}
	dirs := accounting.Dirs{Root: cfg.AccountingDir}
	if err := dirs.Ensure(); err != nil {
		return fmt.Errorf("accounting dirs: %w", err)
	}

	snapDir := filepath.Join(cfg.DataDir, "snapshots")
	g, err := loadGame(snapDir, filepath.Join(cfg.DataDir, "frames"), cfg.LoadLatestSnapshot, log)
	if err != nil {
		return err
	}
	g.SetLogger(logs.AUDT)

	// Logs and index are read models; none of them feed back into the game.
	frameLog := persistlog.NewFrameLogger(cfg.DataDir)
	defer frameLog.Close()
	auditLog := persistlog.NewAuditLogger(cfg.DataDir)
	defer auditLog.Close()
	ledgerLog := persistlog.NewLedgerLogger(cfg.DataDir)
	defer ledgerLog.Close()

	frames := multiFrameLogger{frameLog}
	audits := multiAuditLogger{auditLog}
	ledger := multiLedgerRecorder{ledgerLog}
	idx := openIndex(cfg.DataDir, cfg.DisableDB, logs.IDX)
	if idx != nil {
		defer func() {
			st := idx.Stats()
			logs.IDX.Infof("closing index (dropped frames=%d audits=%d ledger=%d snapshots=%d)",
				st.DropFrameTotal, st.DropAuditTotal, st.DropLedgerTotal, st.DropSnapshotTotal)
			_ = idx.Close()
		}()
		frames = append(frames, idx)
		audits = append(audits, idx)
		ledger = append(ledger, idx)
	}
	g.SetAuditLogger(audits)

	snapW := snapshot.NewWriter(snapDir, log, 4)
	if idx != nil {
		snapW.OnWritten = idx.RecordSnapshot
	}

	verifier := &auth.Verifier{
		Admin:     auth.NewAdminRole(cfg.AdminToken, cfg.AdminAddress),
		Recoverer: auth.EthRecoverer{},
	}
	tcpCfg := tcp.DefaultConfig()
	tcpCfg.ChallengeLen = cfg.ChallengeLength
	tcpCfg.MaxHandshakeBytes = cfg.MaxHandshakeBytes
	tcpSrv := tcp.NewServer(tcpCfg, verifier, logs.CHAN, 0)

	loop := server.NewLoop(server.Config{
		FrameInterval: cfg.FrameInterval(),
		SnapshotEvery: cfg.SnapshotEveryFrames,
	}, g, tcpSrv.Events(), server.Options{
		Deposits:    accounting.NewDepositPoller(dirs, logs.LDGR, ledger),
		Withdrawals: accounting.NewWithdrawalWriter(dirs, logs.LDGR, ledger),
		FrameLog:    frames,
		Snapshots:   snapW,
		Log:         logs.LOOP,
	})

	var httpSrv *http.Server
	if cfg.HTTPAddr != "" {
		jwtAuth, err := adminauth.LoadOrCreateKey(cfg.JWTKeyPath())
		if err != nil {
			return fmt.Errorf("admin key: %w", err)
		}
		obs := observer.NewServer(loop, jwtAuth, logs.OBSV)
		if idx != nil {
			obs.IndexStats = idx.Stats
		}
		loop.SetObserver(obs)
		httpSrv = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           obs.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return tcpSrv.Serve(gctx, ln) })
	eg.Go(func() error { return loop.Run(gctx) })
	eg.Go(func() error { return snapW.Run(gctx) })
	if httpSrv != nil {
		eg.Go(func() error {
			log.Infof("http on %s", cfg.HTTPAddr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		eg.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			return httpSrv.Shutdown(sctx)
		})
	}
	runErr := eg.Wait()

	// The loop has stopped, so the game is ours again.
	if err := writeSnapshotSync(snapDir, g); err != nil {
		log.Errorf("final snapshot: %v", err)
	} else {
		log.Infof("final snapshot at frame %d", g.Frame)
	}
	return runErr
}

// loadGame resumes from the latest snapshot plus the frame log after it. A
// resume without any snapshot writes one at frame 0 so the next restart has
// a base to replay from.
func loadGame(snapDir, framesDir string, loadLatest bool, log slog.Logger) (*game.Game, error) {
	if !loadLatest {
		log.Infof("starting a fresh game")
		return game.NewGame(), nil
	}
	g, info, err := server.Resume(snapDir, framesDir, log)
	if err != nil {
		return nil, err
	}
	if info.Snapshot == "" {
		log.Infof("no snapshot in %s, starting a fresh game", snapDir)
		if err := writeSnapshotSync(snapDir, g); err != nil {
			return nil, fmt.Errorf("initial snapshot: %w", err)
		}
		return g, nil
	}
	log.Infof("resumed frame %d from %s (%d frames replayed)", g.Frame, info.Snapshot, info.Replayed)
	return g, nil
}

// writeSnapshotSync writes g directly; the loop must not be running.
func writeSnapshotSync(dir string, g *game.Game) error {
	return snapshot.WriteSnapshot(snapshot.PathFor(dir, g.Frame), snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version:     snapshot.Version,
			Frame:       g.Frame,
			Digest:      g.Digest(),
			TotalCredit: uint64(g.TotalCredit()),
			Players:     len(g.Players()),
			Entities:    g.EntityCount(),
		},
		Game: g.PackBytes(),
	})
}
