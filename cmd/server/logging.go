package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/decred/slog"
)

// subsystems holds one logger per subsystem tag, all on one backend.
type subsystems struct {
	SRVR slog.Logger
	LOOP slog.Logger
	CHAN slog.Logger
	LDGR slog.Logger
	AUDT slog.Logger
	OBSV slog.Logger
	IDX  slog.Logger

	file *os.File
}

func newSubsystems(level slog.Level, logFile string) (*subsystems, error) {
	var w io.Writer = os.Stdout
	s := &subsystems{}
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		s.file = f
		w = io.MultiWriter(os.Stdout, f)
	}
	backend := slog.NewBackend(w)
	for _, l := range []struct {
		dst *slog.Logger
		tag string
	}{
		{&s.SRVR, "SRVR"},
		{&s.LOOP, "LOOP"},
		{&s.CHAN, "CHAN"},
		{&s.LDGR, "LDGR"},
		{&s.AUDT, "AUDT"},
		{&s.OBSV, "OBSV"},
		{&s.IDX, "IDX"},
	} {
		lg := backend.Logger(l.tag)
		lg.SetLevel(level)
		*l.dst = lg
	}
	return s, nil
}

func (s *subsystems) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
