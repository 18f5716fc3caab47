package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"goldprime.ai/internal/game"
	persistlog "goldprime.ai/internal/persistence/log"
	"goldprime.ai/internal/persistence/snapshot"
)

var errStop = errors.New("stop")

func main() {
	var (
		dataDir   = flag.String("data", "./data", "runtime data directory")
		snapPath  = flag.String("snapshot", "", "path to .snap.zst (defaults to the oldest in -data)")
		framesDir = flag.String("frames", "", "frames dir containing frames-*.jsonl.zst (defaults to -data/frames)")
		toFrame   = flag.Uint64("to_frame", 0, "stop after this frame (inclusive, optional)")
	)
	flag.Parse()

	path := *snapPath
	if path == "" {
		var err error
		path, err = oldestSnapshot(filepath.Join(*dataDir, "snapshots"))
		if err != nil {
			fmt.Fprintln(os.Stderr, "find snapshot:", err)
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
		fmt.Fprintln(os.Stderr, "unpack snapshot:", err)
		os.Exit(1)
	}
	if d := g.Digest(); d != snap.Header.Digest {
		fmt.Fprintf(os.Stderr, "snapshot digest mismatch: header=%s game=%s\n", snap.Header.Digest, d)
		os.Exit(1)
	}
	fmt.Printf("snapshot v%d frame=%d players=%d entities=%d credit=%d\n",
		snap.Header.Version, snap.Header.Frame, snap.Header.Players, snap.Header.Entities, snap.Header.TotalCredit)

	dir := *framesDir
	if dir == "" {
		dir = filepath.Join(*dataDir, "frames")
	}
	start := g.Frame
	var checked uint64
	err = persistlog.ReadAll(dir, "frames", func(entry game.FrameLogEntry) error {
		if entry.Frame < start {
			return nil
		}
		if *toFrame != 0 && entry.Frame > *toFrame {
			return errStop
		}
		if err := g.ReplayFrame(entry); err != nil {
			return err
		}
		checked++
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%d frames (from snapshot frame=%d) credit=%d\n", checked, start, uint64(g.TotalCredit()))
}

func oldestSnapshot(dir string) (string, error) {
	frames, err := snapshot.List(dir)
	if err != nil {
		return "", err
	}
	if len(frames) == 0 {
		return "", snapshot.ErrNoSnapshot
	}
	return snapshot.PathFor(dir, frames[0]), nil
}
