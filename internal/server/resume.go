package server

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/decred/slog"

	"goldprime.ai/internal/game"
	persistlog "goldprime.ai/internal/persistence/log"
	"goldprime.ai/internal/persistence/snapshot"
)

type ResumeInfo struct {
	// Snapshot is empty when no snapshot was found and the game is fresh.
	Snapshot      string
	SnapshotFrame uint64
	Replayed      int
}

// Resume loads the latest snapshot in snapDir and replays the frames logged
// after it in framesDir, checking every digest on the way. Ledger events
// committed after the snapshot are therefore never lost or applied twice.
// A log that skips a frame or diverges stops the resume; the server must not
// start from a game that disagrees with what clients were sent.
func Resume(snapDir, framesDir string, log slog.Logger) (*game.Game, ResumeInfo, error) {
	if log == nil {
		log = slog.Disabled
	}
	var info ResumeInfo
	path, _, err := snapshot.Latest(snapDir)
	if errors.Is(err, snapshot.ErrNoSnapshot) {
		return game.NewGame(), info, nil
	}
	if err != nil {
		return nil, info, err
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return nil, info, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	g, err := game.NewGameFromBytes(snap.Game)
	if err != nil {
		return nil, info, fmt.Errorf("unpack snapshot %s: %w", path, err)
	}
	if d := g.Digest(); d != snap.Header.Digest {
		return nil, info, fmt.Errorf("snapshot %s digest %s does not match header %s", path, d, snap.Header.Digest)
	}
	info.Snapshot, info.SnapshotFrame = path, g.Frame

	files, err := persistlog.ListFiles(framesDir, "frames")
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, info, err
	}
	for _, f := range files {
		err := persistlog.ReadEach(f, func(entry game.FrameLogEntry) error {
			if entry.Frame < g.Frame {
				return nil
			}
			if err := g.ReplayFrame(entry); err != nil {
				return err
			}
			info.Replayed++
			return nil
		})
		if err != nil {
			return nil, info, fmt.Errorf("replay %s: %w", f, err)
		}
	}
	if info.Replayed > 0 {
		log.Infof("replayed %d logged frames after snapshot frame %d", info.Replayed, info.SnapshotFrame)
	}
	return g, info, nil
}
