package snapshot

import (
	"bufio"
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/decred/slog"
	"github.com/klauspost/compress/zstd"
)

const (
	Version = 1
	suffix  = ".snap.zst"
)

var ErrNoSnapshot = errors.New("snapshot: none found")

// Header is written as a plain JSON line ahead of the payload so tools can
// inspect a snapshot without decoding the game.
type Header struct {
	Version     int    `json:"version"`
	Frame       uint64 `json:"frame"`
	Digest      string `json:"digest"`
	TotalCredit uint64 `json:"total_credit"`
	Players     int    `json:"players"`
	Entities    int    `json:"entities"`
}

type SnapshotV1 struct {
	Header Header

	// Game is the packed game state, the same bytes a resync packet carries.
	Game []byte
}

func PathFor(dir string, frame uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%d%s", frame, suffix))
}

func WriteSnapshot(path string, snap SnapshotV1) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Header line; gob carries it as well.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("snapshot version %d unsupported", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, err
	}
	err = json.Unmarshal(line, &h)
	return h, err
}

// List returns the frames of the snapshots in dir, oldest first.
func List(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var frames []uint64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSuffix(name, suffix), 10, 64)
		if err != nil {
			continue
		}
		frames = append(frames, n)
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i] < frames[j] })
	return frames, nil
}

// Latest returns the path of the highest-frame snapshot in dir.
func Latest(dir string) (string, uint64, error) {
	frames, err := List(dir)
	if err != nil {
		return "", 0, err
	}
	if len(frames) == 0 {
		return "", 0, ErrNoSnapshot
	}
	f := frames[len(frames)-1]
	return PathFor(dir, f), f, nil
}

// Writer persists snapshots handed over by the frame loop.
type Writer struct {
	dir string
	log slog.Logger
	in  chan SnapshotV1

	// OnWritten is called after each successful write.
	OnWritten func(path string, h Header)
}

func NewWriter(dir string, log slog.Logger, queue int) *Writer {
	if log == nil {
		log = slog.Disabled
	}
	return &Writer{dir: dir, log: log, in: make(chan SnapshotV1, queue)}
}

func (w *Writer) Dir() string { return w.dir }

// Submit queues a snapshot without blocking. It reports false when the
// writer is backed up and the snapshot was dropped.
func (w *Writer) Submit(s SnapshotV1) bool {
	select {
	case w.in <- s:
		return true
	default:
		return false
	}
}

func (w *Writer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			// Flush what was already handed over.
			for {
				select {
				case s := <-w.in:
					w.write(s)
				default:
					return nil
				}
			}
		case s := <-w.in:
			w.write(s)
		}
	}
}

func (w *Writer) write(s SnapshotV1) {
	path := PathFor(w.dir, s.Header.Frame)
	if err := WriteSnapshot(path, s); err != nil {
		w.log.Errorf("snapshot frame %d: %v", s.Header.Frame, err)
		return
	}
	w.log.Infof("snapshot frame %d written (%d bytes of state)", s.Header.Frame, len(s.Game))
	if w.OnWritten != nil {
		w.OnWritten(path, s.Header)
	}
}
