// Package queue supplies the next asset awaiting review. The directory source
// watches a drafts directory: each dropped video file becomes one Asset whose
// caption comes from a sibling .txt file when present.
package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/osifo/clipgate/internal/safety"
)

// Source supplies queued assets. Next returns (nil, nil) when the queue is
// empty. Requeue puts a deferred asset back so a later Next hands it out
// again; without it a deferral would drop the asset for the process lifetime.
type Source interface {
	Next(ctx context.Context) (*safety.Asset, error)
	Requeue(asset *safety.Asset)
}

var videoExts = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".webm": true,
	".mkv":  true,
}

// DirSource watches a drafts directory with fsnotify and backs it with a full
// rescan on every Next call, so files dropped while the process was down are
// still picked up.
type DirSource struct {
	dir     string
	profile string
	log     *zap.Logger

	mu      sync.Mutex
	pending []string
	seen    map[string]bool
	watcher *fsnotify.Watcher
}

// NewDirSource creates a DirSource for the given directory and profile.
func NewDirSource(dir, profile string, log *zap.Logger) (*DirSource, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &DirSource{
		dir:     dir,
		profile: profile,
		log:     log.With(zap.String("module", "queue")),
		seen:    make(map[string]bool),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}
	s.watcher = watcher
	go s.watch()

	return s, nil
}

func (s *DirSource) watch() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			s.enqueue(event.Name)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("drafts watcher error", zap.Error(err))
		}
	}
}

func (s *DirSource) enqueue(path string) {
	if !videoExts[strings.ToLower(filepath.Ext(path))] {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[path] {
		return
	}
	s.seen[path] = true
	s.pending = append(s.pending, path)
}

func (s *DirSource) rescan() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Warn("drafts rescan failed", zap.Error(err))
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		s.enqueue(filepath.Join(s.dir, e.Name()))
	}
}

// Next pops the next queued asset, or (nil, nil) when nothing is waiting.
func (s *DirSource) Next(_ context.Context) (*safety.Asset, error) {
	s.rescan()

	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.pending) > 0 {
		path := s.pending[0]
		s.pending = s.pending[1:]

		id, err := fileID(path)
		if err != nil {
			s.log.Warn("failed to fingerprint draft, skipping", zap.String("path", path), zap.Error(err))
			delete(s.seen, path)
			continue
		}
		return &safety.Asset{
			ID:         id,
			SourcePath: path,
			Caption:    readCaption(path),
			Profile:    s.profile,
		}, nil
	}
	return nil, nil
}

// Requeue puts a deferred asset back at the end of the queue. The path stays
// in seen, so the rescan cannot double-add it while it waits.
func (s *DirSource) Requeue(asset *safety.Asset) {
	if asset == nil || asset.SourcePath == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[asset.SourcePath] = true
	s.pending = append(s.pending, asset.SourcePath)
}

// Close stops the directory watcher.
func (s *DirSource) Close() error {
	return s.watcher.Close()
}

// fileID derives a stable content id from the file bytes.
func fileID(path string) (string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer fh.Close()

	h := sha256.New()
	if _, err := io.Copy(h, fh); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)[:16]), nil
}

// readCaption loads the sibling .txt caption file, if any.
func readCaption(videoPath string) string {
	base := strings.TrimSuffix(videoPath, filepath.Ext(videoPath))
	data, err := os.ReadFile(base + ".txt")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
