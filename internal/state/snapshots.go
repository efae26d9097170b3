package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nodiggity/zonewatch/internal/logger"
	"github.com/nodiggity/zonewatch/pkg/model"
)

// SnapshotIndex tracks retained evidence images and enforces the retention
// cap, evicting oldest-by-timestamp entries together with their files.
// Eviction and reads share one lock, so a listed entry always still has
// its image on disk at the moment of listing.
type SnapshotIndex struct {
	mu      rwTryMutex
	dir     string
	max     int
	entries []model.Snapshot // ascending by timestamp

	// OnEvict, when set, observes every evicted snapshot. Must not block;
	// it runs under the index lock.
	OnEvict func(model.Snapshot)
}

// NewSnapshotIndex creates an index over dir retaining at most max
// snapshots. The directory is created if missing.
func NewSnapshotIndex(dir string, max int) (*SnapshotIndex, error) {
	if max <= 0 {
		max = 1000
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &SnapshotIndex{dir: dir, max: max}, nil
}

// Dir returns the snapshot directory.
func (s *SnapshotIndex) Dir() string { return s.dir }

// Rescan rebuilds the index from the metadata sidecars on disk, so
// snapshots survive a process restart. Entries over the cap are evicted.
func (s *SnapshotIndex) Rescan() error {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.jpg"))
	if err != nil {
		return err
	}

	var entries []model.Snapshot
	for _, imgPath := range matches {
		info, err := os.Stat(imgPath)
		if err != nil {
			continue
		}
		snap := model.Snapshot{
			Filename:  filepath.Base(imgPath),
			Timestamp: info.ModTime(),
			Size:      info.Size(),
		}
		if data, err := os.ReadFile(sidecarPath(imgPath)); err == nil {
			var meta model.Snapshot
			if json.Unmarshal(data, &meta) == nil {
				snap.Zones = meta.Zones
				snap.DetectionCount = meta.DetectionCount
				if !meta.Timestamp.IsZero() {
					snap.Timestamp = meta.Timestamp
				}
			}
		}
		entries = append(entries, snap)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})

	s.mu.Lock()
	s.entries = entries
	s.evictLocked()
	s.mu.Unlock()
	return nil
}

// Register adds a snapshot whose image file already exists in the index
// directory, then evicts the oldest entries past the cap.
func (s *SnapshotIndex) Register(snap model.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Keep ascending timestamp order even if a snapshot arrives late.
	pos := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].Timestamp.After(snap.Timestamp)
	})
	s.entries = append(s.entries, model.Snapshot{})
	copy(s.entries[pos+1:], s.entries[pos:])
	s.entries[pos] = snap

	s.evictLocked()
}

func (s *SnapshotIndex) evictLocked() {
	for len(s.entries) > s.max {
		victim := s.entries[0]
		s.entries = s.entries[1:]

		imgPath := filepath.Join(s.dir, victim.Filename)
		if err := os.Remove(imgPath); err != nil && !os.IsNotExist(err) {
			logger.Warn("Snapshots", "failed to delete %s: %v", victim.Filename, err)
		}
		if err := os.Remove(sidecarPath(imgPath)); err != nil && !os.IsNotExist(err) {
			logger.Warn("Snapshots", "failed to delete metadata for %s: %v", victim.Filename, err)
		}
		if s.OnEvict != nil {
			s.OnEvict(victim)
		}
		logger.Debug("Snapshots", "evicted %s (retention cap %d)", victim.Filename, s.max)
	}
}

// List returns up to limit snapshots, newest first.
func (s *SnapshotIndex) List(limit int) []model.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]model.Snapshot, 0, n)
	for i := len(s.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.entries[i])
	}
	return out
}

// Newest returns the filename of the most recent snapshot, or "".
func (s *SnapshotIndex) Newest() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return ""
	}
	return s.entries[len(s.entries)-1].Filename
}

// Len returns the number of retained snapshots.
func (s *SnapshotIndex) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Contains reports whether filename is a retained snapshot. The dashboard
// uses it to refuse serving evicted or foreign paths.
func (s *SnapshotIndex) Contains(filename string) bool {
	if filename == "" || strings.Contains(filename, "/") || strings.Contains(filename, "\\") {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.Filename == filename {
			return true
		}
	}
	return false
}

// WriteMetadata writes the JSON sidecar for a snapshot image.
func WriteMetadata(imgPath string, snap model.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(sidecarPath(imgPath), data, 0o644)
}

func sidecarPath(imgPath string) string {
	return strings.TrimSuffix(imgPath, filepath.Ext(imgPath)) + ".json"
}

// SnapshotTimestamp formats a snapshot timestamp the way filenames embed
// it: yyyymmdd_hhmmss_mmm (millisecond precision).
func SnapshotTimestamp(t time.Time) string {
	return fmt.Sprintf("%s_%03d", t.Format("20060102_150405"), t.Nanosecond()/int(time.Millisecond))
}
