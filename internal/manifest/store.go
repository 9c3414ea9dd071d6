package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/traloxolcus/soccer-rig/pkg/logging"
)

var (
	ErrNotFound         = errors.New("manifest not found")
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// Store keeps one manifest file per session under manifestsDir, next to the
// recordings they describe under recordingsDir.
type Store struct {
	manifestsDir  string
	recordingsDir string
	logger        logging.Logger

	// FreeGB reports free space on the recording volume; replaceable so
	// eviction tests can model space pressure.
	FreeGB func() (float64, error)
}

// NewStore builds a Store. The directories are created on first write.
func NewStore(manifestsDir, recordingsDir string, freeGB func() (float64, error), logger logging.Logger) *Store {
	return &Store{
		manifestsDir:  manifestsDir,
		recordingsDir: recordingsDir,
		logger:        logger,
		FreeGB:        freeGB,
	}
}

// Path returns the manifest file path for a session.
func (s *Store) Path(sessionID, cameraID string) string {
	return filepath.Join(s.manifestsDir, fmt.Sprintf("%s_%s.json", sessionID, cameraID))
}

// RecordingPath returns the output file path for a manifest's clip.
func (s *Store) RecordingPath(rec *Record) string {
	return filepath.Join(s.recordingsDir, rec.FileName)
}

// Write persists a record, stamping the current schema version.
func (s *Store) Write(rec *Record) error {
	rec.ManifestVersion = CurrentVersion
	payload, err := rec.Encode()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.manifestsDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.Path(rec.SessionID, rec.CameraID), payload, 0o644)
}

// Load reads a single manifest file.
func (s *Store) Load(path string) (*Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return Decode(raw)
}

// Find looks a manifest up by its (sessionID, cameraID) key.
func (s *Store) Find(sessionID, cameraID string) (*Record, error) {
	return s.Load(s.Path(sessionID, cameraID))
}

// List returns all readable manifests sorted by file name. Unreadable
// entries are skipped with a log line; one corrupt record must not take the
// listing down.
func (s *Store) List() ([]*Record, error) {
	entries, err := os.ReadDir(s.manifestsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var records []*Record
	for _, name := range names {
		rec, err := s.Load(filepath.Join(s.manifestsDir, name))
		if err != nil {
			if s.logger != nil {
				s.logger.WithError(err).WithField("manifest", name).Warn("Skipping unreadable manifest")
			}
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// MarkOffloaded flips the offloaded flag after verifying the supplied
// checksum. A mismatch against an already recorded digest leaves the
// manifest untouched; when no digest was recorded (faulted pipeline), the
// confirmed one is accepted and stored.
func (s *Store) MarkOffloaded(sessionID, cameraID, fileName, checksum string) (*Record, error) {
	rec, err := s.Find(sessionID, cameraID)
	if err != nil {
		return nil, err
	}
	if fileName != "" && rec.FileName != fileName {
		return nil, ErrNotFound
	}

	if rec.Checksum.Value != "" && !strings.EqualFold(rec.Checksum.Value, checksum) {
		return nil, ErrChecksumMismatch
	}
	if rec.Checksum.Value == "" {
		rec.Checksum.Value = checksum
	}

	rec.Offloaded = true
	if err := s.Write(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Remove deletes a manifest together with its recording file.
func (s *Store) Remove(rec *Record) error {
	clip := s.RecordingPath(rec)
	if err := os.Remove(clip); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(s.Path(rec.SessionID, rec.CameraID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Cleanup applies the eviction policy and returns the removed clip paths.
// With deleteAfterConfirm every offloaded pair is removable immediately;
// otherwise offloaded pairs are removed oldest-first only while free space
// sits below minFreeGB, re-checking capacity after each deletion. A
// manifest whose offloaded flag is false is never touched.
func (s *Store) Cleanup(minFreeGB float64, deleteAfterConfirm bool) ([]string, error) {
	records, err := s.List()
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].StartTimeLocal.Before(records[j].StartTimeLocal)
	})

	freeGB, err := s.FreeGB()
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, rec := range records {
		if !rec.Offloaded {
			continue
		}
		if !deleteAfterConfirm && freeGB >= minFreeGB {
			break
		}

		clip := s.RecordingPath(rec)
		if err := s.Remove(rec); err != nil {
			if s.logger != nil {
				s.logger.WithError(err).WithField("file", rec.FileName).Error("Failed to evict recording")
			}
			continue
		}
		removed = append(removed, clip)
		if s.logger != nil {
			s.logger.WithFields(logging.Fields{
				"session_id": rec.SessionID,
				"file":       rec.FileName,
			}).Info("Evicted offloaded recording")
		}

		if freeGB, err = s.FreeGB(); err != nil {
			return removed, err
		}
	}
	return removed, nil
}
