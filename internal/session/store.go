// Package session implements the durable keyed store for training sessions.
// Every status write updates an in-memory cache and the session's on-disk
// metadata.json together; the on-disk copy is the source of truth after a
// process restart.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/mattn/go-colorable"
	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/meridianml/forecast-backend/internal/domain"
)

// MetadataFileName is the per-session status record file.
const MetadataFileName = "metadata.json"

// SnapshotFileName is the durable, CSV-encoded copy of the training input.
const SnapshotFileName = "training_data.snapshot"

// StaticFeaturesFileName holds the per-item static feature table extracted
// during preparation, when the parameters name static feature columns.
const StaticFeaturesFileName = "static_features.csv"

type Store struct {
	logger        *zap.Logger
	sugaredLogger *zap.SugaredLogger

	baseDir string

	// cache is written from the per-session orchestration goroutines and
	// read from the request path, hence the concurrency-safe map.
	cache cmap.ConcurrentMap[string, *domain.StatusRecord]

	// order tracks session ids in submission order so listings are stable.
	order      *orderedmap.OrderedMap[string, struct{}]
	orderMutex sync.Mutex
}

func NewStore(baseDir string, atom *zap.AtomicLevel) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating sessions directory %q: %w", baseDir, err)
	}

	store := &Store{
		baseDir: baseDir,
		cache:   cmap.New[*domain.StatusRecord](),
		order:   orderedmap.NewOrderedMap[string, struct{}](),
	}

	zapConfig := zap.NewDevelopmentEncoderConfig()
	zapConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(zapConfig), zapcore.AddSync(colorable.NewColorableStdout()), atom)
	store.logger = zap.New(core, zap.Development())
	store.sugaredLogger = store.logger.Sugar()

	return store, nil
}

// SessionPath returns the working directory for the given session id.
func (s *Store) SessionPath(sessionID string) string {
	return filepath.Join(s.baseDir, sessionID)
}

// Create makes the isolated working directory for a new session. The id is
// a freshly generated UUID, so a collision should not happen, but it is
// still checked.
func (s *Store) Create(sessionID string) (string, error) {
	path := s.SessionPath(sessionID)

	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("%w: %q", domain.ErrSessionExists, sessionID)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("creating session directory %q: %w", path, err)
	}

	s.logger.Debug("Created session directory.",
		zap.String("session_id", sessionID),
		zap.String("session_path", path))

	return path, nil
}

// PutStatus updates the cache and rewrites metadata.json. The file write is
// temp-then-rename so frequent progress ticks can never leave a corrupt
// record behind on crash.
func (s *Store) PutStatus(sessionID string, record *domain.StatusRecord) error {
	clone := record.Clone()
	s.cache.Set(sessionID, clone)
	s.recordOrder(sessionID)

	path := filepath.Join(s.SessionPath(sessionID), MetadataFileName)
	if err := writeJSONAtomic(path, clone); err != nil {
		return fmt.Errorf("persisting status for session %q: %w", sessionID, err)
	}

	return nil
}

// GetStatus checks the cache first and falls back to the on-disk record on
// a miss (e.g. after a restart), repopulating the cache.
func (s *Store) GetStatus(sessionID string) (*domain.StatusRecord, error) {
	if record, ok := s.cache.Get(sessionID); ok {
		return record.Clone(), nil
	}

	record, err := s.readMetadata(sessionID)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", domain.ErrSessionNotFound, sessionID)
		}
		return nil, err
	}

	s.logger.Debug("Repopulated session cache from disk.", zap.String("session_id", sessionID))
	s.cache.Set(sessionID, record)
	s.recordOrder(sessionID)
	return record.Clone(), nil
}

// ActiveSessions returns clones of every cached record that has not reached
// a terminal state yet, in submission order.
func (s *Store) ActiveSessions() []*domain.StatusRecord {
	s.orderMutex.Lock()
	ids := s.order.Keys()
	s.orderMutex.Unlock()

	active := make([]*domain.StatusRecord, 0)
	for _, sessionID := range ids {
		record, ok := s.cache.Get(sessionID)
		if !ok || record.Status.Terminal() {
			continue
		}
		active = append(active, record.Clone())
	}
	return active
}

// InterruptedSessions scans the on-disk records for sessions persisted in a
// non-terminal state and returns them, repopulating the cache. Unreadable
// records are skipped; the retention sweep reports those.
func (s *Store) InterruptedSessions() ([]*domain.StatusRecord, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("listing sessions directory: %w", err)
	}

	interrupted := make([]*domain.StatusRecord, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		sessionID := entry.Name()
		record, err := s.readMetadata(sessionID)
		if err != nil || record.Status.Terminal() {
			continue
		}

		s.cache.Set(sessionID, record)
		s.recordOrder(sessionID)
		interrupted = append(interrupted, record.Clone())
	}

	return interrupted, nil
}

func (s *Store) recordOrder(sessionID string) {
	s.orderMutex.Lock()
	defer s.orderMutex.Unlock()
	s.order.Set(sessionID, struct{}{})
}

// Cleanup removes session directories whose recorded creation time is older
// than maxAge. A session whose record is missing or unreadable is left
// untouched for manual inspection, never silently deleted.
func (s *Store) Cleanup(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return 0, fmt.Errorf("listing sessions directory: %w", err)
	}

	removed := 0
	now := time.Now()
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		sessionID := entry.Name()
		record, err := s.readMetadata(sessionID)
		if err != nil || record.CreateTime.IsZero() {
			s.logger.Warn("Cannot determine session age during cleanup; leaving it for manual inspection.",
				zap.String("session_id", sessionID), zap.Error(err))
			continue
		}

		if now.Sub(record.CreateTime) <= maxAge {
			continue
		}

		if err := os.RemoveAll(s.SessionPath(sessionID)); err != nil {
			s.logger.Error("Failed to remove expired session directory.",
				zap.String("session_id", sessionID), zap.Error(err))
			continue
		}

		s.cache.Remove(sessionID)
		s.orderMutex.Lock()
		s.order.Delete(sessionID)
		s.orderMutex.Unlock()
		removed++
		s.logger.Debug("Removed expired session.",
			zap.String("session_id", sessionID),
			zap.Time("create_time", record.CreateTime))
	}

	return removed, nil
}

func (s *Store) readMetadata(sessionID string) (*domain.StatusRecord, error) {
	path := filepath.Join(s.SessionPath(sessionID), MetadataFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	record := &domain.StatusRecord{}
	if err := json.Unmarshal(data, record); err != nil {
		return nil, fmt.Errorf("decoding %q: %w", path, err)
	}

	return record, nil
}

func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}

	return os.Rename(tmp.Name(), path)
}
