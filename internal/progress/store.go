package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pot-code/course-progress/internal/domain"
	"github.com/pot-code/course-progress/internal/infrastructure/driver"
	"github.com/pot-code/course-progress/internal/infrastructure/logging"
	"github.com/pot-code/course-progress/internal/infrastructure/uuid"
	"go.uber.org/zap"
)

// DefaultKey storage key used when Options.Key is empty
const DefaultKey = "course-progress"

// Options store options
type Options struct {
	Key         string           // kv key holding the blob
	MaxBackups  int              // backup entries kept, <= 0 means 3
	Clock       func() time.Time // defaults to time.Now
	IDGenerator uuid.Generator   // names backup entries
	Logger      *zap.Logger
}

// Signal a MALFORMED_INPUT finding produced while loading, CourseID is "" for the whole blob
type Signal struct {
	CourseID string
	Err      error
}

// LoadResult outcome of Store.Load
type LoadResult struct {
	Records   map[string]*Record
	Malformed []Signal
	Migrated  []string
	Raw       string
}

// Store owns the per-course progress mapping and its persisted blob
type Store struct {
	mu         sync.Mutex
	kv         driver.KeyValueDB
	key        string
	maxBackups int
	clock      func() time.Time
	ids        uuid.Generator
	logger     *zap.Logger

	records  map[string]*Record
	degraded bool
}

// NewStore create a store over kv
func NewStore(kv driver.KeyValueDB, opts *Options) *Store {
	if opts == nil {
		opts = new(Options)
	}
	s := &Store{
		kv:         kv,
		key:        opts.Key,
		maxBackups: opts.MaxBackups,
		clock:      opts.Clock,
		ids:        opts.IDGenerator,
		logger:     opts.Logger,
		records:    make(map[string]*Record),
	}
	if s.key == "" {
		s.key = DefaultKey
	}
	if s.maxBackups <= 0 {
		s.maxBackups = 3
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.ids == nil {
		s.ids = uuid.NewNanoIDGenerator(10)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Key kv key of the progress blob
func (s *Store) Key() string {
	return s.key
}

func (s *Store) backupIndexKey() string {
	return s.key + ".backups"
}

// Load read, parse and migrate the persisted blob, replacing the in-memory mapping.
// It never fails: unreadable or unparsable data yields MALFORMED_INPUT signals.
func (s *Store) Load(ctx context.Context) *LoadResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	logger := logging.ExtractLoggerFromContext(ctx, s.logger).With(zap.String("kv.key", s.key))

	result := &LoadResult{Records: make(map[string]*Record)}
	blob, err := s.kv.Get(ctx, s.key)
	if err != nil && !errors.Is(err, driver.ErrKeyNotFound) {
		logger.Warn("failed to read progress, starting empty", zap.Error(err))
	}
	result.Raw = blob

	d, err := decodeBlob(blob, s.clock())
	if err != nil {
		logger.Warn("progress blob is malformed", zap.Error(err))
		result.Malformed = append(result.Malformed, Signal{Err: err})
	}
	ids := make([]string, 0, len(d.malformed))
	for id := range d.malformed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		logger.Warn("course progress is malformed", zap.String("course.id", id), zap.Error(d.malformed[id]))
		result.Malformed = append(result.Malformed, Signal{CourseID: id, Err: d.malformed[id]})
	}
	if len(d.migrated) > 0 {
		logger.Info("migrated legacy progress", zap.Strings("course.ids", d.migrated))
	}
	result.Migrated = d.migrated

	s.records = d.records
	for id, r := range d.records {
		result.Records[id] = r.Clone()
	}
	return result
}

// Save serialize the entire mapping and rewrite the blob. A failed write clears
// backup entries and retries once; a second failure degrades the session to
// memory only. The returned warning is non-nil only on that transition.
func (s *Store) Save(ctx context.Context, courseID string) *domain.Warning {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx, courseID)
}

func (s *Store) saveLocked(ctx context.Context, courseID string) *domain.Warning {
	logger := logging.ExtractLoggerFromContext(ctx, s.logger).With(
		zap.String("kv.key", s.key),
		zap.String("course.id", courseID),
	)
	if s.degraded {
		logger.Debug("memory-only session, skipping write")
		return nil
	}

	blob, err := encodeBlob(s.records)
	if err != nil {
		// only reachable with a broken record type, the in-memory state is still authoritative
		logger.Error("failed to encode progress", zap.Error(err))
		return s.degrade(logger, err)
	}

	err = s.kv.Set(ctx, s.key, blob)
	if err == nil {
		return nil
	}
	logger.Warn("progress write failed, clearing backups and retrying", zap.Error(err))
	s.clearBackupsLocked(ctx, logger)
	if err = s.kv.Set(ctx, s.key, blob); err == nil {
		return nil
	}
	return s.degrade(logger, err)
}

func (s *Store) degrade(logger *zap.Logger, err error) *domain.Warning {
	s.degraded = true
	logger.Warn("progress storage unavailable, continuing in memory only", zap.Error(err))
	return &domain.Warning{
		Kind:     domain.KindStorageWriteFailure,
		Message:  fmt.Sprintf("progress will not survive this session: %v", err),
		Degraded: true,
	}
}

// Degraded reports whether the session fell back to memory only
func (s *Store) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Backup copy raw into a new backup entry before it gets overwritten, returns the entry key.
// Failures are logged and swallowed.
func (s *Store) Backup(ctx context.Context, raw string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	logger := logging.ExtractLoggerFromContext(ctx, s.logger).With(zap.String("kv.key", s.key))
	if raw == "" || s.degraded {
		return ""
	}

	id, err := s.ids.Generate()
	if err != nil {
		logger.Warn("failed to name backup entry", zap.Error(err))
		return ""
	}
	key := fmt.Sprintf("%s.backup.%s", s.key, id)
	if err := s.kv.Set(ctx, key, raw); err != nil {
		logger.Warn("failed to write backup entry", zap.String("backup.key", key), zap.Error(err))
		return ""
	}

	index := append(s.backupIndexLocked(ctx), key)
	for len(index) > s.maxBackups {
		if err := s.kv.Remove(ctx, index[0]); err != nil {
			logger.Warn("failed to drop old backup entry", zap.String("backup.key", index[0]), zap.Error(err))
		}
		index = index[1:]
	}
	if err := s.writeBackupIndexLocked(ctx, index); err != nil {
		logger.Warn("failed to update backup index", zap.Error(err))
	}
	logger.Info("backed up progress blob", zap.String("backup.key", key))
	return key
}

// Backups keys of the backup entries currently recorded
func (s *Store) Backups(ctx context.Context) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backupIndexLocked(ctx)
}

func (s *Store) backupIndexLocked(ctx context.Context) []string {
	raw, err := s.kv.Get(ctx, s.backupIndexKey())
	if err != nil {
		return nil
	}
	var index []string
	if err := json.Unmarshal([]byte(raw), &index); err != nil {
		return nil
	}
	return index
}

func (s *Store) writeBackupIndexLocked(ctx context.Context, index []string) error {
	b, err := json.Marshal(index)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, s.backupIndexKey(), string(b))
}

func (s *Store) clearBackupsLocked(ctx context.Context, logger *zap.Logger) {
	index := s.backupIndexLocked(ctx)
	for _, key := range index {
		if err := s.kv.Remove(ctx, key); err != nil {
			logger.Warn("failed to remove backup entry", zap.String("backup.key", key), zap.Error(err))
		}
	}
	if err := s.kv.Remove(ctx, s.backupIndexKey()); err != nil {
		logger.Warn("failed to remove backup index", zap.Error(err))
	}
	if len(index) > 0 {
		logger.Info("cleared backup entries", zap.Int("backup.count", len(index)))
	}
}

// Record copy of the course record
func (s *Store) Record(courseID string) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[courseID]
	return r.Clone(), ok
}

// Records copy of the whole mapping
func (s *Store) Records() map[string]*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*Record, len(s.records))
	for id, r := range s.records {
		out[id] = r.Clone()
	}
	return out
}

// InitializeCourseProgress create a fresh record for courseID, replacing any existing one
func (s *Store) InitializeCourseProgress(ctx context.Context, courseID string) (*Record, *domain.Warning) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := NewRecord(s.clock())
	s.records[courseID] = r
	return r.Clone(), s.saveLocked(ctx, courseID)
}

// MarkLessonCompleted add lessonID (idempotent) and add score (every call)
func (s *Store) MarkLessonCompleted(ctx context.Context, courseID, lessonID string, score int) (bool, *domain.Warning) {
	var added bool
	warn := s.Mutate(ctx, courseID, func(r *Record, now time.Time) bool {
		added = r.CompleteLesson(lessonID, score, now)
		return true
	})
	return added, warn
}

// MarkModuleCompleted add moduleID, idempotent
func (s *Store) MarkModuleCompleted(ctx context.Context, courseID, moduleID string) *domain.Warning {
	return s.Mutate(ctx, courseID, func(r *Record, now time.Time) bool {
		r.CompleteModule(moduleID, now)
		return true
	})
}

// MarkCourseCompleted set the completion flag, idempotent
func (s *Store) MarkCourseCompleted(ctx context.Context, courseID string) *domain.Warning {
	return s.Mutate(ctx, courseID, func(r *Record, now time.Time) bool {
		r.CompleteCourse(now)
		return true
	})
}

// Mutate run fn against the live record of courseID, creating it when absent,
// and persist when fn reports a change. fn must not call back into the store.
func (s *Store) Mutate(ctx context.Context, courseID string, fn func(r *Record, now time.Time) bool) *domain.Warning {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	r, ok := s.records[courseID]
	created := false
	if !ok {
		r = NewRecord(now)
		s.records[courseID] = r
		created = true
	}
	if !fn(r, now) && !created {
		return nil
	}
	return s.saveLocked(ctx, courseID)
}

// Replace install rec as the record of courseID and persist
func (s *Store) Replace(ctx context.Context, courseID string, rec *Record) *domain.Warning {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[courseID] = rec.Clone()
	return s.saveLocked(ctx, courseID)
}

// Reset delete the records of courseIDs, or every record when none given, and persist
func (s *Store) Reset(ctx context.Context, courseIDs ...string) *domain.Warning {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(courseIDs) == 0 {
		s.records = make(map[string]*Record)
		return s.saveLocked(ctx, "")
	}
	for _, id := range courseIDs {
		delete(s.records, id)
	}
	return s.saveLocked(ctx, courseIDs[0])
}
