package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/pot-code/course-progress/internal/domain"
	"github.com/pot-code/course-progress/internal/infrastructure/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type seqIDs struct{ n int }

func (s *seqIDs) Generate() (string, error) {
	s.n++
	return fmt.Sprintf("b%d", s.n), nil
}

// failingKV fails every write to the progress key while failures > 0
type failingKV struct {
	*driver.MemoryKV
	key      string
	failures int
}

func (f *failingKV) Set(ctx context.Context, key, value string) error {
	if key == f.key && f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		return errors.New("disk full")
	}
	return f.MemoryKV.Set(ctx, key, value)
}

func newTestStore(kv driver.KeyValueDB) *Store {
	return NewStore(kv, &Options{
		Key:         "p",
		Clock:       func() time.Time { return epoch },
		IDGenerator: &seqIDs{},
	})
}

func TestStore_ScoreIsNotIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(driver.NewMemoryKV(0))

	added, warn := s.MarkLessonCompleted(ctx, "sql-basics", "L1", 10)
	assert.True(t, added)
	assert.Nil(t, warn)
	added, warn = s.MarkLessonCompleted(ctx, "sql-basics", "L1", 10)
	assert.False(t, added)
	assert.Nil(t, warn)

	rec, ok := s.Record("sql-basics")
	require.True(t, ok)
	assert.Equal(t, IDSet{"L1"}, rec.CompletedLessons)
	assert.Equal(t, 20, rec.TotalScore)
}

func TestStore_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	kv := driver.NewMemoryKV(0)
	s := newTestStore(kv)

	_, warn := s.InitializeCourseProgress(ctx, "sql-basics")
	require.Nil(t, warn)
	s.MarkLessonCompleted(ctx, "sql-basics", "L1", 5)
	require.Nil(t, s.MarkModuleCompleted(ctx, "sql-basics", "module-1"))
	require.Nil(t, s.MarkCourseCompleted(ctx, "sql-basics"))

	blob, err := kv.Get(ctx, "p")
	require.NoError(t, err)
	var wire map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(blob), &wire))
	assert.Equal(t, "2024-01-01T00:00:00.000Z", wire["sql-basics"]["startDate"])
	assert.Equal(t, float64(5), wire["sql-basics"]["totalScore"])
	assert.Equal(t, true, wire["sql-basics"]["isCompleted"])

	loaded := newTestStore(kv).Load(ctx)
	assert.Empty(t, loaded.Malformed)
	assert.Empty(t, loaded.Migrated)
	rec := loaded.Records["sql-basics"]
	require.NotNil(t, rec)
	assert.Equal(t, IDSet{"L1"}, rec.CompletedLessons)
	assert.Equal(t, IDSet{"module-1"}, rec.CompletedModules)
	assert.True(t, rec.IsCompleted)
	assert.True(t, rec.StartDate.Equal(epoch))
}

func TestStore_LoadMigratesLegacyShapes(t *testing.T) {
	ctx := context.Background()
	kv := driver.NewMemoryKV(0)
	require.NoError(t, kv.Set(ctx, "p", `{
		"old": {
			"completedLessons": {"L2": true, "L1": true, "L9": false},
			"completedModules": ["module-1", "module-1"],
			"score": 42.4,
			"startDate": 1704067200000,
			"isCompleted": "false"
		},
		"current": {
			"completedLessons": ["L1"],
			"completedModules": [],
			"totalScore": 3,
			"startDate": "2024-01-01T00:00:00.000Z",
			"lastAccessed": "2024-01-02T00:00:00.000Z",
			"isCompleted": false
		}
	}`))

	res := newTestStore(kv).Load(ctx)
	assert.Empty(t, res.Malformed)
	assert.Equal(t, []string{"old"}, res.Migrated)

	old := res.Records["old"]
	require.NotNil(t, old)
	assert.Equal(t, IDSet{"L1", "L2"}, old.CompletedLessons)
	assert.Equal(t, IDSet{"module-1"}, old.CompletedModules)
	assert.Equal(t, 42, old.TotalScore)
	assert.True(t, old.StartDate.Equal(epoch))
	assert.True(t, old.LastAccessed.Equal(old.StartDate))
	assert.False(t, old.IsCompleted)

	assert.Equal(t, 3, res.Records["current"].TotalScore)
}

func TestStore_LoadVersionedEnvelope(t *testing.T) {
	ctx := context.Background()
	kv := driver.NewMemoryKV(0)
	require.NoError(t, kv.Set(ctx, "p", `{"version": 2, "courses": {"c": {"completedLessons": ["a"]}}}`))

	res := newTestStore(kv).Load(ctx)
	assert.Equal(t, []string{"c"}, res.Migrated)
	rec := res.Records["c"]
	require.NotNil(t, rec)
	assert.Equal(t, IDSet{"a"}, rec.CompletedLessons)
	// both dates missing fall back to now
	assert.True(t, rec.StartDate.Equal(epoch))
}

func TestStore_LoadMalformed(t *testing.T) {
	ctx := context.Background()

	t.Run("whole blob", func(t *testing.T) {
		kv := driver.NewMemoryKV(0)
		require.NoError(t, kv.Set(ctx, "p", `{"sql-basics": {`))
		res := newTestStore(kv).Load(ctx)
		assert.Empty(t, res.Records)
		require.Len(t, res.Malformed, 1)
		assert.Equal(t, "", res.Malformed[0].CourseID)
		assert.Equal(t, `{"sql-basics": {`, res.Raw)
	})

	t.Run("single course", func(t *testing.T) {
		kv := driver.NewMemoryKV(0)
		require.NoError(t, kv.Set(ctx, "p", `{
			"broken": {"completedLessons": "L1"},
			"worse": "nope",
			"fine": {"completedLessons": ["L1"], "totalScore": 1}
		}`))
		res := newTestStore(kv).Load(ctx)
		require.Len(t, res.Malformed, 2)
		assert.Equal(t, "broken", res.Malformed[0].CourseID)
		assert.Equal(t, "worse", res.Malformed[1].CourseID)
		assert.Contains(t, res.Records, "fine")
		assert.NotContains(t, res.Records, "broken")
	})

	t.Run("missing key", func(t *testing.T) {
		res := newTestStore(driver.NewMemoryKV(0)).Load(ctx)
		assert.Empty(t, res.Records)
		assert.Empty(t, res.Malformed)
	})
}

func TestStore_SaveClearsBackupsAndRetries(t *testing.T) {
	ctx := context.Background()
	kv := driver.NewMemoryKV(400)
	s := newTestStore(kv)

	key := s.Backup(ctx, strings.Repeat("x", 300))
	require.Equal(t, "p.backup.b1", key)
	require.Equal(t, []string{key}, s.Backups(ctx))

	_, warn := s.InitializeCourseProgress(ctx, "sql-basics")
	assert.Nil(t, warn)
	assert.False(t, s.Degraded())
	assert.Empty(t, s.Backups(ctx))
	_, err := kv.Get(ctx, key)
	assert.ErrorIs(t, err, driver.ErrKeyNotFound)
	_, err = kv.Get(ctx, "p")
	assert.NoError(t, err)
}

func TestStore_DegradesAfterRetryFails(t *testing.T) {
	ctx := context.Background()
	kv := &failingKV{MemoryKV: driver.NewMemoryKV(0), key: "p", failures: -1}
	s := newTestStore(kv)

	_, warn := s.InitializeCourseProgress(ctx, "sql-basics")
	require.NotNil(t, warn)
	assert.Equal(t, domain.KindStorageWriteFailure, warn.Kind)
	assert.True(t, warn.Degraded)
	assert.True(t, s.Degraded())

	// later writes stay in memory without repeating the warning
	_, warn = s.MarkLessonCompleted(ctx, "sql-basics", "L1", 1)
	assert.Nil(t, warn)
	rec, ok := s.Record("sql-basics")
	require.True(t, ok)
	assert.Equal(t, IDSet{"L1"}, rec.CompletedLessons)
}

func TestStore_SingleFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	kv := &failingKV{MemoryKV: driver.NewMemoryKV(0), key: "p", failures: 1}
	s := newTestStore(kv)

	_, warn := s.InitializeCourseProgress(ctx, "c")
	assert.Nil(t, warn)
	assert.False(t, s.Degraded())
	assert.Equal(t, 0, kv.failures)
}

func TestStore_BackupKeepsNewest(t *testing.T) {
	ctx := context.Background()
	kv := driver.NewMemoryKV(0)
	s := NewStore(kv, &Options{Key: "p", MaxBackups: 2, IDGenerator: &seqIDs{}})

	s.Backup(ctx, "one")
	s.Backup(ctx, "two")
	s.Backup(ctx, "three")
	assert.Equal(t, []string{"p.backup.b2", "p.backup.b3"}, s.Backups(ctx))
	_, err := kv.Get(ctx, "p.backup.b1")
	assert.ErrorIs(t, err, driver.ErrKeyNotFound)

	assert.Equal(t, "", s.Backup(ctx, ""))
}

func TestStore_ResetAndCopies(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(driver.NewMemoryKV(0))
	s.InitializeCourseProgress(ctx, "a")
	s.InitializeCourseProgress(ctx, "b")

	recs := s.Records()
	recs["a"].CompletedLessons.Add("tampered")
	rec, _ := s.Record("a")
	assert.Empty(t, rec.CompletedLessons)

	require.Nil(t, s.Reset(ctx, "a"))
	_, ok := s.Record("a")
	assert.False(t, ok)
	_, ok = s.Record("b")
	assert.True(t, ok)

	require.Nil(t, s.Reset(ctx))
	assert.Empty(t, s.Records())
}

func TestRecord_LastAccessedNeverMovesBack(t *testing.T) {
	r := NewRecord(epoch)
	r.CompleteLesson("L1", 0, epoch.Add(-time.Hour))
	assert.True(t, r.LastAccessed.Equal(epoch))
	assert.True(t, r.CompleteCourse(epoch.Add(time.Hour)))
	assert.False(t, r.CompleteCourse(epoch.Add(time.Hour)))
	assert.True(t, r.LastAccessed.Equal(epoch.Add(time.Hour)))
}
