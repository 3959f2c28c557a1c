package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/pot-code/course-progress/internal/cascade"
	"github.com/pot-code/course-progress/internal/catalog"
	"github.com/pot-code/course-progress/internal/domain"
	"github.com/pot-code/course-progress/internal/infrastructure/driver"
	"github.com/pot-code/course-progress/internal/integrity"
	"github.com/pot-code/course-progress/internal/progress"
	"github.com/pot-code/course-progress/internal/recommend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const testCatalog = `{"courses": [
  {"id": "sql-basics", "title": "SQL Basics", "modules": [
    {"id": "module-1", "title": "Selecting", "lessons": ["L1", "L2"]},
    {"id": "module-2", "title": "Filtering", "lessons": ["L3"], "prerequisites": ["module-1"]}
  ]},
  {"id": "sql-joins", "title": "SQL Joins", "modules": [
    {"id": "joins-1", "title": "Inner", "lessons": ["J1"]}
  ]}
]}`

type seqIDs struct{ n int }

func (s *seqIDs) Generate() (string, error) {
	s.n++
	return fmt.Sprintf("b%d", s.n), nil
}

type brokenKV struct{ *driver.MemoryKV }

func (brokenKV) Set(ctx context.Context, key, value string) error {
	return errors.New("quota exceeded")
}

// recordingKV keeps every value written to the progress key
type recordingKV struct {
	*driver.MemoryKV
	writes []string
}

func (r *recordingKV) Set(ctx context.Context, key, value string) error {
	if key == "p" {
		r.writes = append(r.writes, value)
	}
	return r.MemoryKV.Set(ctx, key, value)
}

type persistedRecord struct {
	CompletedLessons []string `json:"completedLessons"`
	CompletedModules []string `json:"completedModules"`
	IsCompleted      bool     `json:"isCompleted"`
}

func decodePersisted(t *testing.T, blob string) map[string]persistedRecord {
	t.Helper()
	var out map[string]persistedRecord
	require.NoError(t, json.Unmarshal([]byte(blob), &out))
	return out
}

func loadCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Load(strings.NewReader(testCatalog), catalog.FormatJSON, nil)
	require.NoError(t, err)
	return c
}

func newEngine(t *testing.T, kv driver.KeyValueDB) (*Engine, *LoadReport) {
	t.Helper()
	e := New(kv, &Options{
		LearnerID:   "ada",
		Key:         "p",
		Clock:       func() time.Time { return now },
		IDGenerator: &seqIDs{},
		Logger:      zaptest.NewLogger(t),
	})
	report, err := e.LoadCatalog(context.Background(), loadCatalog(t))
	require.NoError(t, err)
	return e, report
}

func TestScenarioA(t *testing.T) {
	ctx := context.Background()
	e, report := newEngine(t, driver.NewMemoryKV(0))
	assert.Empty(t, report.Repairs)

	_, _, err := e.SelectCourse(ctx, "sql-basics")
	require.NoError(t, err)
	for lesson, want := range map[string]bool{"L1": true, "L2": false, "L3": false} {
		got, err := e.IsLessonUnlocked(ctx, "sql-basics", lesson)
		require.NoError(t, err)
		assert.Equal(t, want, got, lesson)
	}

	res, err := e.MarkLessonCompleted(ctx, "sql-basics", "L1", 10)
	require.NoError(t, err)
	assert.Empty(t, res.Events)
	unlocked, _ := e.IsLessonUnlocked(ctx, "sql-basics", "L2")
	assert.True(t, unlocked)
	assert.Empty(t, res.Progress.CompletedModules)

	res, err = e.MarkLessonCompleted(ctx, "sql-basics", "L2", 10)
	require.NoError(t, err)
	require.Len(t, res.Events, 2)
	assert.Equal(t, cascade.ModuleCompleted, res.Events[0].Type)
	assert.Equal(t, cascade.Event{
		Type: cascade.ModuleUnlocked, CourseID: "sql-basics", ModuleID: "module-2", LessonID: "L3", At: now,
	}, res.Events[1])
	assert.Equal(t, progress.IDSet{"module-1"}, res.Progress.CompletedModules)
	assert.Equal(t, 20, res.Progress.TotalScore)

	next, err := e.GetNextLesson(ctx, "sql-basics")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "L3", next.LessonID)
}

func TestScenarioA_PersistedAfterEachCompletion(t *testing.T) {
	ctx := context.Background()
	kv := driver.NewMemoryKV(0)
	e, _ := newEngine(t, kv)

	steps := []struct {
		lesson  string
		modules []string
		next    string
	}{
		{"L1", nil, "L2"},
		{"L2", []string{"module-1"}, "L3"},
	}
	for _, step := range steps {
		_, err := e.MarkLessonCompleted(ctx, "sql-basics", step.lesson, 10)
		require.NoError(t, err)

		reloaded, report := newEngine(t, kv)
		assert.Empty(t, report.Repairs, step.lesson)
		assert.Empty(t, report.Cascaded, step.lesson)
		assert.Empty(t, report.Backup, step.lesson)

		rec, err := reloaded.GetCourseProgress(ctx, "sql-basics")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.ElementsMatch(t, step.modules, rec.CompletedModules, step.lesson)

		next, err := reloaded.GetNextLesson(ctx, "sql-basics")
		require.NoError(t, err)
		require.NotNil(t, next, step.lesson)
		assert.Equal(t, step.next, next.LessonID)
	}
}

func TestMarkLessonCompleted_SingleWrite(t *testing.T) {
	ctx := context.Background()
	kv := &recordingKV{MemoryKV: driver.NewMemoryKV(0)}
	e, _ := newEngine(t, kv)

	for _, lesson := range []string{"L1", "L2", "L3"} {
		before := len(kv.writes)
		_, err := e.MarkLessonCompleted(ctx, "sql-basics", lesson, 10)
		require.NoError(t, err)
		require.Len(t, kv.writes, before+1, lesson)
	}

	// the write completing L2 already carries module-1
	afterL2 := decodePersisted(t, kv.writes[1])["sql-basics"]
	assert.Equal(t, []string{"L1", "L2"}, afterL2.CompletedLessons)
	assert.Equal(t, []string{"module-1"}, afterL2.CompletedModules)

	last := decodePersisted(t, kv.writes[2])["sql-basics"]
	assert.Equal(t, []string{"module-1", "module-2"}, last.CompletedModules)
	assert.True(t, last.IsCompleted)
}

func TestLoad_CompletesStrandedCascade(t *testing.T) {
	ctx := context.Background()
	kv := driver.NewMemoryKV(0)
	raw := `{"sql-basics": {"completedLessons": ["L1", "L2"], "completedModules": [], "totalScore": 20,
		"startDate": "2024-02-01T00:00:00.000Z", "lastAccessed": "2024-02-02T00:00:00.000Z", "isCompleted": false}}`
	require.NoError(t, kv.Set(ctx, "p", raw))

	e, report := newEngine(t, kv)
	assert.Empty(t, report.Repairs)
	require.Len(t, report.Cascaded, 2)
	assert.Equal(t, cascade.ModuleCompleted, report.Cascaded[0].Type)
	assert.Equal(t, cascade.ModuleUnlocked, report.Cascaded[1].Type)
	assert.Equal(t, "p.backup.b1", report.Backup)

	next, err := e.GetNextLesson(ctx, "sql-basics")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "L3", next.LessonID)

	blob, err := kv.Get(ctx, "p")
	require.NoError(t, err)
	persisted := decodePersisted(t, blob)["sql-basics"]
	assert.Equal(t, []string{"module-1"}, persisted.CompletedModules)

	rec, err := e.GetCourseProgress(ctx, "sql-basics")
	require.NoError(t, err)
	assert.Equal(t, 20, rec.TotalScore)
}

func TestScenarioD_CourseCompletedOnce(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, driver.NewMemoryKV(0))

	completions := 0
	for _, l := range []string{"L1", "L2", "L3", "L3", "L1"} {
		res, err := e.MarkLessonCompleted(ctx, "sql-basics", l, 1)
		require.NoError(t, err)
		if res.Has(cascade.CourseCompleted) {
			completions++
		}
	}
	assert.Equal(t, 1, completions)

	rec, err := e.GetCourseProgress(ctx, "sql-basics")
	require.NoError(t, err)
	assert.True(t, rec.IsCompleted)
	assert.Equal(t, 5, rec.TotalScore)

	next, err := e.GetNextLesson(ctx, "sql-basics")
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestMarkLessonCompleted_Rejects(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, driver.NewMemoryKV(0))

	_, err := e.MarkLessonCompleted(ctx, "nope", "L1", 1)
	assert.ErrorIs(t, err, domain.ErrCatalogMissing)
	assert.Equal(t, domain.KindCatalogMissing, domain.KindOf(err))

	_, err = e.MarkLessonCompleted(ctx, "sql-basics", "J1", 1)
	assert.ErrorIs(t, err, domain.ErrUnknownLesson)

	_, _, err = e.SelectCourse(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrCatalogMissing)
	_, err = e.ResetProgress(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrCatalogMissing)

	rec, err := e.GetCourseProgress(ctx, "sql-basics")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestEngine_NeedsCatalog(t *testing.T) {
	ctx := context.Background()
	e := New(driver.NewMemoryKV(0), nil)
	_, err := e.GetNextLesson(ctx, "sql-basics")
	assert.ErrorIs(t, err, domain.ErrCatalogNotLoaded)

	_, err = e.LoadCatalog(ctx, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidCatalog)
	_, err = e.LoadCatalog(ctx, loadCatalog(t))
	require.NoError(t, err)
	_, err = e.LoadCatalog(ctx, loadCatalog(t))
	assert.ErrorIs(t, err, domain.ErrCatalogLoaded)
}

func TestLoad_RepairsPersistedRecords(t *testing.T) {
	ctx := context.Background()
	kv := driver.NewMemoryKV(0)
	raw := `{
		"sql-basics": {"completedLessons": ["L99", "L1"], "completedModules": ["module-1"], "totalScore": 7,
			"startDate": "2024-02-01T00:00:00.000Z", "lastAccessed": "2024-02-02T00:00:00.000Z", "isCompleted": false},
		"sql-joins": "garbage",
		"retired-course": {"completedLessons": ["X"], "completedModules": [], "totalScore": 1,
			"startDate": "2024-02-01T00:00:00.000Z", "lastAccessed": "2024-02-01T00:00:00.000Z", "isCompleted": false}
	}`
	require.NoError(t, kv.Set(ctx, "p", raw))

	e, report := newEngine(t, kv)
	require.Len(t, report.Repairs, 2)
	assert.Equal(t, "sql-basics", report.Repairs[0].CourseID)
	assert.False(t, report.Repairs[0].Reset)
	assert.True(t, report.Repairs[1].Reset)
	assert.Equal(t, "p.backup.b1", report.Backup)
	assert.Nil(t, report.Warning)

	backup, err := kv.Get(ctx, "p.backup.b1")
	require.NoError(t, err)
	assert.Equal(t, raw, backup)

	rec, err := e.GetCourseProgress(ctx, "sql-basics")
	require.NoError(t, err)
	assert.Equal(t, progress.IDSet{"L1"}, rec.CompletedLessons)
	assert.Empty(t, rec.CompletedModules)
	assert.Equal(t, 7, rec.TotalScore)

	issues, err := e.ValidateIntegrity(ctx, "sql-basics")
	require.NoError(t, err)
	assert.Empty(t, issues)

	joins, _ := e.GetCourseProgress(ctx, "sql-joins")
	require.NotNil(t, joins)
	assert.Empty(t, joins.CompletedLessons)

	blob, err := kv.Get(ctx, "p")
	require.NoError(t, err)
	var persisted map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(blob), &persisted))
	assert.Contains(t, persisted, "retired-course")
	assert.Len(t, persisted, 3)
}

func TestLoad_MalformedBlobIsReplaced(t *testing.T) {
	ctx := context.Background()
	kv := driver.NewMemoryKV(0)
	require.NoError(t, kv.Set(ctx, "p", "{not json"))

	_, report := newEngine(t, kv)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, integrity.MalformedInput, report.Issues[0].Type)
	assert.NotEmpty(t, report.Backup)

	blob, err := kv.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, "{}", blob)
}

func TestLoad_CleanStoreIsNotRewritten(t *testing.T) {
	ctx := context.Background()
	kv := driver.NewMemoryKV(0)
	e, _ := newEngine(t, kv)
	_, err := e.MarkLessonCompleted(ctx, "sql-basics", "L1", 3)
	require.NoError(t, err)

	_, report := newEngine(t, kv)
	assert.Empty(t, report.Repairs)
	assert.Empty(t, report.Backup)
}

func TestRepair_OnDemand(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, driver.NewMemoryKV(0))

	report, warn, err := e.Repair(ctx, "sql-basics")
	require.NoError(t, err)
	assert.Nil(t, warn)
	assert.False(t, report.Changed())

	_, err = e.MarkLessonCompleted(ctx, "sql-basics", "L1", 1)
	require.NoError(t, err)
	report, _, err = e.Repair(ctx, "sql-basics")
	require.NoError(t, err)
	assert.False(t, report.Changed())
}

func TestStorageFailureDegrades(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, brokenKV{driver.NewMemoryKV(0)})

	_, warn, err := e.SelectCourse(ctx, "sql-basics")
	require.NoError(t, err)
	require.NotNil(t, warn)
	assert.Equal(t, domain.KindStorageWriteFailure, warn.Kind)
	assert.True(t, e.Degraded())

	// the session keeps working in memory
	res, err := e.MarkLessonCompleted(ctx, "sql-basics", "L1", 1)
	require.NoError(t, err)
	assert.Nil(t, res.Warning)
	assert.Equal(t, progress.IDSet{"L1"}, res.Progress.CompletedLessons)
}

func TestObservers(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, driver.NewMemoryKV(0))

	var got []*cascade.Result
	unsubscribe := e.Subscribe(func(learnerID string, res *cascade.Result) {
		assert.Equal(t, "ada", learnerID)
		// observers may call back into the engine
		rec, err := e.GetCourseProgress(ctx, res.CourseID)
		require.NoError(t, err)
		assert.True(t, rec.CompletedLessons.Has(res.LessonID))
		got = append(got, res)
	})

	_, err := e.MarkLessonCompleted(ctx, "sql-joins", "J1", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Has(cascade.CourseCompleted))

	unsubscribe()
	_, err = e.MarkLessonCompleted(ctx, "sql-joins", "J1", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestResetProgress(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, driver.NewMemoryKV(0))
	e.MarkLessonCompleted(ctx, "sql-basics", "L1", 1)
	e.MarkLessonCompleted(ctx, "sql-joins", "J1", 1)

	warn, err := e.ResetProgress(ctx, "sql-basics")
	require.NoError(t, err)
	assert.Nil(t, warn)
	rec, _ := e.GetCourseProgress(ctx, "sql-basics")
	assert.Nil(t, rec)
	rec, _ = e.GetCourseProgress(ctx, "sql-joins")
	assert.NotNil(t, rec)

	_, err = e.ResetProgress(ctx)
	require.NoError(t, err)
	rec, _ = e.GetCourseProgress(ctx, "sql-joins")
	assert.Nil(t, rec)
}

func TestEngine_Recommend(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, driver.NewMemoryKV(0))
	got, err := e.Recommend(ctx, "sql-basics", []recommend.Signal{{ConceptID: "select", SuccessRate: 0.2, Samples: 10}})
	require.NoError(t, err)
	assert.Equal(t, recommend.Review, got.Action)

	_, err = e.Recommend(ctx, "nope", nil)
	assert.ErrorIs(t, err, domain.ErrCatalogMissing)
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	kv := driver.NewMemoryKV(0)
	r := NewRegistry(kv, loadCatalog(t), &RegistryOptions{KeyPrefix: "cp", Logger: zaptest.NewLogger(t)})

	_, err := r.Engine(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyLearner)

	ada, err := r.Engine(ctx, "ada")
	require.NoError(t, err)
	again, err := r.Engine(ctx, "ada")
	require.NoError(t, err)
	assert.Same(t, ada, again)

	bob, err := r.Engine(ctx, "bob")
	require.NoError(t, err)
	_, err = ada.MarkLessonCompleted(ctx, "sql-basics", "L1", 1)
	require.NoError(t, err)

	_, err = kv.Get(ctx, "cp:ada")
	assert.NoError(t, err)
	rec, _ := bob.GetCourseProgress(ctx, "sql-basics")
	assert.Nil(t, rec)
	assert.Equal(t, []string{"ada", "bob"}, r.Learners())
	assert.NoError(t, r.Ping(ctx))
}
