package unlock

import (
	"testing"
	"time"

	"github.com/pot-code/course-progress/internal/catalog"
	"github.com/pot-code/course-progress/internal/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqlBasics(t *testing.T) *catalog.Course {
	t.Helper()
	c, err := catalog.New([]*catalog.Course{{
		ID:    "sql-basics",
		Title: "SQL Basics",
		Modules: []*catalog.Module{
			{ID: "module-1", Lessons: []string{"L1", "L2"}},
			{ID: "module-2", Lessons: []string{"L3"}, Prerequisites: []string{"module-1"}},
		},
	}}, nil)
	require.NoError(t, err)
	return c.Course("sql-basics")
}

func TestInitiallyOnlyFirstLesson(t *testing.T) {
	course := sqlBasics(t)
	rec := progress.NewRecord(time.Now())

	assert.True(t, IsLessonUnlocked(course, rec, "L1"))
	assert.False(t, IsLessonUnlocked(course, rec, "L2"))
	assert.False(t, IsLessonUnlocked(course, rec, "L3"))
	assert.False(t, IsLessonUnlocked(course, rec, "L99"))
	assert.True(t, IsModuleUnlocked(course, rec, "module-1"))
	assert.False(t, IsModuleUnlocked(course, rec, "module-2"))
	assert.False(t, IsModuleUnlocked(course, rec, "module-9"))

	// nil record is an empty one
	assert.True(t, IsLessonUnlocked(course, nil, "L1"))
	assert.False(t, IsLessonUnlocked(course, nil, "L2"))

	next, ok := NextLesson(course, rec)
	require.True(t, ok)
	assert.Equal(t, "L1", next.LessonID)
}

func TestNextLesson(t *testing.T) {
	course := sqlBasics(t)
	now := time.Now()
	rec := progress.NewRecord(now)

	rec.CompleteLesson("L1", 0, now)
	next, ok := NextLesson(course, rec)
	require.True(t, ok)
	assert.Equal(t, "L2", next.LessonID)

	// module-2 stays locked until module-1 is recorded as complete
	rec.CompleteLesson("L2", 0, now)
	_, ok = NextLesson(course, rec)
	assert.False(t, ok)

	rec.CompleteModule("module-1", now)
	next, ok = NextLesson(course, rec)
	require.True(t, ok)
	assert.Equal(t, catalog.LessonRef{CourseID: "sql-basics", ModuleID: "module-2", LessonID: "L3"}, next)

	rec.CompleteLesson("L3", 0, now)
	_, ok = NextLesson(course, rec)
	assert.False(t, ok)
}

func TestUnlockIsMonotonic(t *testing.T) {
	course := sqlBasics(t)
	now := time.Now()
	rec := progress.NewRecord(now)

	steps := []func(){
		func() { rec.CompleteLesson("L1", 1, now) },
		func() { rec.CompleteLesson("L2", 1, now) },
		func() { rec.CompleteModule("module-1", now) },
		func() { rec.CompleteLesson("L3", 1, now) },
		func() { rec.CompleteModule("module-2", now) },
	}

	seen := map[string]bool{}
	for _, step := range steps {
		for _, ref := range UnlockedLessons(course, rec) {
			seen[ref.LessonID] = true
		}
		step()
		for id := range seen {
			assert.True(t, IsLessonUnlocked(course, rec, id), "lesson %s regressed", id)
		}
	}
	assert.Len(t, seen, 3)
}

func TestUnlockedModules(t *testing.T) {
	course := sqlBasics(t)
	rec := progress.NewRecord(time.Now())
	assert.Equal(t, []string{"module-1"}, UnlockedModules(course, rec))
	rec.CompleteModule("module-1", time.Now())
	assert.Equal(t, []string{"module-1", "module-2"}, UnlockedModules(course, rec))
}
