// Package cascade propagates lesson completions into module completion,
// newly unlocked modules and course completion.
package cascade

import (
	"time"

	"github.com/pot-code/course-progress/internal/catalog"
	"github.com/pot-code/course-progress/internal/domain"
	"github.com/pot-code/course-progress/internal/progress"
	"github.com/pot-code/course-progress/internal/unlock"
)

// EventType cascade event type
type EventType string

const (
	ModuleCompleted EventType = "MODULE_COMPLETED"
	ModuleUnlocked  EventType = "MODULE_UNLOCKED"
	CourseCompleted EventType = "COURSE_COMPLETED"
)

// Event a state transition produced by a cascade run
type Event struct {
	Type     EventType `json:"type"`
	CourseID string    `json:"courseId"`
	ModuleID string    `json:"moduleId,omitempty"`
	LessonID string    `json:"lessonId,omitempty"` // access point of an unlocked module
	At       time.Time `json:"at"`
}

// Result outcome of completing a lesson
type Result struct {
	CourseID string           `json:"courseId"`
	LessonID string           `json:"lessonId"`
	Added    bool             `json:"added"`
	Events   []Event          `json:"events"`
	Progress *progress.Record `json:"progress"`
	Warning  *domain.Warning  `json:"warning,omitempty"`
}

// Has reports whether the result carries an event of type t
func (r *Result) Has(t EventType) bool {
	for _, e := range r.Events {
		if e.Type == t {
			return true
		}
	}
	return false
}

// Run mutates rec until no further module completes and returns the events in order:
// module completions, module unlocks, then at most one course completion.
// Running it again on the resulting record returns no events.
func Run(course *catalog.Course, rec *progress.Record, now time.Time) []Event {
	before := make(map[string]bool, len(course.Modules))
	for _, id := range unlock.UnlockedModules(course, rec) {
		before[id] = true
	}

	var events []Event
	for {
		changed := false
		for _, m := range course.Modules {
			if rec.CompletedModules.Has(m.ID) || !lessonsDone(m, rec) {
				continue
			}
			rec.CompleteModule(m.ID, now)
			events = append(events, Event{Type: ModuleCompleted, CourseID: course.ID, ModuleID: m.ID, At: now})
			changed = true
		}
		if !changed {
			break
		}
	}

	for _, id := range unlock.UnlockedModules(course, rec) {
		if before[id] {
			continue
		}
		events = append(events, Event{
			Type:     ModuleUnlocked,
			CourseID: course.ID,
			ModuleID: id,
			LessonID: course.Module(id).FirstLesson(),
			At:       now,
		})
	}

	if allModulesDone(course, rec) && rec.CompleteCourse(now) {
		events = append(events, Event{Type: CourseCompleted, CourseID: course.ID, At: now})
	}
	return events
}

func lessonsDone(m *catalog.Module, rec *progress.Record) bool {
	for _, l := range m.Lessons {
		if !rec.CompletedLessons.Has(l) {
			return false
		}
	}
	return true
}

func allModulesDone(course *catalog.Course, rec *progress.Record) bool {
	for _, m := range course.Modules {
		if !rec.CompletedModules.Has(m.ID) {
			return false
		}
	}
	return true
}
