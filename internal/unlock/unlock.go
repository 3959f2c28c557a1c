// Package unlock answers whether a module or lesson is currently reachable.
//
// Every function is pure over a course definition and a progress record.
// A nil record behaves as an empty one and unknown ids are always locked.
package unlock

import (
	"github.com/pot-code/course-progress/internal/catalog"
	"github.com/pot-code/course-progress/internal/progress"
)

// IsModuleUnlocked true iff every prerequisite of moduleID is completed
func IsModuleUnlocked(course *catalog.Course, rec *progress.Record, moduleID string) bool {
	m := course.Module(moduleID)
	if m == nil {
		return false
	}
	return prerequisitesMet(m, rec)
}

// IsLessonUnlocked lesson i is reachable when its module is unlocked and lesson i-1 is completed
func IsLessonUnlocked(course *catalog.Course, rec *progress.Record, lessonID string) bool {
	ref, ok := course.Owner(lessonID)
	if !ok {
		return false
	}
	m := course.Module(ref.ModuleID)
	if !prerequisitesMet(m, rec) {
		return false
	}
	if ref.Index == 0 {
		return true
	}
	return completedLesson(rec, m.Lessons[ref.Index-1])
}

// NextLesson the earliest-declared lesson that is unlocked and not completed,
// false once every reachable lesson is done
func NextLesson(course *catalog.Course, rec *progress.Record) (catalog.LessonRef, bool) {
	for _, ref := range course.Lessons() {
		if completedLesson(rec, ref.LessonID) {
			continue
		}
		if IsLessonUnlocked(course, rec, ref.LessonID) {
			return ref, true
		}
	}
	return catalog.LessonRef{}, false
}

// UnlockedLessons every reachable lesson in catalog order, completed ones included
func UnlockedLessons(course *catalog.Course, rec *progress.Record) []catalog.LessonRef {
	var out []catalog.LessonRef
	for _, ref := range course.Lessons() {
		if IsLessonUnlocked(course, rec, ref.LessonID) {
			out = append(out, ref)
		}
	}
	return out
}

// UnlockedModules ids of modules whose prerequisites are all completed, in catalog order
func UnlockedModules(course *catalog.Course, rec *progress.Record) []string {
	var out []string
	for _, m := range course.Modules {
		if prerequisitesMet(m, rec) {
			out = append(out, m.ID)
		}
	}
	return out
}

func prerequisitesMet(m *catalog.Module, rec *progress.Record) bool {
	for _, p := range m.Prerequisites {
		if rec == nil || !rec.CompletedModules.Has(p) {
			return false
		}
	}
	return true
}

func completedLesson(rec *progress.Record, lessonID string) bool {
	return rec != nil && rec.CompletedLessons.Has(lessonID)
}
