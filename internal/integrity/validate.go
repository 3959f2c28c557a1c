// Package integrity finds and repairs progress records that break the
// invariants of their course.
package integrity

import (
	"fmt"
	"strings"

	"github.com/pot-code/course-progress/internal/catalog"
	"github.com/pot-code/course-progress/internal/domain"
	"github.com/pot-code/course-progress/internal/progress"
)

// IssueType issue classification
type IssueType string

const (
	InvalidReference      IssueType = "INVALID_REFERENCE"
	LogicalInconsistency  IssueType = "LOGICAL_INCONSISTENCY"
	TemporalInconsistency IssueType = "TEMPORAL_INCONSISTENCY"
	MalformedInput        IssueType = "MALFORMED_INPUT"
)

// record fields an issue may point at
const (
	FieldCompletedLessons = "completedLessons"
	FieldCompletedModules = "completedModules"
	FieldIsCompleted      = "isCompleted"
	FieldLastAccessed     = "lastAccessed"
	FieldRecord           = "record"
)

// Issue one invariant violation found in a record
type Issue struct {
	Type     IssueType `json:"type"`
	CourseID string    `json:"courseId"`
	Field    string    `json:"field"`
	IDs      []string  `json:"ids,omitempty"`
	Missing  []string  `json:"missing,omitempty"` // lessons a completed module lacks
	Message  string    `json:"message"`
}

// Kind maps the issue onto the error taxonomy
func (i Issue) Kind() domain.Kind {
	switch i.Type {
	case InvalidReference:
		return domain.KindDanglingReference
	case LogicalInconsistency:
		return domain.KindLogicalInconsistency
	case TemporalInconsistency:
		return domain.KindTemporalInconsistency
	default:
		return domain.KindMalformedInput
	}
}

func (i Issue) String() string {
	return fmt.Sprintf("%s %s: %s", i.Type, i.Field, i.Message)
}

// Malformed issue for a record that could not be parsed at all
func Malformed(courseID string, err error) Issue {
	msg := "record could not be parsed"
	if err != nil {
		msg = err.Error()
	}
	return Issue{Type: MalformedInput, CourseID: courseID, Field: FieldRecord, Message: msg}
}

// Validate compares rec against course without mutating either
func Validate(course *catalog.Course, rec *progress.Record) []Issue {
	if rec == nil {
		return nil
	}
	var issues []Issue

	var unknownLessons []string
	for _, id := range rec.CompletedLessons {
		if !course.HasLesson(id) {
			unknownLessons = append(unknownLessons, id)
		}
	}
	if len(unknownLessons) > 0 {
		issues = append(issues, Issue{
			Type:     InvalidReference,
			CourseID: course.ID,
			Field:    FieldCompletedLessons,
			IDs:      unknownLessons,
			Message:  "unknown lessons " + strings.Join(unknownLessons, ", "),
		})
	}

	var unknownModules []string
	for _, id := range rec.CompletedModules {
		if !course.HasModule(id) {
			unknownModules = append(unknownModules, id)
		}
	}
	if len(unknownModules) > 0 {
		issues = append(issues, Issue{
			Type:     InvalidReference,
			CourseID: course.ID,
			Field:    FieldCompletedModules,
			IDs:      unknownModules,
			Message:  "unknown modules " + strings.Join(unknownModules, ", "),
		})
	}

	for _, id := range rec.CompletedModules {
		m := course.Module(id)
		if m == nil {
			continue
		}
		var missing []string
		for _, l := range m.Lessons {
			if !rec.CompletedLessons.Has(l) {
				missing = append(missing, l)
			}
		}
		if len(missing) > 0 {
			issues = append(issues, Issue{
				Type:     LogicalInconsistency,
				CourseID: course.ID,
				Field:    FieldCompletedModules,
				IDs:      []string{id},
				Missing:  missing,
				Message:  fmt.Sprintf("module %s is complete but lacks %s", id, strings.Join(missing, ", ")),
			})
		}
	}

	if rec.IsCompleted {
		var open []string
		for _, m := range course.Modules {
			if !rec.CompletedModules.Has(m.ID) || !moduleEarned(m, rec) {
				open = append(open, m.ID)
			}
		}
		if len(open) > 0 {
			issues = append(issues, Issue{
				Type:     LogicalInconsistency,
				CourseID: course.ID,
				Field:    FieldIsCompleted,
				IDs:      open,
				Message:  "course is complete but modules " + strings.Join(open, ", ") + " are not",
			})
		}
	}

	if rec.LastAccessed.Before(rec.StartDate) {
		issues = append(issues, Issue{
			Type:     TemporalInconsistency,
			CourseID: course.ID,
			Field:    FieldLastAccessed,
			Message: fmt.Sprintf("lastAccessed %s is before startDate %s",
				rec.LastAccessed.Format(progress.TimeLayout), rec.StartDate.Format(progress.TimeLayout)),
		})
	}
	return issues
}

func moduleEarned(m *catalog.Module, rec *progress.Record) bool {
	for _, l := range m.Lessons {
		if !rec.CompletedLessons.Has(l) {
			return false
		}
	}
	return true
}
