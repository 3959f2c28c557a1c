package domain

import (
	"errors"
	"fmt"
)

// Kind classifies failures of the progress engine
type Kind string

// error taxonomy
const (
	KindMalformedInput        Kind = "MALFORMED_INPUT"
	KindDanglingReference     Kind = "DANGLING_REFERENCE"
	KindLogicalInconsistency  Kind = "LOGICAL_INCONSISTENCY"
	KindTemporalInconsistency Kind = "TEMPORAL_INCONSISTENCY"
	KindStorageWriteFailure   Kind = "STORAGE_WRITE_FAILURE"
	KindCatalogMissing        Kind = "CATALOG_MISSING"
)

// ErrCatalogMissing operation references a course absent from the catalog
var ErrCatalogMissing = errors.New("course is not in the catalog")

// ErrUnknownLesson lesson id does not belong to the course
var ErrUnknownLesson = errors.New("lesson is not part of the course")

// ErrCatalogNotLoaded engine used before a catalog was supplied
var ErrCatalogNotLoaded = errors.New("catalog has not been loaded")

// ErrCatalogLoaded catalog may only be loaded once per engine
var ErrCatalogLoaded = errors.New("catalog is already loaded")

// ErrInvalidCatalog catalog failed structural validation
var ErrInvalidCatalog = errors.New("invalid catalog")

// Error carries a taxonomy kind alongside the underlying cause
type Error struct {
	Kind     Kind
	CourseID string
	Err      error
}

// NewError wraps err with kind and course
func NewError(kind Kind, courseID string, err error) *Error {
	return &Error{Kind: kind, CourseID: courseID, Err: err}
}

func (e *Error) Error() string {
	if e.CourseID == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: course %q: %v", e.Kind, e.CourseID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the taxonomy kind of err, or "" when err is not a *Error
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// Warning is a non-fatal signal handed back to the calling layer,
// which decides how to surface it to the learner.
type Warning struct {
	Kind     Kind   `json:"kind"`
	Message  string `json:"message"`
	Degraded bool   `json:"degraded"`
}

func (w *Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Kind, w.Message)
}
