package progress

import (
	"time"
)

// IDSet insertion-ordered set of ids, serialized as a JSON array
type IDSet []string

// Has reports membership
func (s IDSet) Has(id string) bool {
	for _, v := range s {
		if v == id {
			return true
		}
	}
	return false
}

// Add appends id if absent, returns whether the set changed
func (s *IDSet) Add(id string) bool {
	if s.Has(id) {
		return false
	}
	*s = append(*s, id)
	return true
}

// Remove deletes every id in ids, returns the ids actually removed
func (s *IDSet) Remove(ids ...string) []string {
	if len(ids) == 0 {
		return nil
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	var removed []string
	kept := (*s)[:0]
	for _, v := range *s {
		if drop[v] {
			removed = append(removed, v)
			continue
		}
		kept = append(kept, v)
	}
	*s = kept
	return removed
}

// Clone .
func (s IDSet) Clone() IDSet {
	out := make(IDSet, len(s))
	copy(out, s)
	return out
}

// Record one learner's progress through one course
type Record struct {
	CompletedLessons IDSet     `json:"completedLessons"`
	CompletedModules IDSet     `json:"completedModules"`
	TotalScore       int       `json:"totalScore"`
	StartDate        time.Time `json:"startDate"`
	LastAccessed     time.Time `json:"lastAccessed"`
	IsCompleted      bool      `json:"isCompleted"`
}

// NewRecord fresh record started at now
func NewRecord(now time.Time) *Record {
	return &Record{
		CompletedLessons: IDSet{},
		CompletedModules: IDSet{},
		StartDate:        now,
		LastAccessed:     now,
	}
}

// Clone deep copy, nil stays nil
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.CompletedLessons = r.CompletedLessons.Clone()
	out.CompletedModules = r.CompletedModules.Clone()
	return &out
}

// CompleteLesson adds lessonID and always adds score; returns whether lessonID was new
func (r *Record) CompleteLesson(lessonID string, score int, now time.Time) bool {
	added := r.CompletedLessons.Add(lessonID)
	r.TotalScore += score
	r.touch(now)
	return added
}

// CompleteModule adds moduleID, returns whether it was new
func (r *Record) CompleteModule(moduleID string, now time.Time) bool {
	added := r.CompletedModules.Add(moduleID)
	r.touch(now)
	return added
}

// CompleteCourse sets the completion flag, returns whether it changed
func (r *Record) CompleteCourse(now time.Time) bool {
	changed := !r.IsCompleted
	r.IsCompleted = true
	r.touch(now)
	return changed
}

// touch never moves lastAccessed backwards
func (r *Record) touch(now time.Time) {
	if now.After(r.LastAccessed) {
		r.LastAccessed = now
	}
}
