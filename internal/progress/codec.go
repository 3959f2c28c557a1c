package progress

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// TimeLayout millisecond ISO-8601, the shape browsers write
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

type wireRecord struct {
	CompletedLessons IDSet  `json:"completedLessons"`
	CompletedModules IDSet  `json:"completedModules"`
	TotalScore       int    `json:"totalScore"`
	StartDate        string `json:"startDate"`
	LastAccessed     string `json:"lastAccessed"`
	IsCompleted      bool   `json:"isCompleted"`
}

// rawRecord accepts both the current and legacy shapes
type rawRecord struct {
	CompletedLessons json.RawMessage `json:"completedLessons"`
	CompletedModules json.RawMessage `json:"completedModules"`
	TotalScore       json.RawMessage `json:"totalScore"`
	Score            json.RawMessage `json:"score"`
	StartDate        json.RawMessage `json:"startDate"`
	LastAccessed     json.RawMessage `json:"lastAccessed"`
	IsCompleted      json.RawMessage `json:"isCompleted"`
}

// encodeBlob serialize every record, keys are sorted by encoding/json
func encodeBlob(records map[string]*Record) (string, error) {
	wire := make(map[string]wireRecord, len(records))
	for id, r := range records {
		lessons, modules := r.CompletedLessons, r.CompletedModules
		if lessons == nil {
			lessons = IDSet{}
		}
		if modules == nil {
			modules = IDSet{}
		}
		wire[id] = wireRecord{
			CompletedLessons: lessons,
			CompletedModules: modules,
			TotalScore:       r.TotalScore,
			StartDate:        formatTime(r.StartDate),
			LastAccessed:     formatTime(r.LastAccessed),
			IsCompleted:      r.IsCompleted,
		}
	}
	b, err := json.Marshal(wire)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

// decoded result of parsing a persisted blob
type decoded struct {
	records   map[string]*Record
	malformed map[string]error
	migrated  []string
}

// decodeBlob parse a blob. err is non-nil only when the blob as a whole is unusable;
// per-course failures land in malformed.
func decodeBlob(blob string, now time.Time) (*decoded, error) {
	out := &decoded{
		records:   make(map[string]*Record),
		malformed: make(map[string]error),
	}
	trimmed := strings.TrimSpace(blob)
	if trimmed == "" || trimmed == "null" {
		return out, nil
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &top); err != nil {
		return out, fmt.Errorf("parse progress blob: %w", err)
	}

	// {"version": n, "courses": {...}} envelope
	if courses, ok := top["courses"]; ok {
		if _, versioned := top["version"]; versioned {
			var inner map[string]json.RawMessage
			if err := json.Unmarshal(courses, &inner); err != nil {
				return out, fmt.Errorf("parse versioned progress blob: %w", err)
			}
			top = inner
			for id := range top {
				out.migrated = append(out.migrated, id)
			}
		}
	}

	for id, raw := range top {
		rec, legacy, err := decodeRecord(raw, now)
		if err != nil {
			out.malformed[id] = err
			continue
		}
		out.records[id] = rec
		if legacy && !contains(out.migrated, id) {
			out.migrated = append(out.migrated, id)
		}
	}
	sort.Strings(out.migrated)
	return out, nil
}

func decodeRecord(raw json.RawMessage, now time.Time) (rec *Record, legacy bool, err error) {
	var rr rawRecord
	if err := json.Unmarshal(raw, &rr); err != nil {
		return nil, false, err
	}

	rec = new(Record)
	var l bool
	if rec.CompletedLessons, l, err = decodeIDs(rr.CompletedLessons); err != nil {
		return nil, false, fmt.Errorf("completedLessons: %w", err)
	}
	legacy = legacy || l
	if rec.CompletedModules, l, err = decodeIDs(rr.CompletedModules); err != nil {
		return nil, false, fmt.Errorf("completedModules: %w", err)
	}
	legacy = legacy || l

	scoreRaw := rr.TotalScore
	if isAbsent(scoreRaw) && !isAbsent(rr.Score) {
		scoreRaw = rr.Score
		legacy = true
	}
	if rec.TotalScore, err = decodeScore(scoreRaw); err != nil {
		return nil, false, fmt.Errorf("totalScore: %w", err)
	}

	if rec.StartDate, l, err = decodeTime(rr.StartDate); err != nil {
		return nil, false, fmt.Errorf("startDate: %w", err)
	}
	legacy = legacy || l
	if rec.LastAccessed, l, err = decodeTime(rr.LastAccessed); err != nil {
		return nil, false, fmt.Errorf("lastAccessed: %w", err)
	}
	legacy = legacy || l

	switch {
	case rec.StartDate.IsZero() && rec.LastAccessed.IsZero():
		rec.StartDate, rec.LastAccessed = now, now
		legacy = true
	case rec.StartDate.IsZero():
		rec.StartDate = rec.LastAccessed
		legacy = true
	case rec.LastAccessed.IsZero():
		rec.LastAccessed = rec.StartDate
		legacy = true
	}

	if rec.IsCompleted, err = decodeBool(rr.IsCompleted); err != nil {
		return nil, false, fmt.Errorf("isCompleted: %w", err)
	}
	return rec, legacy, nil
}

func isAbsent(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// decodeIDs accepts ["a","b"] or the legacy {"a": true, "b": false}
func decodeIDs(raw json.RawMessage) (IDSet, bool, error) {
	set := IDSet{}
	if isAbsent(raw) {
		return set, false, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		legacy := false
		for _, id := range list {
			if !set.Add(id) {
				legacy = true
			}
		}
		return set, legacy, nil
	}
	var flags map[string]bool
	if err := json.Unmarshal(raw, &flags); err != nil {
		return nil, false, errors.New("expected an array of ids")
	}
	ids := make([]string, 0, len(flags))
	for id, done := range flags {
		if done {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		set.Add(id)
	}
	return set, true, nil
}

func decodeScore(raw json.RawMessage) (int, error) {
	if isAbsent(raw) {
		return 0, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, errors.New("expected a number")
		}
		if f, err = strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
			return 0, errors.New("expected a number")
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
		return 0, errors.New("score out of range")
	}
	return int(math.Round(f)), nil
}

// decodeTime accepts ISO-8601 strings or epoch milliseconds
func decodeTime(raw json.RawMessage) (time.Time, bool, error) {
	if isAbsent(raw) {
		return time.Time{}, false, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return time.Time{}, false, nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			if t, err := time.Parse("2006-01-02", s); err == nil {
				return t.UTC(), true, nil
			}
			return time.Time{}, false, fmt.Errorf("invalid timestamp %q", s)
		}
		return t.UTC(), false, nil
	}
	var ms float64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return time.Time{}, false, errors.New("expected a timestamp")
	}
	return time.UnixMilli(int64(ms)).UTC(), true, nil
}

func decodeBool(raw json.RawMessage) (bool, error) {
	if isAbsent(raw) {
		return false, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseBool(s); err == nil {
			return v, nil
		}
	}
	return false, errors.New("expected a boolean")
}

func contains(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}
