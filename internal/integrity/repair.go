package integrity

import (
	"context"
	"fmt"
	"time"

	"github.com/pot-code/course-progress/internal/catalog"
	"github.com/pot-code/course-progress/internal/infrastructure/logging"
	"github.com/pot-code/course-progress/internal/progress"
	"go.uber.org/zap"
)

// DefaultMaxPasses fix/validate rounds before falling back to a reset
const DefaultMaxPasses = 3

// Step one applied fix
type Step struct {
	Pass   int              `json:"pass"`
	Issue  Issue            `json:"issue"`
	Before *progress.Record `json:"before"`
	After  *progress.Record `json:"after"`
}

// Report what a repair did to one course record
type Report struct {
	CourseID string           `json:"courseId"`
	Issues   []Issue          `json:"issues"`
	Steps    []Step           `json:"steps"`
	Reset    bool             `json:"reset"`
	Record   *progress.Record `json:"record"`
}

// Changed reports whether the record differs from its input
func (r *Report) Changed() bool {
	return r.Reset || len(r.Steps) > 0
}

// Repairer applies minimally destructive fixes, resetting the record when they do not converge
type Repairer struct {
	MaxPasses int
	logger    *zap.Logger
	clock     func() time.Time
}

// NewRepairer create a repairer, nil clock means time.Now
func NewRepairer(logger *zap.Logger, clock func() time.Time) *Repairer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Repairer{MaxPasses: DefaultMaxPasses, logger: logger, clock: clock}
}

// Repair validate rec and fix it. rec is not modified; the repaired copy is Report.Record.
// A record carrying a MALFORMED_INPUT issue in known is reset straight away.
func (r *Repairer) Repair(ctx context.Context, course *catalog.Course, rec *progress.Record, known ...Issue) *Report {
	logger := logging.ExtractLoggerFromContext(ctx, r.logger).With(zap.String("course.id", course.ID))
	now := r.clock()

	report := &Report{CourseID: course.ID}
	report.Issues = append(report.Issues, known...)
	if rec == nil {
		return r.reset(logger, report, now, "record is missing")
	}
	for _, issue := range known {
		if issue.Type == MalformedInput {
			return r.reset(logger, report, now, issue.Message)
		}
	}

	current := rec.Clone()
	issues := Validate(course, current)
	report.Issues = append(report.Issues, issues...)

	for pass := 1; pass <= r.MaxPasses && len(issues) > 0; pass++ {
		for _, issue := range ordered(issues) {
			before := current.Clone()
			if err := safeApply(issue, current, now); err != nil {
				logger.Error("repair step failed", zap.String("repair.issue", issue.String()), zap.Error(err))
				return r.reset(logger, report, now, err.Error())
			}
			report.Steps = append(report.Steps, Step{Pass: pass, Issue: issue, Before: before, After: current.Clone()})
			logger.Info("repaired progress record",
				zap.Int("repair.pass", pass),
				zap.String("repair.issue", issue.String()),
				zap.Any("repair.before", before),
				zap.Any("repair.after", current))
		}
		issues = Validate(course, current)
	}

	if len(issues) > 0 {
		return r.reset(logger, report, now, fmt.Sprintf("%d issues left after %d passes", len(issues), r.MaxPasses))
	}
	report.Record = current
	return report
}

func (r *Repairer) reset(logger *zap.Logger, report *Report, now time.Time, reason string) *Report {
	report.Reset = true
	report.Record = progress.NewRecord(now)
	logger.Warn("reset progress record", zap.String("repair.reason", reason), zap.Any("repair.after", report.Record))
	return report
}

// ordered puts reference fixes first so logical checks see only known ids
func ordered(issues []Issue) []Issue {
	rank := map[IssueType]int{InvalidReference: 0, LogicalInconsistency: 1, TemporalInconsistency: 2}
	out := make([]Issue, 0, len(issues))
	for want := 0; want < 3; want++ {
		for _, issue := range issues {
			if rank[issue.Type] == want {
				out = append(out, issue)
			}
		}
	}
	return out
}

func safeApply(issue Issue, rec *progress.Record, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while fixing %s: %v", issue.Type, r)
		}
	}()
	return apply(issue, rec, now)
}

func apply(issue Issue, rec *progress.Record, now time.Time) error {
	switch issue.Type {
	case InvalidReference:
		switch issue.Field {
		case FieldCompletedLessons:
			rec.CompletedLessons.Remove(issue.IDs...)
		case FieldCompletedModules:
			rec.CompletedModules.Remove(issue.IDs...)
		default:
			return fmt.Errorf("unexpected field %q", issue.Field)
		}
	case LogicalInconsistency:
		switch issue.Field {
		case FieldCompletedModules:
			// downgrade, completion is never granted without evidence
			rec.CompletedModules.Remove(issue.IDs...)
			rec.IsCompleted = false
		case FieldIsCompleted:
			rec.IsCompleted = false
		default:
			return fmt.Errorf("unexpected field %q", issue.Field)
		}
	case TemporalInconsistency:
		// a start date ahead of the clock is skew, not evidence
		if rec.StartDate.After(now) {
			rec.StartDate = now
		}
		rec.LastAccessed = now
	default:
		return fmt.Errorf("%s cannot be fixed in place", issue.Type)
	}
	return nil
}
