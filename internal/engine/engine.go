// Package engine is the public face of the progress subsystem: one Engine per
// learner, built over a key-value backend and a shared catalog.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pot-code/course-progress/internal/cascade"
	"github.com/pot-code/course-progress/internal/catalog"
	"github.com/pot-code/course-progress/internal/domain"
	"github.com/pot-code/course-progress/internal/infrastructure/driver"
	"github.com/pot-code/course-progress/internal/infrastructure/logging"
	"github.com/pot-code/course-progress/internal/infrastructure/uuid"
	"github.com/pot-code/course-progress/internal/integrity"
	"github.com/pot-code/course-progress/internal/progress"
	"github.com/pot-code/course-progress/internal/recommend"
	"github.com/pot-code/course-progress/internal/unlock"
	"go.elastic.co/apm"
	"go.uber.org/zap"
)

// Observer receives every lesson completion once it has been persisted
type Observer func(learnerID string, result *cascade.Result)

// Options engine options
type Options struct {
	LearnerID   string
	Key         string // progress blob key, defaults to progress.DefaultKey
	MaxBackups  int
	Clock       func() time.Time
	IDGenerator uuid.Generator
	Logger      *zap.Logger
}

// LoadReport what loading and recovering the persisted progress did
type LoadReport struct {
	Migrated []string            `json:"migrated,omitempty"`
	Issues   []integrity.Issue   `json:"issues,omitempty"` // blob-level findings
	Repairs  []*integrity.Report `json:"repairs,omitempty"`
	Cascaded []cascade.Event     `json:"cascaded,omitempty"` // completions a stored record was missing
	Backup   string              `json:"backup,omitempty"`
	Warning  *domain.Warning     `json:"warning,omitempty"`
}

// Engine tracks one learner through the catalog. Public calls are serialized.
type Engine struct {
	mu        sync.Mutex
	learnerID string
	catalog   *catalog.Catalog
	store     *progress.Store
	repairer  *integrity.Repairer
	clock     func() time.Time
	logger    *zap.Logger

	obsMu     sync.RWMutex
	observers map[int]Observer
	nextObs   int
}

// New create an engine persisting through kv. LoadCatalog must be called before use.
func New(kv driver.KeyValueDB, opts *Options) *Engine {
	if opts == nil {
		opts = new(Options)
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.LearnerID != "" {
		logger = logger.With(zap.String("learner.id", opts.LearnerID))
	}
	return &Engine{
		learnerID: opts.LearnerID,
		store: progress.NewStore(kv, &progress.Options{
			Key:         opts.Key,
			MaxBackups:  opts.MaxBackups,
			Clock:       clock,
			IDGenerator: opts.IDGenerator,
			Logger:      logger,
		}),
		repairer:  integrity.NewRepairer(logger, clock),
		clock:     clock,
		logger:    logger,
		observers: make(map[int]Observer),
	}
}

// LearnerID .
func (e *Engine) LearnerID() string {
	return e.learnerID
}

// Degraded reports whether progress is only kept in memory for the rest of the session
func (e *Engine) Degraded() bool {
	return e.store.Degraded()
}

// LoadCatalog install the catalog, then load, validate and repair the persisted progress.
// A catalog can be loaded once per engine.
func (e *Engine) LoadCatalog(ctx context.Context, c *catalog.Catalog) (*LoadReport, error) {
	apmSpan, _ := apm.StartSpan(ctx, "Engine.LoadCatalog", "service")
	defer apmSpan.End()

	if c == nil {
		return nil, fmt.Errorf("%w: catalog is nil", domain.ErrInvalidCatalog)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.catalog != nil {
		return nil, domain.ErrCatalogLoaded
	}
	e.catalog = c
	return e.recoverLocked(ctx), nil
}

type fix struct {
	courseID string
	rec      *progress.Record
}

// recoverLocked repairs every record of a catalog course and runs the cascade over it
// before anything else reads it. Records of courses outside the catalog are kept as they are.
func (e *Engine) recoverLocked(ctx context.Context) *LoadReport {
	logger := logging.ExtractLoggerFromContext(ctx, e.logger)
	loaded := e.store.Load(ctx)
	report := &LoadReport{Migrated: loaded.Migrated}
	dirty := len(loaded.Migrated) > 0

	malformed := make(map[string]error)
	for _, s := range loaded.Malformed {
		dirty = true
		if s.CourseID == "" {
			report.Issues = append(report.Issues, integrity.Malformed("", s.Err))
			continue
		}
		malformed[s.CourseID] = s.Err
	}

	var fixes []fix
	for _, course := range e.catalog.Courses {
		var rep *integrity.Report
		if err, ok := malformed[course.ID]; ok {
			rep = e.repairer.Repair(ctx, course, nil, integrity.Malformed(course.ID, err))
		} else if rec, ok := loaded.Records[course.ID]; ok {
			rep = e.repairer.Repair(ctx, course, rec)
		} else {
			continue
		}
		changed := rep.Changed()
		if changed {
			report.Repairs = append(report.Repairs, rep)
		}
		if events := cascade.Run(course, rep.Record, e.clock()); len(events) > 0 {
			report.Cascaded = append(report.Cascaded, events...)
			changed = true
		}
		if !changed {
			continue
		}
		fixes = append(fixes, fix{courseID: course.ID, rec: rep.Record})
		dirty = true
	}
	if !dirty {
		return report
	}

	report.Backup = e.store.Backup(ctx, loaded.Raw)
	for _, f := range fixes {
		report.Warning = firstWarning(report.Warning, e.store.Replace(ctx, f.courseID, f.rec))
	}
	if len(fixes) == 0 {
		report.Warning = e.store.Save(ctx, "")
	}
	logger.Info("recovered persisted progress",
		zap.Int("repair.count", len(report.Repairs)),
		zap.Int("cascade.events", len(report.Cascaded)),
		zap.Strings("course.migrated", report.Migrated),
		zap.String("backup.key", report.Backup))
	return report
}

func firstWarning(a, b *domain.Warning) *domain.Warning {
	if a != nil {
		return a
	}
	return b
}

func (e *Engine) courseLocked(courseID string) (*catalog.Course, error) {
	if e.catalog == nil {
		return nil, domain.ErrCatalogNotLoaded
	}
	c := e.catalog.Course(courseID)
	if c == nil {
		return nil, domain.NewError(domain.KindCatalogMissing, courseID, domain.ErrCatalogMissing)
	}
	return c, nil
}

// Catalog the loaded catalog, nil before LoadCatalog
func (e *Engine) Catalog() *catalog.Catalog {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.catalog
}

// SelectCourse start the course if it has no progress yet, returns its record
func (e *Engine) SelectCourse(ctx context.Context, courseID string) (*progress.Record, *domain.Warning, error) {
	apmSpan, _ := apm.StartSpan(ctx, "Engine.SelectCourse", "service")
	defer apmSpan.End()

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.courseLocked(courseID); err != nil {
		return nil, nil, err
	}
	if rec, ok := e.store.Record(courseID); ok {
		return rec, nil, nil
	}
	rec, warn := e.store.InitializeCourseProgress(ctx, courseID)
	logging.ExtractLoggerFromContext(ctx, e.logger).Info("course started", zap.String("course.id", courseID))
	return rec, warn, nil
}

// GetCourseProgress copy of the course record, nil when the course was never started
func (e *Engine) GetCourseProgress(ctx context.Context, courseID string) (*progress.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.courseLocked(courseID); err != nil {
		return nil, err
	}
	rec, _ := e.store.Record(courseID)
	return rec, nil
}

// MarkLessonCompleted record the completion, run the cascade to a fixpoint and
// persist. Observers see the result after it is stored.
func (e *Engine) MarkLessonCompleted(ctx context.Context, courseID, lessonID string, score int) (*cascade.Result, error) {
	apmSpan, _ := apm.StartSpan(ctx, "Engine.MarkLessonCompleted", "service")
	defer apmSpan.End()

	result, err := e.markLessonCompleted(ctx, courseID, lessonID, score)
	if err != nil {
		return nil, err
	}
	e.notify(result)
	return result, nil
}

func (e *Engine) markLessonCompleted(ctx context.Context, courseID, lessonID string, score int) (*cascade.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	course, err := e.courseLocked(courseID)
	if err != nil {
		return nil, err
	}
	if !course.HasLesson(lessonID) {
		return nil, domain.NewError(domain.KindCatalogMissing, courseID,
			fmt.Errorf("%w: %q", domain.ErrUnknownLesson, lessonID))
	}
	logger := logging.ExtractLoggerFromContext(ctx, e.logger).With(
		zap.String("course.id", courseID),
		zap.String("lesson.id", lessonID),
	)

	// completion and cascade land in a single write
	var (
		added  bool
		events []cascade.Event
	)
	warn := e.store.Mutate(ctx, courseID, func(r *progress.Record, now time.Time) bool {
		added = r.CompleteLesson(lessonID, score, now)
		events = cascade.Run(course, r, now)
		return true
	})
	rec, _ := e.store.Record(courseID)

	logger.Debug("lesson completed", zap.Bool("lesson.new", added), zap.Int("cascade.events", len(events)))
	return &cascade.Result{
		CourseID: courseID,
		LessonID: lessonID,
		Added:    added,
		Events:   events,
		Progress: rec,
		Warning:  warn,
	}, nil
}

// IsLessonUnlocked unknown lessons are locked
func (e *Engine) IsLessonUnlocked(ctx context.Context, courseID, lessonID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	course, err := e.courseLocked(courseID)
	if err != nil {
		return false, err
	}
	rec, _ := e.store.Record(courseID)
	return unlock.IsLessonUnlocked(course, rec, lessonID), nil
}

// GetNextLesson earliest unlocked lesson not yet completed, nil when there is none
func (e *Engine) GetNextLesson(ctx context.Context, courseID string) (*catalog.LessonRef, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	course, err := e.courseLocked(courseID)
	if err != nil {
		return nil, err
	}
	rec, _ := e.store.Record(courseID)
	ref, ok := unlock.NextLesson(course, rec)
	if !ok {
		return nil, nil
	}
	return &ref, nil
}

// UnlockedLessons every lesson currently reachable in the course
func (e *Engine) UnlockedLessons(ctx context.Context, courseID string) ([]catalog.LessonRef, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	course, err := e.courseLocked(courseID)
	if err != nil {
		return nil, err
	}
	rec, _ := e.store.Record(courseID)
	return unlock.UnlockedLessons(course, rec), nil
}

// ValidateIntegrity read-only check of the course record
func (e *Engine) ValidateIntegrity(ctx context.Context, courseID string) ([]integrity.Issue, error) {
	apmSpan, _ := apm.StartSpan(ctx, "Engine.ValidateIntegrity", "service")
	defer apmSpan.End()

	e.mu.Lock()
	defer e.mu.Unlock()
	course, err := e.courseLocked(courseID)
	if err != nil {
		return nil, err
	}
	rec, _ := e.store.Record(courseID)
	return integrity.Validate(course, rec), nil
}

// Repair validate and fix the course record, persisting only when something changed
func (e *Engine) Repair(ctx context.Context, courseID string) (*integrity.Report, *domain.Warning, error) {
	apmSpan, _ := apm.StartSpan(ctx, "Engine.Repair", "service")
	defer apmSpan.End()

	e.mu.Lock()
	defer e.mu.Unlock()
	course, err := e.courseLocked(courseID)
	if err != nil {
		return nil, nil, err
	}
	rec, ok := e.store.Record(courseID)
	if !ok {
		return &integrity.Report{CourseID: courseID}, nil, nil
	}
	report := e.repairer.Repair(ctx, course, rec)
	if !report.Changed() {
		return report, nil, nil
	}
	return report, e.store.Replace(ctx, courseID, report.Record), nil
}

// ResetProgress drop the records of courseIDs, or of every course when none given
func (e *Engine) ResetProgress(ctx context.Context, courseIDs ...string) (*domain.Warning, error) {
	apmSpan, _ := apm.StartSpan(ctx, "Engine.ResetProgress", "service")
	defer apmSpan.End()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.catalog == nil {
		return nil, domain.ErrCatalogNotLoaded
	}
	for _, id := range courseIDs {
		if _, err := e.courseLocked(id); err != nil {
			return nil, err
		}
	}
	logging.ExtractLoggerFromContext(ctx, e.logger).Info("reset progress", zap.Strings("course.ids", courseIDs))
	return e.store.Reset(ctx, courseIDs...), nil
}

// Recommend advise on the next step from success-rate signals
func (e *Engine) Recommend(ctx context.Context, courseID string, signals []recommend.Signal) (recommend.Recommendation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.courseLocked(courseID); err != nil {
		return recommend.Recommendation{}, err
	}
	rec, _ := e.store.Record(courseID)
	return recommend.Recommend(rec, signals), nil
}

// Subscribe register o for lesson completions, the returned func removes it
func (e *Engine) Subscribe(o Observer) func() {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	id := e.nextObs
	e.nextObs++
	e.observers[id] = o
	return func() {
		e.obsMu.Lock()
		defer e.obsMu.Unlock()
		delete(e.observers, id)
	}
}

func (e *Engine) notify(result *cascade.Result) {
	e.obsMu.RLock()
	ids := make([]int, 0, len(e.observers))
	for id := range e.observers {
		ids = append(ids, id)
	}
	observers := make([]Observer, 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		observers = append(observers, e.observers[id])
	}
	e.obsMu.RUnlock()

	for _, o := range observers {
		o(e.learnerID, result)
	}
}
