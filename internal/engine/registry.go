package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pot-code/course-progress/internal/catalog"
	"github.com/pot-code/course-progress/internal/infrastructure/driver"
	"github.com/pot-code/course-progress/internal/infrastructure/uuid"
	"go.uber.org/zap"
)

// ErrEmptyLearner learner id is required to address progress
var ErrEmptyLearner = errors.New("learner id is empty")

// RegistryOptions options shared by every engine of a registry
type RegistryOptions struct {
	KeyPrefix   string // store key is <KeyPrefix>:<learnerID>
	MaxBackups  int
	Clock       func() time.Time
	IDGenerator uuid.Generator
	Logger      *zap.Logger
}

// Registry lazily builds one engine per learner over a shared backend and catalog.
// Engines are never evicted: a learner's key must stay owned by a single engine,
// so the registry grows with the learners seen by the process.
type Registry struct {
	mu      sync.Mutex
	kv      driver.KeyValueDB
	catalog *catalog.Catalog
	opts    RegistryOptions
	engines map[string]*Engine
}

// NewRegistry create a registry, opts may be nil
func NewRegistry(kv driver.KeyValueDB, c *catalog.Catalog, opts *RegistryOptions) *Registry {
	r := &Registry{kv: kv, catalog: c, engines: make(map[string]*Engine)}
	if opts != nil {
		r.opts = *opts
	}
	if r.opts.KeyPrefix == "" {
		r.opts.KeyPrefix = "progress"
	}
	if r.opts.Logger == nil {
		r.opts.Logger = zap.NewNop()
	}
	return r
}

// Catalog shared catalog
func (r *Registry) Catalog() *catalog.Catalog {
	return r.catalog
}

// Key storage key of learnerID
func (r *Registry) Key(learnerID string) string {
	return fmt.Sprintf("%s:%s", r.opts.KeyPrefix, learnerID)
}

// Engine the engine of learnerID, created and recovered on first use
func (r *Registry) Engine(ctx context.Context, learnerID string) (*Engine, error) {
	if learnerID == "" {
		return nil, ErrEmptyLearner
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.engines[learnerID]; ok {
		return e, nil
	}

	e := New(r.kv, &Options{
		LearnerID:   learnerID,
		Key:         r.Key(learnerID),
		MaxBackups:  r.opts.MaxBackups,
		Clock:       r.opts.Clock,
		IDGenerator: r.opts.IDGenerator,
		Logger:      r.opts.Logger,
	})
	report, err := e.LoadCatalog(ctx, r.catalog)
	if err != nil {
		return nil, fmt.Errorf("load progress of %q: %w", learnerID, err)
	}
	if report.Warning != nil {
		r.opts.Logger.Warn("learner progress is memory only",
			zap.String("learner.id", learnerID), zap.String("warning", report.Warning.String()))
	}
	r.engines[learnerID] = e
	return e, nil
}

// Learners ids of the engines built so far
func (r *Registry) Learners() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.engines))
	for id := range r.engines {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Ping checks the backend is reachable
func (r *Registry) Ping(ctx context.Context) error {
	return r.kv.Ping(ctx)
}
