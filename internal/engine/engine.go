package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/upkeep/internal/genfunc"
	"github.com/roach88/upkeep/internal/schema"
	"github.com/roach88/upkeep/internal/store"
)

// DefaultMaxSteps bounds recomputations per batch. The visited set already
// guarantees termination; the quota catches schemas whose fan-out makes a
// single mutation touch an unreasonable share of the database.
const DefaultMaxSteps = 10000

// Engine owns propagation over one store. Construct with New, mutate
// through sessions from Begin. The engine itself is stateless between
// sessions; all per-run bookkeeping lives in the session's batch.
type Engine struct {
	store    *store.Store
	registry *schema.Registry
	catalog  *genfunc.Catalog
	clock    LogicalClock
	tokens   TokenGenerator
	logger   *slog.Logger
	maxSteps int

	// edges resolves a canonical key ("From.name") back to its declared
	// edge, for session-side link handling.
	edges map[string]schema.RelationEdge
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithMaxSteps overrides the per-batch recomputation quota.
func WithMaxSteps(n int) Option {
	return func(e *Engine) { e.maxSteps = n }
}

// WithTokenGenerator overrides batch token generation. Tests inject fixed
// sequences for reproducible logs.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(e *Engine) { e.tokens = g }
}

// WithClock overrides the logical clock. The caller owns positioning: a
// store that already holds log rows needs a clock past its highest seq.
// Without this option the engine resumes from the store automatically.
func WithClock(c LogicalClock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger overrides the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New builds an engine over a sealed registry and an open store. It checks
// that every registered generator resolves in the catalogue and that the
// store was last maintained under the same schema fingerprint; a fresh
// store is stamped with the current fingerprint.
//
// Returns *PropagationError with code SCHEMA_MISMATCH when the stored
// fingerprint differs. The caller decides how to migrate; the engine will
// not maintain values it cannot trust.
func New(ctx context.Context, st *store.Store, reg *schema.Registry, cat *genfunc.Catalog, opts ...Option) (*Engine, error) {
	if !reg.Sealed() {
		return nil, fmt.Errorf("engine: registry is not sealed")
	}
	if cat == nil {
		return nil, fmt.Errorf("engine: generator catalogue is nil")
	}
	for _, spec := range reg.AllSpecs() {
		if !cat.Has(spec.Generator.Fn) {
			return nil, fmt.Errorf("engine: field %s names unknown generator %q", spec.QualifiedName(), spec.Generator.Fn)
		}
	}

	e := &Engine{
		store:    st,
		registry: reg,
		catalog:  cat,
		tokens:   UUIDv7Generator{},
		logger:   slog.Default(),
		maxSteps: DefaultMaxSteps,
		edges:    make(map[string]schema.RelationEdge),
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, edge := range reg.Graph().Edges() {
		e.edges[edge.Key()] = edge
	}

	if err := e.checkFingerprint(ctx); err != nil {
		return nil, err
	}

	// The default clock resumes past every persisted seq so new log rows
	// keep ascending across process restarts.
	if e.clock == nil {
		seq, err := st.LastSeq(ctx)
		if err != nil {
			return nil, fmt.Errorf("engine: resume clock: %w", err)
		}
		e.clock = NewClockAt(seq)
	}
	return e, nil
}

func (e *Engine) checkFingerprint(ctx context.Context) error {
	stored, ok, err := e.store.GetMeta(ctx, store.MetaSchemaFingerprint)
	if err != nil {
		return fmt.Errorf("engine: read schema fingerprint: %w", err)
	}
	current := e.registry.Fingerprint()
	if !ok {
		if err := e.store.SetMeta(ctx, store.MetaSchemaFingerprint, current); err != nil {
			return fmt.Errorf("engine: stamp schema fingerprint: %w", err)
		}
		return nil
	}
	if stored != current {
		return NewSchemaMismatch(stored, current)
	}
	return nil
}

// Registry returns the sealed registry the engine runs on.
func (e *Engine) Registry() *schema.Registry {
	return e.registry
}

// Store returns the underlying store, for read-only tooling.
func (e *Engine) Store() *store.Store {
	return e.store
}

// edge resolves a canonical edge key.
func (e *Engine) edge(key string) (schema.RelationEdge, bool) {
	edge, ok := e.edges[key]
	return edge, ok
}
