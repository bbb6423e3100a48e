package research

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/alphy/internal/events"
)

var engineTracer trace.Tracer = otel.Tracer("alphy/internal/research/engine")

// Phase is a state of the research state machine.
type Phase string

const (
	PhasePlanning          Phase = "planning"
	PhaseDiscovery         Phase = "discovery"
	PhaseDeepResearch      Phase = "deep_research"
	PhaseReflection        Phase = "reflection"
	PhasePatternExtraction Phase = "pattern_extraction"
	PhaseSynthesis         Phase = "synthesis"
	PhaseDone              Phase = "done"
)

// Plan is the approved set of initial discovery tasks plus the
// classified intent of the query.
type Plan struct {
	Intent  string `json:"intent"` // explore, validate, compare, deep_dive
	Summary string `json:"summary"`
	Tasks   []Task `json:"tasks"`
}

// Planner builds and refines research plans. Implementations are
// external collaborators (typically LLM-backed).
type Planner interface {
	Plan(ctx context.Context, query string) (Plan, error)
	Refine(ctx context.Context, query string, prior Plan, feedback string) (Plan, error)
}

// Refiner builds the narrower, differently-worded task batches that
// reflection schedules when a phase is insufficient. Implementations
// may consult the model; errors fall back to a mechanical refinement.
type Refiner interface {
	RefineDiscovery(ctx context.Context, query string, view StoreView, iteration int) ([]Task, error)
	RefineResearch(ctx context.Context, query string, view StoreView, iteration int) ([]Task, error)
}

// PatternExtractor derives cross-item observations from the store.
type PatternExtractor interface {
	Extract(ctx context.Context, query string, view StoreView) ([]string, error)
}

// Synthesizer renders the final report. It must produce a best-effort
// report even for partial runs; gaps are annotated, not fatal.
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, view StoreView, partial bool) (string, error)
}

// Sufficiency holds the phase-specific predicates reflection evaluates.
type Sufficiency struct {
	MinDiscovered int
	MinResearched int
}

// RunConfig bounds one run.
type RunConfig struct {
	MaxIterations int
	Sufficiency   Sufficiency
	Dispatch      DispatchConfig
	AutoApprove   bool
}

func (c RunConfig) withDefaults() RunConfig {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 3
	}
	if c.Sufficiency.MinDiscovered <= 0 {
		c.Sufficiency.MinDiscovered = 6
	}
	if c.Sufficiency.MinResearched <= 0 {
		c.Sufficiency.MinResearched = 3
	}
	return c
}

// Run is one research session: a phase cursor, an iteration budget, a
// plan approval gate, and exactly one scratchpad. It is created at
// session start and discarded at session end; re-planning after DONE
// means starting a fresh Run.
type Run struct {
	ID        string
	Query     string
	CreatedAt time.Time

	mu           sync.RWMutex
	phase        Phase
	plan         Plan
	planApproved bool
	partial      bool
	report       string
	nextBatch    []Task
	store        *Store
	cfg          RunConfig
}

// Phase returns the current state-machine state.
func (r *Run) Phase() Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.phase
}

// Plan returns the current plan.
func (r *Run) Plan() Plan {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.plan
}

// Approved reports whether the plan approval gate has been passed.
func (r *Run) Approved() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.planApproved
}

// Partial reports whether the run exhausted its iteration budget before
// all sufficiency predicates passed.
func (r *Run) Partial() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.partial
}

// Report returns the synthesized report; empty until the run is DONE.
func (r *Run) Report() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.report
}

// Snapshot returns the run's store view.
func (r *Run) Snapshot() StoreView {
	return r.store.Snapshot()
}

func (r *Run) setPhase(p Phase) {
	r.mu.Lock()
	r.phase = p
	r.mu.Unlock()
}

func (r *Run) markPartial() {
	r.mu.Lock()
	r.partial = true
	r.mu.Unlock()
}

// Engine drives runs through the phase state machine. The machine is an
// explicit loop, not recursion, so the iteration budget bounds total
// work deterministically: at most MaxIterations+1 dispatch rounds per
// run before pattern extraction.
type Engine struct {
	planner    Planner
	dispatcher *Dispatcher
	refiner    Refiner
	extractor  PatternExtractor
	synth      Synthesizer
	bus        *events.Bus
	cfg        RunConfig
	logger     *log.Logger
}

// NewEngine wires the engine. refiner may be nil; reflection then falls
// back to mechanical query refinement.
func NewEngine(planner Planner, dispatcher *Dispatcher, refiner Refiner, extractor PatternExtractor, synth Synthesizer, bus *events.Bus, cfg RunConfig, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[ENGINE] ", log.LstdFlags)
	}
	return &Engine{
		planner:    planner,
		dispatcher: dispatcher,
		refiner:    refiner,
		extractor:  extractor,
		synth:      synth,
		bus:        bus,
		cfg:        cfg.withDefaults(),
		logger:     logger,
	}
}

// RunOption overrides the engine's defaults for one run.
type RunOption func(*RunConfig)

// WithMaxIterations caps one run's iteration budget.
func WithMaxIterations(n int) RunOption {
	return func(c *RunConfig) {
		if n > 0 {
			c.MaxIterations = n
		}
	}
}

// WithAutoApprove skips the plan approval gate for one run.
func WithAutoApprove() RunOption {
	return func(c *RunConfig) { c.AutoApprove = true }
}

// NewRun creates a run in PLANNING and builds its initial plan.
func (e *Engine) NewRun(ctx context.Context, query string, opts ...RunOption) (*Run, error) {
	plan, err := e.planner.Plan(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("planning failed: %w", err)
	}

	cfg := e.cfg
	for _, opt := range opts {
		opt(&cfg)
	}

	run := &Run{
		ID:        uuid.NewString(),
		Query:     query,
		CreatedAt: time.Now().UTC(),
		phase:     PhasePlanning,
		plan:      plan,
		store:     NewStore(),
		cfg:       cfg,
	}
	if cfg.AutoApprove {
		run.planApproved = true
	}

	e.publish(events.KindPlanCreated, run.ID, "", map[string]interface{}{
		"intent":     plan.Intent,
		"task_count": len(plan.Tasks),
	})
	e.logger.Printf("run %s planned: intent=%s tasks=%d", run.ID, plan.Intent, len(plan.Tasks))
	return run, nil
}

// Refine rebuilds the run's plan from user feedback. Only legal while
// the run is still in PLANNING.
func (e *Engine) Refine(ctx context.Context, run *Run, feedback string) (Plan, error) {
	run.mu.Lock()
	if run.phase != PhasePlanning {
		phase := run.phase
		run.mu.Unlock()
		return Plan{}, fmt.Errorf("cannot refine plan in phase %s", phase)
	}
	prior := run.plan
	run.mu.Unlock()

	plan, err := e.planner.Refine(ctx, run.Query, prior, feedback)
	if err != nil {
		return Plan{}, fmt.Errorf("plan refinement failed: %w", err)
	}

	run.mu.Lock()
	run.plan = plan
	run.mu.Unlock()

	e.publish(events.KindPlanCreated, run.ID, "", map[string]interface{}{
		"intent":     plan.Intent,
		"task_count": len(plan.Tasks),
		"refined":    true,
	})
	return plan, nil
}

// Approve passes the plan approval gate.
func (e *Engine) Approve(run *Run) error {
	run.mu.Lock()
	defer run.mu.Unlock()
	if run.phase != PhasePlanning {
		return fmt.Errorf("cannot approve plan in phase %s", run.phase)
	}
	run.planApproved = true
	return nil
}

// Execute drives the run from PLANNING to DONE. Per-task failures are
// data, not errors; Execute only fails on an unapproved plan or a
// cancelled context. A run that exhausts its budget still completes,
// flagged partial.
func (e *Engine) Execute(ctx context.Context, run *Run) error {
	if !run.Approved() {
		return ErrPlanNotApproved
	}

	ctx, span := engineTracer.Start(ctx, "research.run",
		trace.WithAttributes(
			attribute.String("run.id", run.ID),
			attribute.String("run.intent", run.Plan().Intent),
		))
	defer span.End()

	// Origin of the reflection decision point: reflection is reachable
	// from both discovery and deep research and must loop back to the
	// phase it came from.
	origin := PhaseDiscovery

	for {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return err
		}

		switch run.Phase() {
		case PhasePlanning:
			e.transition(run, PhaseDiscovery)

		case PhaseDiscovery:
			tasks := e.takeBatch(run, TaskDiscover)
			e.dispatchAndMerge(ctx, run, tasks)
			origin = PhaseDiscovery
			e.transition(run, PhaseReflection)

		case PhaseDeepResearch:
			tasks := e.takeBatch(run, TaskDeepResearch)
			e.dispatchAndMerge(ctx, run, tasks)
			origin = PhaseDeepResearch
			e.transition(run, PhaseReflection)

		case PhaseReflection:
			e.transition(run, e.reflect(ctx, run, origin))

		case PhasePatternExtraction:
			e.extractPatterns(ctx, run)
			e.transition(run, PhaseSynthesis)

		case PhaseSynthesis:
			e.synthesize(ctx, run)
			e.transition(run, PhaseDone)

		case PhaseDone:
			e.publish(events.KindRunDone, run.ID, "", map[string]interface{}{
				"partial":    run.Partial(),
				"iterations": run.store.Iterations(),
			})
			if run.Partial() {
				span.SetStatus(codes.Ok, "completed partial")
			} else {
				span.SetStatus(codes.Ok, "completed")
			}
			e.logger.Printf("run %s done (partial=%v, iterations=%d)", run.ID, run.Partial(), run.store.Iterations())
			return nil

		default:
			return fmt.Errorf("unknown phase %q", run.Phase())
		}
	}
}

// takeBatch returns the pending refined batch if reflection scheduled
// one, otherwise builds the phase's default batch.
func (e *Engine) takeBatch(run *Run, kind TaskKind) []Task {
	run.mu.Lock()
	if len(run.nextBatch) > 0 {
		batch := run.nextBatch
		run.nextBatch = nil
		run.mu.Unlock()
		return batch
	}
	plan := run.plan
	run.mu.Unlock()

	if kind == TaskDiscover {
		var tasks []Task
		for _, t := range plan.Tasks {
			if t.Kind == TaskDiscover || t.Kind == TaskValidate || t.Kind == TaskCompare {
				tasks = append(tasks, t)
			}
		}
		return tasks
	}
	return e.deepResearchBatch(run)
}

// deepResearchBatch derives one deep-research task per discovered item
// that has no research payload yet.
func (e *Engine) deepResearchBatch(run *Run) []Task {
	view := run.store.Snapshot()
	var tasks []Task
	for _, item := range view.Unresearched() {
		tasks = append(tasks, Task{
			ID:       uuid.NewString(),
			Kind:     TaskDeepResearch,
			Target:   item.Name,
			Platform: item.Platform,
			Context:  fmt.Sprintf("deep research for query %q: developer portfolio, monetization, reviews, revenue evidence", run.Query),
			SuccessCriteria: []string{
				"developer portfolio size known",
				"monetization model identified",
				"revenue evidence searched",
			},
		})
	}
	return tasks
}

// dispatchAndMerge runs one dispatch round and merges its results as an
// atomic batch; reflection never observes a partially-merged batch.
func (e *Engine) dispatchAndMerge(ctx context.Context, run *Run, tasks []Task) {
	if len(tasks) == 0 {
		return
	}
	run.store.SetPending(len(tasks))
	results := e.dispatcher.Dispatch(ctx, run.ID, tasks, run.cfg.Dispatch)
	run.store.SetPending(0)

	failed := 0
	for _, res := range results {
		if res.Status != StatusOK {
			failed++
		}
	}
	if failed == len(results) {
		// Whole batch unreachable: zero results against sufficiency.
		e.logger.Printf("run %s: %v", run.ID, BatchDispatchError{Size: len(results)})
	}

	rep := run.store.Merge(results)
	e.logger.Printf("run %s merged batch: +%d items, %d updated, %d failed", run.ID, rep.Inserted, rep.Updated, rep.Failed)
}

// reflect evaluates the store against the origin phase's sufficiency
// predicate and decides whether to loop back or advance. On an
// insufficient outcome it consumes one iteration; once the counter
// reaches the budget the run advances anyway, flagged partial.
func (e *Engine) reflect(ctx context.Context, run *Run, origin Phase) Phase {
	view := run.store.Snapshot()

	var sufficient bool
	var forward Phase
	switch origin {
	case PhaseDiscovery:
		sufficient = len(view.Discovered) >= run.cfg.Sufficiency.MinDiscovered
		forward = PhaseDeepResearch
	default:
		sufficient = view.ResearchedCount() >= run.cfg.Sufficiency.MinResearched
		forward = PhasePatternExtraction
	}

	if sufficient {
		return forward
	}

	if run.store.Iterations() >= run.cfg.MaxIterations {
		// Budget already spent by an earlier phase's loop.
		run.markPartial()
		return forward
	}

	n := run.store.BumpIteration()
	if n >= run.cfg.MaxIterations {
		run.markPartial()
		e.logger.Printf("run %s: %v", run.ID, InsufficientDataError{Phase: origin, Iterations: n})
		return forward
	}

	batch := e.refineBatch(ctx, run, origin, view, n)
	if len(batch) == 0 {
		// Nothing left to try; treat as exhausted for this phase.
		run.markPartial()
		return forward
	}

	run.mu.Lock()
	run.nextBatch = batch
	run.mu.Unlock()
	e.logger.Printf("run %s: iteration %d, %d refined %s tasks", run.ID, n, len(batch), origin)
	return origin
}

// refineBatch asks the refiner for a narrower batch; a nil refiner or a
// refiner error degrades to a mechanical rewording of the prior tasks.
func (e *Engine) refineBatch(ctx context.Context, run *Run, origin Phase, view StoreView, iteration int) []Task {
	if e.refiner != nil {
		var (
			batch []Task
			err   error
		)
		if origin == PhaseDiscovery {
			batch, err = e.refiner.RefineDiscovery(ctx, run.Query, view, iteration)
		} else {
			batch, err = e.refiner.RefineResearch(ctx, run.Query, view, iteration)
		}
		if err == nil && len(batch) > 0 {
			return batch
		}
		if err != nil {
			e.logger.Printf("run %s: refiner failed, falling back: %v", run.ID, err)
		}
	}

	if origin == PhaseDeepResearch {
		return e.deepResearchBatch(run)
	}

	var batch []Task
	for _, t := range run.Plan().Tasks {
		if t.Kind != TaskDiscover {
			continue
		}
		batch = append(batch, Task{
			ID:              uuid.NewString(),
			Kind:            TaskDiscover,
			Target:          t.Target,
			Platform:        t.Platform,
			Context:         fmt.Sprintf("%s (iteration %d: try a different query angle, avoid already-known apps)", t.Context, iteration),
			SuccessCriteria: t.SuccessCriteria,
		})
	}
	return batch
}

func (e *Engine) extractPatterns(ctx context.Context, run *Run) {
	if e.extractor == nil {
		return
	}
	ctx, span := engineTracer.Start(ctx, "research.extract_patterns")
	defer span.End()

	patterns, err := e.extractor.Extract(ctx, run.Query, run.store.Snapshot())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Printf("run %s: pattern extraction failed: %v", run.ID, err)
		run.store.Merge([]Result{{
			TaskID:  "pattern_extraction",
			Kind:    TaskCompare,
			Status:  StatusFailed,
			Gaps:    []string{fmt.Sprintf("pattern extraction failed: %v", err)},
			Attempt: 1,
		}})
		return
	}
	span.SetStatus(codes.Ok, "completed")
	run.store.AddPatterns(patterns)
}

func (e *Engine) synthesize(ctx context.Context, run *Run) {
	ctx, span := engineTracer.Start(ctx, "research.synthesize")
	defer span.End()

	view := run.store.Snapshot()
	report, err := e.synth.Synthesize(ctx, run.Query, view, run.Partial())
	if err != nil {
		// Best-effort report: the worst outcome is a completed run with
		// low confidence and recorded gaps, never a crash.
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Printf("run %s: synthesis failed, rendering fallback report: %v", run.ID, err)
		report = FallbackReport(run.Query, view)
		run.markPartial()
	} else {
		span.SetStatus(codes.Ok, "completed")
	}

	run.mu.Lock()
	run.report = report
	run.mu.Unlock()
}

func (e *Engine) transition(run *Run, next Phase) {
	if run.Phase() == next {
		return
	}
	run.setPhase(next)
	e.publish(events.KindPhaseChanged, run.ID, "", map[string]interface{}{
		"phase": string(next),
	})
}

func (e *Engine) publish(kind events.Kind, runID, taskID string, payload map[string]interface{}) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.Event{Kind: kind, RunID: runID, TaskID: taskID, Payload: payload})
}
