// Package executor implements C5, the concurrency core: a bounded worker
// pool draining a ready-set of operations whose dependencies are satisfied,
// per-source rate limiting via a token bucket, retry with exponential
// backoff and full jitter, and cooperative cancellation with a grace
// period. The ready-set/in-degree bookkeeping reuses the same counting
// technique as the planner's cycle check (internal/planner), run forward
// instead of to completion: each completed operation decrements its
// dependents' unmet-dependency count, and a count reaching zero makes that
// operation ready.
package executor

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/queryorch/orchestrator/internal/adapter"
	"github.com/queryorch/orchestrator/internal/model"
	"github.com/queryorch/orchestrator/internal/orcherrors"
	"github.com/queryorch/orchestrator/internal/stream"
	"github.com/queryorch/orchestrator/internal/telemetry"
)

// AdapterResolver resolves a source id to the adapter that serves it.
type AdapterResolver interface {
	Get(sourceID string) (adapter.Adapter, error)
}

// Aggregator folds terminal operation results into the single response
// shape (C6). The executor calls it once after every operation reaches a
// terminal state (or cancellation forces early termination), fulfilling
// the "run(plan, ...) → AggregatedResult" public contract.
type Aggregator interface {
	Aggregate(plan model.Plan, results map[string]model.OperationResult) (model.AggregatedResult, error)
}

// Visualizer is an optional Aggregator capability: a chart recommendation
// over the already-aggregated rows. The executor calls it when the
// configured Aggregator implements it, attaching the result to
// AggregatedResult.Chart.
type Visualizer interface {
	Visualize(result model.AggregatedResult) *model.ChartSpec
}

// Emitter is the subset of stream.Multiplexer the executor needs.
type Emitter interface {
	Emit(ctx context.Context, event stream.Event) error
}

// Config configures an Executor.
type Config struct {
	// MaxParallelism bounds concurrent adapter calls across all sources.
	MaxParallelism int
	// PerSourceRPS and PerSourceBurst configure the per-source token
	// bucket (spec §4.5's per_source_limit).
	PerSourceRPS   float64
	PerSourceBurst int
	// MaxAttempts bounds retries of a retryable adapter error, including
	// the initial attempt. Defaults to 3.
	MaxAttempts int
	// InitialBackoff, MaxBackoff, BackoffMultiplier parameterize the
	// exponential-backoff-with-full-jitter retry delay.
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	// PerKindDeadline caps how long a single operation attempt may run,
	// independent of the plan's overall deadline. A kind absent from the
	// map has no per-kind ceiling.
	PerKindDeadline map[model.OperationKind]time.Duration
	// CancelGrace is how long the executor waits for in-flight operations
	// to observe cancellation before force-marking them CANCELLED.
	CancelGrace time.Duration
	Logger      telemetry.Logger
	Metrics     telemetry.Metrics
	Tracer      telemetry.Tracer
}

func (c *Config) setDefaults() {
	if c.MaxParallelism <= 0 {
		c.MaxParallelism = 8
	}
	if c.PerSourceRPS <= 0 {
		c.PerSourceRPS = 5
	}
	if c.PerSourceBurst <= 0 {
		c.PerSourceBurst = c.PerSourceBurst + 1
		if c.PerSourceBurst <= 0 {
			c.PerSourceBurst = 2
		}
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = 2.0
	}
	if c.CancelGrace <= 0 {
		c.CancelGrace = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = telemetry.NewNoopLogger()
	}
	if c.Metrics == nil {
		c.Metrics = telemetry.NewNoopMetrics()
	}
	if c.Tracer == nil {
		c.Tracer = telemetry.NewNoopTracer()
	}
}

// RunOptions parameterizes a single Run call.
type RunOptions struct {
	Deadline  time.Time
	Emitter   Emitter
	SessionID string
	FailFast  bool
}

// Executor implements C5.
type Executor struct {
	adapters   AdapterResolver
	aggregator Aggregator
	cfg        Config

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
}

// New constructs an Executor.
func New(adapters AdapterResolver, aggregator Aggregator, cfg Config) *Executor {
	cfg.setDefaults()
	return &Executor{adapters: adapters, aggregator: aggregator, cfg: cfg, limiters: make(map[string]*rate.Limiter)}
}

func (e *Executor) limiterFor(sourceID string) *rate.Limiter {
	e.limitersMu.Lock()
	defer e.limitersMu.Unlock()
	l, ok := e.limiters[sourceID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(e.cfg.PerSourceRPS), e.cfg.PerSourceBurst)
		e.limiters[sourceID] = l
	}
	return l
}

// run tracks the mutable execution state for one Run call.
type run struct {
	plan       model.Plan
	planIndex  map[string]int
	dependents map[string][]string
	remaining  map[string]int

	mu       sync.Mutex
	cond     *sync.Cond
	statuses map[string]model.OpStatus
	results  map[string]model.OperationResult
	ready    []string
	pending  int
}

// Run executes plan to completion (or until ctx/opts.Deadline triggers
// cancellation) and folds the terminal results through the configured
// Aggregator.
func (e *Executor) Run(ctx context.Context, plan model.Plan, opts RunOptions) (model.AggregatedResult, error) {
	if !opts.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, opts.Deadline)
		defer cancel()
	}

	r := newRun(plan)
	if r.pending == 0 {
		return e.finish(plan, r, opts)
	}

	sem := make(chan struct{}, e.cfg.MaxParallelism)
	var wg sync.WaitGroup
	doneCh := make(chan struct{})

	go func() {
		defer close(doneCh)
		e.dispatch(ctx, plan, r, opts, sem, &wg)
		wg.Wait()
	}()

	select {
	case <-doneCh:
	case <-ctx.Done():
		timer := time.NewTimer(e.cfg.CancelGrace)
		defer timer.Stop()
		select {
		case <-doneCh:
		case <-timer.C:
			e.cancelRemaining(r, plan, opts)
		}
	}

	agg, err := e.finish(plan, r, opts)
	if err != nil {
		return agg, err
	}
	if cancelErr := ctx.Err(); cancelErr != nil {
		e.emitCancelled(opts, cancelErr)
		return agg, orcherrors.Wrap(orcherrors.Cancelled, "run cancelled", cancelErr)
	}
	return agg, nil
}

// emitCancelled reports §4.5(d)'s cancellation terminal event. It uses a
// detached context since ctx is already done by the time this fires; the
// event must still reach the emitter rather than failing on ctx.Err().
func (e *Executor) emitCancelled(opts RunOptions, cause error) {
	if opts.Emitter == nil {
		return
	}
	_ = opts.Emitter.Emit(context.Background(), stream.NewBase(stream.EventCancelled, opts.SessionID, stream.CancelledPayload{
		Reason: cause.Error(),
	}))
}

func newRun(plan model.Plan) *run {
	r := &run{
		plan:       plan,
		planIndex:  make(map[string]int, len(plan.Operations)),
		dependents: make(map[string][]string),
		remaining:  make(map[string]int, len(plan.Operations)),
		statuses:   make(map[string]model.OpStatus, len(plan.Operations)),
		results:    make(map[string]model.OperationResult, len(plan.Operations)),
	}
	r.cond = sync.NewCond(&r.mu)

	for i, op := range plan.Operations {
		r.planIndex[op.ID] = i
		r.statuses[op.ID] = model.OpPending
		r.remaining[op.ID] = len(op.DependsOn)
		for _, dep := range op.DependsOn {
			r.dependents[dep] = append(r.dependents[dep], op.ID)
		}
	}
	for _, op := range plan.Operations {
		if r.remaining[op.ID] == 0 {
			r.statuses[op.ID] = model.OpReady
			r.ready = append(r.ready, op.ID)
		}
	}
	r.pending = len(plan.Operations)
	return r
}

func (e *Executor) dispatch(ctx context.Context, plan model.Plan, r *run, opts RunOptions, sem chan struct{}, wg *sync.WaitGroup) {
	for {
		r.mu.Lock()
		for len(r.ready) == 0 && r.pending > 0 {
			r.cond.Wait()
		}
		if r.pending == 0 {
			r.mu.Unlock()
			return
		}
		if ctx.Err() != nil {
			r.mu.Unlock()
			return
		}
		sort.Slice(r.ready, func(i, j int) bool { return r.planIndex[r.ready[i]] < r.planIndex[r.ready[j]] })
		opID := r.ready[0]
		r.ready = r.ready[1:]
		r.mu.Unlock()

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()
			e.runOne(ctx, plan, r, opts, id)
		}(opID)
	}
}

func (e *Executor) runOne(ctx context.Context, plan model.Plan, r *run, opts RunOptions, opID string) {
	op := plan.Operations[r.planIndex[opID]]

	r.mu.Lock()
	r.statuses[opID] = model.OpRunning
	r.mu.Unlock()

	ctx, span := e.cfg.Tracer.Start(ctx, "orchestrator.execute_op",
		trace.WithAttributes(
			attribute.String("orchestrator.op_id", op.ID),
			attribute.String("orchestrator.op_kind", string(op.Kind)),
			attribute.String("orchestrator.source_id", op.SourceID),
		),
	)
	defer span.End()

	result := model.OperationResult{OpID: opID, StartedAt: time.Now().UTC()}

	switch op.Kind {
	case model.OperationKindNoop:
		result.Status = model.OpCompleted
	case model.OperationKindAggregate:
		result.Status = model.OpCompleted
	case model.OperationKindIntrospect:
		e.runIntrospect(ctx, opts, op, &result)
	case model.OperationKindTranslateExec:
		e.runTranslateExec(ctx, opts, op, r, &result)
		e.emitTerminalEvent(ctx, opts, op, result)
	default:
		result.Status = model.OpFailed
		result.Error = orcherrors.Newf(orcherrors.PlanInvalid, "unknown operation kind %q", op.Kind)
	}

	result.EndedAt = time.Now().UTC()

	if result.Error != nil {
		span.RecordError(result.Error)
		span.SetStatus(codes.Error, string(result.Status))
	} else {
		span.SetStatus(codes.Ok, string(result.Status))
	}
	tags := []string{"kind", string(op.Kind), "source", op.SourceID, "status", string(result.Status)}
	e.cfg.Metrics.RecordTimer("orchestrator.op_duration", result.EndedAt.Sub(result.StartedAt), tags...)
	if result.Attempts > 1 {
		e.cfg.Metrics.IncCounter("orchestrator.op_retries", float64(result.Attempts-1), tags...)
	}

	e.markTerminal(r, opID, result)
}

func (e *Executor) emitQueryGenerating(ctx context.Context, opts RunOptions, op model.Operation) {
	if opts.Emitter == nil {
		return
	}
	_ = opts.Emitter.Emit(ctx, stream.NewBase(stream.EventQueryGenerating, opts.SessionID, stream.QueryGeneratingPayload{
		Database: op.SourceID,
	}))
}

func (e *Executor) emitQueryValidating(ctx context.Context, opts RunOptions, op model.Operation, nativeQuery string) {
	if opts.Emitter == nil {
		return
	}
	_ = opts.Emitter.Emit(ctx, stream.NewBase(stream.EventQueryValidating, opts.SessionID, stream.QueryValidatingPayload{
		Database:    op.SourceID,
		NativeQuery: nativeQuery,
		Valid:       true,
	}))
}

func (e *Executor) emitQueryExecuting(ctx context.Context, opts RunOptions, op model.Operation, nativeQuery string) {
	if opts.Emitter == nil {
		return
	}
	_ = opts.Emitter.Emit(ctx, stream.NewBase(stream.EventQueryExecuting, opts.SessionID, stream.QueryExecutingPayload{
		Database:    op.SourceID,
		NativeQuery: nativeQuery,
		OpID:        op.ID,
	}))
}

func (e *Executor) emitTerminalEvent(ctx context.Context, opts RunOptions, op model.Operation, result model.OperationResult) {
	if opts.Emitter == nil {
		return
	}
	durationSeconds := time.Since(result.StartedAt).Seconds()
	switch result.Status {
	case model.OpCompleted:
		_ = opts.Emitter.Emit(ctx, stream.NewBase(stream.EventResultsReady, opts.SessionID, stream.ResultsReadyPayload{
			Database:      op.SourceID,
			OpID:          op.ID,
			RowsCount:     len(result.Rows),
			ExecutionTime: durationSeconds,
		}))
	case model.OpFailed:
		msg := ""
		if result.Error != nil {
			msg = result.Error.Error()
		}
		opID := op.ID
		_ = opts.Emitter.Emit(ctx, stream.NewBase(stream.EventError, opts.SessionID, stream.ErrorPayload{
			ErrorCode:   errorKind(result.Error),
			Message:     msg,
			Recoverable: false,
			OpID:        &opID,
		}))
	}
}

func (e *Executor) runIntrospect(ctx context.Context, opts RunOptions, op model.Operation, result *model.OperationResult) {
	a, err := e.adapters.Get(op.SourceID)
	if err != nil {
		result.Status = model.OpFailed
		result.Error = err
		return
	}
	e.emitSchemaLoading(ctx, opts, op, 0)
	opCtx, cancel := e.boundedContext(ctx, op.Kind)
	defer cancel()
	result.Attempts = 1
	summary, err := a.Introspect(opCtx)
	if err != nil {
		result.Status = model.OpFailed
		result.Error = err
		return
	}
	e.emitSchemaLoading(ctx, opts, op, 1.0)
	e.emitSchemaChunks(ctx, opts, op, summary)
	result.Status = model.OpCompleted
	result.Schema = &summary
}

func (e *Executor) emitSchemaLoading(ctx context.Context, opts RunOptions, op model.Operation, progress float64) {
	if opts.Emitter == nil {
		return
	}
	_ = opts.Emitter.Emit(ctx, stream.NewBase(stream.EventSchemaLoading, opts.SessionID, stream.SchemaLoadingPayload{
		Database: op.SourceID,
		Progress: progress,
	}))
}

func (e *Executor) emitSchemaChunks(ctx context.Context, opts RunOptions, op model.Operation, summary model.SchemaSummary) {
	if opts.Emitter == nil {
		return
	}
	_ = opts.Emitter.Emit(ctx, stream.NewBase(stream.EventSchemaChunks, opts.SessionID, stream.SchemaChunksPayload{
		Chunks:   len(summary.Tables),
		Database: op.SourceID,
	}))
}

// runTranslateExec runs a translate+execute operation. When op depends on
// an introspect operation, the introspected schema is used as the
// translation hint instead of the source's last-known registry snapshot,
// so a plan that deliberately refreshed a source's schema (BuildWithIntrospection)
// actually benefits from that refresh.
func (e *Executor) runTranslateExec(ctx context.Context, opts RunOptions, op model.Operation, r *run, result *model.OperationResult) {
	a, err := e.adapters.Get(op.SourceID)
	if err != nil {
		result.Status = model.OpFailed
		result.Error = err
		return
	}
	question, _ := op.Params["question"].(string)
	hints := schemaHintFor(op, r)
	limiter := e.limiterFor(op.SourceID)

	var lastErr error
	backoff := e.cfg.InitialBackoff
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		result.Attempts = attempt

		if err := limiter.Wait(ctx); err != nil {
			result.Status = model.OpFailed
			result.Error = orcherrors.Wrap(orcherrors.Cancelled, "rate limiter wait cancelled", err)
			return
		}

		e.emitQueryGenerating(ctx, opts, op)
		opCtx, cancel := e.boundedContext(ctx, op.Kind)
		query, execErr := a.Translate(opCtx, question, hints)
		if execErr == nil {
			result.NativeQuery = query.Text
			e.emitQueryValidating(ctx, opts, op, query.Text)
			e.emitQueryExecuting(ctx, opts, op, query.Text)
			var res adapter.Result
			res, execErr = a.Execute(opCtx, query)
			if execErr == nil {
				result.Rows = res.Rows
			}
		}
		cancel()

		if execErr == nil {
			result.Status = model.OpCompleted
			return
		}
		lastErr = execErr

		if ctx.Err() != nil {
			result.Status = model.OpCancelled
			result.Error = ctx.Err()
			return
		}
		if !orcherrors.Retryable(execErr) || attempt == e.cfg.MaxAttempts {
			break
		}

		delay := fullJitterBackoff(backoff, e.cfg.BackoffMultiplier, e.cfg.MaxBackoff, attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			result.Status = model.OpCancelled
			result.Error = ctx.Err()
			return
		}
	}

	result.Status = model.OpFailed
	result.Error = lastErr
}

// fullJitterBackoff returns a duration uniformly sampled from [0, cap],
// where cap grows exponentially with attempt. Full jitter (as opposed to
// the teacher retry package's partial ±jitter%) spreads retries across the
// entire window rather than around a fixed point, minimizing synchronized
// retry storms across operations sharing a source.
func fullJitterBackoff(initial time.Duration, multiplier float64, max time.Duration, attempt int) time.Duration {
	capped := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if capped > float64(max) {
		capped = float64(max)
	}
	if capped <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(capped) + 1))
}

func errorKind(err error) string {
	if kind, ok := orcherrors.KindOf(err); ok {
		return string(kind)
	}
	return "unknown"
}

func schemaHintFor(op model.Operation, r *run) model.SchemaSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dep := range op.DependsOn {
		if res, ok := r.results[dep]; ok && res.Schema != nil {
			return *res.Schema
		}
	}
	return model.SchemaSummary{}
}

func (e *Executor) boundedContext(ctx context.Context, kind model.OperationKind) (context.Context, context.CancelFunc) {
	if ceiling, ok := e.cfg.PerKindDeadline[kind]; ok {
		return context.WithTimeout(ctx, ceiling)
	}
	return context.WithCancel(ctx)
}

// markTerminal records opID's outcome and, holding the run lock, cascades
// the effect to its dependents: a successful completion decrements each
// dependent's unmet-dependency count and makes it ready once that count
// reaches zero; a non-success outcome immediately marks every dependent
// SKIPPED with reason upstream_failure, recursing through the whole
// downstream subgraph without waiting for their other dependencies.
func (e *Executor) markTerminal(r *run, opID string, result model.OperationResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.markTerminalLocked(r, opID, result)
}

func (e *Executor) markTerminalLocked(r *run, opID string, result model.OperationResult) {
	if model.TerminalOpStatuses[r.statuses[opID]] {
		return
	}
	r.statuses[opID] = result.Status
	r.results[opID] = result
	r.pending--

	if result.Status == model.OpCompleted {
		for _, dep := range r.dependents[opID] {
			r.remaining[dep]--
			if r.remaining[dep] == 0 && !model.TerminalOpStatuses[r.statuses[dep]] {
				r.statuses[dep] = model.OpReady
				r.ready = append(r.ready, dep)
			}
		}
	} else {
		for _, dep := range r.dependents[opID] {
			if model.TerminalOpStatuses[r.statuses[dep]] {
				continue
			}
			skipped := model.OperationResult{
				OpID:          dep,
				Status:        model.OpSkipped,
				SkippedReason: "upstream_failure",
				StartedAt:     time.Now().UTC(),
				EndedAt:       time.Now().UTC(),
			}
			e.markTerminalLocked(r, dep, skipped)
		}
	}

	r.cond.Broadcast()
}

func (e *Executor) cancelRemaining(r *run, plan model.Plan, opts RunOptions) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, op := range plan.Operations {
		if !model.TerminalOpStatuses[r.statuses[op.ID]] {
			e.markTerminalLocked(r, op.ID, model.OperationResult{
				OpID:      op.ID,
				Status:    model.OpCancelled,
				StartedAt: time.Now().UTC(),
				EndedAt:   time.Now().UTC(),
			})
		}
	}
}

func (e *Executor) finish(plan model.Plan, r *run, opts RunOptions) (model.AggregatedResult, error) {
	r.mu.Lock()
	results := make(map[string]model.OperationResult, len(r.results))
	for id, res := range r.results {
		results[id] = res
	}
	r.mu.Unlock()

	agg, err := e.aggregator.Aggregate(plan, results)
	if err != nil {
		return model.AggregatedResult{}, err
	}
	agg.ExecutionSummary = buildSummary(results)
	if v, ok := e.aggregator.(Visualizer); ok {
		agg.Chart = v.Visualize(agg)
	}
	return agg, nil
}

func buildSummary(results map[string]model.OperationResult) model.ExecutionSummary {
	summary := model.ExecutionSummary{PerOp: make(map[string]model.OpSummary, len(results))}
	var earliest, latest time.Time
	for id, res := range results {
		summary.TotalOps++
		switch res.Status {
		case model.OpCompleted:
			summary.CompletedOps++
		case model.OpFailed:
			summary.FailedOps++
		}
		errMsg := ""
		if res.Error != nil {
			errMsg = res.Error.Error()
		}
		summary.PerOp[id] = model.OpSummary{
			Status:     res.Status,
			RowCount:   len(res.Rows),
			DurationMS: res.EndedAt.Sub(res.StartedAt).Milliseconds(),
			Attempts:   res.Attempts,
			Error:      errMsg,
		}
		if earliest.IsZero() || res.StartedAt.Before(earliest) {
			earliest = res.StartedAt
		}
		if res.EndedAt.After(latest) {
			latest = res.EndedAt
		}
	}
	if !earliest.IsZero() && !latest.IsZero() {
		summary.WallTimeMS = latest.Sub(earliest).Milliseconds()
	}
	return summary
}
