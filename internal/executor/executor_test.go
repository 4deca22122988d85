package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryorch/orchestrator/internal/adapter"
	"github.com/queryorch/orchestrator/internal/aggregator"
	"github.com/queryorch/orchestrator/internal/model"
	"github.com/queryorch/orchestrator/internal/orcherrors"
	"github.com/queryorch/orchestrator/internal/stream"
)

// fakeAdapter lets each test script a source's Translate/Execute/Introspect
// behavior independently, including failing every call up to a configured
// attempt number, to exercise the retry loop deterministically.
type fakeAdapter struct {
	failUntilAttempt int32
	attempts         int32
	rows             []model.Row
	introspectErr    error
	executeErr       error
	lastHint         model.SchemaSummary
}

func (f *fakeAdapter) Test(ctx context.Context) error { return nil }

func (f *fakeAdapter) Translate(ctx context.Context, question string, hints model.SchemaSummary) (adapter.NativeQuery, error) {
	f.lastHint = hints
	return adapter.NativeQuery{Text: "SELECT 1"}, nil
}

func (f *fakeAdapter) Execute(ctx context.Context, query adapter.NativeQuery) (adapter.Result, error) {
	n := atomic.AddInt32(&f.attempts, 1)
	if n <= f.failUntilAttempt {
		return adapter.Result{}, orcherrors.New(orcherrors.AdapterTransport, "transient failure")
	}
	if f.executeErr != nil {
		return adapter.Result{}, f.executeErr
	}
	return adapter.Result{Rows: f.rows}, nil
}

func (f *fakeAdapter) Introspect(ctx context.Context) (model.SchemaSummary, error) {
	if f.introspectErr != nil {
		return model.SchemaSummary{}, f.introspectErr
	}
	return model.SchemaSummary{SourceID: "db1", Description: "test schema"}, nil
}

type fakeResolver struct {
	adapters map[string]adapter.Adapter
}

func (r fakeResolver) Get(sourceID string) (adapter.Adapter, error) {
	a, ok := r.adapters[sourceID]
	if !ok {
		return nil, orcherrors.Newf(orcherrors.NotFound, "no adapter for %q", sourceID)
	}
	return a, nil
}

func testConfig() Config {
	return Config{
		MaxParallelism:    4,
		PerSourceRPS:      1000,
		PerSourceBurst:    1000,
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2,
		CancelGrace:       50 * time.Millisecond,
	}
}

func TestRunSingleOperationCompletes(t *testing.T) {
	a := &fakeAdapter{rows: []model.Row{{SourceID: "db1"}}}
	resolver := fakeResolver{adapters: map[string]adapter.Adapter{"db1": a}}
	ex := New(resolver, aggregator.New(), testConfig())

	plan := model.Plan{
		ID: "plan1",
		Operations: []model.Operation{
			{ID: "op1", SourceID: "db1", Kind: model.OperationKindTranslateExec, Params: map[string]any{"question": "q"}},
		},
	}

	result, err := ex.Run(context.Background(), plan, RunOptions{})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 1)
	assert.Equal(t, 1, result.ExecutionSummary.CompletedOps)
	assert.Equal(t, 0, result.ExecutionSummary.FailedOps)
}

func TestRunRetriesTransientFailureThenSucceeds(t *testing.T) {
	a := &fakeAdapter{failUntilAttempt: 2, rows: []model.Row{{SourceID: "db1"}}}
	resolver := fakeResolver{adapters: map[string]adapter.Adapter{"db1": a}}
	ex := New(resolver, aggregator.New(), testConfig())

	plan := model.Plan{
		Operations: []model.Operation{
			{ID: "op1", SourceID: "db1", Kind: model.OperationKindTranslateExec, Params: map[string]any{"question": "q"}},
		},
	}

	result, err := ex.Run(context.Background(), plan, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ExecutionSummary.CompletedOps)
	assert.Equal(t, int32(3), atomic.LoadInt32(&a.attempts))
}

func TestRunExhaustsRetriesAndFails(t *testing.T) {
	a := &fakeAdapter{failUntilAttempt: 100, rows: nil}
	resolver := fakeResolver{adapters: map[string]adapter.Adapter{"db1": a}}
	cfg := testConfig()
	cfg.MaxAttempts = 2
	ex := New(resolver, aggregator.New(), cfg)

	plan := model.Plan{
		Operations: []model.Operation{
			{ID: "op1", SourceID: "db1", Kind: model.OperationKindTranslateExec, Params: map[string]any{"question": "q"}},
		},
	}

	result, err := ex.Run(context.Background(), plan, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ExecutionSummary.FailedOps)
	assert.Equal(t, int32(2), atomic.LoadInt32(&a.attempts))
}

func TestRunSkipsDependentsOfFailedOperation(t *testing.T) {
	failing := &fakeAdapter{executeErr: orcherrors.New(orcherrors.AdapterPermanent, "bad query")}
	ok := &fakeAdapter{rows: []model.Row{{SourceID: "db2"}}}
	resolver := fakeResolver{adapters: map[string]adapter.Adapter{"db1": failing, "db2": ok}}
	ex := New(resolver, aggregator.New(), testConfig())

	plan := model.Plan{
		Operations: []model.Operation{
			{ID: "op1", SourceID: "db1", Kind: model.OperationKindTranslateExec, Params: map[string]any{"question": "q"}},
			{ID: "agg", Kind: model.OperationKindAggregate, DependsOn: []string{"op1"}},
		},
	}

	result, err := ex.Run(context.Background(), plan, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ExecutionSummary.FailedOps)
	assert.Equal(t, model.OpSkipped, result.ExecutionSummary.PerOp["agg"].Status)
}

func TestRunParallelIndependentOperationsAllComplete(t *testing.T) {
	a1 := &fakeAdapter{rows: []model.Row{{SourceID: "db1"}}}
	a2 := &fakeAdapter{rows: []model.Row{{SourceID: "db2"}}}
	resolver := fakeResolver{adapters: map[string]adapter.Adapter{"db1": a1, "db2": a2}}
	ex := New(resolver, aggregator.New(), testConfig())

	plan := model.Plan{
		Operations: []model.Operation{
			{ID: "op1", SourceID: "db1", Kind: model.OperationKindTranslateExec, Params: map[string]any{"question": "q"}},
			{ID: "op2", SourceID: "db2", Kind: model.OperationKindTranslateExec, Params: map[string]any{"question": "q"}},
			{ID: "agg", Kind: model.OperationKindAggregate, DependsOn: []string{"op1", "op2"}},
		},
	}

	result, err := ex.Run(context.Background(), plan, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, result.ExecutionSummary.CompletedOps)
	assert.Len(t, result.Rows, 2)
}

func TestRunIntrospectFeedsSchemaHintToDependentTranslateExec(t *testing.T) {
	a := &fakeAdapter{rows: []model.Row{{SourceID: "db1"}}}
	resolver := fakeResolver{adapters: map[string]adapter.Adapter{"db1": a}}
	ex := New(resolver, aggregator.New(), testConfig())

	plan := model.Plan{
		Operations: []model.Operation{
			{ID: "intro", SourceID: "db1", Kind: model.OperationKindIntrospect},
			{ID: "exec", SourceID: "db1", Kind: model.OperationKindTranslateExec, DependsOn: []string{"intro"}, Params: map[string]any{"question": "q"}},
		},
	}

	result, err := ex.Run(context.Background(), plan, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.ExecutionSummary.CompletedOps)
	assert.Equal(t, "test schema", a.lastHint.Description)
}

func TestRunRespectsContextCancellation(t *testing.T) {
	a := &fakeAdapter{failUntilAttempt: 1000}
	resolver := fakeResolver{adapters: map[string]adapter.Adapter{"db1": a}}
	cfg := testConfig()
	cfg.MaxAttempts = 1000
	cfg.CancelGrace = 10 * time.Millisecond
	ex := New(resolver, aggregator.New(), cfg)

	plan := model.Plan{
		Operations: []model.Operation{
			{ID: "op1", SourceID: "db1", Kind: model.OperationKindTranslateExec, Params: map[string]any{"question": "q"}},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result, err := ex.Run(ctx, plan, RunOptions{})
	require.Error(t, err)
	kind, ok := orcherrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, orcherrors.Cancelled, kind)
	assert.GreaterOrEqual(t, result.ExecutionSummary.TotalOps, 1)
}

// recordingEmitter captures every emitted event's type, for tests asserting
// on the cancellation event being present.
type recordingEmitter struct {
	mu     sync.Mutex
	events []stream.EventType
}

func (r *recordingEmitter) Emit(_ context.Context, event stream.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event.Type())
	return nil
}

func (r *recordingEmitter) types() []stream.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]stream.EventType, len(r.events))
	copy(out, r.events)
	return out
}

func TestRunEmitsCancelledEventOnContextCancellation(t *testing.T) {
	a := &fakeAdapter{failUntilAttempt: 1000}
	resolver := fakeResolver{adapters: map[string]adapter.Adapter{"db1": a}}
	cfg := testConfig()
	cfg.MaxAttempts = 1000
	cfg.CancelGrace = 10 * time.Millisecond
	ex := New(resolver, aggregator.New(), cfg)

	plan := model.Plan{
		Operations: []model.Operation{
			{ID: "op1", SourceID: "db1", Kind: model.OperationKindTranslateExec, Params: map[string]any{"question": "q"}},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	emitter := &recordingEmitter{}
	_, err := ex.Run(ctx, plan, RunOptions{Emitter: emitter})
	require.Error(t, err)
	assert.Contains(t, emitter.types(), stream.EventCancelled)
}
