// Package temporalengine is an optional durable alternative to
// internal/executor's in-process scheduler: it runs a plan as a Temporal
// workflow, so a crashed orchestrator process resumes an in-flight
// cross-database query from Temporal's event history instead of losing
// it. It is grounded on the teacher's Temporal engine adapter
// (runtime/agent/engine/temporal), narrowed from that package's generic
// agent-workflow abstraction (arbitrary WorkflowFunc/ActivityDefinition
// registration for agent conversations) to the one shape this domain
// needs: a single workflow that walks a model.Plan's dependency graph.
// Determinism rules out reusing internal/executor's goroutine-based
// scheduler directly inside the workflow function, so the dependency
// walk is reimplemented here with workflow.Go and workflow.Future —
// the same ready-by-dependency-count technique, expressed with
// Temporal's deterministic primitives instead of a mutex and a
// condition variable.
package temporalengine

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/queryorch/orchestrator/internal/adapter"
	"github.com/queryorch/orchestrator/internal/model"
)

// TaskQueue is the default Temporal task queue this package's worker
// listens on.
const TaskQueue = "orchestrator-plan-execution"

// WorkflowName is the registered name of ExecutePlanWorkflow.
const WorkflowName = "ExecutePlan"

// Activities bundles the adapter calls a workflow can invoke. Adapter
// handles are process-local (database pools, HTTP clients) and are
// captured here rather than passed through the workflow, mirroring how
// Temporal activities always close over their real dependencies instead
// of serializing them.
type Activities struct {
	Adapters AdapterResolver
}

// AdapterResolver is the subset of internal/executor.AdapterResolver this
// package needs; duplicated here so this package does not import
// internal/executor and create a cycle (internal/executor may in turn
// depend on this package as an alternate Run implementation).
type AdapterResolver interface {
	Get(sourceID string) (adapter.Adapter, error)
}

// IntrospectActivity fetches a source's schema summary.
func (a *Activities) IntrospectActivity(ctx context.Context, sourceID string) (model.SchemaSummary, error) {
	ad, err := a.Adapters.Get(sourceID)
	if err != nil {
		return model.SchemaSummary{}, err
	}
	return ad.Introspect(ctx)
}

// TranslateExecuteActivity runs one translate+execute operation against
// its source, given the natural-language question and the schema hint
// (if any) from a dependency's introspect result.
func (a *Activities) TranslateExecuteActivity(ctx context.Context, req OperationRequest) (model.OperationResult, error) {
	ad, err := a.Adapters.Get(req.SourceID)
	if err != nil {
		return model.OperationResult{}, err
	}
	query, err := ad.Translate(ctx, req.Question, req.SchemaHint)
	if err != nil {
		return model.OperationResult{OpID: req.OpID, Status: model.OpFailed, Error: err}, nil
	}
	result, err := ad.Execute(ctx, query)
	if err != nil {
		return model.OperationResult{OpID: req.OpID, Status: model.OpFailed, Error: err}, nil
	}
	return model.OperationResult{OpID: req.OpID, SourceID: req.SourceID, Status: model.OpCompleted, Rows: result.Rows}, nil
}

// OperationRequest is the activity input for one translate+execute
// operation.
type OperationRequest struct {
	OpID       string
	SourceID   string
	Question   string
	SchemaHint model.SchemaSummary
}

// ExecutePlanWorkflow runs plan.Operations to completion, respecting
// DependsOn, and returns one OperationResult per operation keyed by
// OpID. It does not aggregate: the caller passes the returned results to
// an Aggregator itself.
func ExecutePlanWorkflow(ctx workflow.Context, plan model.Plan) (map[string]model.OperationResult, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporalRetryPolicy,
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var acts *Activities

	futures := make(map[string]workflow.Future, len(plan.Operations))
	results := make(map[string]model.OperationResult, len(plan.Operations))

	byID := make(map[string]model.Operation, len(plan.Operations))
	for _, op := range plan.Operations {
		byID[op.ID] = op
	}

	var schedule func(op model.Operation) workflow.Future
	schedule = func(op model.Operation) workflow.Future {
		if f, ok := futures[op.ID]; ok {
			return f
		}
		future, settable := workflow.NewFuture(ctx)
		futures[op.ID] = future

		deps := make([]workflow.Future, 0, len(op.DependsOn))
		for _, depID := range op.DependsOn {
			deps = append(deps, schedule(byID[depID]))
		}

		workflow.Go(ctx, func(gctx workflow.Context) {
			for _, dep := range deps {
				var depResult model.OperationResult
				if err := dep.Get(gctx, &depResult); err != nil {
					settable.SetError(err)
					return
				}
			}

			switch op.Kind {
			case model.OperationKindNoop, model.OperationKindAggregate:
				settable.Set(model.OperationResult{OpID: op.ID, Status: model.OpCompleted}, nil)
			case model.OperationKindIntrospect:
				var schema model.SchemaSummary
				err := workflow.ExecuteActivity(gctx, acts.IntrospectActivity, op.SourceID).Get(gctx, &schema)
				if err != nil {
					settable.Set(model.OperationResult{OpID: op.ID, Status: model.OpFailed, Error: err}, nil)
					return
				}
				settable.Set(model.OperationResult{OpID: op.ID, Status: model.OpCompleted, Schema: &schema}, nil)
			case model.OperationKindTranslateExec:
				hint := schemaHint(op, byID, futures, gctx)
				var result model.OperationResult
				err := workflow.ExecuteActivity(gctx, acts.TranslateExecuteActivity, OperationRequest{
					OpID:       op.ID,
					SourceID:   op.SourceID,
					Question:   op.Params["question"].(string),
					SchemaHint: hint,
				}).Get(gctx, &result)
				if err != nil {
					settable.Set(model.OperationResult{OpID: op.ID, Status: model.OpFailed, Error: err}, nil)
					return
				}
				settable.Set(result, nil)
			default:
				settable.Set(model.OperationResult{OpID: op.ID, Status: model.OpFailed, Error: fmt.Errorf("unsupported operation kind %q", op.Kind)}, nil)
			}
		})
		return future
	}

	finals := make([]workflow.Future, 0, len(plan.Operations))
	for _, op := range plan.Operations {
		finals = append(finals, schedule(op))
	}
	for i, f := range finals {
		var r model.OperationResult
		_ = f.Get(ctx, &r)
		results[plan.Operations[i].ID] = r
	}
	return results, nil
}

// schemaHint looks up a completed dependency's schema result, mirroring
// internal/executor.schemaHintFor's role for the in-process scheduler.
func schemaHint(op model.Operation, byID map[string]model.Operation, futures map[string]workflow.Future, ctx workflow.Context) model.SchemaSummary {
	for _, depID := range op.DependsOn {
		if dep, ok := byID[depID]; ok && dep.Kind == model.OperationKindIntrospect {
			if f, ok := futures[depID]; ok {
				var r model.OperationResult
				if err := f.Get(ctx, &r); err == nil && r.Schema != nil {
					return *r.Schema
				}
			}
		}
	}
	return model.SchemaSummary{}
}

var temporalRetryPolicy = temporalDefaultRetryPolicy()

// Engine runs and submits plan-execution workflows against a Temporal
// cluster, grounded on the teacher's Options/Client/WorkerOptions shape
// (runtime/agent/engine/temporal) narrowed to this package's single
// workflow.
type Engine struct {
	client client.Client
	worker worker.Worker
}

// New takes an already-constructed Temporal client c and registers ExecutePlanWorkflow plus Activities's methods on a worker
// listening on TaskQueue.
func New(ctx context.Context, c client.Client, adapters AdapterResolver) (*Engine, error) {
	w := worker.New(c, TaskQueue, worker.Options{
		Interceptors: []interceptor.WorkerInterceptor{temporalotel.NewWorkerInterceptor()},
	})
	w.RegisterWorkflowWithOptions(ExecutePlanWorkflow, workflow.RegisterOptions{Name: WorkflowName})
	acts := &Activities{Adapters: adapters}
	w.RegisterActivity(acts)

	if err := w.Start(); err != nil {
		return nil, fmt.Errorf("start temporal worker: %w", err)
	}
	return &Engine{client: c, worker: w}, nil
}

// Submit starts ExecutePlanWorkflow for plan and blocks for its result,
// using plan.ID as the workflow id so a retried /ask call against the
// same plan reuses (or observes) the same durable execution.
func (e *Engine) Submit(ctx context.Context, plan model.Plan) (map[string]model.OperationResult, error) {
	opts := client.StartWorkflowOptions{
		ID:        "plan-" + plan.ID,
		TaskQueue: TaskQueue,
	}
	run, err := e.client.ExecuteWorkflow(ctx, opts, ExecutePlanWorkflow, plan)
	if err != nil {
		return nil, fmt.Errorf("start workflow: %w", err)
	}
	var results map[string]model.OperationResult
	if err := run.Get(ctx, &results); err != nil {
		return nil, fmt.Errorf("await workflow: %w", err)
	}
	return results, nil
}

// Close stops the worker. The Temporal client itself is owned by the
// caller, matching client.Client's own lifecycle in the teacher's
// adapter.
func (e *Engine) Close() {
	e.worker.Stop()
}

func temporalDefaultRetryPolicy() temporal.RetryPolicy {
	return temporal.RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    30 * time.Second,
		MaximumAttempts:    5,
	}
}
