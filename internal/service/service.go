// Package service wires C1-C8 into the single end-to-end pipeline a caller
// actually invokes: classify, plan, validate, optimize, execute, aggregate,
// persist. It is the orchestrator's own composition root rather than code
// grounded on one teacher file, since no single pack file plays this
// connecting role; the event-ordering discipline it enforces (classifying
// before databases_selected, per-operation terminal events before
// aggregating, exactly one complete event last) is grounded on spec §4.8.
package service

import (
	"context"
	"time"

	"github.com/queryorch/orchestrator/internal/aggregator"
	"github.com/queryorch/orchestrator/internal/classifier"
	"github.com/queryorch/orchestrator/internal/executor"
	"github.com/queryorch/orchestrator/internal/model"
	"github.com/queryorch/orchestrator/internal/orcherrors"
	"github.com/queryorch/orchestrator/internal/planner"
	"github.com/queryorch/orchestrator/internal/sessionstore"
	"github.com/queryorch/orchestrator/internal/stream"
	"github.com/queryorch/orchestrator/internal/telemetry"
)

// HealthStatus reports whether a source is known to be reachable, for the
// planner's Optimize dead-branch pruning.
type HealthStatus func(sourceID string) (online bool, known bool)

// Service is the orchestrator's composition root.
type Service struct {
	classifier *classifier.Classifier
	planner    *planner.Planner
	executor   *executor.Executor
	aggregator *aggregator.Aggregator
	sessions   sessionstore.Store
	health     HealthStatus
	logger     telemetry.Logger
}

// Deps bundles the constructed C1-C8 components a Service composes.
type Deps struct {
	Classifier *classifier.Classifier
	Planner    *planner.Planner
	Executor   *executor.Executor
	Aggregator *aggregator.Aggregator
	Sessions   sessionstore.Store
	Health     HealthStatus
	Logger     telemetry.Logger
}

// New constructs a Service from its dependencies.
func New(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	health := deps.Health
	if health == nil {
		health = func(string) (bool, bool) { return false, false }
	}
	return &Service{
		classifier: deps.Classifier,
		planner:    deps.Planner,
		executor:   deps.Executor,
		aggregator: deps.Aggregator,
		sessions:   deps.Sessions,
		health:     health,
		logger:     logger,
	}
}

// AskOptions parameterizes one Ask call.
type AskOptions struct {
	CallerID        string
	Allow           map[string]bool
	Emitter         executor.Emitter
	Deadline        time.Time
	Introspect      bool
	SkipSessionSave bool
}

// Ask runs the full classify → plan → validate → optimize → execute →
// aggregate pipeline for one question, emitting the ordered SSE event
// sequence spec §4.8 describes, and persists the session when
// opts.SkipSessionSave is false (spec flag save_session).
func (s *Service) Ask(ctx context.Context, question model.Question, opts AskOptions) (model.AggregatedResult, error) {
	sessionID := question.ID
	emit := func(eventType stream.EventType, payload any) {
		if opts.Emitter == nil {
			return
		}
		_ = opts.Emitter.Emit(ctx, stream.NewBase(eventType, sessionID, payload))
	}

	emit(stream.EventClassifying, stream.StatusPayload{Message: "selecting candidate sources"})
	classification := s.classifier.Classify(ctx, question, opts.Allow)
	emit(stream.EventDatabasesSelected, stream.DatabasesSelectedPayload{
		Databases:     classification.SelectedSource,
		Reasoning:     classification.Reasoning,
		IsCrossSource: classification.IsCrossSource,
		Confidence:    classification.Confidence,
	})

	emit(stream.EventPlanning, stream.PlanningPayload{
		Step:              "build",
		DatabasesInvolved: classification.SelectedSource,
	})
	var plan model.Plan
	if opts.Introspect {
		plan = s.planner.BuildWithIntrospection(classification, question)
	} else {
		plan = s.planner.Build(classification, question)
	}

	validation := s.planner.Validate(plan)
	plan.Validation = validation
	if !validation.OK {
		err := orcherrors.Newf(orcherrors.PlanInvalid, "invalid plan: %v", validation.Errors)
		s.emitFatalError(emit, err)
		return model.AggregatedResult{}, err
	}
	emit(stream.EventPlanValidated, stream.PlanValidatedPayload{Operations: len(plan.Operations)})

	originalCount := len(plan.Operations)
	plan = s.planner.Optimize(plan, s.health)
	if len(plan.Operations) != originalCount {
		emit(stream.EventPlanOptimization, stream.PlanOptimizationPayload{
			OriginalOperations:  originalCount,
			OptimizedOperations: len(plan.Operations),
		})
	}

	result, err := s.executor.Run(ctx, plan, executor.RunOptions{
		Deadline:  opts.Deadline,
		Emitter:   opts.Emitter,
		SessionID: sessionID,
	})
	if err != nil {
		if kind, ok := orcherrors.KindOf(err); ok && kind == orcherrors.Cancelled {
			// The executor already emitted `cancelled` with the reason;
			// no aggregating/aggregation_complete for a run that never
			// finished, and no duplicate `error` event.
			msg := err.Error()
			emit(stream.EventComplete, stream.CompletePayload{Success: false, Error: &msg})
			return result, err
		}
		s.emitFatalError(emit, err)
		return model.AggregatedResult{}, err
	}

	if classification.IsCrossSource {
		emit(stream.EventAggregating, stream.AggregatingPayload{Step: "concatenate", Progress: 1.0})
		emit(stream.EventAggregationComplete, stream.AggregationCompletePayload{TotalRows: len(result.Rows)})
	}
	if result.Chart != nil {
		emit(stream.EventChartReady, stream.ChartReadyPayload{ChartType: string(result.Chart.Type), Rationale: result.Chart.Rationale})
	}

	if !opts.SkipSessionSave && s.sessions != nil {
		s.persistSession(ctx, question, opts.CallerID, plan, result)
	}

	emit(stream.EventComplete, stream.CompletePayload{
		Success:   result.ExecutionSummary.CompletedOps > 0,
		TotalTime: float64(result.ExecutionSummary.WallTimeMS) / 1000.0,
	})
	return result, nil
}

func (s *Service) emitFatalError(emit func(stream.EventType, any), err error) {
	kind, _ := orcherrors.KindOf(err)
	msg := err.Error()
	emit(stream.EventError, stream.ErrorPayload{ErrorCode: string(kind), Message: msg, Recoverable: false})
	emit(stream.EventComplete, stream.CompletePayload{Success: false, Error: &msg})
}

func (s *Service) persistSession(ctx context.Context, question model.Question, callerID string, plan model.Plan, result model.AggregatedResult) {
	ttl := 24 * time.Hour
	sessionID, err := s.sessions.Create(ctx, question, callerID, ttl)
	if err != nil {
		s.logger.Error(ctx, "persist session failed", "error", err.Error())
		return
	}
	trace := make([]model.TraceEntry, 0, len(result.ExecutionSummary.PerOp))
	for opID, summary := range result.ExecutionSummary.PerOp {
		trace = append(trace, model.TraceEntry{
			OpID:     opID,
			Status:   summary.Status,
			RowCount: summary.RowCount,
			Error:    summary.Error,
		})
	}
	session := model.Session{
		ID:             sessionID,
		CallerID:       callerID,
		Question:       question,
		CreatedAt:      time.Now().UTC(),
		OperationTrace: trace,
		FinalResult:    &result,
		Status:         model.SessionActive,
		TTL:            ttl,
	}
	if err := s.sessions.Update(ctx, session, callerID); err != nil {
		s.logger.Error(ctx, "update session failed", "error", err.Error())
	}
}
