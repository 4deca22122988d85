// Package stream implements C8: a single-writer ordered event channel that
// the classifier, planner, executor, and aggregator emit into, and that an
// SSE serializer (package ssehttp) or a Pulse-backed bus (package
// pulsesink) drains. It is grounded on the teacher's Sink/Event/Base
// abstraction, narrowed to the orchestrator's own event catalog (spec §6.2)
// instead of the teacher's agent-run event set.
package stream

import (
	"context"
	"time"
)

type (
	// Sink delivers events to a transport. Implementations must be safe for
	// concurrent Send calls; within one session, events are serialized
	// through a single Multiplexer writer so ordering is preserved even
	// when the sink itself fans out to multiple consumers.
	Sink interface {
		Send(ctx context.Context, event Event) error
		Close(ctx context.Context) error
	}

	// Event is a single envelope published on the stream (spec §6.2's
	// envelope: type, timestamp, session_id, plus a type-specific payload).
	Event interface {
		Type() EventType
		SessionID() string
		Timestamp() time.Time
		Payload() any
	}

	// EventType is one of the enumerated SSE event types from spec §6.2.
	EventType string

	// Base carries the envelope fields shared by every concrete event and
	// implements the common part of the Event interface by embedding.
	Base struct {
		t    EventType
		s    string
		ts   time.Time
		p    any
	}
)

// NewBase constructs the shared envelope for a concrete event.
func NewBase(t EventType, sessionID string, payload any) Base {
	return Base{t: t, s: sessionID, ts: time.Now().UTC(), p: payload}
}

func (b Base) Type() EventType      { return b.t }
func (b Base) SessionID() string    { return b.s }
func (b Base) Timestamp() time.Time { return b.ts }
func (b Base) Payload() any         { return b.p }

const (
	EventStatus              EventType = "status"
	EventClassifying         EventType = "classifying"
	EventDatabasesSelected   EventType = "databases_selected"
	EventPlanning            EventType = "planning"
	EventPlanValidated       EventType = "plan_validated"
	EventPlanOptimization    EventType = "plan_optimization"
	EventSchemaLoading       EventType = "schema_loading"
	EventSchemaChunks        EventType = "schema_chunks"
	EventQueryGenerating     EventType = "query_generating"
	EventQueryValidating     EventType = "query_validating"
	EventQueryExecuting      EventType = "query_executing"
	EventPartialResults      EventType = "partial_results"
	EventResultsReady        EventType = "results_ready"
	EventAggregating         EventType = "aggregating"
	EventAggregationComplete EventType = "aggregation_complete"
	EventAnalysisGenerating  EventType = "analysis_generating"
	EventAnalysisChunk       EventType = "analysis_chunk"
	EventAnalysisComplete    EventType = "analysis_complete"
	EventChartReady          EventType = "chart_ready"
	EventError               EventType = "error"
	EventCancelled           EventType = "cancelled"
	EventComplete            EventType = "complete"
)

// StatusPayload is the payload for EventStatus and EventClassifying.
type StatusPayload struct {
	Message string `json:"message"`
}

// DatabasesSelectedPayload is the payload for EventDatabasesSelected.
type DatabasesSelectedPayload struct {
	Databases     []string `json:"databases"`
	Reasoning     string   `json:"reasoning"`
	IsCrossSource bool     `json:"is_cross_source"`
	Confidence    *float64 `json:"confidence,omitempty"`
}

// PlanningPayload is the payload for EventPlanning.
type PlanningPayload struct {
	Step              string   `json:"step"`
	DatabasesInvolved []string `json:"databases_involved"`
}

// PlanValidatedPayload is the payload for EventPlanValidated.
type PlanValidatedPayload struct {
	Operations      int      `json:"operations"`
	EstimatedTime   float64  `json:"estimated_time"`
	Dependencies    []string `json:"dependencies,omitempty"`
}

// PlanOptimizationPayload is the payload for EventPlanOptimization.
type PlanOptimizationPayload struct {
	OriginalOperations  int `json:"original_operations"`
	OptimizedOperations int `json:"optimized_operations"`
}

// SchemaLoadingPayload is the payload for EventSchemaLoading.
type SchemaLoadingPayload struct {
	Database string  `json:"database"`
	Progress float64 `json:"progress"`
}

// SchemaChunksPayload is the payload for EventSchemaChunks.
type SchemaChunksPayload struct {
	Chunks   int    `json:"chunks"`
	Database string `json:"database"`
}

// QueryGeneratingPayload is the payload for EventQueryGenerating.
type QueryGeneratingPayload struct {
	Database          string `json:"database"`
	PartialNativeQuery string `json:"partial_native_query,omitempty"`
}

// QueryValidatingPayload is the payload for EventQueryValidating.
type QueryValidatingPayload struct {
	Database    string `json:"database"`
	NativeQuery string `json:"native_query"`
	Valid       bool   `json:"valid"`
}

// QueryExecutingPayload is the payload for EventQueryExecuting.
type QueryExecutingPayload struct {
	Database          string   `json:"database"`
	NativeQuery       string   `json:"native_query"`
	OpID              string   `json:"op_id"`
	EstimatedDuration *float64 `json:"estimated_duration,omitempty"`
}

// PartialResultsPayload is the payload for EventPartialResults.
type PartialResultsPayload struct {
	Database   string `json:"database"`
	OpID       string `json:"op_id"`
	RowsCount  int    `json:"rows_count"`
	IsComplete bool   `json:"is_complete"`
}

// ResultsReadyPayload is the payload for EventResultsReady.
type ResultsReadyPayload struct {
	Database      string  `json:"database"`
	OpID          string  `json:"op_id"`
	RowsCount     int     `json:"rows_count"`
	ExecutionTime float64 `json:"execution_time"`
}

// AggregatingPayload is the payload for EventAggregating.
type AggregatingPayload struct {
	Step     string  `json:"step"`
	Progress float64 `json:"progress"`
}

// AggregationCompletePayload is the payload for EventAggregationComplete.
type AggregationCompletePayload struct {
	TotalRows       int     `json:"total_rows"`
	AggregationTime float64 `json:"aggregation_time"`
}

// ChartReadyPayload is the payload for EventChartReady.
type ChartReadyPayload struct {
	ChartType string `json:"chart_type"`
	Rationale string `json:"rationale"`
}

// ErrorPayload is the payload for EventError.
type ErrorPayload struct {
	ErrorCode   string  `json:"error_code"`
	Message     string  `json:"message"`
	Recoverable bool    `json:"recoverable"`
	OpID        *string `json:"op_id,omitempty"`
}

// CancelledPayload is the payload for EventCancelled.
type CancelledPayload struct {
	Reason string `json:"reason"`
}

// CompletePayload is the payload for EventComplete.
type CompletePayload struct {
	Success   bool    `json:"success"`
	TotalTime float64 `json:"total_time"`
	Error     *string `json:"error,omitempty"`
}
