// Package model defines the orchestrator's core data types: sources,
// questions, classifications, operations, plans, results, sessions, and
// stream events. Ownership follows a single rule per type (see each type's
// doc comment); only the owning component mutates a value after creation.
package model

import (
	"time"

	"github.com/google/uuid"
)

type (
	// SourceKind identifies the family of backend a Source represents.
	SourceKind string

	// Capability is a capability tag a source declares in Caps. The planner
	// checks required capabilities against a source's Caps set when it
	// validates a plan.
	Capability string

	// Source is a configured backend that can answer queries. The Source
	// Registry is the sole owner and mutator of Source values; every other
	// component reads an immutable snapshot.
	Source struct {
		ID            string
		Kind          SourceKind
		URI           string
		SchemaSummary SchemaSummary
		Caps          map[Capability]bool
	}

	// SchemaSummary is the adapter-declared, human- and LLM-readable
	// description of a source's schema, used by the classifier and by
	// adapters translating natural language into native queries.
	SchemaSummary struct {
		SourceID    string
		Description string
		Tables      []string
		ContentHash string
		UpdatedAt   time.Time
	}

	// Question is the raw caller text plus request metadata. Immutable
	// after creation.
	Question struct {
		ID         string
		Text       string
		CallerID   string
		Flags      Flags
		ReceivedAt time.Time
	}

	// Flags are the per-request options from the request surface (§6.1).
	Flags struct {
		Analyze          bool
		Optimize         bool
		SaveSession      bool
		DryRun           bool
		FailFast         bool
		ForceCrossSource bool
	}

	// Classification is produced once per question by the Classifier and
	// never mutated afterward; it feeds the Planner.
	Classification struct {
		QuestionID     string
		SelectedSource []string
		Reasoning      string
		IsCrossSource  bool
		Confidence     *float64
	}

	// OperationKind identifies the adapter-native call type an Operation
	// requests.
	OperationKind string

	// Operation is a single adapter call within a Plan. DependsOn is the
	// dependency edge set the Executor uses to build the ready-set.
	Operation struct {
		ID        string
		SourceID  string
		Kind      OperationKind
		Params    map[string]any
		DependsOn []string
		Metadata  map[string]any
	}

	// ValidationResult is the outcome of Planner.Validate.
	ValidationResult struct {
		OK     bool
		Errors []string
	}

	// Plan is a validated DAG of operations plus an optional aggregator
	// operation. The Planner exclusively owns a Plan once created; the
	// Executor only reads it.
	Plan struct {
		ID         string
		QuestionID string
		Operations []Operation
		Validation ValidationResult
	}

	// OpStatus is a terminal or non-terminal state in an Operation's state
	// machine (spec §4.5).
	OpStatus string

	// OperationResult is the Executor's record of one operation's outcome.
	// The Executor exclusively owns OperationResults while the plan runs;
	// the Aggregator reads them only after they reach a terminal status.
	OperationResult struct {
		OpID          string
		Status        OpStatus
		Rows          []Row
		NativeQuery   string
		Schema        *SchemaSummary
		Error         error
		StartedAt     time.Time
		EndedAt       time.Time
		Attempts      int
		SkippedReason string
	}

	// CellKind tags the dynamic type carried by a Cell, replacing
	// dynamically-typed adapter payloads with an explicit tagged variant.
	CellKind string

	// Cell is one column value in a Row. Exactly one of the typed fields is
	// meaningful, selected by Kind; adapters convert their native types into
	// a Cell before handing rows to the Aggregator.
	Cell struct {
		Kind   CellKind
		Bool   bool
		Int    int64
		Float  float64
		Str    string
		Time   time.Time
		Bytes  []byte
		Nested []Cell
	}

	// Row is one record returned by an adapter, plus provenance identifying
	// which source and operation produced it.
	Row struct {
		SourceID string
		OpID     string
		Values   map[string]Cell
	}

	// OpSummary is the per-operation entry in an ExecutionSummary.
	OpSummary struct {
		Status     OpStatus
		RowCount   int
		DurationMS int64
		Attempts   int
		Error      string
	}

	// ExecutionSummary is built from per-operation timestamps once a plan
	// finishes (or is cancelled).
	ExecutionSummary struct {
		TotalOps     int
		CompletedOps int
		FailedOps    int
		WallTimeMS   int64
		PerOp        map[string]OpSummary
	}

	// AggregatedResult is the Aggregator's single merged response shape.
	AggregatedResult struct {
		Rows                 []Row
		RepresentativeQuery  string
		ExecutionSummary     ExecutionSummary
		PlanInfo             Plan
		Chart                *ChartSpec
	}

	// ChartType enumerates the chart shapes the optional visualization
	// stage can recommend. This is a small, fixed decision table, not a
	// plotting library: no rendering happens in the orchestrator.
	ChartType string

	// ChartSpec is the optional result of Aggregator.Visualize: a
	// renderable chart recommendation over the aggregated rows, intended
	// for a `chart_ready` SSE event. It carries series data, not an image.
	ChartSpec struct {
		Type       ChartType
		XField     string
		YField     string
		GroupField string
		Rationale  string
		Series     []ChartSeries
	}

	// ChartSeries is one named series of {x, y} points in a ChartSpec.
	ChartSeries struct {
		Name   string
		Points []ChartPoint
	}

	// ChartPoint is one plotted point.
	ChartPoint struct {
		X any
		Y any
	}
)

// Operation-kind constants the Planner emits. Adapters may support
// additional kinds via their capability set; these are the ones the
// Planner itself knows how to build a plan around.
const (
	OperationKindIntrospect    OperationKind = "introspect"
	OperationKindTranslateExec OperationKind = "translate_execute"
	OperationKindAggregate     OperationKind = "aggregate"
	OperationKindNoop          OperationKind = "noop"
)

const (
	SourceKindRelational SourceKind = "relational"
	SourceKindDocument   SourceKind = "document"
	SourceKindVector     SourceKind = "vector"
	SourceKindMessaging  SourceKind = "messaging_api"
	SourceKindCommerce   SourceKind = "commerce_api"
	SourceKindAnalytics  SourceKind = "analytics_api"
)

const (
	CapTranslateNL      Capability = "translate_nl"
	CapIntrospect       Capability = "introspect"
	CapVectorSearch     Capability = "vector_search"
	CapStreamingResults Capability = "streaming_results"
	CapExplain          Capability = "explain"
	CapAnalyzeResult    Capability = "analyze_result"
)

const (
	OpPending   OpStatus = "PENDING"
	OpReady     OpStatus = "READY"
	OpRunning   OpStatus = "RUNNING"
	OpCompleted OpStatus = "COMPLETED"
	OpFailed    OpStatus = "FAILED"
	OpSkipped   OpStatus = "SKIPPED"
	OpCancelled OpStatus = "CANCELLED"
)

// TerminalOpStatuses are the OpStatus values that end an operation's state
// machine; the invariant checked by tests is that every operation ends in
// exactly one of these.
var TerminalOpStatuses = map[OpStatus]bool{
	OpCompleted: true,
	OpFailed:    true,
	OpSkipped:   true,
	OpCancelled: true,
}

const (
	CellNull  CellKind = "null"
	CellBool  CellKind = "bool"
	CellInt   CellKind = "int"
	CellFloat CellKind = "float"
	CellStr   CellKind = "string"
	CellTime  CellKind = "timestamp"
	CellBytes CellKind = "bytes"
	CellNest  CellKind = "nested"
)

const (
	ChartScatter   ChartType = "scatter"
	ChartLine      ChartType = "line"
	ChartBar       ChartType = "bar"
	ChartHistogram ChartType = "histogram"
	ChartPie       ChartType = "pie"
	ChartTable     ChartType = "table"
)

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionEnded   SessionStatus = "ended"
)

type (
	// Session is the durable, per-request conversation container. Session
	// records are shared by reference between the Executor and the Store;
	// only the Store mutates them.
	Session struct {
		ID             string
		CallerID       string
		Question       Question
		CreatedAt      time.Time
		OperationTrace []TraceEntry
		FinalResult    *AggregatedResult
		Status         SessionStatus
		TTL            time.Duration
	}

	// SessionSummary is the lightweight projection returned by Store.List.
	SessionSummary struct {
		ID        string
		CallerID  string
		Question  string
		CreatedAt time.Time
		Status    SessionStatus
	}

	// TraceEntry records one operation's outcome in a session's durable
	// operation trace.
	TraceEntry struct {
		OpID      string
		SourceID  string
		Status    OpStatus
		RowCount  int
		Error     string
		StartedAt time.Time
		EndedAt   time.Time
	}
)

// NewID returns a fresh random identifier suitable for operation, plan,
// session, and event IDs.
func NewID() string { return uuid.NewString() }
