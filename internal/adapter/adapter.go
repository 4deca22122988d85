// Package adapter defines the uniform capability surface every data source
// implements (C2). The adapter layer is opaque to the core: translate and
// execute are each adapter's own concern. Adapters may batch or retry
// internally but must respect the deadline carried by ctx.
package adapter

import (
	"context"
	"time"

	"github.com/queryorch/orchestrator/internal/model"
)

type (
	// Adapter is the required capability set every source implements.
	Adapter interface {
		// Test checks the source is reachable, for the availability probe
		// (§6.3) and for the classifier's capability checks.
		Test(ctx context.Context) error
		// Translate converts a natural-language question (plus schema
		// hints) into the source's native query representation.
		Translate(ctx context.Context, question string, hints model.SchemaSummary) (NativeQuery, error)
		// Execute runs a native query and returns rows. Implementations
		// must honor ctx's deadline and cancellation.
		Execute(ctx context.Context, query NativeQuery) (Result, error)
		// Introspect returns a fresh schema summary for the source.
		Introspect(ctx context.Context) (model.SchemaSummary, error)
	}

	// Streamer is an optional capability (CapStreamingResults): a lazy
	// sequence of rows delivered incrementally instead of a single
	// materialized Result.
	Streamer interface {
		Stream(ctx context.Context, query NativeQuery) (RowStream, error)
	}

	// Explainer is an optional capability (CapExplain): returns plan
	// metadata for a native query without executing it.
	Explainer interface {
		Explain(ctx context.Context, query NativeQuery) (PlanInfo, error)
	}

	// ResultAnalyzer is an optional capability (CapAnalyzeResult): produces
	// a human-readable textual summary of a result set.
	ResultAnalyzer interface {
		AnalyzeResult(ctx context.Context, rows []model.Row) (string, error)
	}

	// NativeQuery is the adapter-native query representation produced by
	// Translate and consumed by Execute/Explain/Stream. Text is always
	// populated with a human-readable rendering for the representative
	// query text in aggregated results.
	NativeQuery struct {
		Text   string
		Params map[string]any
	}

	// Result is the outcome of a non-streaming Execute call.
	Result struct {
		Rows []model.Row
	}

	// RowStream is a finite, non-restartable lazy sequence of rows.
	RowStream interface {
		// Next returns the next row, or ok=false when the stream is
		// exhausted. err is non-nil only on a delivery failure.
		Next(ctx context.Context) (row model.Row, ok bool, err error)
		// Close releases resources held by the stream.
		Close() error
	}

	// PlanInfo is the result of an Explain call: adapter-native plan
	// metadata surfaced to callers verbatim.
	PlanInfo struct {
		Text     string
		Estimate time.Duration
	}
)

// HasCapability reports whether a source declares cap in its capability
// set, used by the planner to enforce spec §3 invariant (iii): required
// capabilities must be a subset of source.caps.
func HasCapability(source model.Source, cap model.Capability) bool {
	return source.Caps[cap]
}
