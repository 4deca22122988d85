// Package vector implements a reference vector-search adapter. The
// retrieval pack carries no concrete vector-database client (no Qdrant,
// Pinecone, or pgvector driver among the teacher's or the wider pack's
// dependencies), so this adapter exercises Capability vector_search against
// an in-process cosine-similarity index rather than a remote service. It
// satisfies the uniform Adapter surface (C2) so the planner and executor
// can schedule vector_search operations identically to any other source;
// a production installation swaps Index for a client-backed implementation
// without touching the rest of the orchestrator.
package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/queryorch/orchestrator/internal/adapter"
	"github.com/queryorch/orchestrator/internal/model"
	"github.com/queryorch/orchestrator/internal/orcherrors"
)

// Embedder turns a natural-language question into a query vector. The
// orchestrator does not re-specify embedding generation; installations
// plug in their own model client.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Document is one embedded record in the index.
type Document struct {
	ID       string
	Vector   []float64
	Metadata map[string]any
}

// Index is an in-process nearest-neighbor index over Documents, standing
// in for a remote vector database.
type Index struct {
	docs []Document
}

// NewIndex returns an Index seeded with docs.
func NewIndex(docs []Document) *Index {
	return &Index{docs: docs}
}

// TopK returns the k documents with highest cosine similarity to query.
func (idx *Index) TopK(query []float64, k int) []Document {
	type scored struct {
		doc   Document
		score float64
	}
	scoredDocs := make([]scored, 0, len(idx.docs))
	for _, d := range idx.docs {
		scoredDocs = append(scoredDocs, scored{doc: d, score: cosineSimilarity(query, d.Vector)})
	}
	sort.Slice(scoredDocs, func(i, j int) bool { return scoredDocs[i].score > scoredDocs[j].score })
	if k > len(scoredDocs) {
		k = len(scoredDocs)
	}
	out := make([]Document, k)
	for i := 0; i < k; i++ {
		out[i] = scoredDocs[i].doc
	}
	return out
}

func cosineSimilarity(a, b []float64) float64 {
	var dot, normA, normB float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Adapter is the in-process vector-search adapter.
type Adapter struct {
	sourceID string
	index    *Index
	embedder Embedder
	topK     int
}

// New constructs a vector Adapter over an existing Index.
func New(sourceID string, index *Index, embedder Embedder) *Adapter {
	return &Adapter{sourceID: sourceID, index: index, embedder: embedder, topK: 10}
}

var _ adapter.Adapter = (*Adapter)(nil)

// Test implements adapter.Adapter; the in-process index has no remote
// dependency to probe.
func (a *Adapter) Test(context.Context) error { return nil }

// Translate implements adapter.Adapter by embedding the question.
func (a *Adapter) Translate(ctx context.Context, question string, _ model.SchemaSummary) (adapter.NativeQuery, error) {
	vec, err := a.embedder.Embed(ctx, question)
	if err != nil {
		return adapter.NativeQuery{}, orcherrors.Wrap(orcherrors.AdapterPermanent, "embed question", err)
	}
	return adapter.NativeQuery{
		Text:   fmt.Sprintf("topk(%d) over embedding(%q)", a.topK, question),
		Params: map[string]any{"vector": vec, "top_k": a.topK},
	}, nil
}

// Execute implements adapter.Adapter.
func (a *Adapter) Execute(_ context.Context, query adapter.NativeQuery) (adapter.Result, error) {
	vec, ok := query.Params["vector"].([]float64)
	if !ok {
		return adapter.Result{}, orcherrors.New(orcherrors.AdapterPermanent, "native query missing query vector")
	}
	k := a.topK
	if n, ok := query.Params["top_k"].(int); ok && n > 0 {
		k = n
	}
	matches := a.index.TopK(vec, k)
	rows := make([]model.Row, len(matches))
	for i, m := range matches {
		values := map[string]model.Cell{"id": {Kind: model.CellStr, Str: m.ID}}
		for k, v := range m.Metadata {
			values[k] = model.Cell{Kind: model.CellStr, Str: fmt.Sprintf("%v", v)}
		}
		rows[i] = model.Row{SourceID: a.sourceID, Values: values}
	}
	return adapter.Result{Rows: rows}, nil
}

// Introspect implements adapter.Adapter with a fixed description, since the
// in-process index carries no discoverable schema beyond its document count.
func (a *Adapter) Introspect(context.Context) (model.SchemaSummary, error) {
	desc := fmt.Sprintf("vector_index(documents=%d)", len(a.index.docs))
	return model.SchemaSummary{
		SourceID:    a.sourceID,
		Description: desc,
		Tables:      []string{"documents"},
		ContentHash: fmt.Sprintf("%d", len(a.index.docs)),
		UpdatedAt:   time.Now().UTC(),
	}, nil
}
