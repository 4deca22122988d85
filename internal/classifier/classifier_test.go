package classifier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryorch/orchestrator/internal/model"
)

type fakeCompleter struct {
	reply string
	err   error
}

func (f fakeCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	return f.reply, f.err
}

type fakeSourceLister struct {
	sources []model.Source
}

func (f fakeSourceLister) SourcesFor(allow map[string]bool) []model.Source {
	if allow == nil {
		return f.sources
	}
	var out []model.Source
	for _, s := range f.sources {
		if allow[s.ID] {
			out = append(out, s)
		}
	}
	return out
}

func capableSource(id string) model.Source {
	return model.Source{ID: id, Kind: model.SourceKindRelational, Caps: map[model.Capability]bool{model.CapTranslateNL: true}}
}

func TestClassifyNoCandidatesReturnsEmptySelection(t *testing.T) {
	c := New(fakeSourceLister{}, fakeCompleter{}, nil)
	out := c.Classify(context.Background(), model.Question{ID: "q1", Text: "x"}, nil)
	assert.Empty(t, out.SelectedSource)
	assert.Contains(t, out.Reasoning, "no registered source")
}

func TestClassifyParsesWellFormedDecision(t *testing.T) {
	lister := fakeSourceLister{sources: []model.Source{capableSource("db1"), capableSource("db2")}}
	completer := fakeCompleter{reply: `{"sources":["db1"],"reasoning":"only db1 has order data","confidence":0.9}`}
	c := New(lister, completer, nil)

	out := c.Classify(context.Background(), model.Question{ID: "q1", Text: "orders last week"}, nil)
	require.Equal(t, []string{"db1"}, out.SelectedSource)
	assert.False(t, out.IsCrossSource)
	require.NotNil(t, out.Confidence)
	assert.InDelta(t, 0.9, *out.Confidence, 0.0001)
}

func TestClassifyFallsBackToDefaultSourceOnUpstreamError(t *testing.T) {
	lister := fakeSourceLister{sources: []model.Source{capableSource("db1"), capableSource("db2")}}
	completer := fakeCompleter{err: errors.New("upstream unavailable")}
	c := New(lister, completer, nil)

	out := c.Classify(context.Background(), model.Question{ID: "q1", Text: "x"}, nil)
	assert.Equal(t, []string{"db1"}, out.SelectedSource)
	assert.False(t, out.IsCrossSource)
	assert.Contains(t, out.Reasoning, "fallback")
}

func TestClassifyRejectsDecisionFailingSchemaValidation(t *testing.T) {
	lister := fakeSourceLister{sources: []model.Source{capableSource("db1")}}
	// "sources" must be an array of strings; a bare string fails the schema
	// and should fall back rather than silently coerce or panic.
	completer := fakeCompleter{reply: `{"sources":"db1","reasoning":"x"}`}
	c := New(lister, completer, nil)

	out := c.Classify(context.Background(), model.Question{ID: "q1", Text: "x"}, nil)
	assert.Equal(t, []string{"db1"}, out.SelectedSource)
	assert.Contains(t, out.Reasoning, "fallback")
}

func TestClassifyIgnoresUnknownSourceIDsFromModel(t *testing.T) {
	lister := fakeSourceLister{sources: []model.Source{capableSource("db1")}}
	completer := fakeCompleter{reply: `{"sources":["db1","ghost"],"reasoning":"r","confidence":0.5}`}
	c := New(lister, completer, nil)

	out := c.Classify(context.Background(), model.Question{ID: "q1", Text: "x"}, nil)
	assert.Equal(t, []string{"db1"}, out.SelectedSource)
}

func TestClassifyForceCrossSourceAppendsSecondCandidate(t *testing.T) {
	lister := fakeSourceLister{sources: []model.Source{capableSource("db1"), capableSource("db2")}}
	completer := fakeCompleter{reply: `{"sources":["db1"],"reasoning":"r","confidence":0.5}`}
	c := New(lister, completer, nil)

	q := model.Question{ID: "q1", Text: "x", Flags: model.Flags{ForceCrossSource: true}}
	out := c.Classify(context.Background(), q, nil)
	assert.Len(t, out.SelectedSource, 2)
	assert.True(t, out.IsCrossSource)
}

func TestClassifyRespectsAllowFilter(t *testing.T) {
	lister := fakeSourceLister{sources: []model.Source{capableSource("db1"), capableSource("db2")}}
	completer := fakeCompleter{reply: `{"sources":["db1","db2"],"reasoning":"r","confidence":0.5}`}
	c := New(lister, completer, nil)

	out := c.Classify(context.Background(), model.Question{ID: "q1", Text: "x"}, map[string]bool{"db1": true})
	assert.Equal(t, []string{"db1"}, out.SelectedSource)
}
