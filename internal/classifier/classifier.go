// Package classifier implements C3: mapping a natural-language question to
// the subset of registered sources that can answer it. It is grounded on
// the original CrossDatabaseAgent/DatabaseClassifier pipeline (which asks an
// LLM to pick relevant sources from a schema catalog and justify the pick),
// adapted to call out through the modelgateway.Completer abstraction so the
// orchestrator is not tied to one SDK.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/queryorch/orchestrator/internal/classifier/modelgateway"
	"github.com/queryorch/orchestrator/internal/model"
	"github.com/queryorch/orchestrator/internal/telemetry"
)

// decisionSchema constrains the routing decision an LLM returns before it
// is trusted: json.Unmarshal alone would silently zero-value a malformed
// "confidence" string or a "sources" object instead of an array, so the
// reply is validated against this schema first, same as the teacher
// validates a tool-call payload against its declared schema before acting
// on it.
var decisionSchema = compileDecisionSchema()

func compileDecisionSchema() *jsonschema.Schema {
	doc := map[string]any{
		"type":     "object",
		"required": []any{"sources"},
		"properties": map[string]any{
			"sources":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"reasoning":  map[string]any{"type": "string"},
			"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		},
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("classifier-decision.json", doc); err != nil {
		panic(fmt.Sprintf("classifier: invalid decision schema: %v", err))
	}
	schema, err := c.Compile("classifier-decision.json")
	if err != nil {
		panic(fmt.Sprintf("classifier: compile decision schema: %v", err))
	}
	return schema
}

// SourceLister is the read-only registry surface the classifier needs:
// every candidate source plus its schema summary and capability set.
type SourceLister interface {
	SourcesFor(allow map[string]bool) []model.Source
}

// Classifier implements classify(question) → Classification (spec C3).
type Classifier struct {
	sources   SourceLister
	completer modelgateway.Completer
	logger    telemetry.Logger
	tracer    telemetry.Tracer
	metrics   telemetry.Metrics
}

// New constructs a Classifier.
func New(sources SourceLister, completer modelgateway.Completer, logger telemetry.Logger) *Classifier {
	return NewWithTelemetry(sources, completer, logger, nil, nil)
}

// NewWithTelemetry constructs a Classifier with an explicit tracer and
// metrics recorder, for installations that wire goa.design/clue-backed
// telemetry (internal/telemetry.ClueTracer / ClueMetrics) instead of the
// no-op defaults.
func NewWithTelemetry(sources SourceLister, completer modelgateway.Completer, logger telemetry.Logger, tracer telemetry.Tracer, metrics telemetry.Metrics) *Classifier {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Classifier{sources: sources, completer: completer, logger: logger, tracer: tracer, metrics: metrics}
}

type llmDecision struct {
	Sources    []string `json:"sources"`
	Reasoning  string   `json:"reasoning"`
	Confidence float64  `json:"confidence"`
}

// Classify maps question to the subset of sources, among those visible to
// allow (nil means no restriction), capable of answering it. It returns at
// least one source whenever a translate_nl-capable source is registered; on
// total upstream failure it falls back to the default source (the first
// translate_nl-capable candidate in registration order) and explains the
// fallback in Reasoning, never returning an error itself so a caller
// always gets a usable Classification.
func (c *Classifier) Classify(ctx context.Context, question model.Question, allow map[string]bool) model.Classification {
	ctx, span := c.tracer.Start(ctx, "orchestrator.classify",
		trace.WithAttributes(attribute.String("orchestrator.question_id", question.ID)),
	)
	defer span.End()
	start := time.Now()
	result := c.classify(ctx, question, allow)
	c.metrics.RecordTimer("orchestrator.classify_duration", time.Since(start),
		"cross_source", strconv.FormatBool(result.IsCrossSource))
	span.SetStatus(codes.Ok, "classified")
	return result
}

func (c *Classifier) classify(ctx context.Context, question model.Question, allow map[string]bool) model.Classification {
	candidates := c.capableSources(allow)
	if len(candidates) == 0 {
		return model.Classification{
			QuestionID: question.ID,
			Reasoning:  "no registered source declares translate_nl capability",
		}
	}

	decision, err := c.askModel(ctx, question, candidates)
	if err != nil {
		fallback := candidates[0].ID
		c.logger.Warn(ctx, "classifier upstream failed, falling back to default source", "question_id", question.ID, "source_id", fallback, "err", err)
		c.metrics.IncCounter("orchestrator.classify_fallback", 1)
		return model.Classification{
			QuestionID:     question.ID,
			SelectedSource: []string{fallback},
			Reasoning:      fmt.Sprintf("classifier fallback: upstream model unavailable (%v); selected default source %s", err, fallback),
		}
	}

	selected := filterKnown(decision.Sources, candidates)
	if len(selected) == 0 {
		selected = []string{candidates[0].ID}
	}
	if question.Flags.ForceCrossSource && len(candidates) > 1 && len(selected) < 2 {
		selected = appendMissing(selected, candidates)
	}

	conf := decision.Confidence
	return model.Classification{
		QuestionID:     question.ID,
		SelectedSource: selected,
		Reasoning:      decision.Reasoning,
		IsCrossSource:  len(selected) > 1,
		Confidence:     &conf,
	}
}

func (c *Classifier) capableSources(allow map[string]bool) []model.Source {
	var out []model.Source
	for _, s := range c.sources.SourcesFor(allow) {
		if s.Caps[model.CapTranslateNL] {
			out = append(out, s)
		}
	}
	return out
}

func (c *Classifier) askModel(ctx context.Context, question model.Question, candidates []model.Source) (llmDecision, error) {
	if c.completer == nil {
		return llmDecision{}, fmt.Errorf("no model completer configured")
	}
	system := "You are a database routing assistant. Given a question and a " +
		"catalog of data sources, return strict JSON {\"sources\":[ids],\"reasoning\":string,\"confidence\":number 0-1} " +
		"naming every source required to answer the question completely. Prefer the fewest sources sufficient to answer."
	var catalog strings.Builder
	for _, s := range candidates {
		fmt.Fprintf(&catalog, "- id=%s kind=%s schema=%s\n", s.ID, s.Kind, s.SchemaSummary.Description)
	}
	user := fmt.Sprintf("Question: %s\n\nSources:\n%s", question.Text, catalog.String())

	raw, err := c.completer.Complete(ctx, system, user)
	if err != nil {
		return llmDecision{}, err
	}
	candidateJSON := extractJSON(raw)

	var doc any
	if err := json.Unmarshal([]byte(candidateJSON), &doc); err != nil {
		return llmDecision{}, fmt.Errorf("parse classifier response: %w", err)
	}
	if err := decisionSchema.Validate(doc); err != nil {
		return llmDecision{}, fmt.Errorf("classifier response failed schema validation: %w", err)
	}

	var decision llmDecision
	if err := json.Unmarshal([]byte(candidateJSON), &decision); err != nil {
		return llmDecision{}, fmt.Errorf("parse classifier response: %w", err)
	}
	return decision, nil
}

func filterKnown(ids []string, candidates []model.Source) []string {
	known := make(map[string]bool, len(candidates))
	for _, s := range candidates {
		known[s.ID] = true
	}
	var out []string
	for _, id := range ids {
		if known[id] {
			out = append(out, id)
		}
	}
	return out
}

func appendMissing(selected []string, candidates []model.Source) []string {
	have := make(map[string]bool, len(selected))
	for _, id := range selected {
		have[id] = true
	}
	for _, s := range candidates {
		if !have[s.ID] {
			return append(selected, s.ID)
		}
	}
	return selected
}

// extractJSON trims leading/trailing prose a chat model may wrap its JSON
// reply in, returning the span from the first '{' to the last '}' (or s
// unchanged when there is no such span).
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
