// Package document implements the reference document-store adapter, backed
// by MongoDB via the v2 driver. It grounds Capability introspect/translate_nl
// over a collection-oriented source: introspection samples a collection's
// documents to infer a field list, and translation defers to a pluggable
// Translator that turns a question into a Mongo filter document.
package document

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/queryorch/orchestrator/internal/adapter"
	"github.com/queryorch/orchestrator/internal/model"
	"github.com/queryorch/orchestrator/internal/orcherrors"
)

// Translator turns a natural-language question into a Mongo filter plus the
// target collection name. The orchestrator does not re-specify NL→query
// generation; installations plug in their own translator.
type Translator interface {
	Translate(ctx context.Context, question string, schema model.SchemaSummary) (collection string, filter bson.M, err error)
}

// PassThroughTranslator treats the question as a collection name and
// returns an empty filter, matching every document. It grounds adapter
// tests without an LLM client.
type PassThroughTranslator struct{}

// Translate implements Translator.
func (PassThroughTranslator) Translate(_ context.Context, question string, _ model.SchemaSummary) (string, bson.M, error) {
	return question, bson.M{}, nil
}

// Adapter is the MongoDB-backed document adapter.
type Adapter struct {
	sourceID     string
	db           *mongo.Database
	translator   Translator
	sampleSize   int64
}

// New constructs a document Adapter over an existing database handle. The
// caller owns the underlying client's lifecycle.
func New(sourceID string, db *mongo.Database, translator Translator) *Adapter {
	if translator == nil {
		translator = PassThroughTranslator{}
	}
	return &Adapter{sourceID: sourceID, db: db, translator: translator, sampleSize: 50}
}

var _ adapter.Adapter = (*Adapter)(nil)

// Test implements adapter.Adapter by pinging the primary.
func (a *Adapter) Test(ctx context.Context) error {
	if err := a.db.Client().Ping(ctx, readpref.Primary()); err != nil {
		return orcherrors.Wrap(orcherrors.AdapterTransport, "mongo ping failed", err)
	}
	return nil
}

// Translate implements adapter.Adapter. The returned NativeQuery carries the
// collection name in Params["collection"] and the filter's JSON rendering
// in Text, for display in aggregated results.
func (a *Adapter) Translate(ctx context.Context, question string, hints model.SchemaSummary) (adapter.NativeQuery, error) {
	coll, filter, err := a.translator.Translate(ctx, question, hints)
	if err != nil {
		return adapter.NativeQuery{}, orcherrors.Wrap(orcherrors.AdapterPermanent, "translate question to filter", err)
	}
	if coll == "" {
		return adapter.NativeQuery{}, orcherrors.New(orcherrors.AdapterPermanent, "translation produced no target collection")
	}
	b, _ := bson.MarshalExtJSON(filter, false, false)
	return adapter.NativeQuery{
		Text:   fmt.Sprintf("db.%s.find(%s)", coll, string(b)),
		Params: map[string]any{"collection": coll, "filter": filter},
	}, nil
}

// Execute implements adapter.Adapter.
func (a *Adapter) Execute(ctx context.Context, query adapter.NativeQuery) (adapter.Result, error) {
	coll, filter, err := queryParams(query)
	if err != nil {
		return adapter.Result{}, err
	}
	cur, err := a.db.Collection(coll).Find(ctx, filter)
	if err != nil {
		return adapter.Result{}, classifyMongoError(err)
	}
	defer cur.Close(ctx)

	var out []model.Row
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return adapter.Result{}, orcherrors.Wrap(orcherrors.AdapterTransport, "decode document", err)
		}
		out = append(out, model.Row{SourceID: a.sourceID, Values: docToRow(doc)})
	}
	if err := cur.Err(); err != nil {
		return adapter.Result{}, classifyMongoError(err)
	}
	return adapter.Result{Rows: out}, nil
}

// Introspect implements adapter.Adapter by sampling each collection and
// unioning the field names observed, approximating a schema for a
// schemaless store.
func (a *Adapter) Introspect(ctx context.Context) (model.SchemaSummary, error) {
	names, err := a.db.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return model.SchemaSummary{}, classifyMongoError(err)
	}

	var desc string
	for _, name := range names {
		fields, err := a.sampleFields(ctx, name)
		if err != nil {
			return model.SchemaSummary{}, err
		}
		desc += fmt.Sprintf("%s(%v)\n", name, fields)
	}

	return model.SchemaSummary{
		SourceID:    a.sourceID,
		Description: desc,
		Tables:      names,
		ContentHash: contentHash(desc),
		UpdatedAt:   time.Now().UTC(),
	}, nil
}

func (a *Adapter) sampleFields(ctx context.Context, collection string) ([]string, error) {
	cur, err := a.db.Collection(collection).Find(ctx, bson.M{}, options.Find().SetLimit(a.sampleSize))
	if err != nil {
		return nil, classifyMongoError(err)
	}
	defer cur.Close(ctx)

	seen := make(map[string]bool)
	var fields []string
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, orcherrors.Wrap(orcherrors.AdapterTransport, "decode sample document", err)
		}
		for k := range doc {
			if !seen[k] {
				seen[k] = true
				fields = append(fields, k)
			}
		}
	}
	if err := cur.Err(); err != nil {
		return nil, classifyMongoError(err)
	}
	return fields, nil
}

func queryParams(query adapter.NativeQuery) (string, bson.M, error) {
	coll, _ := query.Params["collection"].(string)
	if coll == "" {
		return "", nil, orcherrors.New(orcherrors.AdapterPermanent, "native query missing target collection")
	}
	filter, _ := query.Params["filter"].(bson.M)
	if filter == nil {
		filter = bson.M{}
	}
	return coll, filter, nil
}

func docToRow(doc bson.M) map[string]model.Cell {
	out := make(map[string]model.Cell, len(doc))
	for k, v := range doc {
		out[k] = toCell(v)
	}
	return out
}

func toCell(v any) model.Cell {
	switch t := v.(type) {
	case nil:
		return model.Cell{Kind: model.CellNull}
	case bool:
		return model.Cell{Kind: model.CellBool, Bool: t}
	case int32:
		return model.Cell{Kind: model.CellInt, Int: int64(t)}
	case int64:
		return model.Cell{Kind: model.CellInt, Int: t}
	case float64:
		return model.Cell{Kind: model.CellFloat, Float: t}
	case string:
		return model.Cell{Kind: model.CellStr, Str: t}
	case bson.DateTime:
		return model.Cell{Kind: model.CellTime, Time: t.Time()}
	case time.Time:
		return model.Cell{Kind: model.CellTime, Time: t}
	case bson.Binary:
		return model.Cell{Kind: model.CellBytes, Bytes: t.Data}
	case bson.M:
		nested := make([]model.Cell, 0, len(t))
		for _, nv := range t {
			nested = append(nested, toCell(nv))
		}
		return model.Cell{Kind: model.CellNest, Nested: nested}
	case bson.A:
		nested := make([]model.Cell, 0, len(t))
		for _, nv := range t {
			nested = append(nested, toCell(nv))
		}
		return model.Cell{Kind: model.CellNest, Nested: nested}
	default:
		return model.Cell{Kind: model.CellStr, Str: fmt.Sprintf("%v", t)}
	}
}

func classifyMongoError(err error) *orcherrors.OrchError {
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return orcherrors.Wrap(orcherrors.AdapterTransport, "mongo transport error", err)
	}
	return orcherrors.Wrap(orcherrors.AdapterPermanent, "mongo query error", err)
}

func contentHash(s string) string {
	const prime = 1099511628211
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	return fmt.Sprintf("%016x", h)
}
