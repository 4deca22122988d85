// Package relational implements the reference relational adapter backed by
// Postgres via pgx. It is the orchestrator's grounding for Capability
// translate_nl/introspect over a SQL source: introspection lists tables and
// columns, and translation is a pluggable NL→SQL step (defaulting to a
// pass-through that treats the question as already-valid SQL for tests and
// trivial deployments; production installs supply a Translator).
package relational

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/queryorch/orchestrator/internal/adapter"
	"github.com/queryorch/orchestrator/internal/model"
	"github.com/queryorch/orchestrator/internal/orcherrors"
)

// Translator turns a natural-language question into a SQL statement. The
// orchestrator does not re-specify NL→SQL generation (spec §1's "opaque
// translate" boundary); installations plug in an LLM-backed translator or
// a template-based one.
type Translator interface {
	Translate(ctx context.Context, question string, schema model.SchemaSummary) (sql string, err error)
}

// PassThroughTranslator treats the question text as already-valid SQL. It
// grounds adapter tests without depending on an LLM client.
type PassThroughTranslator struct{}

// Translate implements Translator.
func (PassThroughTranslator) Translate(_ context.Context, question string, _ model.SchemaSummary) (string, error) {
	return question, nil
}

// Adapter is the Postgres-backed relational adapter.
type Adapter struct {
	sourceID   string
	pool       *pgxpool.Pool
	translator Translator
}

// New constructs a relational Adapter over an existing pgx pool. The caller
// owns the pool's lifecycle.
func New(sourceID string, pool *pgxpool.Pool, translator Translator) *Adapter {
	if translator == nil {
		translator = PassThroughTranslator{}
	}
	return &Adapter{sourceID: sourceID, pool: pool, translator: translator}
}

var _ adapter.Adapter = (*Adapter)(nil)

// Test implements adapter.Adapter by pinging the pool.
func (a *Adapter) Test(ctx context.Context) error {
	if err := a.pool.Ping(ctx); err != nil {
		return orcherrors.Wrap(orcherrors.AdapterTransport, "postgres ping failed", err)
	}
	return nil
}

// Translate implements adapter.Adapter.
func (a *Adapter) Translate(ctx context.Context, question string, hints model.SchemaSummary) (adapter.NativeQuery, error) {
	sql, err := a.translator.Translate(ctx, question, hints)
	if err != nil {
		return adapter.NativeQuery{}, orcherrors.Wrap(orcherrors.AdapterPermanent, "translate question to sql", err)
	}
	return adapter.NativeQuery{Text: sql}, nil
}

// Execute implements adapter.Adapter.
func (a *Adapter) Execute(ctx context.Context, query adapter.NativeQuery) (adapter.Result, error) {
	rows, err := a.pool.Query(ctx, query.Text)
	if err != nil {
		return adapter.Result{}, classifyPgError(err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []model.Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return adapter.Result{}, orcherrors.Wrap(orcherrors.AdapterTransport, "read row values", err)
		}
		row := model.Row{SourceID: a.sourceID, Values: make(map[string]model.Cell, len(vals))}
		for i, v := range vals {
			row.Values[string(fields[i].Name)] = toCell(v)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return adapter.Result{}, classifyPgError(err)
	}
	return adapter.Result{Rows: out}, nil
}

// Introspect implements adapter.Adapter by listing public tables and
// columns via the information_schema.
func (a *Adapter) Introspect(ctx context.Context) (model.SchemaSummary, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT table_name, column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = 'public'
		ORDER BY table_name, ordinal_position`)
	if err != nil {
		return model.SchemaSummary{}, classifyPgError(err)
	}
	defer rows.Close()

	tableCols := make(map[string][]string)
	var tableOrder []string
	for rows.Next() {
		var table, column, dataType string
		if err := rows.Scan(&table, &column, &dataType); err != nil {
			return model.SchemaSummary{}, orcherrors.Wrap(orcherrors.AdapterTransport, "scan introspection row", err)
		}
		if _, seen := tableCols[table]; !seen {
			tableOrder = append(tableOrder, table)
		}
		tableCols[table] = append(tableCols[table], fmt.Sprintf("%s %s", column, dataType))
	}
	if err := rows.Err(); err != nil {
		return model.SchemaSummary{}, classifyPgError(err)
	}

	var desc strings.Builder
	for _, t := range tableOrder {
		fmt.Fprintf(&desc, "%s(%s)\n", t, strings.Join(tableCols[t], ", "))
	}

	return model.SchemaSummary{
		SourceID:    a.sourceID,
		Description: desc.String(),
		Tables:      tableOrder,
		ContentHash: contentHash(desc.String()),
		UpdatedAt:   time.Now().UTC(),
	}, nil
}

// toCell converts a pgx-decoded Go value into the tagged-variant Cell type.
func toCell(v any) model.Cell {
	switch t := v.(type) {
	case nil:
		return model.Cell{Kind: model.CellNull}
	case bool:
		return model.Cell{Kind: model.CellBool, Bool: t}
	case int16:
		return model.Cell{Kind: model.CellInt, Int: int64(t)}
	case int32:
		return model.Cell{Kind: model.CellInt, Int: int64(t)}
	case int64:
		return model.Cell{Kind: model.CellInt, Int: t}
	case float32:
		return model.Cell{Kind: model.CellFloat, Float: float64(t)}
	case float64:
		return model.Cell{Kind: model.CellFloat, Float: t}
	case string:
		return model.Cell{Kind: model.CellStr, Str: t}
	case []byte:
		return model.Cell{Kind: model.CellBytes, Bytes: t}
	case time.Time:
		return model.Cell{Kind: model.CellTime, Time: t}
	default:
		return model.Cell{Kind: model.CellStr, Str: fmt.Sprintf("%v", t)}
	}
}

// classifyPgError maps a pgx error into the orchestrator's error taxonomy:
// connection-level failures are transient (retried by the executor), while
// statement errors indicate a bad query and are permanent.
func classifyPgError(err error) *orcherrors.OrchError {
	msg := err.Error()
	if strings.Contains(msg, "connection") || strings.Contains(msg, "timeout") || strings.Contains(msg, "EOF") {
		return orcherrors.Wrap(orcherrors.AdapterTransport, "postgres transport error", err)
	}
	return orcherrors.Wrap(orcherrors.AdapterPermanent, "postgres query error", err)
}

// contentHash is a small deterministic fingerprint for a schema description,
// used as the §6.4 schema-index content hash deciding whether a rebuild is
// required on startup.
func contentHash(s string) string {
	const prime = 1099511628211
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	return fmt.Sprintf("%016x", h)
}
