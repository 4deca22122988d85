// Package saas implements a reference adapter for HTTP/REST SaaS APIs
// (commerce, messaging, analytics sources per model.SourceKind). No
// concrete SaaS client library (Shopify, Slack, a analytics platform SDK)
// appears among the teacher's or the wider pack's dependencies, so this
// adapter speaks a generic authenticated-REST shape over net/http; a
// deployment targeting a specific SaaS product supplies an Endpoints value
// naming that product's paths and response shape rather than a new
// adapter package.
package saas

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/queryorch/orchestrator/internal/adapter"
	"github.com/queryorch/orchestrator/internal/model"
	"github.com/queryorch/orchestrator/internal/orcherrors"
)

// Translator turns a natural-language question into a REST request against
// the SaaS API: a path, query parameters, and the field to read as the
// row list in the JSON response.
type Translator interface {
	Translate(ctx context.Context, question string, schema model.SchemaSummary) (path string, params map[string]string, rowsField string, err error)
}

// Endpoints describes a SaaS product's introspection surface: a path
// returning a document describing available resources, read once and
// rendered as the source's schema summary.
type Endpoints struct {
	BaseURL      string
	SchemaPath   string
	AuthHeader   string
	AuthValue    string
}

// Adapter is the generic authenticated-REST SaaS adapter.
type Adapter struct {
	sourceID   string
	http       *http.Client
	endpoints  Endpoints
	translator Translator
}

// New constructs a saas Adapter.
func New(sourceID string, client *http.Client, endpoints Endpoints, translator Translator) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Adapter{sourceID: sourceID, http: client, endpoints: endpoints, translator: translator}
}

var _ adapter.Adapter = (*Adapter)(nil)

// Test implements adapter.Adapter by requesting the schema endpoint.
func (a *Adapter) Test(ctx context.Context) error {
	req, err := a.newRequest(ctx, a.endpoints.SchemaPath, nil)
	if err != nil {
		return orcherrors.Wrap(orcherrors.AdapterPermanent, "build probe request", err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return orcherrors.Wrap(orcherrors.AdapterTransport, "saas probe request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return orcherrors.Newf(orcherrors.AdapterTransport, "saas probe returned status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return orcherrors.Newf(orcherrors.AdapterPermanent, "saas probe returned status %d", resp.StatusCode)
	}
	return nil
}

// Translate implements adapter.Adapter.
func (a *Adapter) Translate(ctx context.Context, question string, hints model.SchemaSummary) (adapter.NativeQuery, error) {
	path, params, rowsField, err := a.translator.Translate(ctx, question, hints)
	if err != nil {
		return adapter.NativeQuery{}, orcherrors.Wrap(orcherrors.AdapterPermanent, "translate question to request", err)
	}
	paramsAny := make(map[string]any, len(params)+1)
	for k, v := range params {
		paramsAny[k] = v
	}
	paramsAny["__rows_field"] = rowsField
	return adapter.NativeQuery{
		Text:   fmt.Sprintf("GET %s%s", a.endpoints.BaseURL, path),
		Params: map[string]any{"path": path, "query": paramsAny},
	}, nil
}

// Execute implements adapter.Adapter.
func (a *Adapter) Execute(ctx context.Context, query adapter.NativeQuery) (adapter.Result, error) {
	path, _ := query.Params["path"].(string)
	if path == "" {
		return adapter.Result{}, orcherrors.New(orcherrors.AdapterPermanent, "native query missing request path")
	}
	queryParams, _ := query.Params["query"].(map[string]any)
	rowsField, _ := queryParams["__rows_field"].(string)

	req, err := a.newRequest(ctx, path, queryParams)
	if err != nil {
		return adapter.Result{}, orcherrors.Wrap(orcherrors.AdapterPermanent, "build request", err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return adapter.Result{}, orcherrors.Wrap(orcherrors.AdapterTransport, "saas request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return adapter.Result{}, orcherrors.Newf(orcherrors.AdapterTransport, "saas request returned status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return adapter.Result{}, orcherrors.Newf(orcherrors.AdapterPermanent, "saas request returned status %d", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return adapter.Result{}, orcherrors.Wrap(orcherrors.AdapterTransport, "decode saas response", err)
	}
	records, _ := body[rowsField].([]any)
	rows := make([]model.Row, 0, len(records))
	for _, r := range records {
		obj, ok := r.(map[string]any)
		if !ok {
			continue
		}
		values := make(map[string]model.Cell, len(obj))
		for k, v := range obj {
			values[k] = toCell(v)
		}
		rows = append(rows, model.Row{SourceID: a.sourceID, Values: values})
	}
	return adapter.Result{Rows: rows}, nil
}

// Introspect implements adapter.Adapter by fetching the schema document and
// keeping its raw JSON rendering as the description.
func (a *Adapter) Introspect(ctx context.Context) (model.SchemaSummary, error) {
	req, err := a.newRequest(ctx, a.endpoints.SchemaPath, nil)
	if err != nil {
		return model.SchemaSummary{}, orcherrors.Wrap(orcherrors.AdapterPermanent, "build schema request", err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return model.SchemaSummary{}, orcherrors.Wrap(orcherrors.AdapterTransport, "saas schema request failed", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return model.SchemaSummary{}, orcherrors.Wrap(orcherrors.AdapterTransport, "decode schema response", err)
	}
	desc, _ := json.Marshal(body)
	names := make([]string, 0, len(body))
	for k := range body {
		names = append(names, k)
	}
	return model.SchemaSummary{
		SourceID:    a.sourceID,
		Description: string(desc),
		Tables:      names,
		ContentHash: fmt.Sprintf("%x", len(desc)),
		UpdatedAt:   time.Now().UTC(),
	}, nil
}

func (a *Adapter) newRequest(ctx context.Context, path string, query map[string]any) (*http.Request, error) {
	url := a.endpoints.BaseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if a.endpoints.AuthHeader != "" {
		req.Header.Set(a.endpoints.AuthHeader, a.endpoints.AuthValue)
	}
	q := req.URL.Query()
	for k, v := range query {
		if k == "__rows_field" {
			continue
		}
		q.Set(k, fmt.Sprintf("%v", v))
	}
	req.URL.RawQuery = q.Encode()
	return req, nil
}

func toCell(v any) model.Cell {
	switch t := v.(type) {
	case nil:
		return model.Cell{Kind: model.CellNull}
	case bool:
		return model.Cell{Kind: model.CellBool, Bool: t}
	case float64:
		return model.Cell{Kind: model.CellFloat, Float: t}
	case string:
		return model.Cell{Kind: model.CellStr, Str: t}
	default:
		return model.Cell{Kind: model.CellStr, Str: fmt.Sprintf("%v", t)}
	}
}
