// Package aggregator implements C6: folding per-operation results into a
// single AggregatedResult. It performs no relational joins; cross-source
// rows are concatenated in plan order with provenance attached, matching
// spec §4.6.
package aggregator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/queryorch/orchestrator/internal/model"
)

// Aggregator implements the executor.Aggregator contract.
type Aggregator struct{}

// New constructs an Aggregator. It holds no state: every Aggregate call is
// a pure fold over the plan and its results.
func New() *Aggregator { return &Aggregator{} }

// Aggregate implements executor.Aggregator.
func (a *Aggregator) Aggregate(plan model.Plan, results map[string]model.OperationResult) (model.AggregatedResult, error) {
	execOps := execOperationsInPlanOrder(plan)

	var rows []model.Row
	queries := make([]string, 0, len(execOps))
	for _, op := range execOps {
		res, ok := results[op.ID]
		if !ok || res.Status != model.OpCompleted {
			continue
		}
		for _, row := range res.Rows {
			rows = append(rows, withProvenance(row, op.SourceID, op.ID))
		}
		if res.NativeQuery != "" {
			queries = append(queries, fmt.Sprintf("[%s] %s", op.SourceID, res.NativeQuery))
		}
	}

	return model.AggregatedResult{
		Rows:                rows,
		RepresentativeQuery: representativeQuery(queries),
		PlanInfo:            plan,
	}, nil
}

// Visualize is the optional chart-recommendation stage supplemented from
// original_source/visualization/{analyzer,selector,generator}.py: it
// inspects the aggregated rows' cell kinds to pick a chart shape and axis
// mapping, reusing AggregatedResult.Rows as the chart's data source rather
// than introducing a separate analysis pipeline.
func (a *Aggregator) Visualize(result model.AggregatedResult) *model.ChartSpec {
	if len(result.Rows) == 0 {
		return nil
	}
	xField, yField, groupField := pickAxes(result.Rows)
	if xField == "" || yField == "" {
		return nil
	}

	chartType := pickChartType(result.Rows, xField, yField)
	series := buildSeries(result.Rows, xField, yField, groupField)

	return &model.ChartSpec{
		Type:       chartType,
		XField:     xField,
		YField:     yField,
		GroupField: groupField,
		Rationale:  fmt.Sprintf("chose %s based on %s being %s and %s being numeric", chartType, xField, axisKindDescription(result.Rows, xField), yField),
		Series:     series,
	}
}

func execOperationsInPlanOrder(plan model.Plan) []model.Operation {
	ops := make([]model.Operation, 0, len(plan.Operations))
	for _, op := range plan.Operations {
		if op.Kind == model.OperationKindTranslateExec {
			ops = append(ops, op)
		}
	}
	return ops
}

func withProvenance(row model.Row, sourceID, opID string) model.Row {
	if row.SourceID != "" && row.OpID != "" {
		return row
	}
	out := row
	if out.SourceID == "" {
		out.SourceID = sourceID
	}
	if out.OpID == "" {
		out.OpID = opID
	}
	return out
}

func representativeQuery(queries []string) string {
	switch len(queries) {
	case 0:
		return ""
	case 1:
		// Single-source plans report the bare native query text, per
		// spec §4.6, without the "[source] " prefix used for
		// cross-source disambiguation.
		idx := strings.Index(queries[0], "] ")
		if idx == -1 {
			return queries[0]
		}
		return queries[0][idx+2:]
	default:
		return strings.Join(queries, "; ")
	}
}

// pickAxes picks a categorical-or-temporal field for the x axis and the
// first numeric field for the y axis, by majority cell kind across sampled
// rows. Returns empty strings when no suitable pairing exists.
func pickAxes(rows []model.Row) (x, y, group string) {
	kindCounts := make(map[string]map[model.CellKind]int)
	fieldOrder := make([]string, 0)
	for _, row := range rows {
		for field, cell := range row.Values {
			if _, ok := kindCounts[field]; !ok {
				kindCounts[field] = make(map[model.CellKind]int)
				fieldOrder = append(fieldOrder, field)
			}
			kindCounts[field][cell.Kind]++
		}
	}
	sort.Strings(fieldOrder)

	var numericField, categoricalField, groupField string
	for _, field := range fieldOrder {
		dominant := dominantKind(kindCounts[field])
		switch dominant {
		case model.CellInt, model.CellFloat:
			if numericField == "" {
				numericField = field
			}
		case model.CellTime:
			if categoricalField == "" {
				categoricalField = field
			}
		case model.CellStr:
			if categoricalField == "" {
				categoricalField = field
			} else if groupField == "" {
				groupField = field
			}
		}
	}
	if categoricalField == "" && len(fieldOrder) > 0 {
		categoricalField = fieldOrder[0]
	}
	return categoricalField, numericField, groupField
}

func dominantKind(counts map[model.CellKind]int) model.CellKind {
	var best model.CellKind
	bestCount := -1
	for kind, count := range counts {
		if count > bestCount {
			best = kind
			bestCount = count
		}
	}
	return best
}

func pickChartType(rows []model.Row, xField, yField string) model.ChartType {
	if isTemporal(rows, xField) {
		return model.ChartLine
	}
	distinct := distinctValues(rows, xField)
	switch {
	case distinct <= 8:
		return model.ChartBar
	case distinct > 50:
		return model.ChartScatter
	default:
		return model.ChartBar
	}
}

func isTemporal(rows []model.Row, field string) bool {
	for _, row := range rows {
		if cell, ok := row.Values[field]; ok {
			return cell.Kind == model.CellTime
		}
	}
	return false
}

func distinctValues(rows []model.Row, field string) int {
	seen := make(map[string]struct{})
	for _, row := range rows {
		if cell, ok := row.Values[field]; ok {
			seen[cellKey(cell)] = struct{}{}
		}
	}
	return len(seen)
}

func cellKey(c model.Cell) string {
	switch c.Kind {
	case model.CellStr:
		return c.Str
	case model.CellInt:
		return fmt.Sprintf("%d", c.Int)
	case model.CellFloat:
		return fmt.Sprintf("%g", c.Float)
	case model.CellTime:
		return c.Time.String()
	case model.CellBool:
		return fmt.Sprintf("%t", c.Bool)
	default:
		return string(c.Kind)
	}
}

func axisKindDescription(rows []model.Row, field string) string {
	if isTemporal(rows, field) {
		return "a timestamp"
	}
	return "categorical"
}

func buildSeries(rows []model.Row, xField, yField, groupField string) []model.ChartSeries {
	if groupField == "" {
		return []model.ChartSeries{{Name: yField, Points: points(rows, xField, yField)}}
	}
	byGroup := make(map[string][]model.Row)
	var groupOrder []string
	for _, row := range rows {
		cell, ok := row.Values[groupField]
		name := "other"
		if ok {
			name = cellKey(cell)
		}
		if _, seen := byGroup[name]; !seen {
			groupOrder = append(groupOrder, name)
		}
		byGroup[name] = append(byGroup[name], row)
	}
	sort.Strings(groupOrder)
	series := make([]model.ChartSeries, 0, len(groupOrder))
	for _, name := range groupOrder {
		series = append(series, model.ChartSeries{Name: name, Points: points(byGroup[name], xField, yField)})
	}
	return series
}

func points(rows []model.Row, xField, yField string) []model.ChartPoint {
	pts := make([]model.ChartPoint, 0, len(rows))
	for _, row := range rows {
		x := cellValue(row.Values[xField])
		y := cellValue(row.Values[yField])
		if x == nil || y == nil {
			continue
		}
		pts = append(pts, model.ChartPoint{X: x, Y: y})
	}
	return pts
}

func cellValue(c model.Cell) any {
	switch c.Kind {
	case model.CellStr:
		return c.Str
	case model.CellInt:
		return c.Int
	case model.CellFloat:
		return c.Float
	case model.CellBool:
		return c.Bool
	case model.CellTime:
		return c.Time
	default:
		return nil
	}
}
