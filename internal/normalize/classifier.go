// Package normalize turns raw backend message streams into the flat,
// single-key field maps the frontend contract is built on.
package normalize

import (
	"strings"

	"github.com/nazanin90/adk-data-agent/internal/datachat"
	"github.com/nazanin90/adk-data-agent/internal/metrics"
)

// Field is one normalized message: a map with exactly one top-level key
// naming what the backend reported (text, query, schema_resolved,
// retrieval_query, sql_generated, data_retrieved, chart_query, chart_result).
type Field = map[string]interface{}

// Classify maps a backend message to its normalized field. Messages with no
// recognizable payload come back as an empty map so callers can skip them.
func Classify(msg datachat.Message) Field {
	metrics.ClassifierMessages.WithLabelValues(msg.Kind().String()).Inc()

	switch msg.Kind() {
	case datachat.KindText:
		return classifyText(msg.SystemMessage.Text)
	case datachat.KindSchema:
		return classifySchema(msg.SystemMessage.Schema)
	case datachat.KindData:
		return classifyData(msg.SystemMessage.Data)
	case datachat.KindChart:
		return classifyChart(msg.SystemMessage.Chart)
	default:
		return Field{}
	}
}

func classifyText(t *datachat.TextMessage) Field {
	return Field{"text": strings.Join(t.Parts, "")}
}

func classifySchema(s *datachat.SchemaMessage) Field {
	switch {
	case s.Query != nil:
		return Field{"query": s.Query.Question}
	case s.Result != nil:
		return Field{"schema_resolved": map[string]interface{}{
			"datasources": sourceNames(s.Result.Datasources),
		}}
	default:
		return Field{}
	}
}

func classifyData(d *datachat.DataMessage) Field {
	switch {
	case d.Query != nil:
		return Field{"retrieval_query": map[string]interface{}{
			"query_name":  d.Query.Name,
			"question":    d.Query.Question,
			"datasources": sourceNames(d.Query.Datasources),
		}}
	case d.GeneratedSQL != "":
		return Field{"sql_generated": d.GeneratedSQL}
	case d.Result != nil:
		return Field{"data_retrieved": pivotColumns(d.Result)}
	default:
		return Field{}
	}
}

func classifyChart(c *datachat.ChartMessage) Field {
	switch {
	case c.Query != nil:
		return Field{"chart_query": c.Query.Instructions}
	case c.Result != nil && c.Result.VegaConfig != nil:
		return Field{"chart_result": c.Result.VegaConfig.AsMap()}
	default:
		return Field{}
	}
}

func sourceNames(datasources []datachat.Datasource) []string {
	names := make([]string, 0, len(datasources))
	for _, ds := range datasources {
		names = append(names, ds.SourceName())
	}
	return names
}

// pivotColumns converts row-oriented result data into a column-oriented map
// keyed by the declared schema fields, preserving row order. Fields absent
// from a row contribute a nil entry so columns stay aligned.
func pivotColumns(result *datachat.DataResult) map[string]interface{} {
	columns := make(map[string]interface{}, len(result.Schema.Fields))
	for _, field := range result.Schema.Fields {
		values := make([]interface{}, 0, len(result.Data))
		for _, row := range result.Data {
			values = append(values, row[field.Name])
		}
		columns[field.Name] = values
	}
	return columns
}
