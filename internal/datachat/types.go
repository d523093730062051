package datachat

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Kind identifies the variant of a system message after decoding.
type Kind int

const (
	KindUnknown Kind = iota
	KindText
	KindSchema
	KindData
	KindChart
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindSchema:
		return "schema"
	case KindData:
		return "data"
	case KindChart:
		return "chart"
	default:
		return "unknown"
	}
}

// Message is one unit of a backend chat response stream. The wire format
// distinguishes variants by which system-message field is populated; Kind()
// resolves that into a discriminated variant so downstream code never has to
// re-check field presence.
type Message struct {
	SystemMessage SystemMessage `json:"systemMessage"`
}

// SystemMessage holds exactly one populated variant.
type SystemMessage struct {
	Text   *TextMessage   `json:"text,omitempty"`
	Schema *SchemaMessage `json:"schema,omitempty"`
	Data   *DataMessage   `json:"data,omitempty"`
	Chart  *ChartMessage  `json:"chart,omitempty"`
}

// Kind returns the variant of this message. When more than one field is
// populated (never seen in practice) the first in declaration order wins.
func (m Message) Kind() Kind {
	switch {
	case m.SystemMessage.Text != nil:
		return KindText
	case m.SystemMessage.Schema != nil:
		return KindSchema
	case m.SystemMessage.Data != nil:
		return KindData
	case m.SystemMessage.Chart != nil:
		return KindChart
	default:
		return KindUnknown
	}
}

// TextMessage carries free-form narrative parts.
type TextMessage struct {
	Parts []string `json:"parts"`
}

// SchemaMessage reports schema resolution: either the question being resolved
// or the datasources it resolved to.
type SchemaMessage struct {
	Query  *SchemaQuery  `json:"query,omitempty"`
	Result *SchemaResult `json:"result,omitempty"`
}

type SchemaQuery struct {
	Question string `json:"question"`
}

type SchemaResult struct {
	Datasources []Datasource `json:"datasources"`
}

// Datasource references one of three backend source types. At most one of the
// reference fields is set.
type Datasource struct {
	StudioDatasourceID     string                  `json:"studioDatasourceId,omitempty"`
	LookerExploreReference *LookerExploreReference `json:"lookerExploreReference,omitempty"`
	BigQueryTableReference *BigQueryTableReference `json:"bigqueryTableReference,omitempty"`
}

type LookerExploreReference struct {
	LookmlModel string `json:"lookmlModel"`
	Explore     string `json:"explore"`
}

type BigQueryTableReference struct {
	ProjectID string `json:"projectId"`
	DatasetID string `json:"datasetId"`
	TableID   string `json:"tableId"`
}

// SourceName renders a datasource as a display string, falling back through
// the three reference forms in priority order: studio id, Looker explore,
// fully-qualified BigQuery table.
func (d Datasource) SourceName() string {
	if d.StudioDatasourceID != "" {
		return d.StudioDatasourceID
	}
	if d.LookerExploreReference != nil {
		return fmt.Sprintf("lookmlModel: %s, explore: %s",
			d.LookerExploreReference.LookmlModel, d.LookerExploreReference.Explore)
	}
	if d.BigQueryTableReference != nil {
		return fmt.Sprintf("%s.%s.%s",
			d.BigQueryTableReference.ProjectID,
			d.BigQueryTableReference.DatasetID,
			d.BigQueryTableReference.TableID)
	}
	return ""
}

// DataMessage reports data retrieval: the retrieval query, the generated SQL,
// or the result rows.
type DataMessage struct {
	Query        *DataQuery  `json:"query,omitempty"`
	GeneratedSQL string      `json:"generatedSql,omitempty"`
	Result       *DataResult `json:"result,omitempty"`
}

type DataQuery struct {
	Name        string       `json:"name"`
	Question    string       `json:"question"`
	Datasources []Datasource `json:"datasources"`
}

// DataResult carries row data plus the declared schema. Rows are row-oriented
// on the wire; the normalizer pivots them to column orientation.
type DataResult struct {
	Schema DataSchema               `json:"schema"`
	Data   []map[string]interface{} `json:"data"`
}

type DataSchema struct {
	Fields []SchemaField `json:"fields"`
}

type SchemaField struct {
	Name string `json:"name"`
}

// ChartMessage reports chart generation: the chart instructions or the
// rendered vega spec.
type ChartMessage struct {
	Query  *ChartQuery  `json:"query,omitempty"`
	Result *ChartResult `json:"result,omitempty"`
}

type ChartQuery struct {
	Instructions string `json:"instructions"`
}

// ChartResult wraps the vega-lite spec. The spec is arbitrary nested
// structure, so it is held as a structpb.Struct and decoded with protojson.
type ChartResult struct {
	VegaConfig *structpb.Struct `json:"vegaConfig,omitempty"`
}

func (r *ChartResult) UnmarshalJSON(b []byte) error {
	var raw struct {
		VegaConfig json.RawMessage `json:"vegaConfig"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw.VegaConfig) > 0 && string(raw.VegaConfig) != "null" {
		s := &structpb.Struct{}
		if err := protojson.Unmarshal(raw.VegaConfig, s); err != nil {
			return fmt.Errorf("decode vega config: %w", err)
		}
		r.VegaConfig = s
	}
	return nil
}

func (r ChartResult) MarshalJSON() ([]byte, error) {
	if r.VegaConfig == nil {
		return []byte("{}"), nil
	}
	cfg, err := protojson.Marshal(r.VegaConfig)
	if err != nil {
		return nil, err
	}
	return []byte(`{"vegaConfig":` + string(cfg) + `}`), nil
}
