package normalize

import "github.com/nazanin90/adk-data-agent/internal/datachat"

// Collection holds the normalized view of one backend response stream.
type Collection struct {
	// Fields is the per-message field list in stream order, empty
	// classifications dropped.
	Fields []Field

	// Merged folds Fields into one map. Later messages win on key collision,
	// which matters when a stream carries both a retrieval query and its
	// refinement.
	Merged map[string]interface{}
}

// Collect classifies every message in a stream and accumulates the results.
func Collect(msgs []datachat.Message) Collection {
	fields := make([]Field, 0, len(msgs))
	merged := make(map[string]interface{})

	for _, msg := range msgs {
		field := Classify(msg)
		if len(field) == 0 {
			continue
		}
		fields = append(fields, field)
		for k, v := range field {
			merged[k] = v
		}
	}

	return Collection{Fields: fields, Merged: merged}
}

// Wrapped renders the merged fields in the list form the downstream formatter
// consumes: a single-element list, or an empty list when nothing was
// collected. Never a list holding an empty map.
func (c Collection) Wrapped() []map[string]interface{} {
	if len(c.Merged) == 0 {
		return []map[string]interface{}{}
	}
	return []map[string]interface{}{c.Merged}
}
