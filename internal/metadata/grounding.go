// Package metadata collects web grounding metadata from search agent events
// and shapes it for citation rendering in the frontend.
package metadata

import (
	"net/url"
	"strings"

	"github.com/nazanin90/adk-data-agent/internal/metrics"
)

// Source is one web source a search result was grounded on.
type Source struct {
	URI    string `json:"uri"`
	Title  string `json:"title"`
	Domain string `json:"domain"`
}

// Segment locates a span of the summary text that a citation supports.
type Segment struct {
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
	Text       string `json:"text"`
}

// Support maps a summary segment to the source chunks backing it, for inline
// citation markers.
type Support struct {
	Segment               Segment `json:"segment"`
	GroundingChunkIndices []int   `json:"grounding_chunk_indices"`
}

// SearchEntryPoint carries the rendered search suggestion widget the search
// provider requires to be displayed alongside grounded answers.
type SearchEntryPoint struct {
	RenderedContent string `json:"rendered_content"`
}

// Grounding is the aggregate attached to a turn's output.
type Grounding struct {
	Sources           []Source          `json:"sources"`
	WebSearchQueries  []string          `json:"web_search_queries"`
	SearchEntryPoint  *SearchEntryPoint `json:"search_entry_point"`
	GroundingSupports []Support         `json:"grounding_supports"`
}

// EventGrounding is the grounding payload carried by a single search event.
type EventGrounding struct {
	Chunks           []Source
	Supports         []Support
	WebSearchQueries []string
	SearchEntryPoint *SearchEntryPoint
}

// Collect folds the grounding payloads of a turn's search events into one
// aggregate. Sources keep duplicates because supports reference them by
// index; queries are deduplicated preserving first appearance; the last
// entry point seen wins. Returns nil when no event carried anything.
func Collect(events []EventGrounding) *Grounding {
	var (
		sources    []Source
		supports   []Support
		queries    []string
		entryPoint *SearchEntryPoint
	)
	seenQueries := make(map[string]struct{})

	for _, ev := range events {
		for _, src := range ev.Chunks {
			if src.Domain == "" {
				src.Domain = DomainOf(src.URI)
			}
			sources = append(sources, src)
		}
		supports = append(supports, ev.Supports...)
		for _, q := range ev.WebSearchQueries {
			if _, ok := seenQueries[q]; ok {
				continue
			}
			seenQueries[q] = struct{}{}
			queries = append(queries, q)
		}
		if ev.SearchEntryPoint != nil {
			entryPoint = ev.SearchEntryPoint
		}
	}

	if len(sources) == 0 && len(queries) == 0 && entryPoint == nil && len(supports) == 0 {
		return nil
	}

	metrics.GroundingSourcesCollected.Add(float64(len(sources)))

	if sources == nil {
		sources = []Source{}
	}
	if queries == nil {
		queries = []string{}
	}
	if supports == nil {
		supports = []Support{}
	}
	return &Grounding{
		Sources:           sources,
		WebSearchQueries:  queries,
		SearchEntryPoint:  entryPoint,
		GroundingSupports: supports,
	}
}

// DomainOf returns the lowercase host of a URI, removing any port and a
// leading "www." but preserving other subdomains when present.
// Example: "https://blog.example.com/path" -> "blog.example.com"
func DomainOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	host := strings.ToLower(parsed.Host)

	if colonIndex := strings.Index(host, ":"); colonIndex != -1 {
		host = host[:colonIndex]
	}

	if strings.HasPrefix(host, "www.") {
		host = host[4:]
	}

	return host
}
