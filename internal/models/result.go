package models

import "time"

// RetrievedFragment is a ranked retrieval hit.
type RetrievedFragment struct {
	Fragment  Fragment `json:"fragment"`
	Path      string   `json:"path"`
	Score     float64  `json:"score"`
	BaseScore float64  `json:"base_score"`
	Boost     float64  `json:"boost,omitempty"`
}

// Citation is a numbered reference from an answer to the fragment supporting it.
type Citation struct {
	Number     int      `json:"number"`
	FragmentID string   `json:"fragment_id"`
	DocumentID string   `json:"document_id"`
	Path       string   `json:"path"`
	Modality   Modality `json:"modality"`
	Locator    string   `json:"locator"`
	Score      float64  `json:"score"`
}

// QueryStats describes one retrieval for observability surfaces.
type QueryStats struct {
	QueryID           string        `json:"query_id"`
	FragmentsSearched int           `json:"fragments_searched"`
	Candidates        int           `json:"candidates"`
	Returned          int           `json:"returned"`
	EmbedLatency      time.Duration `json:"embed_latency_ns"`
	SearchLatency     time.Duration `json:"search_latency_ns"`
	TotalLatency      time.Duration `json:"total_latency_ns"`
}

// QueryResponse is the full answer to a query request: the ranked fragments,
// the citation list and the context block ready for a prompt builder.
type QueryResponse struct {
	Query        string              `json:"query"`
	Fragments    []RetrievedFragment `json:"fragments"`
	Citations    []Citation          `json:"citations"`
	ContextBlock string              `json:"context_block"`
	Prompt       string              `json:"prompt,omitempty"`
	Stats        QueryStats          `json:"stats"`
	QueryTime    int64               `json:"query_time_ms"`
}
