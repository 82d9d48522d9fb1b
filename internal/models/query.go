package models

import "fmt"

// QueryRequest represents a retrieval request.
type QueryRequest struct {
	Query string `json:"query"`
	// K is the number of fragments to return.
	K int `json:"k,omitempty"`
	// Modalities restricts results to the listed modalities when non-empty.
	Modalities []Modality `json:"modalities,omitempty"`
	// Prompt asks for the grounded prompt to be rendered alongside the context block.
	Prompt bool `json:"prompt,omitempty"`
}

// Validate ensures the request has a query and clamps K to [1, 20].
func (q *QueryRequest) Validate() error {
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.K <= 0 {
		q.K = 5
	}
	if q.K > 20 {
		q.K = 20
	}
	for _, m := range q.Modalities {
		if _, err := ParseModality(string(m)); err != nil {
			return err
		}
	}
	return nil
}

// Allows reports whether results of modality m pass the request's filter.
func (q *QueryRequest) Allows(m Modality) bool {
	if len(q.Modalities) == 0 {
		return true
	}
	for _, want := range q.Modalities {
		if want == m {
			return true
		}
	}
	return false
}
