package search

import "fmt"

// Query pipeline stages reported by StageError.
const (
	StageEmbedding = "embedding"
	StageIndex     = "index"
	StageAssembly  = "assembly"
	StageTimeout   = "timeout"
)

// StageError reports which stage of a query failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
