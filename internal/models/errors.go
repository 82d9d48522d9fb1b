package models

import "errors"

// Error taxonomy shared by the write and read paths. Callers match with errors.Is.
var (
	// ErrExtractionInconsistency means the upstream offset or time map does not
	// match the content it describes. The affected document is rejected.
	ErrExtractionInconsistency = errors.New("extraction inconsistency")
	// ErrEmbeddingFailed means an encoder is unavailable or produced an unusable vector.
	ErrEmbeddingFailed = errors.New("embedding failed")
	// ErrIndexUnavailable means the index store is missing, corrupt or locked.
	ErrIndexUnavailable = errors.New("index unavailable")
	// ErrDimensionMismatch means a vector of the wrong length reached the index.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrRebuildRequired means the on-disk format or embedder does not match this build.
	ErrRebuildRequired = errors.New("index rebuild required")
	// ErrNotFound means the requested document or fragment does not exist.
	ErrNotFound = errors.New("not found")
)

// ErrQueryTimeout means a query did not finish within its latency budget.
var ErrQueryTimeout = errors.New("query timed out")
