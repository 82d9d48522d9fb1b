// Package search implements the retriever: query embedding, candidate fetch,
// overlap deduplication, modality boosts and citation assembly.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/shiori/internal/citation"
	"github.com/hyperjump/shiori/internal/index"
	"github.com/hyperjump/shiori/internal/metrics"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/ranking"
)

// Retriever defaults.
const (
	DefaultCandidateFactor = 4
	DefaultTimeout         = 10 * time.Second
)

// QueryEmbedder maps query text into the index vector space.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// FragmentSearcher is the read side of an index handle.
type FragmentSearcher interface {
	Search(ctx context.Context, query []float32, k int) ([]index.Hit, error)
	Stats() index.Stats
}

// Result is the outcome of Retrieve.
type Result struct {
	Fragments []models.RetrievedFragment
	Cues      []ranking.MatchedCue
	Stats     models.QueryStats
}

// Retriever runs queries against an index.
type Retriever struct {
	index           FragmentSearcher
	embedder        QueryEmbedder
	cues            *ranking.CueTable
	candidateFactor int
	charSlack       int
	timeSlack       float64
	timeout         time.Duration
	promptChars     int
	logger          *zap.Logger
	metrics         *metrics.Metrics
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithCandidateFactor sets N/k, the number of candidates fetched per result.
func WithCandidateFactor(f int) Option {
	return func(r *Retriever) {
		if f >= 1 {
			r.candidateFactor = f
		}
	}
}

// WithDedupSlack sets how close two locators of one document must be to merge.
func WithDedupSlack(chars int, seconds float64) Option {
	return func(r *Retriever) {
		r.charSlack = chars
		r.timeSlack = seconds
	}
}

// WithTimeout bounds the total latency of one query.
func WithTimeout(d time.Duration) Option {
	return func(r *Retriever) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithCueTable replaces the default boost table.
func WithCueTable(t *ranking.CueTable) Option {
	return func(r *Retriever) {
		if t != nil {
			r.cues = t
		}
	}
}

// WithPromptChars bounds the evidence in rendered prompts.
func WithPromptChars(n int) Option {
	return func(r *Retriever) {
		r.promptChars = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Retriever) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records query metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Retriever) {
		r.metrics = m
	}
}

// NewRetriever creates a Retriever over idx using emb for queries.
func NewRetriever(idx FragmentSearcher, emb QueryEmbedder, opts ...Option) *Retriever {
	r := &Retriever{
		index:           idx,
		embedder:        emb,
		candidateFactor: DefaultCandidateFactor,
		charSlack:       DefaultCharSlack,
		timeSlack:       DefaultTimeSlack,
		timeout:         DefaultTimeout,
		promptChars:     citation.DefaultPromptChars,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cues == nil {
		// The built-in table always compiles.
		r.cues, _ = ranking.NewCueTable(nil)
	}
	return r
}

// Retrieve returns up to k fragments for query, ordered by descending
// boosted score with ties broken by fragment ID.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	res, err := r.retrieve(ctx, query, k, nil)
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	r.observe(res)
	return res, nil
}

// Query validates req, retrieves fragments and assembles citations, all
// within one latency budget.
func (r *Retriever) Query(ctx context.Context, req *models.QueryRequest) (*models.QueryResponse, error) {
	if err := ProcessQuery(req); err != nil {
		return nil, err
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.retrieve(ctx, req.Query, req.K, req.Allows)
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	assembly, err := citation.Assemble(res.Fragments)
	if err != nil {
		return nil, r.fail(ctx, &StageError{Stage: StageAssembly, Err: err})
	}
	resp := &models.QueryResponse{
		Query:        req.Query,
		Fragments:    res.Fragments,
		Citations:    assembly.Citations,
		ContextBlock: assembly.ContextBlock,
	}
	if req.Prompt {
		if resp.Prompt, err = citation.RenderPrompt(req.Query, assembly, r.promptChars); err != nil {
			return nil, r.fail(ctx, &StageError{Stage: StageAssembly, Err: err})
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, r.fail(ctx, err)
	}
	res.Stats.TotalLatency = time.Since(start)
	resp.Stats = res.Stats
	resp.QueryTime = res.Stats.TotalLatency.Milliseconds()
	r.observe(res)
	return resp, nil
}

func (r *Retriever) retrieve(ctx context.Context, query string, k int, allow func(models.Modality) bool) (*Result, error) {
	start := time.Now()
	stats := models.QueryStats{QueryID: uuid.NewString()}
	if k <= 0 {
		return &Result{Fragments: []models.RetrievedFragment{}, Stats: stats}, nil
	}

	qv, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, &StageError{Stage: StageEmbedding, Err: err}
	}
	stats.EmbedLatency = time.Since(start)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	searchStart := time.Now()
	stats.FragmentsSearched = r.index.Stats().Fragments
	n := candidateCount(k, r.candidateFactor, stats.FragmentsSearched)
	var kept []models.RetrievedFragment
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hits, err := r.index.Search(ctx, qv, n)
		if err != nil {
			return nil, &StageError{Stage: StageIndex, Err: err}
		}
		stats.Candidates = len(hits)
		cands := make([]models.RetrievedFragment, 0, len(hits))
		for _, h := range hits {
			if allow != nil && !allow(h.Fragment.Modality) {
				continue
			}
			cands = append(cands, models.RetrievedFragment{
				Fragment:  h.Fragment,
				Path:      h.Path,
				Score:     h.Score,
				BaseScore: h.Score,
			})
		}
		kept = Dedup(cands, r.charSlack, r.timeSlack)
		// Widen when deduplication or filtering left too few and more exist.
		if len(kept) >= k || len(hits) < n || n >= stats.FragmentsSearched {
			break
		}
		n = candidateCount(n, 2, stats.FragmentsSearched)
	}
	stats.SearchLatency = time.Since(searchStart)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	boosts := r.cues.Boosts(query)
	for i := range kept {
		kept[i].Boost = boosts.For(kept[i].Fragment.Modality)
		kept[i].Score = kept[i].BaseScore + kept[i].Boost
	}
	sortFragments(kept)
	if len(kept) > k {
		kept = kept[:k]
	}
	stats.Returned = len(kept)
	stats.TotalLatency = time.Since(start)

	r.logger.Debug("query retrieved",
		zap.String("query_id", stats.QueryID),
		zap.Int("k", k),
		zap.Int("candidates", stats.Candidates),
		zap.Int("returned", stats.Returned),
		zap.Duration("embed", stats.EmbedLatency),
		zap.Duration("search", stats.SearchLatency))
	return &Result{Fragments: kept, Cues: boosts.Cues, Stats: stats}, nil
}

// candidateCount returns k*factor capped at total. The cap applies before
// multiplying so that a huge k cannot overflow.
func candidateCount(k, factor, total int) int {
	if factor < 1 {
		factor = 1
	}
	if total < 1 {
		return 1
	}
	if k > total {
		k = total
	}
	if k > total/factor {
		return total
	}
	return k * factor
}

// fail maps err to a StageError, turning deadline overruns into timeouts.
func (r *Retriever) fail(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		err = &StageError{Stage: StageTimeout, Err: fmt.Errorf("%w after %s", models.ErrQueryTimeout, r.timeout)}
	}
	var se *StageError
	if !errors.As(err, &se) {
		se = &StageError{Stage: StageIndex, Err: err}
		err = se
	}
	r.metrics.QueryFailed(se.Stage)
	r.logger.Warn("query failed", zap.String("stage", se.Stage), zap.Error(se.Err))
	return err
}

func (r *Retriever) observe(res *Result) {
	r.metrics.ObserveQuery(metrics.QueryStages{
		Embed:             res.Stats.EmbedLatency,
		Search:            res.Stats.SearchLatency,
		Total:             res.Stats.TotalLatency,
		FragmentsSearched: res.Stats.FragmentsSearched,
	})
}
