package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/embedding"
	"github.com/hyperjump/shiori/internal/index"
	"github.com/hyperjump/shiori/internal/indexer"
	"github.com/hyperjump/shiori/internal/keyword"
	"github.com/hyperjump/shiori/internal/metrics"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/ranking"
	"github.com/hyperjump/shiori/internal/search"
	"github.com/hyperjump/shiori/internal/vector"
)

// components is the wired retrieval stack shared by the local commands and serve.
type components struct {
	index     *index.Index
	embedder  *embedding.Embedder
	keyword   keyword.KeywordIndex
	ingester  *indexer.Ingester
	retriever *search.Retriever
	logger    *zap.Logger
}

// openComponents builds the stack from cfg. With rebuild set, the on-disk
// index and keyword index are discarded first.
func openComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, rebuild bool) (*components, error) {
	if rebuild {
		if err := index.Reset(cfg.Storage.DataDir); err != nil {
			return nil, fmt.Errorf("reset index: %w", err)
		}
		if err := os.RemoveAll(cfg.Storage.KeywordPath()); err != nil {
			return nil, fmt.Errorf("reset keyword index: %w", err)
		}
		logger.Info("index reset", zap.String("data_dir", cfg.Storage.DataDir))
	}

	emb, err := newEmbedder(cfg, logger)
	if err != nil {
		return nil, err
	}

	backend := cfg.Index.Backend
	if backend == string(vector.IndexTypeFAISS) && !vector.IsFAISSAvailable() {
		logger.Warn("FAISS requested but not available (build with -tags=faiss); using memory index")
		backend = string(vector.IndexTypeMemory)
	}
	idx, err := index.Open(ctx, index.Config{
		DataDir:    cfg.Storage.DataDir,
		Backend:    backend,
		Dimensions: cfg.Embedding.Dimensions,
	}, emb.Fingerprint(),
		index.WithLogger(logger),
		index.WithSnapshotRecovery(cfg.Index.RecoverSnapshot))
	if err != nil {
		emb.Close()
		if errors.Is(err, models.ErrRebuildRequired) {
			return nil, fmt.Errorf("%w (run `shiori ingest --rebuild <paths>`)", err)
		}
		return nil, fmt.Errorf("open index: %w", err)
	}

	c := &components{index: idx, embedder: emb, logger: logger}
	m := metrics.NewMetrics()

	ingestOpts := []indexer.IngesterOption{
		indexer.WithLogger(logger),
		indexer.WithMetrics(m),
		indexer.WithWorkers(cfg.Ingest.Workers),
		indexer.WithCommitEvery(cfg.Ingest.CommitEvery),
	}
	if len(cfg.Ingest.Extensions) > 0 {
		ingestOpts = append(ingestOpts, indexer.WithExtensions(cfg.Ingest.Extensions))
	}
	chunker, err := indexer.NewChunker(
		indexer.WithCharWindow(cfg.Chunking.CharWindow, cfg.Chunking.CharOverlap),
		indexer.WithWordWindow(cfg.Chunking.WordWindow, cfg.Chunking.WordOverlap))
	if err != nil {
		c.Close(ctx)
		return nil, fmt.Errorf("chunker: %w", err)
	}
	ingestOpts = append(ingestOpts, indexer.WithChunker(chunker))

	var reindex bool
	if cfg.Keyword.EnabledOrDefault() {
		kw, stale, err := openKeyword(cfg.Storage.KeywordPath(), idx.Stats().Fragments, logger)
		if err != nil {
			c.Close(ctx)
			return nil, err
		}
		c.keyword = kw
		reindex = stale
		ingestOpts = append(ingestOpts, indexer.WithKeywordIndex(kw))
	}
	c.ingester = indexer.NewIngester(idx, emb, ingestOpts...)
	if reindex {
		n, err := c.ingester.ReindexKeywords(ctx)
		if err != nil {
			c.Close(ctx)
			return nil, fmt.Errorf("reindex keywords: %w", err)
		}
		logger.Info("keyword index rebuilt", zap.Int("fragments", n))
	}

	cues, err := ranking.NewCueTable(cfg.Retrieval.Cues)
	if err != nil {
		c.Close(ctx)
		return nil, fmt.Errorf("cue table: %w", err)
	}
	c.retriever = search.NewRetriever(idx, emb,
		search.WithCandidateFactor(cfg.Retrieval.CandidateFactor),
		search.WithDedupSlack(cfg.Retrieval.CharSlack, cfg.Retrieval.TimeSlack),
		search.WithTimeout(cfg.Retrieval.Timeout),
		search.WithCueTable(cues),
		search.WithPromptChars(cfg.Retrieval.PromptChars),
		search.WithLogger(logger),
		search.WithMetrics(m))
	return c, nil
}

func newEmbedder(cfg *config.Config, logger *zap.Logger) (*embedding.Embedder, error) {
	dims := cfg.Embedding.Dimensions
	text, err := embedding.NewTextEncoder(encoderOptions(cfg.Embedding.Text, dims))
	if err != nil {
		return nil, fmt.Errorf("text encoder: %w", err)
	}
	vision, err := embedding.NewVisionEncoder(encoderOptions(cfg.Embedding.Vision, dims))
	if err != nil {
		text.Close()
		return nil, fmt.Errorf("vision encoder: %w", err)
	}
	opts := []embedding.Option{
		embedding.WithCacheSize(cfg.Embedding.CacheSize),
		embedding.WithWorkers(cfg.Embedding.Workers),
		embedding.WithLogger(logger),
	}
	if vision != nil {
		opts = append(opts, embedding.WithVisionEncoder(vision))
	}
	emb, err := embedding.New(text, dims, opts...)
	if err != nil {
		text.Close()
		if vision != nil {
			vision.Close()
		}
		return nil, fmt.Errorf("embedder: %w", err)
	}
	return emb, nil
}

func encoderOptions(ec config.EncoderConfig, dims int) embedding.EncoderOptions {
	return embedding.EncoderOptions{
		Provider:   ec.Provider,
		Dimensions: dims,
		ModelPath:  ec.ModelPath,
		Model:      ec.Model,
		MaxTokens:  ec.MaxTokens,
		CacheDir:   ec.CacheDir,
		BaseURL:    ec.BaseURL,
		APIKey:     ec.APIKey,
	}
}

// openKeyword opens the keyword index at path. When its fragment count has
// drifted from the vector index it is recreated empty and stale is true.
func openKeyword(path string, fragments int, logger *zap.Logger) (kw *keyword.BleveIndex, stale bool, err error) {
	kw, err = keyword.NewBleveIndex(path)
	if err != nil {
		return nil, false, fmt.Errorf("open keyword index: %w", err)
	}
	n, err := kw.DocCount()
	if err != nil {
		kw.Close()
		return nil, false, fmt.Errorf("keyword count: %w", err)
	}
	if n == uint64(fragments) {
		return kw, false, nil
	}
	logger.Info("keyword index out of step, rebuilding",
		zap.Uint64("keyword_fragments", n),
		zap.Int("index_fragments", fragments))
	if err := kw.Close(); err != nil {
		return nil, false, err
	}
	if err := os.RemoveAll(path); err != nil {
		return nil, false, fmt.Errorf("remove keyword index: %w", err)
	}
	kw, err = keyword.NewBleveIndex(path)
	if err != nil {
		return nil, false, fmt.Errorf("recreate keyword index: %w", err)
	}
	return kw, true, nil
}

// Close flushes pending ingestion and releases every component.
func (c *components) Close(ctx context.Context) error {
	var errs []error
	if c.ingester != nil {
		if err := c.ingester.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.index.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.keyword != nil {
		if err := c.keyword.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.embedder.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
