package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/shiori/internal/ranking"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "~/.shiori"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.Workers == 0 {
		cfg.Embedding.Workers = 4
	}
	if cfg.Embedding.Text.Provider == "" {
		cfg.Embedding.Text.Provider = "hashing"
	}
	if cfg.Embedding.Text.MaxTokens == 0 {
		cfg.Embedding.Text.MaxTokens = 256
	}
	if cfg.Embedding.Vision.Provider == "" {
		cfg.Embedding.Vision.Provider = "hashing"
	}
	if cfg.Index.Backend == "" {
		cfg.Index.Backend = "memory"
	}
	if cfg.Chunking.CharWindow == 0 {
		cfg.Chunking.CharWindow = 800
	}
	if cfg.Chunking.CharOverlap == 0 {
		cfg.Chunking.CharOverlap = 150
	}
	if cfg.Chunking.WordWindow == 0 {
		cfg.Chunking.WordWindow = 500
	}
	if cfg.Chunking.WordOverlap == 0 {
		cfg.Chunking.WordOverlap = 100
	}
	if cfg.Retrieval.DefaultLimit == 0 {
		cfg.Retrieval.DefaultLimit = 5
	}
	if cfg.Retrieval.MaxLimit == 0 {
		cfg.Retrieval.MaxLimit = 50
	}
	if cfg.Retrieval.CandidateFactor == 0 {
		cfg.Retrieval.CandidateFactor = 4
	}
	if cfg.Retrieval.CharSlack == 0 {
		cfg.Retrieval.CharSlack = 150
	}
	if cfg.Retrieval.TimeSlack == 0 {
		cfg.Retrieval.TimeSlack = 30
	}
	if cfg.Retrieval.Timeout == 0 {
		cfg.Retrieval.Timeout = 10 * time.Second
	}
	if cfg.Retrieval.PromptChars == 0 {
		cfg.Retrieval.PromptChars = 3000
	}
	if cfg.Retrieval.Cues == nil {
		cfg.Retrieval.Cues = ranking.DefaultCues()
	}
	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = 4
	}
	if cfg.Ingest.CommitEvery == 0 {
		cfg.Ingest.CommitEvery = 50
	}
	if cfg.Keyword.TitleBoost == 0 {
		cfg.Keyword.TitleBoost = 2.0
	}
	if cfg.Keyword.Fuzziness == 0 {
		cfg.Keyword.Fuzziness = 1
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 400 * time.Millisecond
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}

var (
	textProviders   = map[string]bool{"hashing": true, "onnx": true, "fastembed": true, "openai": true}
	visionProviders = map[string]bool{"hashing": true, "onnx": true, "none": true}
	backends        = map[string]bool{"memory": true, "chromem": true, "faiss": true}
)

// Validate reports every setting that cannot work, joined into one error.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port %d out of range", c.Server.Port)
	}
	if c.Storage.DataDir == "" {
		add("storage.data_dir is required")
	}
	if c.Embedding.Dimensions <= 0 {
		add("embedding.dimensions must be positive")
	}
	if c.Embedding.Workers <= 0 {
		add("embedding.workers must be positive")
	}
	if !textProviders[c.Embedding.Text.Provider] {
		add("embedding.text.provider %q unknown", c.Embedding.Text.Provider)
	}
	if !visionProviders[c.Embedding.Vision.Provider] {
		add("embedding.vision.provider %q unknown", c.Embedding.Vision.Provider)
	}
	if c.Embedding.Text.Provider == "onnx" && c.Embedding.Text.ModelPath == "" {
		add("embedding.text.model_path is required for onnx")
	}
	if c.Embedding.Vision.Provider == "onnx" && c.Embedding.Vision.ModelPath == "" {
		add("embedding.vision.model_path is required for onnx")
	}
	if c.Embedding.Text.Provider == "openai" && c.Embedding.Text.APIKey == "" {
		add("embedding.text.api_key is required for openai (or set SHIORI_OPENAI_API_KEY)")
	}
	if !backends[c.Index.Backend] {
		add("index.backend %q unknown", c.Index.Backend)
	}
	if c.Chunking.CharWindow <= 0 || c.Chunking.CharOverlap < 0 || c.Chunking.CharOverlap >= c.Chunking.CharWindow {
		add("chunking: char_overlap must be in [0, char_window)")
	}
	if c.Chunking.WordWindow <= 0 || c.Chunking.WordOverlap < 0 || c.Chunking.WordOverlap >= c.Chunking.WordWindow {
		add("chunking: word_overlap must be in [0, word_window)")
	}
	if c.Retrieval.DefaultLimit <= 0 || c.Retrieval.DefaultLimit > c.Retrieval.MaxLimit {
		add("retrieval.default_limit must be in [1, max_limit]")
	}
	if c.Retrieval.CandidateFactor < 1 {
		add("retrieval.candidate_factor must be at least 1")
	}
	if c.Retrieval.CharSlack < 0 || c.Retrieval.TimeSlack < 0 {
		add("retrieval slack must not be negative")
	}
	if c.Retrieval.Timeout <= 0 {
		add("retrieval.timeout must be positive")
	}
	if _, err := ranking.NewCueTable(c.Retrieval.Cues); err != nil {
		add("retrieval.cues: %w", err)
	}
	if c.Ingest.Workers <= 0 || c.Ingest.CommitEvery <= 0 {
		add("ingest.workers and ingest.commit_every must be positive")
	}
	if c.Keyword.Fuzziness < 0 || c.Keyword.Fuzziness > 2 {
		add("keyword.fuzziness must be 0, 1 or 2")
	}
	return errors.Join(errs...)
}
