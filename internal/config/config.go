// Package config provides configuration loading and structs for Shiori.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/shiori/internal/ranking"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Keyword   KeywordConfig   `yaml:"keyword"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

// StorageConfig locates persistent state. The database, vector snapshot and
// keyword index all live under DataDir.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// KeywordPath returns the keyword index directory.
func (s StorageConfig) KeywordPath() string {
	return filepath.Join(s.DataDir, "keyword")
}

// EmbeddingConfig holds the shared embedding space and its two encoders.
type EmbeddingConfig struct {
	Dimensions int           `yaml:"dimensions"`
	CacheSize  int           `yaml:"cache_size"`
	Workers    int           `yaml:"workers"`
	Text       EncoderConfig `yaml:"text"`
	Vision     EncoderConfig `yaml:"vision"`
}

// EncoderConfig selects one encoder. Provider is one of hashing, onnx,
// fastembed or openai for text, and hashing, onnx or none for vision.
type EncoderConfig struct {
	Provider  string `yaml:"provider"`
	ModelPath string `yaml:"model_path,omitempty"`
	Model     string `yaml:"model,omitempty"`
	MaxTokens int    `yaml:"max_tokens,omitempty"`
	CacheDir  string `yaml:"cache_dir,omitempty"`
	BaseURL   string `yaml:"base_url,omitempty"`
	APIKey    string `yaml:"api_key,omitempty"`
}

// IndexConfig selects the vector backend.
type IndexConfig struct {
	Backend string `yaml:"backend"`
	// RecoverSnapshot rebuilds vectors from the database when the snapshot
	// is missing or corrupt instead of failing to open.
	RecoverSnapshot bool `yaml:"recover_snapshot"`
}

// ChunkingConfig holds fragment window sizes. Document windows are in
// characters, audio windows in words.
type ChunkingConfig struct {
	CharWindow  int `yaml:"char_window"`
	CharOverlap int `yaml:"char_overlap"`
	WordWindow  int `yaml:"word_window"`
	WordOverlap int `yaml:"word_overlap"`
}

// RetrievalConfig holds query-time settings.
type RetrievalConfig struct {
	DefaultLimit    int                 `yaml:"default_limit"`
	MaxLimit        int                 `yaml:"max_limit"`
	CandidateFactor int                 `yaml:"candidate_factor"`
	CharSlack       int                 `yaml:"char_slack"`
	TimeSlack       float64             `yaml:"time_slack"`
	Timeout         time.Duration       `yaml:"timeout"`
	PromptChars     int                 `yaml:"prompt_chars"`
	Cues            []ranking.CueConfig `yaml:"cues,omitempty"`
}

// IngestConfig holds ingestion settings.
type IngestConfig struct {
	Workers     int      `yaml:"workers"`
	CommitEvery int      `yaml:"commit_every"`
	Extensions  []string `yaml:"extensions"`
}

// KeywordConfig controls the full-text side index used by grep.
type KeywordConfig struct {
	Enabled    *bool   `yaml:"enabled"`
	TitleBoost float64 `yaml:"title_boost"`
	Fuzziness  int     `yaml:"fuzziness"`
}

// EnabledOrDefault returns whether the keyword index is kept; defaults to true when unset.
func (k *KeywordConfig) EnabledOrDefault() bool {
	if k.Enabled != nil {
		return *k.Enabled
	}
	return true
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []string      `yaml:"directories"`
	Recursive   *bool         `yaml:"recursive"`
	Debounce    time.Duration `yaml:"debounce"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Default returns a configuration with every default applied and paths
// expanded against the working directory.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	wd, _ := os.Getwd()
	expandPaths(cfg, wd)
	return cfg
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	expandPaths(&cfg, filepath.Dir(path))
	return &cfg, nil
}

// LoadOrDefault loads path, or returns Default when path does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes the config to path. Used for persisting watch directory add/remove.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func expandPaths(cfg *Config, configDir string) {
	cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir, configDir)
	for _, enc := range []*EncoderConfig{&cfg.Embedding.Text, &cfg.Embedding.Vision} {
		if enc.ModelPath != "" {
			enc.ModelPath = expandPath(enc.ModelPath, configDir)
		}
		if enc.CacheDir != "" {
			enc.CacheDir = expandPath(enc.CacheDir, configDir)
		}
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}
}

// expandPath converts a path to absolute. "~" and "~/" refer to the home
// directory; paths starting with "./" are relative to configDir; other
// relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." || strings.HasPrefix(path, "../") {
		return filepath.Join(configDir, path)
	}
	path = strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/")
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}

// ApplyEnv overrides settings from SHIORI_* environment variables.
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv("SHIORI_DATA_DIR"); v != "" {
		wd, _ := os.Getwd()
		cfg.Storage.DataDir = expandPath(v, wd)
	}
	if v := os.Getenv("SHIORI_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SHIORI_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SHIORI_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("SHIORI_DEBUG"); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SHIORI_DEBUG: %w", err)
		}
		cfg.Debug = debug
	}
	if v := os.Getenv("SHIORI_INDEX_BACKEND"); v != "" {
		cfg.Index.Backend = v
	}
	if cfg.Embedding.Text.APIKey == "" {
		if v := os.Getenv("SHIORI_OPENAI_API_KEY"); v != "" {
			cfg.Embedding.Text.APIKey = v
		} else {
			cfg.Embedding.Text.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	return nil
}
