// Package main is the Shiori CLI entry point.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/shiori/internal/cli"
	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "~/.config/shiori/config.yaml"
	localConfigName   = "shiori.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	debug      bool
	output     string
	logLevel   string
}

func main() {
	// A missing .env is normal.
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "shiori",
		Short: "Local multimodal retrieval with cited sources",
		Long: `shiori indexes documents, audio transcripts and screenshots into one
vector index and answers queries with numbered, source-located citations.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", defaultConfigPath, "config file path")
	pf.BoolVar(&g.debug, "debug", false, "enable debug logging")
	pf.StringVarP(&g.output, "output", "o", "text", "output format: text or json")
	pf.StringVar(&g.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides --debug")

	root.AddCommand(
		newServeCmd(g),
		newIngestCmd(g),
		newQueryCmd(g),
		newGrepCmd(g),
		newDeleteCmd(g),
		newStatusCmd(g),
		newWatchCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig loads config from path. When path is the default, it first looks for
// shiori.yaml in the current directory (for development); if that exists it is used.
// A missing default config yields the built-in defaults. Environment overrides
// are applied and the result validated. Returns the config and the path that
// was actually used (for saving, etc.).
func loadConfig(path string) (*config.Config, string, error) {
	resolved := path
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			local := filepath.Join(cwd, localConfigName)
			if _, err := os.Stat(local); err == nil {
				resolved = local
			}
		}
	}
	if strings.HasPrefix(resolved, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			resolved = filepath.Join(home, strings.TrimPrefix(resolved, "~"))
		}
	}

	var (
		cfg *config.Config
		err error
	)
	if path == defaultConfigPath {
		cfg, err = config.LoadOrDefault(resolved)
	} else {
		cfg, err = config.Load(resolved)
	}
	if err != nil {
		return nil, "", err
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config %s: %w", resolved, err)
	}
	return cfg, resolved, nil
}

// setup loads config, builds the logger and parses the output format.
func (g *globalFlags) setup() (*config.Config, string, *zap.Logger, cli.OutputFormat, error) {
	format, err := cli.ParseFormat(g.output)
	if err != nil {
		return nil, "", nil, "", err
	}
	cfg, path, err := loadConfig(g.configPath)
	if err != nil {
		return nil, "", nil, "", err
	}
	var logger *zap.Logger
	if g.logLevel != "" {
		logger, err = utils.NewLoggerWithLevel(g.logLevel)
	} else {
		logger, err = utils.NewLogger(cfg.Debug || g.debug)
	}
	if err != nil {
		return nil, "", nil, "", fmt.Errorf("create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", path), zap.String("data_dir", cfg.Storage.DataDir))
	return cfg, path, logger, format, nil
}

// buildQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
