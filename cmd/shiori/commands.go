package main

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/shiori/internal/cli"
	"github.com/hyperjump/shiori/internal/keyword"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/search"
	"github.com/hyperjump/shiori/internal/storage"
)

func newIngestCmd(g *globalFlags) *cobra.Command {
	var rebuild bool
	cmd := &cobra.Command{
		Use:   "ingest <path>...",
		Short: "Index files or directories",
		Long: `Extract, chunk and embed the given files and directories into the index.
Unchanged files are skipped. Use --rebuild after changing the embedding model
or dimensions.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, logger, format, err := g.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			ctx := cmd.Context()

			c, err := openComponents(ctx, cfg, logger, rebuild)
			if err != nil {
				return err
			}
			var failed int
			for _, path := range args {
				info, err := os.Stat(path)
				if err != nil {
					c.Close(ctx)
					return err
				}
				if info.IsDir() {
					report, err := c.ingester.IngestDirectory(ctx, path)
					if err != nil {
						c.Close(ctx)
						return err
					}
					failed += len(report.Failed)
					if err := cli.WriteIngestReport(cmd.OutOrStdout(), report, format); err != nil {
						c.Close(ctx)
						return err
					}
					continue
				}
				res, err := c.ingester.IngestFile(ctx, path)
				if err != nil {
					logger.Error("ingest failed", zap.String("path", path), zap.Error(err))
					fmt.Fprintf(cmd.ErrOrStderr(), "failed: %s: %v\n", path, err)
					failed++
					continue
				}
				if err := cli.WriteFileResult(cmd.OutOrStdout(), res, format); err != nil {
					c.Close(ctx)
					return err
				}
			}
			if err := c.Close(ctx); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d file(s) failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "discard the existing index before ingesting")
	return cmd
}

type queryFlags struct {
	k          int
	modalities []string
	prompt     bool
	server     string
}

func newQueryCmd(g *globalFlags) *cobra.Command {
	f := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "query <words>...",
		Short: "Retrieve cited fragments for a question",
		Example: `  shiori query what did the speaker say about latency
  shiori query -k 3 --modality audio "release date"
  shiori query --prompt --server http://localhost:8080 onboarding checklist`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request(args)
			if err != nil {
				return err
			}
			format, err := cli.ParseFormat(g.output)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if f.server != "" {
				var resp models.QueryResponse
				if err := newAPIClient(f.server).do(ctx, http.MethodPost, "/api/v1/query", nil, req, &resp); err != nil {
					return err
				}
				return cli.WriteQueryResponse(cmd.OutOrStdout(), &resp, format)
			}

			cfg, _, logger, _, err := g.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			c, err := openComponents(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer c.Close(ctx)
			resp, err := c.retriever.Query(ctx, req)
			if err != nil {
				return err
			}
			return cli.WriteQueryResponse(cmd.OutOrStdout(), resp, format)
		},
	}
	cmd.Flags().IntVarP(&f.k, "limit", "k", 5, "number of fragments to return (1-20)")
	cmd.Flags().StringSliceVarP(&f.modalities, "modality", "m", nil, "restrict to modality: document, audio, image (repeatable)")
	cmd.Flags().BoolVar(&f.prompt, "prompt", false, "render the grounded prompt")
	cmd.Flags().StringVar(&f.server, "server", "", "query a running server at this URL instead of opening the index")
	return cmd
}

func (f *queryFlags) request(args []string) (*models.QueryRequest, error) {
	req := &models.QueryRequest{
		Query:  buildQuery(args),
		K:      f.k,
		Prompt: f.prompt,
	}
	mods, err := parseModalities(f.modalities)
	if err != nil {
		return nil, err
	}
	req.Modalities = mods
	if err := search.ProcessQuery(req); err != nil {
		return nil, err
	}
	return req, nil
}

func parseModalities(values []string) ([]models.Modality, error) {
	var mods []models.Modality
	for _, v := range values {
		m, err := models.ParseModality(v)
		if err != nil {
			return nil, err
		}
		mods = append(mods, m)
	}
	return mods, nil
}

func newGrepCmd(g *globalFlags) *cobra.Command {
	var (
		fuzzy      bool
		limit      int
		modalities []string
		server     string
	)
	cmd := &cobra.Command{
		Use:   "grep <words>...",
		Short: "Keyword search over fragment text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := buildQuery(args)
			mods, err := parseModalities(modalities)
			if err != nil {
				return err
			}
			format, err := cli.ParseFormat(g.output)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if server != "" {
				params := url.Values{"q": {q}, "limit": {strconv.Itoa(limit)}}
				if fuzzy {
					params.Set("fuzzy", "true")
				}
				for _, m := range mods {
					params.Add("modality", string(m))
				}
				var resp struct {
					Results []*keyword.KeywordResult `json:"results"`
				}
				if err := newAPIClient(server).do(ctx, http.MethodGet, "/api/v1/fragments/search", params, nil, &resp); err != nil {
					return err
				}
				return cli.WriteKeywordResults(cmd.OutOrStdout(), q, resp.Results, format)
			}

			cfg, _, logger, _, err := g.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			c, err := openComponents(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer c.Close(ctx)
			if c.keyword == nil {
				return errors.New("keyword index is disabled (keyword.enabled: false)")
			}
			results, err := c.keyword.Search(ctx, q, limit, &keyword.SearchOptions{
				TitleBoost:   cfg.Keyword.TitleBoost,
				FuzzyEnabled: fuzzy,
				Fuzziness:    cfg.Keyword.Fuzziness,
				Modalities:   mods,
			})
			if err != nil {
				return err
			}
			return cli.WriteKeywordResults(cmd.OutOrStdout(), q, results, format)
		},
	}
	cmd.Flags().BoolVar(&fuzzy, "fuzzy", false, "tolerate typos")
	cmd.Flags().IntVarP(&limit, "limit", "k", 10, "maximum matches")
	cmd.Flags().StringSliceVarP(&modalities, "modality", "m", nil, "restrict to modality (repeatable)")
	cmd.Flags().StringVar(&server, "server", "", "search a running server at this URL")
	return cmd
}

func newDeleteCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document-id|path>",
		Short: "Remove a document and its fragments from the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, logger, _, err := g.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			ctx := cmd.Context()
			c, err := openComponents(ctx, cfg, logger, false)
			if err != nil {
				return err
			}

			id := args[0]
			if _, err := c.index.Document(id); errors.Is(err, models.ErrNotFound) {
				abs, absErr := filepath.Abs(id)
				if absErr == nil {
					if doc, err := c.index.DocumentByPath(abs); err == nil {
						id = doc.ID
					}
				}
			}
			if err := c.ingester.RemoveDocument(ctx, id); err != nil {
				c.Close(ctx)
				if errors.Is(err, models.ErrNotFound) {
					return fmt.Errorf("document not found: %s", args[0])
				}
				return err
			}
			if err := c.Close(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted document %s\n", id)
			return nil
		},
	}
}

func newStatusCmd(g *globalFlags) *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseFormat(g.output)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if server != "" {
				var resp struct {
					cli.Status
					Config struct {
						DataDir string `json:"data_dir"`
					} `json:"config"`
				}
				if err := newAPIClient(server).do(ctx, http.MethodGet, "/api/v1/status", nil, nil, &resp); err != nil {
					return err
				}
				st := resp.Status
				st.DataDir = resp.Config.DataDir
				return cli.WriteStatus(cmd.OutOrStdout(), &st, format)
			}

			cfg, _, logger, _, err := g.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			c, err := openComponents(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer c.Close(ctx)

			st := &cli.Status{Index: c.index.Stats(), DataDir: cfg.Storage.DataDir}
			if n, err := storage.DiskUsageBytes(cfg.Storage.DataDir); err == nil {
				st.DiskUsageBytes = n
			}
			if usage, err := storage.DiskUsageByEntry(cfg.Storage.DataDir); err == nil {
				st.DiskUsage = usage
			}
			if c.keyword != nil {
				if n, err := c.keyword.DocCount(); err == nil {
					st.KeywordFragments = &n
				}
			}
			return cli.WriteStatus(cmd.OutOrStdout(), st, format)
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "read status from a running server at this URL")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "shiori %s\n", version)
		},
	}
}
