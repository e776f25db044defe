package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/knowledge-engine/promptrank/internal/api"
	"github.com/knowledge-engine/promptrank/internal/config"
	"github.com/knowledge-engine/promptrank/internal/engine"
	"github.com/knowledge-engine/promptrank/internal/fetcher"
	"github.com/knowledge-engine/promptrank/internal/storage"
)

// app is what every subcommand needs once flags are parsed
type app struct {
	cfg    *config.Config
	log    *logrus.Entry
	store  storage.Store
	engine *engine.Engine
}

func (a *app) Close() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.log.WithError(err).Warn("Failed to close storage")
	}
}

// loadConfig reads --config when given, otherwise defaults plus environment
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Load()
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("data") {
		cfg.Engine.DataBasePath, _ = cmd.Flags().GetString("data")
	}
	return cfg, nil
}

func setupLogger(cfg config.LogConfig) *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if strings.EqualFold(cfg.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger.WithField("service", "promptrank")
}

func newApp(cmd *cobra.Command) (*app, error) {
	// 1. Config
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	entry := setupLogger(cfg.Log)

	// 2. Corpus source
	src, err := fetcher.New(cfg.Engine.DataBasePath, fetcher.Options{
		Timeout:   cfg.Fetch.Timeout,
		UserAgent: cfg.Fetch.UserAgent,
		MaxBytes:  cfg.Fetch.MaxBytes,
	}, entry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize fetcher: %w", err)
	}

	// 3. Storage
	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// 4. Engine
	eng := engine.New(cfg.Engine, src, store, entry)

	return &app{cfg: cfg, log: entry, store: store, engine: eng}, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var rootCmd = &cobra.Command{
	Use:   "promptrank",
	Short: "Rank and fill prompt templates for a free-text draft",
	Long: `promptrank suggests prompt templates for a draft. It loads a template corpus
from a local directory or an HTTP base, ranks templates with a bitmap prefilter
and BM25F, and fills each template's placeholders from the request context.

Examples:
  promptrank search write a cover letter for a sales role
  promptrank search --url https://jobs.example.com fix this stack trace
  promptrank serve --config promptrank.yaml`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()

		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = a.cfg.Server.Addr
		}

		warm, _ := cmd.Flags().GetBool("warm")
		if warm {
			if err := a.engine.Init(ctx); err != nil {
				a.log.WithError(err).Warn("Warm-up load failed, retrying on first request")
			}
		}

		server := api.NewServer(a.engine, a.log)
		return server.Start(ctx, addr)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search [draft...]",
	Short: "Rank templates for a draft and print the filled prompts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()

		req := engine.SearchRequest{
			Draft:   strings.Join(args, " "),
			Context: map[string]any{},
		}
		req.Family, _ = cmd.Flags().GetString("family")
		req.MaxResults, _ = cmd.Flags().GetInt("max")
		if u, _ := cmd.Flags().GetString("url"); u != "" {
			req.Context["url"] = u
		}
		pairs, _ := cmd.Flags().GetStringToString("set")
		for k, v := range pairs {
			req.Context[k] = v
		}

		results, err := a.engine.Search(ctx, req)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		}

		out := cmd.OutOrStdout()
		if len(results) == 0 {
			fmt.Fprintln(out, "No matching templates.")
			return nil
		}
		for i, r := range results {
			fmt.Fprintf(out, "%d. %s [%s] %.4f\n", i+1, r.TemplateTitle, r.CandidateID, r.Score)
			fmt.Fprintf(out, "   %s\n\n", r.FilledPrompt)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Load the corpus and report its size",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()

		if err := a.engine.SeedFromManifest(ctx); err != nil {
			return fmt.Errorf("load failed: %w", err)
		}

		st := a.engine.Status()
		fmt.Fprintf(cmd.OutOrStdout(), "ready=%t templates=%d categories=%d\n", st.Ready, st.TemplateCount, st.Categories)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("data", "", "Corpus base path or URL (overrides config)")

	serveCmd.Flags().String("addr", "", "Listen address (default from config)")
	serveCmd.Flags().Bool("warm", true, "Load the corpus before accepting requests")

	searchCmd.Flags().String("url", "", "Page URL used to fill domain placeholders")
	searchCmd.Flags().String("family", "", "Restrict candidates to one template family")
	searchCmd.Flags().IntP("max", "n", 0, "Maximum number of results")
	searchCmd.Flags().StringToString("set", nil, "Placeholder values, e.g. --set role=engineer")
	searchCmd.Flags().Bool("json", false, "Output results as JSON")

	rootCmd.AddCommand(serveCmd, searchCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
