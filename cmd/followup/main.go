package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/pbaille/followup/internal/analyzer"
	"github.com/pbaille/followup/internal/config"
	"github.com/pbaille/followup/internal/engine"
	"github.com/pbaille/followup/internal/identity"
	"github.com/pbaille/followup/internal/logger"
	"github.com/pbaille/followup/internal/metrics"
	"github.com/pbaille/followup/internal/store"
)

var (
	cfg      config.Config
	storeDSN string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "followup",
		Short:         "Reconcile conversations and schedule follow-ups",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return err
			}
			if storeDSN != "" {
				cfg.Store = storeDSN
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&storeDSN, "store", "", "store DSN (overrides FOLLOWUP_STORE)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(remindersCmd())
	rootCmd.AddCommand(notificationsCmd())
	rootCmd.AddCommand(logsCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(dismissCmd())
	rootCmd.AddCommand(dismissReminderCmd())
	rootCmd.AddCommand(remindCmd())
	rootCmd.AddCommand(readCmd())
	rootCmd.AddCommand(reanalyzeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app bundles what a command needs to talk to the engine.
type app struct {
	store   *store.Store
	engine  *engine.Engine
	logger  *slog.Logger
	metrics *metrics.Metrics
	closeFn func() error
}

// Close waits for detached analyses, then releases the store and log sink.
func (r *app) Close() {
	r.engine.Close()
	r.store.Close()
	if r.closeFn != nil {
		r.closeFn()
	}
}

// getApp opens the store and builds the engine. pub may be nil.
func getApp(pub engine.Publisher, m *metrics.Metrics) (*app, error) {
	log, closeFn, err := logger.New(cfg.LogLevel, cfg.LogSink)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(log)
	s, err := store.Open(cfg.Store)
	if err != nil {
		closeFn()
		return nil, err
	}

	an, err := buildAnalyzer(log, m)
	if err != nil {
		s.Close()
		closeFn()
		return nil, err
	}

	eng := engine.New(engine.Options{
		Store:                  s,
		Analyzer:               an,
		Owner:                  identity.OwnerFilter{ProfileID: cfg.OwnerID, Name: cfg.OwnerName},
		AnalysisThresholdHours: cfg.AnalysisThresholdHours,
		DefaultURL:             cfg.DefaultURL,
		Logger:                 log,
		Metrics:                m,
		Publisher:              pub,
	})
	return &app{store: s, engine: eng, logger: log, metrics: m, closeFn: closeFn}, nil
}

// buildAnalyzer returns nil when no API key is configured; the engine then
// ingests without analysing.
func buildAnalyzer(log *slog.Logger, m *metrics.Metrics) (analyzer.Analyzer, error) {
	if !cfg.AnalysisEnabled() {
		log.Warn("analysis_disabled", "provider", cfg.Provider, "reason", "no api key")
		return nil, nil
	}
	base, err := analyzer.New(analyzer.Config{
		Provider: cfg.Provider,
		APIKey:   cfg.APIKey,
		Model:    cfg.Model,
	})
	if err != nil {
		return nil, err
	}
	retrying := analyzer.WithRetry(base, log)
	retrying.OnRetry = func(int, error) { m.AnalyzerRetried() }
	return analyzer.WithLimit(retrying, cfg.AnalyzerRPS), nil
}

func truncate(s string, max int) string {
	// Replace newlines with spaces for display
	s = strings.ReplaceAll(s, "\n", " ")
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-3]) + "..."
}
