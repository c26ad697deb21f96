// Package config loads settings from .env, an optional YAML file, and the
// environment, in that order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/adhocore/gronx"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pbaille/followup/internal/analyzer"
)

// Config holds every runtime setting.
type Config struct {
	Addr                   string   `yaml:"addr"`
	Store                  string   `yaml:"store"`
	Provider               string   `yaml:"provider"`
	APIKey                 string   `yaml:"api_key"`
	Model                  string   `yaml:"model"`
	AnalysisThresholdHours float64  `yaml:"analysis_threshold_hours"`
	RescanCron             string   `yaml:"rescan_cron"`
	OwnerID                string   `yaml:"owner_id"`
	OwnerName              string   `yaml:"owner_name"`
	SpoolDir               string   `yaml:"spool_dir"`
	AnalyzerRPS            float64  `yaml:"analyzer_rps"`
	CORSOrigins            []string `yaml:"cors_origins"`
	LogLevel               string   `yaml:"log_level"`
	LogSink                string   `yaml:"log_sink"`
	DefaultURL             string   `yaml:"default_url"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Addr:                   "127.0.0.1:8080",
		Store:                  "sqlite://~/.followup/followup.db",
		Provider:               "anthropic",
		AnalysisThresholdHours: 24,
		RescanCron:             "0 */4 * * *",
		AnalyzerRPS:            1,
		LogLevel:               "info",
		LogSink:                "stdout",
		DefaultURL:             "https://www.linkedin.com/messaging/",
	}
}

// providerKeyEnv names the provider-specific key consulted when
// FOLLOWUP_API_KEY is unset.
var providerKeyEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"gemini":    "GEMINI_API_KEY",
}

// Load reads .env (if present), the YAML file named by FOLLOWUP_CONFIG
// (if set), then FOLLOWUP_* variables, and validates the result.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := getenv("FOLLOWUP_CONFIG", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Addr = getenv("FOLLOWUP_ADDR", c.Addr)
	c.Store = getenv("FOLLOWUP_STORE", c.Store)
	c.Provider = strings.ToLower(getenv("FOLLOWUP_PROVIDER", c.Provider))
	c.APIKey = getenv("FOLLOWUP_API_KEY", c.APIKey)
	c.Model = getenv("FOLLOWUP_MODEL", c.Model)
	c.RescanCron = getenv("FOLLOWUP_RESCAN_CRON", c.RescanCron)
	c.OwnerID = getenv("FOLLOWUP_OWNER_ID", c.OwnerID)
	c.OwnerName = getenv("FOLLOWUP_OWNER_NAME", c.OwnerName)
	c.SpoolDir = getenv("FOLLOWUP_SPOOL_DIR", c.SpoolDir)
	c.LogLevel = getenv("FOLLOWUP_LOG_LEVEL", c.LogLevel)
	c.LogSink = getenv("FOLLOWUP_LOG_SINK", c.LogSink)
	c.DefaultURL = getenv("FOLLOWUP_DEFAULT_URL", c.DefaultURL)

	if v := getenv("FOLLOWUP_ANALYSIS_THRESHOLD_HOURS", ""); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("FOLLOWUP_ANALYSIS_THRESHOLD_HOURS: %w", err)
		}
		c.AnalysisThresholdHours = f
	}
	if v := getenv("FOLLOWUP_ANALYZER_RPS", ""); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("FOLLOWUP_ANALYZER_RPS: %w", err)
		}
		c.AnalyzerRPS = f
	}
	if v := getenv("FOLLOWUP_CORS_ORIGINS", ""); v != "" {
		c.CORSOrigins = splitList(v)
	}

	if c.APIKey == "" {
		if env, ok := providerKeyEnv[c.Provider]; ok {
			c.APIKey = getenv(env, "")
		}
	}
	return nil
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	if c.AnalysisThresholdHours < 0 {
		return fmt.Errorf("analysis threshold must not be negative, got %v", c.AnalysisThresholdHours)
	}
	if c.AnalyzerRPS < 0 {
		return fmt.Errorf("analyzer rps must not be negative, got %v", c.AnalyzerRPS)
	}
	if c.RescanCron != "" && !gronx.New().IsValid(c.RescanCron) {
		return fmt.Errorf("invalid rescan cron %q", c.RescanCron)
	}
	if c.Provider != "" && !knownProvider(c.Provider) {
		return fmt.Errorf("%w: %s (have %s)", analyzer.ErrUnknownProvider, c.Provider, strings.Join(analyzer.Providers(), ", "))
	}
	return nil
}

// AnalysisEnabled reports whether an analyzer can be built.
func (c Config) AnalysisEnabled() bool {
	return c.Provider != "" && c.APIKey != ""
}

func knownProvider(name string) bool {
	for _, p := range analyzer.Providers() {
		if p == name {
			return true
		}
	}
	return false
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
