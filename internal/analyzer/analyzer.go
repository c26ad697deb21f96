// Package analyzer asks an LLM provider whether a conversation deserves a
// follow-up and validates the structured answer.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/pbaille/followup/internal/domain"
)

var (
	// ErrTransient marks failures worth retrying: rate limits and overload.
	ErrTransient = errors.New("transient analyzer failure")
	// ErrInvalidResponse marks a provider answer that fails the result schema.
	ErrInvalidResponse = errors.New("invalid analyzer response")
	// ErrUnknownProvider is returned by New for unregistered provider names.
	ErrUnknownProvider = errors.New("unknown analyzer provider")
)

// Analyzer turns conversation context into a follow-up decision.
type Analyzer interface {
	Analyze(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisResult, error)
}

// Func adapts a function to Analyzer.
type Func func(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisResult, error)

func (f Func) Analyze(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisResult, error) {
	return f(ctx, req)
}

// Config selects and configures a provider.
type Config struct {
	Provider   string
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

func (c Config) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Factory builds an Analyzer from its configuration.
type Factory func(cfg Config) (Analyzer, error)

var providers = struct {
	mu        sync.RWMutex
	factories map[string]Factory
}{
	factories: map[string]Factory{},
}

// Register makes a provider available to New under name.
func Register(name string, factory Factory) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || factory == nil {
		return
	}
	providers.mu.Lock()
	defer providers.mu.Unlock()
	providers.factories[name] = factory
}

// Providers lists the registered provider names.
func Providers() []string {
	providers.mu.RLock()
	defer providers.mu.RUnlock()
	names := make([]string, 0, len(providers.factories))
	for name := range providers.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates the Analyzer registered for cfg.Provider.
func New(cfg Config) (Analyzer, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	providers.mu.RLock()
	factory, ok := providers.factories[name]
	providers.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: api key not set", name)
	}
	return factory(cfg)
}

func init() {
	Register("anthropic", func(cfg Config) (Analyzer, error) { return NewAnthropic(cfg), nil })
	Register("openai", func(cfg Config) (Analyzer, error) { return NewOpenAI(cfg), nil })
	Register("gemini", func(cfg Config) (Analyzer, error) { return NewGemini(cfg), nil })
}

// StatusError is a non-200 provider response.
type StatusError struct {
	Provider string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.Status, e.Body)
}

// Unwrap classifies rate-limit and server-side statuses (429, 5xx and
// Anthropic's 529) as ErrTransient.
func (e *StatusError) Unwrap() error {
	if e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError {
		return ErrTransient
	}
	return nil
}
