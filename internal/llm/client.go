package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tuhinsharma121/template-agent/internal/httpkit"
)

// Client is the interface that all LLM providers must implement.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Provider names the backing provider (gemini, openai, anthropic).
	Provider() string
}

// Supported providers.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// GeminiBaseURL is Google's OpenAI-compatible Gemini endpoint.
const GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// ProviderConfig selects and authenticates a provider.
type ProviderConfig struct {
	Provider string
	APIKey   string
	BaseURL  string // empty means the provider's public endpoint

	// HTTPClient overrides the httpkit client. Tests use it.
	HTTPClient *http.Client
}

// NewClient builds the client for cfg.Provider.
func NewClient(cfg ProviderConfig, logger *slog.Logger) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("no API key configured for provider %q", cfg.Provider)
	}

	switch cfg.Provider {
	case ProviderGemini, "":
		if cfg.BaseURL == "" {
			cfg.BaseURL = GeminiBaseURL
		}
		return NewOpenAIClient(ProviderGemini, cfg, logger), nil
	case ProviderOpenAI:
		return NewOpenAIClient(ProviderOpenAI, cfg, logger), nil
	case ProviderAnthropic:
		return NewAnthropicClient(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

// providerHTTPClient returns cfg.HTTPClient or an httpkit client suited to
// model calls: no global timeout and a generous response header timeout,
// since long prompts can take a while before the first byte. Callers bound
// requests with ctx deadlines.
func providerHTTPClient(cfg ProviderConfig) *http.Client {
	if cfg.HTTPClient != nil {
		return cfg.HTTPClient
	}
	return httpkit.NewClient(
		httpkit.WithTimeout(0),
		httpkit.WithResponseHeaderTimeout(120*time.Second),
	)
}
