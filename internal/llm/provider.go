// Package llm wraps the chat-completion backend used by AI-assisted extraction.
package llm

import (
	"context"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/JakeFAU/productscraper/internal/product"
)

// Client is the minimal interface needed to call a chat model. Any
// OpenAI-compatible backend can be adapted to it.
type Client interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config describes how to reach the generation backend.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// OpenAIProvider adapts *openai.Client to Client.
type OpenAIProvider struct {
	Inner *openai.Client
}

// NewOpenAI builds a provider. A missing API key is a configuration fault so
// the process refuses to start rather than failing on every request.
func NewOpenAI(cfg Config) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, product.NewError(product.KindConfigurationFault, "llm api key is not set", nil)
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout > 0 {
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &OpenAIProvider{Inner: openai.NewClientWithConfig(oc)}, nil
}

// CreateChatCompletion implements Client.
func (p *OpenAIProvider) CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return p.Inner.CreateChatCompletion(ctx, request)
}
