package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"

	"github.com/bryanwahyu/automaton-fix/internal/domain/ai"
	"github.com/bryanwahyu/automaton-fix/internal/infra/ai/prompt"
)

const (
	defaultModel     = "gpt-4o-mini"
	defaultMaxTokens = 4096
)

// Config holds connection settings for an OpenAI-compatible endpoint.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	Retry       RetryConfig
	HTTPClient  *http.Client
}

type Client struct {
	api         *openai.Client
	Model       string
	MaxTokens   int
	Temperature float32
	Retry       RetryConfig
}

func NewClient(cfg Config) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Client{
		api:         openai.NewClientWithConfig(oc),
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: cfg.Temperature,
		Retry:       cfg.Retry,
	}
}

// Propose asks the model for a fixed version of the file and returns the
// body of the first fenced code block in its answer.
func (c *Client) Propose(ctx context.Context, fr ai.FixRequest) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.Model,
		Temperature: c.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt.FixPrompt(fr)},
		},
	}
	// reasoning models (o1/o3/o4/gpt-5*) take MaxCompletionTokens instead of MaxTokens
	if isReasoningModel(c.Model) {
		req.MaxCompletionTokens = c.MaxTokens
		req.Temperature = 0
	} else {
		req.MaxTokens = c.MaxTokens
	}

	var content string
	calls, err := retry(ctx, c.Retry, func(ctx context.Context, call int) error {
		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err != nil {
			cerr := classify(err)
			if isRetryable(cerr) {
				log.Warn().Err(err).Str("finding", fr.FindingID).Int("call", call).Msg("chat completion failed, retrying")
			}
			return cerr
		}
		if len(resp.Choices) == 0 {
			return retryable{fmt.Errorf("%w: empty choices", ai.ErrTransient)}
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		if isRetryable(err) {
			return "", fmt.Errorf("after %d calls: %w", calls, errors.Unwrap(err))
		}
		return "", err
	}

	code, err := prompt.ExtractCode(content)
	if err != nil {
		return "", err
	}
	return code, nil
}

func isReasoningModel(model string) bool {
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

// classify maps provider errors onto the ai error set. Retryable results are
// wrapped in retryable.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	status := 0
	code := ""
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
		code = apiErr.Type
		if s, ok := apiErr.Code.(string); ok && s != "" {
			code = s
		}
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case code == "insufficient_quota":
		return fmt.Errorf("%w: %v", ai.ErrQuotaExceeded, err)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %v", ai.ErrAuth, err)
	case status == http.StatusTooManyRequests || status >= 500 || status == http.StatusRequestTimeout:
		return retryable{fmt.Errorf("%w: %v", ai.ErrTransient, err)}
	case status == 0:
		// connection refused, reset, DNS or TLS failures
		return retryable{fmt.Errorf("%w: %v", ai.ErrTransient, err)}
	default:
		return fmt.Errorf("chat completion rejected: %w", err)
	}
}
