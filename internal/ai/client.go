package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wardenhq/contract-warden/internal/config"
	"github.com/wardenhq/contract-warden/internal/logger"
)

// ErrUpstream indicates the analysis provider failed after all
// retries; surfaced to HTTP callers as 502.
var ErrUpstream = errors.New("ai: upstream analysis failed")

const (
	retryBaseDelay = 4 * time.Second
	retryMaxDelay  = 10 * time.Second
)

// Client calls an OpenAI-compatible chat-completions endpoint to
// analyze tokenized contract text. Request starts are gated by a
// client-side rate limiter; transient failures are retried with
// exponential backoff.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	temp       float64
	maxTokens  int
	maxRetries int
	retryDelay time.Duration

	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logger.Logger
}

// New creates an analysis client from config.
func New(cfg config.AIConfig, log *logger.Logger) *Client {
	var limiter *rate.Limiter
	if cfg.RateLimit.Enabled && cfg.RateLimit.RequestsPerMin > 0 {
		burst := cfg.RateLimit.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RateLimit.RequestsPerMin)/60.0), burst)
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		temp:       cfg.Temperature,
		maxTokens:  cfg.MaxTokens,
		maxRetries: cfg.MaxRetries,
		retryDelay: retryBaseDelay,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		logger:     log,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// AnalyzeContract sends the tokenized text for structured analysis and
// returns the model's JSON document. A completion that is not valid
// JSON is wrapped as {"raw_response": ...} rather than failing.
func (c *Client) AnalyzeContract(ctx context.Context, tokenizedText string) (json.RawMessage, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: analysisPrompt(tokenizedText)},
		},
		Temperature: c.temp,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		content, retryable, err := c.complete(ctx, body)
		if err == nil {
			return wrapContent(content), nil
		}
		lastErr = err
		c.logger.Warn("Analysis request failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.maxRetries),
			zap.Bool("retryable", retryable),
			zap.Error(err),
		)
		if !retryable || attempt == c.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.backoff(attempt)):
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrUpstream, lastErr)
}

// complete performs one chat-completions round trip. The second return
// reports whether the failure is worth retrying (429, 5xx, transport).
func (c *Client) complete(ctx context.Context, body []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", true, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", true, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return "", retryable, fmt.Errorf("provider returned %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", false, fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", false, fmt.Errorf("provider error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", false, fmt.Errorf("provider returned no choices")
	}
	return parsed.Choices[0].Message.Content, false, nil
}

// wrapContent returns the completion as a JSON document, wrapping
// non-JSON completions so callers always get a parseable result.
func wrapContent(content string) json.RawMessage {
	if json.Valid([]byte(content)) {
		return json.RawMessage(content)
	}
	wrapped, _ := json.Marshal(map[string]string{"raw_response": content})
	return wrapped
}

// backoff grows the delay exponentially, capped at retryMaxDelay.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.retryDelay << (attempt - 1)
	if d > retryMaxDelay {
		return retryMaxDelay
	}
	return d
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
