package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIProvider calls any OpenAI-compatible chat-completions endpoint.
// Transport failures are retried with backoff; the per-call timeout is owned
// by the caller's context so the step orchestrator controls the bound.
type OpenAIProvider struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxRetries  int
	httpClient  *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func NewOpenAIProvider(baseURL, apiKey, model string, temperature float64, maxRetries int) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if maxRetries > 4 {
		maxRetries = 4
	}
	return &OpenAIProvider{
		baseURL:     strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:      strings.TrimSpace(apiKey),
		model:       model,
		temperature: temperature,
		maxRetries:  maxRetries,
		httpClient:  &http.Client{},
	}
}

// IsConfigured reports whether the provider has enough configuration to make
// real calls.
func (p *OpenAIProvider) IsConfigured() bool {
	return p.apiKey != "" && p.model != ""
}

// Generate sends the prompt as a single user message and returns the raw
// completion text.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string) (string, error) {
	if !p.IsConfigured() {
		return "", errors.New("reasoning backend is not configured")
	}

	payload := map[string]interface{}{
		"model":       p.model,
		"messages":    []chatMessage{{Role: "user", Content: prompt}},
		"temperature": p.temperature,
	}
	rawBody, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	url := p.baseURL + "/chat/completions"
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(rawBody))
		if err != nil {
			return "", err
		}
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, reqErr := p.httpClient.Do(req)
		if reqErr != nil {
			if p.shouldRetry(attempt, 0, reqErr) {
				if err := waitBackoff(ctx, attempt); err != nil {
					return "", err
				}
				continue
			}
			return "", fmt.Errorf("chat request failed: %w", reqErr)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
			_ = resp.Body.Close()
			if p.shouldRetry(attempt, resp.StatusCode, nil) {
				if err := waitBackoff(ctx, attempt); err != nil {
					return "", err
				}
				continue
			}
			return "", fmt.Errorf("chat request HTTP %d: %s", resp.StatusCode, string(body))
		}

		text, parseErr := parseCompletion(resp.Body)
		_ = resp.Body.Close()
		if parseErr != nil {
			return "", parseErr
		}
		return text, nil
	}
}

func parseCompletion(body io.Reader) (string, error) {
	raw, err := io.ReadAll(io.LimitReader(body, 8*1024*1024))
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}
	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("empty chat choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) shouldRetry(attempt, statusCode int, reqErr error) bool {
	if attempt >= p.maxRetries {
		return false
	}
	if reqErr != nil {
		// Never retry past the step's deadline.
		if errors.Is(reqErr, context.DeadlineExceeded) || errors.Is(reqErr, context.Canceled) {
			return false
		}
		// Anything else at the transport level is worth retrying.
		return true
	}
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return statusCode >= 500
	}
}

func waitBackoff(ctx context.Context, attempt int) error {
	delay := time.Duration(attempt+1) * 500 * time.Millisecond
	if delay > 5*time.Second {
		delay = 5 * time.Second
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ Provider = (*OpenAIProvider)(nil)
