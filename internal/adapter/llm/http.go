// Package llm implements chat-completion providers for the specialists:
// OpenAI-compatible HTTP APIs, Ollama and AWS Bedrock, plus the circuit
// breaker and failover wrappers composed around them.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"clinicrew/internal/domain"
	"clinicrew/internal/infra/config"
	"clinicrew/internal/infra/tracer"
)

const (
	maxResponseBody = 10 << 20
	maxErrorBody    = 4 << 10

	defaultConnTimeout = 30 * time.Second
	defaultRespTimeout = 120 * time.Second

	defaultMaxIdleConns        = 20
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 20
	defaultIdleConnTimeout     = 120 * time.Second
)

// NewHTTPClient returns a pooled client with the provider's timeouts.
func NewHTTPClient(cfg config.ProviderConfig) *http.Client {
	conn := cmpDuration(cfg.ConnTimeout, defaultConnTimeout)
	resp := cmpDuration(cfg.RespTimeout, defaultRespTimeout)
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   conn,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: resp,
		MaxIdleConns:          cmpInt(cfg.Pool.MaxIdleConns, defaultMaxIdleConns),
		MaxIdleConnsPerHost:   cmpInt(cfg.Pool.MaxIdleConnsPerHost, defaultMaxIdleConnsPerHost),
		MaxConnsPerHost:       cmpInt(cfg.Pool.MaxConnsPerHost, defaultMaxConnsPerHost),
		IdleConnTimeout:       cmpDuration(cfg.Pool.IdleConnTimeout, defaultIdleConnTimeout),
		ForceAttemptHTTP2:     true,
	}
	// Streams run under the caller's context; no overall client timeout.
	return &http.Client{Transport: transport}
}

func cmpDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func cmpInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// postJSON sends body and returns the response body of a 200 reply.
func postJSON(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) ([]byte, error) {
	resp, err := send(ctx, client, url, body, headers, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return data, nil
}

// openStream sends body asking for an event stream. The caller closes the
// returned body.
func openStream(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) (io.ReadCloser, error) {
	resp, err := send(ctx, client, url, body, headers, true)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func send(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string, stream bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, mapHTTPError(resp.StatusCode, detail)
	}
	return resp, nil
}

// mapHTTPError turns a non-200 reply into an error wrapping the sentinel
// the retry policy and the breaker classify on.
func mapHTTPError(status int, body []byte) error {
	detail := fmt.Sprintf("API error %d: %s", status, bytes.TrimSpace(body))
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimit, detail)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, detail)
	case status == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %s", domain.ErrContextOverflow, detail)
	case status >= 500:
		return fmt.Errorf("%w: %s", domain.ErrToolFailure, detail)
	default:
		return fmt.Errorf("%w: %s", domain.ErrProviderError, detail)
	}
}

func bearer(apiKey string) map[string]string {
	if apiKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + apiKey}
}

func startChatSpan(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	return tracer.StartSpan(ctx, "llm.chat", trace.WithAttributes(
		tracer.StringAttr("llm.provider", provider),
		tracer.StringAttr("llm.model", model),
	))
}

func finishChatSpan(span trace.Span, logger *slog.Logger, provider string, resp *domain.ChatResponse) {
	span.SetAttributes(
		tracer.IntAttr("llm.prompt_tokens", resp.Usage.PromptTokens),
		tracer.IntAttr("llm.completion_tokens", resp.Usage.CompletionTokens),
		tracer.IntAttr("llm.tool_calls", len(resp.Message.ToolCalls)),
	)
	tracer.SetOK(span)
	logger.Debug("llm chat completed",
		"provider", provider,
		"model", resp.Model,
		"tokens", resp.Usage.TotalTokens,
		"tool_calls", len(resp.Message.ToolCalls),
	)
}
