package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const maxTextSize = 512 * 1024 // 512KB per question

// Embed calls the upstream embeddings endpoint and returns the vector
// for the given text.
func (c *OpenAIClient) Embed(parentCtx context.Context, text string) ([]float64, error) {
	start := time.Now()

	if text == "" {
		return nil, fmt.Errorf("%w: empty text", ErrFailed)
	}
	if len(text) > maxTextSize {
		return nil, fmt.Errorf("%w: text too large (%d bytes, max %d)", ErrFailed, len(text), maxTextSize)
	}

	body, err := json.Marshal(embeddingRequest{
		Model: c.cfg.EmbeddingModel,
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrFailed, err)
	}

	resp, err := c.post(parentCtx, "/v1/embeddings", body)
	if err != nil {
		c.logger.Error("embedding request failed",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}

	var eResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&eResp); err != nil {
		return nil, fmt.Errorf("%w: decode embedding response: %v", ErrFailed, err)
	}

	if len(eResp.Data) == 0 || len(eResp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: provider returned empty embedding", ErrFailed)
	}

	c.logger.Info("embedding computed",
		zap.String("model", c.cfg.EmbeddingModel),
		zap.Int("dimension", len(eResp.Data[0].Embedding)),
		zap.Duration("duration", time.Since(start)),
	)

	return eResp.Data[0].Embedding, nil
}

// Complete asks the upstream chat model to answer the question and
// returns the answer text.
func (c *OpenAIClient) Complete(parentCtx context.Context, text string) (string, error) {
	start := time.Now()

	if text == "" {
		return "", fmt.Errorf("%w: empty text", ErrFailed)
	}
	if len(text) > maxTextSize {
		return "", fmt.Errorf("%w: text too large (%d bytes, max %d)", ErrFailed, len(text), maxTextSize)
	}

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.CompletionModel,
		Messages: []chatMessage{
			{Role: "system", Content: c.cfg.SystemPrompt},
			{Role: "user", Content: text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %v", ErrFailed, err)
	}

	resp, err := c.post(parentCtx, "/v1/chat/completions", body)
	if err != nil {
		c.logger.Error("completion request failed",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return "", err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return "", err
	}

	var cResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cResp); err != nil {
		return "", fmt.Errorf("%w: decode completion response: %v", ErrFailed, err)
	}

	if len(cResp.Choices) == 0 {
		return "", fmt.Errorf("%w: provider returned no choices", ErrFailed)
	}

	c.logger.Info("completion generated",
		zap.String("model", c.cfg.CompletionModel),
		zap.Duration("duration", time.Since(start)),
	)

	return cResp.Choices[0].Message.Content, nil
}

// post issues a retried POST to the given API path with a per-request
// upstream timeout layered on the caller's context.
func (c *OpenAIClient) post(parentCtx context.Context, path string, body []byte) (*http.Response, error) {
	var ctx context.Context
	var cancel context.CancelFunc
	if c.cfg.UpstreamTimeout > 0 {
		ctx, cancel = context.WithTimeout(parentCtx, c.cfg.UpstreamTimeout)
	} else {
		ctx, cancel = context.WithCancel(parentCtx)
	}
	defer cancel()

	url := c.cfg.BaseURL + path

	// doOnce builds a fresh *http.Request for each attempt
	doOnce := func(ctx context.Context, body []byte) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build HTTP request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		httpReq.Header.Set("Content-Type", "application/json")
		return c.httpClient.Do(httpReq)
	}

	return c.doWithRetry(ctx, body, doOnce)
}

// checkStatus maps a non-2xx response to a classified error: 429 is
// ErrRateLimited, everything else ErrFailed.
func (c *OpenAIClient) checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)

	kind := ErrFailed
	if resp.StatusCode == http.StatusTooManyRequests {
		kind = ErrRateLimited
	}

	// Try to parse structured error
	var uerr upstreamErrorResponse
	if err := json.Unmarshal(body, &uerr); err == nil && uerr.Error.Message != "" {
		c.logger.Error("provider error",
			zap.Int("status", resp.StatusCode),
			zap.String("error_type", uerr.Error.Type),
			zap.String("error_message", uerr.Error.Message),
		)
		return fmt.Errorf("%w: upstream %d: %s (%s)",
			kind, resp.StatusCode, uerr.Error.Message, uerr.Error.Type)
	}

	// Fallback to raw body
	c.logger.Error("provider upstream error",
		zap.Int("status", resp.StatusCode),
		zap.String("body", truncate(string(body), 200)),
	)
	return fmt.Errorf("%w: upstream %d: %s",
		kind, resp.StatusCode, truncate(string(body), 200))
}

// truncate limits string length for logging
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
