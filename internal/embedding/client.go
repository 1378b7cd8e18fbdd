// Package embedding implements the opaque embedding-service sink
// contract: text in, vectors out. Generation itself is out of scope
// per spec.md §1; this is the thin HTTP client that calls it.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"cortexmem/internal/config"
)

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// EmbedText calls the configured embedding endpoint and returns one
// embedding per input string. Caller should provide cfg loaded from
// config.Load().
func EmbedText(ctx context.Context, cfg config.EmbeddingConfig, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no inputs")
	}
	reqBody, err := json.Marshal(embedReq{Model: cfg.Model, Input: inputs})
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, cfg.BaseURL+cfg.Path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if cfg.APIHeader == "Authorization" && cfg.Headers["Authorization"] == "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	} else if cfg.APIHeader != "" && cfg.Headers[cfg.APIHeader] == "" {
		req.Header.Set(cfg.APIHeader, cfg.APIKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("embedding endpoint error: %s: %s", resp.Status, string(body))
	}

	var er embedResp
	if err := json.Unmarshal(body, &er); err != nil {
		return nil, fmt.Errorf("parse embedding response (input count: %d): %w", len(inputs), err)
	}
	if len(er.Data) != len(inputs) {
		return nil, fmt.Errorf("unexpected embedding count: got %d, want %d", len(er.Data), len(inputs))
	}

	out := make([][]float32, len(er.Data))
	for i := range er.Data {
		out[i] = er.Data[i].Embedding
	}
	return out, nil
}

// CheckReachability sends a minimal "ping" embed call.
func CheckReachability(ctx context.Context, cfg config.EmbeddingConfig) error {
	if _, err := EmbedText(ctx, cfg, []string{"ping"}); err != nil {
		return fmt.Errorf("embedding endpoint reachability check failed: %w", err)
	}
	return nil
}

// Client binds EmbedText to a fixed config so callers can depend on an
// interface (see sync engine's Embedder) instead of a config+function pair.
type Client struct {
	cfg config.EmbeddingConfig
}

func NewClient(cfg config.EmbeddingConfig) *Client {
	return &Client{cfg: cfg}
}

func (c *Client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	return EmbedText(ctx, c.cfg, inputs)
}
