// Package executor runs player code in the external sandbox.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gokatarajesh/codeduel/internal/game"
)

// Config holds connection details for the sandbox.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Client implements game.Executor.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
	runURL     string
}

var _ game.Executor = (*Client)(nil)

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		config:     cfg,
		logger:     logger.With().Str("component", "executor").Logger(),
		runURL:     strings.TrimSuffix(cfg.URL, "/") + "/run",
	}
}

// Run executes code once per argument list. Any transport or protocol failure
// is wrapped in game.ErrExecutionFailure.
func (c *Client) Run(ctx context.Context, code string, argsList []json.RawMessage) ([]game.ExecutionResult, error) {
	if c.config.URL == "" {
		return nil, fmt.Errorf("executor endpoint not configured: %w", game.ErrExecutionFailure)
	}

	body, err := json.Marshal(runRequest{Code: code, ArgsList: argsList})
	if err != nil {
		return nil, fmt.Errorf("marshal run request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.runURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", game.ErrExecutionFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: executor returned status %d: %s", game.ErrExecutionFailure, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out runResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode executor payload: %v", game.ErrExecutionFailure, err)
	}

	c.logger.Debug().
		Int("cases", len(argsList)).
		Int("results", len(out.Results)).
		Dur("took", time.Since(start)).
		Msg("execution finished")
	return out.Results, nil
}

type runRequest struct {
	Code     string            `json:"code"`
	ArgsList []json.RawMessage `json:"args_list"`
}

type runResponse struct {
	Results []game.ExecutionResult `json:"results"`
}
