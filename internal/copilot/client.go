// Package copilot talks to the AI code-generation service.
package copilot

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gokatarajesh/codeduel/internal/game"
)

// Config holds connection details for the generation service.
type Config struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client implements game.Generator.
type Client struct {
	httpClient  *http.Client
	config      Config
	logger      zerolog.Logger
	generateURL string
}

var _ game.Generator = (*Client)(nil)

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	base := strings.TrimSuffix(cfg.URL, "/")

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		config:      cfg,
		logger:      logger.With().Str("component", "copilot").Logger(),
		generateURL: base + "/generate",
	}
}

var errNotConfigured = errors.New("copilot endpoint not configured")

// ErrStreamTruncated reports a stream that closed before its done or error line.
var ErrStreamTruncated = errors.New("copilot stream ended without done marker")

// Generate sends the player's code and instruction and returns the full
// completion. Streamed responses report the accumulated text to onPartial.
func (c *Client) Generate(ctx context.Context, req game.GenerationRequest, onPartial func(text string)) (string, error) {
	if c.config.URL == "" {
		return "", errNotConfigured
	}

	model := req.Model
	if model == "" {
		model = c.config.Model
	}
	body, err := json.Marshal(generateRequest{
		Code:        req.Code,
		Instruction: req.Instruction,
		Model:       model,
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.generateURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson, application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("copilot request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("copilot returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "ndjson") {
		return c.readStream(resp.Body, onPartial)
	}

	var out chunk
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode copilot payload: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("copilot: %s", out.Error)
	}
	return out.Text, nil
}

func (c *Client) readStream(r io.Reader, onPartial func(text string)) (string, error) {
	var text strings.Builder
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ch chunk
		if err := json.Unmarshal(line, &ch); err != nil {
			return text.String(), fmt.Errorf("decode copilot chunk: %w", err)
		}
		if ch.Error != "" {
			return text.String(), fmt.Errorf("copilot: %s", ch.Error)
		}
		if ch.Delta != "" {
			text.WriteString(ch.Delta)
			if onPartial != nil {
				onPartial(text.String())
			}
		}
		if ch.Done {
			return text.String(), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return text.String(), fmt.Errorf("read copilot stream: %w", err)
	}
	c.logger.Warn().Int("chars", text.Len()).Msg("stream ended without done marker")
	return text.String(), ErrStreamTruncated
}

type generateRequest struct {
	Code        string `json:"code"`
	Instruction string `json:"instruction"`
	Model       string `json:"model,omitempty"`
}

type chunk struct {
	Delta string `json:"delta,omitempty"`
	Text  string `json:"text,omitempty"`
	Done  bool   `json:"done,omitempty"`
	Error string `json:"error,omitempty"`
}
