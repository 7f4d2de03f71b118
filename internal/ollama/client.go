// Package ollama talks to a local Ollama server's /api/generate endpoint.
package ollama

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

	"go.uber.org/zap"
)

var (
	ErrModelNotFound     = errors.New("ollama model not found")
	ErrMalformedResponse = errors.New("malformed ollama response")
)

const pingPrompt = "Return a JSON object with a single key 'message' saying hello."

const improvePrompt = `You are an expert script editor. Your task is to clean up a raw transcript.
Rules:
1. Remove filler words like "uh", "um", "you know", "like", "actually".
2. Fix minor grammatical errors.
3. Improve clarity and flow while preserving the original meaning.
4. DO NOT add any new information.
5. DO NOT change the technical terms or names.
6. The input is a numbered list of segments. Return the improved text as a JSON object with a single key 'improvements' which is an array of strings in the EXACT same order as the input.

Input Segments:
%s

Return JSON format:
{ "improvements": ["improved text 0", "improved text 1", ...] }`

const rewritePrompt = `You are an expert script editor for high-quality video content.
Your task is to take the provided raw transcript and rewrite it into a professional, polished script.

Follow these strict rules:
1. REMOVE all filler words (e.g., "uh", "um", "you know", "like", "actually", "I mean").
2. FIX all grammatical errors and improve punctuation.
3. IMPROVE the flow and clarity of the sentences.
4. DO NOT change the technical terms, proper names, or core facts.
5. PRESERVE the original meaning and tone of the speaker.
6. The output should be the polished script ONLY. Do not include any intros or outros like "Here is your rewritten script:".

RAW TRANSCRIPT:
%s`

// Config configures a Client.
type Config struct {
	BaseURL    string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client is an Ollama generate client.
type Client struct {
	baseURL string
	model   string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a client. A nil HTTPClient gets one bounded by Timeout.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		http:    hc,
		logger:  logger,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type generateResponse struct {
	Response json.RawMessage `json:"response"`
}

func (c *Client) generate(ctx context.Context, prompt, format string) (json.RawMessage, error) {
	body, err := json.Marshal(generateRequest{Model: c.model, Prompt: prompt, Stream: false, Format: format})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %q (run 'ollama pull %s')", ErrModelNotFound, c.model, c.model)
	}
	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("ollama returned %d: %s", resp.StatusCode, strings.TrimSpace(string(text)))
	}
	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(out.Response) == 0 {
		return nil, fmt.Errorf("%w: missing response field", ErrMalformedResponse)
	}
	return out.Response, nil
}

// decodeJSONResponse accepts the model output either as a JSON-encoded string
// or as an already structured value, and decodes it into v.
func decodeJSONResponse(raw json.RawMessage, v any) error {
	payload := []byte(raw)
	var s string
	if json.Unmarshal(raw, &s) == nil {
		payload = []byte(stripFences(s))
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// ImproveSegments asks for one cleaned-up string per input, in input order.
// The returned slice may be shorter than texts or contain empty strings; callers fall back per segment.
func (c *Client) ImproveSegments(ctx context.Context, texts []string) ([]string, error) {
	lines := make([]string, len(texts))
	for i, t := range texts {
		lines[i] = fmt.Sprintf("[%d] %s", i, t)
	}
	raw, err := c.generate(ctx, fmt.Sprintf(improvePrompt, strings.Join(lines, "\n")), "json")
	if err != nil {
		return nil, err
	}
	var out struct {
		Improvements []string `json:"improvements"`
	}
	if err := decodeJSONResponse(raw, &out); err != nil {
		return nil, err
	}
	if out.Improvements == nil {
		return nil, fmt.Errorf("%w: no improvements array", ErrMalformedResponse)
	}
	return out.Improvements, nil
}

// Rewrite returns a polished free-form script for text.
func (c *Client) Rewrite(ctx context.Context, text string) (string, error) {
	raw, err := c.generate(ctx, fmt.Sprintf(rewritePrompt, text), "")
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return strings.TrimSpace(s), nil
}

// Ping sends the connectivity prompt and returns the model's message.
func (c *Client) Ping(ctx context.Context) (string, error) {
	start := time.Now()
	raw, err := c.generate(ctx, pingPrompt, "json")
	if err != nil {
		return "", err
	}
	var out struct {
		Message string `json:"message"`
	}
	if err := decodeJSONResponse(raw, &out); err != nil || out.Message == "" {
		c.logger.Warn("ollama ping returned no message", zap.ByteString("raw", raw))
		return "No message found in output", nil
	}
	c.logger.Debug("ollama reachable", zap.String("model", c.model), zap.Duration("duration", time.Since(start)))
	return out.Message, nil
}
