package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nebulus/gantry/internal/platform/ctxutil"
	"github.com/nebulus/gantry/internal/platform/logger"
)

// ErrUnavailable marks connection-level failures against the inference
// endpoint (refused, DNS, timeout). Callers match it with errors.Is.
var ErrUnavailable = errors.New("inference endpoint unavailable")

// Message is one chat-completion turn on the wire.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is the OpenAI-compatible inference client used by the rest of the
// backend. The backing endpoint can be OpenAI itself or any compatible
// server (Ollama, TabbyAPI, vLLM).
type Client interface {
	// Embed returns one vector per input, in order.
	Embed(ctx context.Context, inputs []string) ([][]float32, error)

	// Complete runs a non-streaming chat completion and returns the text.
	Complete(ctx context.Context, messages []Message) (string, error)

	// StreamChat streams a chat completion, invoking onDelta for every
	// content delta in arrival order. Returns the concatenated full text.
	StreamChat(ctx context.Context, messages []Message, onDelta func(delta string)) (string, error)

	// GenerateJSON runs a completion constrained to a JSON object response
	// and unmarshals it. Used for entity extraction.
	GenerateJSON(ctx context.Context, system string, user string) (map[string]any, error)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	embedModel string
	httpClient *http.Client
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("openai: logger required")
	}

	baseURL := strings.TrimSpace(os.Getenv("LLM_BASE_URL"))
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(os.Getenv("LLM_MODEL"))
	if model == "" {
		model = "llama3.1:latest"
	}
	embedModel := strings.TrimSpace(os.Getenv("LLM_EMBED_MODEL"))
	if embedModel == "" {
		embedModel = "nomic-embed-text"
	}

	timeoutSec := 120
	if v := strings.TrimSpace(os.Getenv("LLM_TIMEOUT_SECONDS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	return &client{
		log:        log.With("client", "LLM"),
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(os.Getenv("LLM_API_KEY")),
		model:      model,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
	}, nil
}

type chatRequest struct {
	Model          string       `json:"model"`
	Messages       []Message    `json:"messages"`
	Stream         bool         `json:"stream"`
	Temperature    *float64     `json:"temperature,omitempty"`
	ResponseFormat *respFormat  `json:"response_format,omitempty"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	var out embedResponse
	if err := c.post(ctx, "/v1/embeddings", embedRequest{Model: c.embedModel, Input: inputs}, &out); err != nil {
		return nil, err
	}
	if len(out.Data) != len(inputs) {
		return nil, fmt.Errorf("embeddings: expected %d vectors, got %d", len(inputs), len(out.Data))
	}
	vectors := make([][]float32, len(inputs))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embeddings: index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func (c *client) Complete(ctx context.Context, messages []Message) (string, error) {
	var out chatResponse
	if err := c.post(ctx, "/v1/chat/completions", chatRequest{Model: c.model, Messages: messages}, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty choices")
	}
	return out.Choices[0].Message.Content, nil
}

func (c *client) GenerateJSON(ctx context.Context, system string, user string) (map[string]any, error) {
	temp := 0.0
	req := chatRequest{
		Model: c.model,
		Messages: []Message{
			{Role: "system", Content: strings.TrimSpace(system)},
			{Role: "user", Content: user},
		},
		Temperature:    &temp,
		ResponseFormat: &respFormat{Type: "json_object"},
	}
	var out chatResponse
	if err := c.post(ctx, "/v1/chat/completions", req, &out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("json completion: empty choices")
	}
	raw := strings.TrimSpace(out.Choices[0].Message.Content)
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, fmt.Errorf("json completion: malformed output: %w", err)
	}
	return obj, nil
}

func (c *client) StreamChat(ctx context.Context, messages []Message, onDelta func(delta string)) (string, error) {
	body, err := json.Marshal(chatRequest{Model: c.model, Messages: messages, Stream: true})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", c.classify(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("chat stream: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var full strings.Builder
	err = streamSSE(resp.Body, func(_ string, data string) error {
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			return nil
		}
		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// A malformed frame mid-stream is an inference failure, not noise.
			return fmt.Errorf("chat stream: malformed chunk: %w", err)
		}
		if len(chunk.Choices) == 0 {
			return nil
		}
		if d := chunk.Choices[0].Delta.Content; d != "" {
			full.WriteString(d)
			if onDelta != nil {
				onDelta(d)
			}
		}
		return nil
	})
	if err != nil {
		return full.String(), c.classify(err)
	}
	return full.String(), nil
}

func (c *client) post(ctx context.Context, path string, in any, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.classify(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// classify maps transport-level failures onto ErrUnavailable so callers can
// distinguish "endpoint down" from "endpoint answered badly".
func (c *client) classify(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
