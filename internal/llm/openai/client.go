// Package openai talks to any OpenAI-compatible endpoint (OpenAI, LM Studio,
// vLLM). It is the alternative to Bedrock for local development.
package openai

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
	"sync"
	"time"

	"hanjang/internal/llm"
)

type Options struct {
	BaseURL     string
	APIKey      string
	ChatModel   string
	EmbedModel  string
	MinInterval time.Duration
	Timeout     time.Duration
}

type Client struct {
	baseURL    string
	apiKey     string
	chatModel  string
	embedModel string
	http       *http.Client

	mu      sync.Mutex
	minGap  time.Duration
	lastReq time.Time
}

func New(o Options) *Client {
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(o.BaseURL, "/"),
		apiKey:     o.APIKey,
		chatModel:  o.ChatModel,
		embedModel: o.EmbedModel,
		http:       &http.Client{Timeout: timeout},
		minGap:     o.MinInterval,
	}
}

type chatStream struct {
	body io.ReadCloser
	r    *bufio.Reader
}

func (s *chatStream) Recv() (string, bool, error) {
	line, err := s.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", true, nil
		}
		return "", true, err
	}
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "data:") {
		return "", false, nil
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == "[DONE]" {
		return "", true, nil
	}
	var evt struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		return "", false, nil
	}
	if len(evt.Choices) > 0 {
		return evt.Choices[0].Delta.Content, false, nil
	}
	return "", false, nil
}

func (s *chatStream) Close() error { return s.body.Close() }

// Chat implements llm.ChatProvider using the OpenAI-compatible API.
func (c *Client) Chat(ctx context.Context, model string, messages []llm.Message, stream bool, temperature float32) (llm.ChatStream, error) {
	if model == "" {
		model = c.chatModel
	}
	reqBody := map[string]any{
		"model":       model,
		"messages":    messages,
		"temperature": temperature,
		"stream":      stream,
	}
	if n := llm.MaxTokens(ctx, 0); n > 0 {
		reqBody["max_tokens"] = n
	}
	resp, err := c.post(ctx, "/chat/completions", reqBody)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("chat http %d: %s", resp.StatusCode, string(data))
	}
	if stream {
		return &chatStream{body: resp.Body, r: bufio.NewReader(resp.Body)}, nil
	}
	defer resp.Body.Close()
	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, llm.ErrEmptyResponse
	}
	return llm.NewStaticStream(out.Choices[0].Message.Content), nil
}

// Embeddings implements llm.Embedder using the OpenAI-compatible API.
func (c *Client) Embeddings(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	if model == "" {
		model = c.embedModel
	}
	prepared := make([]string, len(inputs))
	for i, in := range inputs {
		p, err := llm.PrepareEmbedInput(in)
		if err != nil {
			return nil, err
		}
		prepared[i] = p
	}
	resp, err := c.post(ctx, "/embeddings", map[string]any{"model": model, "input": prepared})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embeddings http %d: %s", resp.StatusCode, string(data))
	}
	var out struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Data) != len(inputs) {
		return nil, fmt.Errorf("embeddings: got %d vectors for %d inputs", len(out.Data), len(inputs))
	}
	res := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		idx := d.Index
		if idx < 0 || idx >= len(res) || res[idx] != nil {
			idx = i
		}
		res[idx] = d.Embedding
	}
	return res, nil
}

// ListModels fetches available model IDs via GET /models
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	c.auth(req)
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("models http %d: %s", resp.StatusCode, string(data))
	}
	var out struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(out.Data))
	for _, m := range out.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.auth(req)
	return c.do(req)
}

func (c *Client) auth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *Client) wait(ctx context.Context) error {
	if c.minGap <= 0 {
		return nil
	}
	c.mu.Lock()
	d := c.minGap - time.Since(c.lastReq)
	c.lastReq = time.Now().Add(max(d, 0))
	c.mu.Unlock()
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// do performs the HTTP request with optional min interval and retries on 429/5xx.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	backoff := 200 * time.Millisecond
	const attempts = 3
	for attempt := 0; ; attempt++ {
		if err := c.wait(req.Context()); err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if (resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode/100 != 5) || attempt == attempts-1 {
			return resp, nil
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			req.Body = body
		}
		time.Sleep(backoff + time.Duration(attempt)*100*time.Millisecond)
	}
}
