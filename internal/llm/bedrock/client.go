// Package bedrock implements llm.ChatProvider with Anthropic Claude models and
// llm.Embedder with Amazon Titan text embeddings, both through Bedrock Runtime.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"hanjang/internal/llm"
)

const (
	anthropicVersion  = "bedrock-2023-05-31"
	defaultMaxTokens  = 4096
	defaultEmbedGap   = 100 * time.Millisecond
	DefaultSystemText = llm.DefaultSystemPrompt
)

// Runtime is the subset of the Bedrock Runtime client used here.
type Runtime interface {
	InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
	InvokeModelWithResponseStream(ctx context.Context, in *bedrockruntime.InvokeModelWithResponseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error)
}

type Options struct {
	ChatModel  string
	EmbedModel string
	MaxTokens  int
	// EmbedGap spaces out per-input Titan calls; negative disables it.
	EmbedGap time.Duration
}

type Client struct {
	rt         Runtime
	chatModel  string
	embedModel string
	maxTokens  int
	embedGap   time.Duration
}

func New(rt Runtime, o Options) *Client {
	c := &Client{rt: rt, chatModel: o.ChatModel, embedModel: o.EmbedModel, maxTokens: o.MaxTokens, embedGap: o.EmbedGap}
	if c.maxTokens <= 0 {
		c.maxTokens = defaultMaxTokens
	}
	if c.embedGap == 0 {
		c.embedGap = defaultEmbedGap
	}
	return c
}

// NewFromConfig builds a client on the default Bedrock Runtime service client.
func NewFromConfig(cfg aws.Config, o Options) *Client {
	return New(bedrockruntime.NewFromConfig(cfg), o)
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        int             `json:"max_tokens"`
	Temperature      float32         `json:"temperature"`
	System           string          `json:"system,omitempty"`
	Messages         []claudeMessage `json:"messages"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// buildRequest maps chat messages to the Claude messages payload. System
// messages are joined into the system prompt; without one the tutor prompt
// is used.
func buildRequest(messages []llm.Message, temperature float32, maxTokens int) claudeRequest {
	req := claudeRequest{AnthropicVersion: anthropicVersion, MaxTokens: maxTokens, Temperature: temperature}
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			if req.System != "" {
				req.System += "\n\n"
			}
			req.System += m.Content
		default:
			req.Messages = append(req.Messages, claudeMessage{Role: string(m.Role), Content: m.Content})
		}
	}
	if req.System == "" {
		req.System = DefaultSystemText
	}
	return req
}

func (c *Client) Chat(ctx context.Context, model string, messages []llm.Message, stream bool, temperature float32) (llm.ChatStream, error) {
	if model == "" {
		model = c.chatModel
	}
	body, err := json.Marshal(buildRequest(messages, temperature, llm.MaxTokens(ctx, c.maxTokens)))
	if err != nil {
		return nil, err
	}
	if stream {
		out, err := c.rt.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
			ModelId:     aws.String(model),
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
			Body:        body,
		})
		if err != nil {
			return nil, fmt.Errorf("bedrock: invoke stream %s: %w", model, err)
		}
		return newClaudeStream(out.GetStream()), nil
	}
	out, err := c.rt.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock: invoke %s: %w", model, err)
	}
	var resp claudeResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("bedrock: decode response: %w", err)
	}
	if len(resp.Content) == 0 {
		return nil, llm.ErrEmptyResponse
	}
	return llm.NewStaticStream(resp.Content[0].Text), nil
}

type titanRequest struct {
	InputText string `json:"inputText"`
}

type titanResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// Embeddings calls Titan once per input; the model takes a single text.
func (c *Client) Embeddings(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	if model == "" {
		model = c.embedModel
	}
	out := make([][]float32, 0, len(inputs))
	for i, in := range inputs {
		if i > 0 && c.embedGap > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.embedGap):
			}
		}
		v, err := c.embedOne(ctx, model, in)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *Client) embedOne(ctx context.Context, model, text string) ([]float32, error) {
	text, err := llm.PrepareEmbedInput(text)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(titanRequest{InputText: text})
	if err != nil {
		return nil, err
	}
	res, err := c.rt.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock: embed %s: %w", model, err)
	}
	var tr titanResponse
	if err := json.Unmarshal(res.Body, &tr); err != nil {
		return nil, fmt.Errorf("bedrock: decode embedding: %w", err)
	}
	if len(tr.Embedding) == 0 {
		return nil, fmt.Errorf("bedrock: embed %s: %w", model, llm.ErrEmptyResponse)
	}
	return tr.Embedding, nil
}
