package gateway

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// maxEmbedAttempts bounds the shrink-and-retry loop in Embed (spec.md
// §4.4: retry up to 4 times, shrinking the payload each time, when the
// embedding service rejects a text as too long).
const maxEmbedAttempts = 4

// OpenAIClient implements both ChatClient and Embedder against an
// OpenAI-compatible endpoint, grounded on the teacher's
// provider.Provider contract but built on the ecosystem client instead of
// a hand-rolled HTTP request, since the teacher's raw-HTTP client predates
// the chat-completions response shape this engine needs.
type OpenAIClient struct {
	client         *openai.Client
	chatModel      string
	embeddingModel string
}

// NewOpenAIClient builds an OpenAIClient. baseURL may be empty to use
// OpenAI's default endpoint, or point at a compatible gateway.
func NewOpenAIClient(apiKey, baseURL, chatModel, embeddingModel string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{
		client:         openai.NewClientWithConfig(cfg),
		chatModel:      chatModel,
		embeddingModel: embeddingModel,
	}
}

// Chat implements gateway.ChatClient.
func (o *OpenAIClient) Chat(ctx context.Context, messages []ChatMessage, opts ChatOptions) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       o.chatModel,
		Messages:    toOpenAIMessages(messages),
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed implements gateway.Embedder. It shrinks the input and retries when
// the service reports the text exceeds its token ceiling, since callers
// (the packer's embedding clamp included) can only estimate tokens, not
// know the service's exact limit in advance.
func (o *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt < maxEmbedAttempts; attempt++ {
		resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(o.embeddingModel),
			Input: []string{text},
		})
		if err == nil {
			if len(resp.Data) == 0 {
				return nil, fmt.Errorf("create embedding: no data returned")
			}
			return resp.Data[0].Embedding, nil
		}
		lastErr = err
		if !isTokenLimitError(err) {
			return nil, fmt.Errorf("create embedding: %w", err)
		}
		text = shrinkForEmbedding(text)
		if text == "" {
			break
		}
	}
	return nil, fmt.Errorf("create embedding: exceeded token limit after %d attempts: %w", maxEmbedAttempts, lastErr)
}

func isTokenLimitError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "413") ||
		strings.Contains(msg, "token") ||
		strings.Contains(msg, "less than 512 tokens") ||
		strings.Contains(msg, "maximum context length")
}

func shrinkForEmbedding(text string) string {
	shrunk := int(float64(len(text)) * 0.9)
	if shrunk <= 0 || shrunk >= len(text) {
		return ""
	}
	return text[:shrunk]
}

func toOpenAIMessages(messages []ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

var (
	_ ChatClient = (*OpenAIClient)(nil)
	_ Embedder   = (*OpenAIClient)(nil)
)
