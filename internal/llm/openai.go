package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jun/drivechat/internal/logger"
	"github.com/jun/drivechat/internal/model"
	"github.com/sashabaranov/go-openai"
)

const openAIDefaultModel = "gpt-4o-mini"

// OpenAIBackend calls the Chat Completions API. Images are sent inline as
// data URLs; other binary parts are replaced by a short text note.
type OpenAIBackend struct {
	client       *openai.Client
	model        string
	systemPrompt string
}

// NewOpenAIBackend creates an OpenAIBackend. Model defaults to gpt-4o-mini.
func NewOpenAIBackend(cfg Config) *OpenAIBackend {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	m := cfg.Model
	if m == "" {
		m = openAIDefaultModel
		slog.Warn("LLM_MODEL not set, defaulting", "model", m)
	}
	slog.Info("Initializing OpenAI backend", "model", m)
	return &OpenAIBackend{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        m,
		systemPrompt: cfg.SystemPrompt,
	}
}

func (o *OpenAIBackend) buildRequest(req Request) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{Model: o.model}
	if o.systemPrompt != "" {
		out.Messages = append(out.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: o.systemPrompt,
		})
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, toOpenAIMessage(m))
	}
	return out
}

func toOpenAIMessage(m Message) openai.ChatCompletionMessage {
	if m.Role != RoleUser {
		texts := make([]string, 0, len(m.Parts))
		for _, p := range m.Parts {
			texts = append(texts, partText(p))
		}
		return openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: strings.Join(texts, "\n"),
		}
	}

	// Plain single-text turns keep the simple content form.
	if len(m.Parts) == 1 && m.Parts[0].Kind != model.PartBinary {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: partText(m.Parts[0])}
	}

	parts := make([]openai.ChatMessagePart, 0, len(m.Parts))
	for _, p := range m.Parts {
		if p.Kind != model.PartBinary || p.Binary == nil {
			parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: partText(p)})
			continue
		}
		if strings.HasPrefix(p.Binary.MIMEType, "image/") {
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    "data:" + p.Binary.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(p.Binary.Data),
					Detail: openai.ImageURLDetailAuto,
				},
			})
			continue
		}
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: fmt.Sprintf("[Attachment of type %s omitted: not supported by this model]", p.Binary.MIMEType),
		})
	}
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts}
}

// Generate implements Backend.
func (o *OpenAIBackend) Generate(ctx context.Context, req Request) (string, error) {
	logger.FromContext(ctx).Debug("Generating text via OpenAI", "model", o.model)

	resp, err := o.client.CreateChatCompletion(ctx, o.buildRequest(req))
	if err != nil {
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("OpenAI returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream implements Backend.
func (o *OpenAIBackend) Stream(ctx context.Context, req Request, yield func(string) error) error {
	r := o.buildRequest(req)
	r.Stream = true

	stream, err := o.client.CreateChatCompletionStream(ctx, r)
	if err != nil {
		return fmt.Errorf("OpenAI stream failed: %w", err)
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("OpenAI stream failed: %w", err)
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		if err := yield(chunk.Choices[0].Delta.Content); err != nil {
			return err
		}
	}
}
