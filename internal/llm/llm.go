// Package llm sends assembled conversations to a hosted model.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/jun/drivechat/internal/model"
)

// Role is the speaker of a message as the model sees it.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// NormalizeRole maps a client-supplied role: "user" stays user, anything
// else is treated as the model.
func NormalizeRole(role string) Role {
	if role == string(RoleUser) {
		return RoleUser
	}
	return RoleModel
}

// Message is one turn of the conversation.
type Message struct {
	Role  Role
	Parts []model.Part
}

// Request is a full conversation whose last message is the new user turn.
type Request struct {
	Messages []Message
}

// Last returns the final message of the request, or nil when empty.
func (r Request) Last() *Message {
	if len(r.Messages) == 0 {
		return nil
	}
	return &r.Messages[len(r.Messages)-1]
}

// Backend is a hosted chat model.
type Backend interface {
	// Generate returns the complete reply text.
	Generate(ctx context.Context, req Request) (string, error)

	// Stream calls yield for each chunk of reply text as it arrives. An error
	// from yield stops the stream and is returned.
	Stream(ctx context.Context, req Request, yield func(chunk string) error) error
}

// Supported providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Config selects and configures a Backend.
type Config struct {
	Provider     string
	Model        string
	APIKey       string
	BaseURL      string
	SystemPrompt string
}

// New builds the Backend named by cfg.Provider.
func New(cfg Config) (Backend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: missing API key for provider %q", cfg.Provider)
	}
	switch strings.ToLower(cfg.Provider) {
	case ProviderGemini, "":
		return NewGeminiBackend(cfg), nil
	case ProviderOpenAI:
		return NewOpenAIBackend(cfg), nil
	default:
		return nil, fmt.Errorf("llm: unsupported provider %q", cfg.Provider)
	}
}

// partText renders text and error parts for backends that only see text.
// Error parts are shown to the model so it can tell the user a file failed.
func partText(p model.Part) string {
	return p.AsText()
}
