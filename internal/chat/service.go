// Package chat assembles a model request from the user's message, prior
// turns and attached drive files, then hands it to the LLM backend.
package chat

import (
	"context"
	"fmt"

	"github.com/jun/drivechat/internal/drive"
	"github.com/jun/drivechat/internal/llm"
	"github.com/jun/drivechat/internal/logger"
	"github.com/jun/drivechat/internal/model"
)

// ValidationError reports malformed chat input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ContentNormalizer turns file bytes into model parts.
type ContentNormalizer interface {
	Normalize(filename string, content []byte) []model.Part
}

// Input is one chat turn as submitted by the client.
type Input struct {
	UserID       string
	Message      string
	History      []model.ConversationTurn
	ContextFiles []model.ContextFileRef
}

// Service is the conversation assembler.
type Service struct {
	drives     drive.Provider
	normalizer ContentNormalizer
	backend    llm.Backend
}

// NewService creates a new chat Service.
func NewService(drives drive.Provider, normalizer ContentNormalizer, backend llm.Backend) *Service {
	return &Service{drives: drives, normalizer: normalizer, backend: backend}
}

// Assemble builds the model request. Files are fetched one at a time in the
// order given; a failing file contributes an Error part and never aborts the
// batch. Only a missing drive link aborts, with an *auth.AuthError.
func (s *Service) Assemble(ctx context.Context, in Input) (llm.Request, error) {
	if in.Message == "" {
		return llm.Request{}, &ValidationError{Field: "message", Message: "Message is required"}
	}

	msgs := make([]llm.Message, 0, len(in.History)+1)
	for _, turn := range in.History {
		msgs = append(msgs, llm.Message{
			Role:  llm.NormalizeRole(turn.Role),
			Parts: []model.Part{model.TextPart(turn.Content)},
		})
	}

	parts, err := s.contextParts(ctx, in.UserID, in.ContextFiles)
	if err != nil {
		return llm.Request{}, err
	}
	parts = append(parts, model.TextPart(in.Message))

	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Parts: parts})
	return llm.Request{Messages: msgs}, nil
}

func (s *Service) contextParts(ctx context.Context, userID string, refs []model.ContextFileRef) ([]model.Part, error) {
	usable := make([]model.ContextFileRef, 0, len(refs))
	for _, ref := range refs {
		if ref.Resolvable() {
			usable = append(usable, ref)
		}
	}
	if len(usable) == 0 {
		return nil, nil
	}

	client, err := s.drives.Client(ctx, userID)
	if err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx)
	var parts []model.Part
	for _, ref := range usable {
		content, err := client.DownloadContent(ctx, ref.ID, ref.DownloadURL)
		if err != nil {
			log.Warn("context file download failed", "file", ref.Name, "error", err)
			parts = append(parts, model.ErrorPart(fmt.Sprintf("Error downloading %s: %v", ref.Name, err)))
			continue
		}
		if len(content) == 0 {
			parts = append(parts, model.ErrorPart(fmt.Sprintf("Error reading file %s: Download failed or content is empty.", ref.Name)))
			continue
		}
		parts = append(parts, s.normalize(ctx, ref.Name, content)...)
	}
	return parts, nil
}

// normalize shields the batch from a normalizer panic on hostile input.
func (s *Service) normalize(ctx context.Context, name string, content []byte) (parts []model.Part) {
	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(ctx).Error("normalizer panicked", "file", name, "panic", r)
			parts = []model.Part{model.ErrorPart(fmt.Sprintf("Error reading file %s: %v", name, r))}
		}
	}()
	return s.normalizer.Normalize(name, content)
}

// Reply assembles the request and returns the model's full reply verbatim.
func (s *Service) Reply(ctx context.Context, in Input) (string, error) {
	req, err := s.Assemble(ctx, in)
	if err != nil {
		return "", err
	}
	return s.backend.Generate(ctx, req)
}

// ReplyStream assembles the same request as Reply and streams the reply
// through yield.
func (s *Service) ReplyStream(ctx context.Context, in Input, yield func(chunk string) error) error {
	req, err := s.Assemble(ctx, in)
	if err != nil {
		return err
	}
	return s.backend.Stream(ctx, req, yield)
}
