package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/jun/drivechat/internal/chat"
	"github.com/jun/drivechat/internal/drive"
	"github.com/jun/drivechat/internal/logger"
	"github.com/jun/drivechat/internal/model"
)

// ChatService is the part of chat.Service the handlers use.
type ChatService interface {
	Reply(ctx context.Context, in chat.Input) (string, error)
	ReplyStream(ctx context.Context, in chat.Input, yield func(chunk string) error) error
}

// ReplyRenderer renders a Markdown reply to HTML.
type ReplyRenderer interface {
	RenderReply(reply string) (string, error)
}

// ChatHandler serves the chat and file listing endpoints.
type ChatHandler struct {
	service   ChatService
	drives    drive.Provider
	renderer  ReplyRenderer
	jwtSecret string
}

// NewChatHandler creates a new ChatHandler. renderer may be nil.
func NewChatHandler(service ChatService, drives drive.Provider, renderer ReplyRenderer, jwtSecret string) *ChatHandler {
	return &ChatHandler{service: service, drives: drives, renderer: renderer, jwtSecret: jwtSecret}
}

type chatRequest struct {
	Message      string                   `json:"message"`
	History      []model.ConversationTurn `json:"history"`
	ContextFiles []json.RawMessage        `json:"context_files"`
	Format       string                   `json:"format"`
}

type chatResponse struct {
	Response string `json:"response"`
	HTML     string `json:"html,omitempty"`
}

// parseChat decodes the request body. Context file entries that are not
// objects are skipped so one bad entry does not reject the message.
func parseChat(ctx context.Context, req events.APIGatewayProxyRequest, userID string) (chat.Input, string, error) {
	var body chatRequest
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return chat.Input{}, "", &chat.ValidationError{Field: "body", Message: "Invalid request body"}
	}

	refs := make([]model.ContextFileRef, 0, len(body.ContextFiles))
	for i, raw := range body.ContextFiles {
		var ref model.ContextFileRef
		if err := json.Unmarshal(raw, &ref); err != nil {
			logger.FromContext(ctx).Warn("skipping malformed context file", "index", i, "error", err)
			continue
		}
		refs = append(refs, ref)
	}

	return chat.Input{
		UserID:       userID,
		Message:      body.Message,
		History:      body.History,
		ContextFiles: refs,
	}, body.Format, nil
}

// SendMessage answers one chat message with the full reply.
func (h *ChatHandler) SendMessage(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized(), nil
	}
	ctx = logger.WithUserID(ctx, userID)

	in, format, err := parseChat(ctx, req, userID)
	if err != nil {
		return failure(ctx, "chat", err), nil
	}

	reply, err := h.service.Reply(ctx, in)
	if err != nil {
		return failure(ctx, "chat", err), nil
	}

	resp := chatResponse{Response: reply}
	if strings.EqualFold(format, "html") && h.renderer != nil {
		html, err := h.renderer.RenderReply(reply)
		if err != nil {
			logger.FromContext(ctx).Warn("reply rendering failed", "error", err)
		} else {
			resp.HTML = html
		}
	}
	return jsonResponse(http.StatusOK, resp), nil
}

// StreamMessage answers one chat message as a text/event-stream body.
func (h *ChatHandler) StreamMessage(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized(), nil
	}
	ctx = logger.WithUserID(ctx, userID)

	in, _, err := parseChat(ctx, req, userID)
	if err != nil {
		return failure(ctx, "chat stream", err), nil
	}

	var sb strings.Builder
	chunks := 0
	err = h.service.ReplyStream(ctx, in, func(chunk string) error {
		writeEvent(&sb, "", chunk)
		chunks++
		return nil
	})
	if err != nil {
		if chunks == 0 {
			return failure(ctx, "chat stream", err), nil
		}
		logger.FromContext(ctx).Error("chat stream interrupted", "chunks", chunks, "error", err)
		writeEvent(&sb, "error", err.Error())
	} else {
		writeEvent(&sb, "done", "")
	}

	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Body:       sb.String(),
		Headers: map[string]string{
			"Content-Type":  "text/event-stream",
			"Cache-Control": "no-cache",
		},
	}, nil
}

// writeEvent writes one server-sent event; multi-line data spans several
// data fields.
func writeEvent(sb *strings.Builder, event, data string) {
	if event != "" {
		sb.WriteString("event: " + event + "\n")
	}
	for _, line := range strings.Split(data, "\n") {
		sb.WriteString("data: " + line + "\n")
	}
	sb.WriteString("\n")
}

// ListFiles lists a folder of the user's linked drive.
func (h *ChatHandler) ListFiles(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized(), nil
	}
	ctx = logger.WithUserID(ctx, userID)

	client, err := h.drives.Client(ctx, userID)
	if err != nil {
		return failure(ctx, "list files", err), nil
	}

	items, err := client.ListItems(ctx, req.QueryStringParameters["folder_id"])
	if err != nil {
		if errors.Is(err, drive.ErrListFailed) {
			logger.FromContext(ctx).Error("drive listing failed", "error", err)
			return errorResponse(http.StatusBadGateway, "Failed to list drive items"), nil
		}
		return failure(ctx, "list files", err), nil
	}
	if items == nil {
		items = []model.DriveItem{}
	}

	return jsonResponse(http.StatusOK, map[string][]model.DriveItem{"files": items}), nil
}
