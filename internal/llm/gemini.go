package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jun/drivechat/internal/logger"
	"github.com/jun/drivechat/internal/model"
)

const (
	geminiBaseURL      = "https://generativelanguage.googleapis.com/v1beta"
	geminiDefaultModel = "gemini-2.5-flash"
)

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// text concatenates the text parts of the first candidate.
func (r *geminiResponse) text() (string, error) {
	if r.Error != nil {
		return "", fmt.Errorf("gemini API error: %s - %s", r.Error.Status, r.Error.Message)
	}
	if r.PromptFeedback != nil && r.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("gemini blocked the prompt: %s", r.PromptFeedback.BlockReason)
	}
	if len(r.Candidates) == 0 {
		return "", nil
	}
	var sb strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}

// GeminiBackend calls the Gemini generateContent REST API.
type GeminiBackend struct {
	apiKey       string
	model        string
	baseURL      string
	systemPrompt string
	httpClient   *http.Client
}

// NewGeminiBackend creates a GeminiBackend. Model defaults to gemini-2.5-flash.
func NewGeminiBackend(cfg Config) *GeminiBackend {
	b := &GeminiBackend{
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		systemPrompt: cfg.SystemPrompt,
		httpClient:   &http.Client{Timeout: 5 * time.Minute},
	}
	if b.model == "" {
		b.model = geminiDefaultModel
	}
	if b.baseURL == "" {
		b.baseURL = geminiBaseURL
	}
	slog.Info("Initializing Gemini backend", "model", b.model)
	return b
}

func (g *GeminiBackend) buildRequest(req Request) geminiRequest {
	out := geminiRequest{Contents: make([]geminiContent, 0, len(req.Messages))}
	for _, m := range req.Messages {
		c := geminiContent{Role: string(m.Role)}
		for _, p := range m.Parts {
			if p.Kind == model.PartBinary && p.Binary != nil {
				c.Parts = append(c.Parts, geminiPart{InlineData: &geminiInlineData{
					MimeType: p.Binary.MIMEType,
					Data:     base64.StdEncoding.EncodeToString(p.Binary.Data),
				}})
				continue
			}
			c.Parts = append(c.Parts, geminiPart{Text: partText(p)})
		}
		out.Contents = append(out.Contents, c)
	}
	if g.systemPrompt != "" {
		out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: g.systemPrompt}}}
	}
	return out
}

func (g *GeminiBackend) post(ctx context.Context, url string, req Request) (*http.Response, error) {
	body, err := json.Marshal(g.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("x-goog-api-key", g.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	logger.FromContext(ctx).Debug("Sending request to Gemini", "model", g.model, "messages", len(req.Messages))

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("gemini API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return resp, nil
}

// Generate implements Backend.
func (g *GeminiBackend) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := g.post(ctx, fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, g.model), req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to parse response JSON: %w", err)
	}
	text, err := out.text()
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", fmt.Errorf("received empty content from Gemini")
	}
	return text, nil
}

// Stream implements Backend using server-sent events.
func (g *GeminiBackend) Stream(ctx context.Context, req Request, yield func(string) error) error {
	resp, err := g.post(ctx, fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", g.baseURL, g.model), req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}

		var chunk geminiResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return fmt.Errorf("failed to parse stream chunk: %w", err)
		}
		text, err := chunk.text()
		if err != nil {
			return err
		}
		if text == "" {
			continue
		}
		if err := yield(text); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read stream: %w", err)
	}
	return nil
}
