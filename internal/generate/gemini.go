package generate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/digdeeper/internal/domain"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	// DefaultChatModel is used for replies and decomposition.
	DefaultChatModel = "gemini-1.5-flash-latest"
	// DefaultTitleModel is used for title summaries.
	DefaultTitleModel = "gemini-1.5-flash-latest"

	chatSystemInstruction = "You are the assistant on a personal portfolio site. " +
		"Answer conversationally and concisely. Use light markdown when it helps."

	decomposeSystemInstruction = "You split a passage into the sub-topics a curious reader would want to dig into next. " +
		"Return only a JSON array. Each element has \"title\" (at most six words), " +
		"\"description\" (one short sentence) and \"content\" (one or two paragraphs expanding that sub-topic). " +
		"Return between two and five elements, in reading order."

	titleSystemInstruction = "You generate concise titles for chat conversations. " +
		"The title should be 3-5 words maximum. Just return the title itself, nothing else."
)

// GeminiConfig selects models for the Gemini generator.
type GeminiConfig struct {
	APIKey     string
	ChatModel  string
	TitleModel string
}

// Gemini implements Generator on Google's Gemini API.
type Gemini struct {
	client     *genai.Client
	chatModel  string
	titleModel string
	logger     *slog.Logger
}

// NewGemini creates a Gemini client.
func NewGemini(ctx context.Context, cfg GeminiConfig, logger *slog.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	g := &Gemini{
		client:     client,
		chatModel:  cfg.ChatModel,
		titleModel: cfg.TitleModel,
		logger:     logger,
	}
	if g.chatModel == "" {
		g.chatModel = DefaultChatModel
	}
	if g.titleModel == "" {
		g.titleModel = DefaultTitleModel
	}
	return g, nil
}

// Close releases the underlying client.
func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	if err := g.client.Close(); err != nil {
		return fmt.Errorf("close genai client: %w", err)
	}
	return nil
}

// Decompose implements Generator.
func (g *Gemini) Decompose(ctx context.Context, req DecomposeRequest) ([]domain.SegmentDraft, error) {
	model := g.client.GenerativeModel(g.chatModel)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(decomposeSystemInstruction)},
	}
	model.ResponseMIMEType = "application/json"

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Topic: %s\n", req.Topic)
	if req.ParentTitle != "" {
		fmt.Fprintf(&prompt, "Section: %s\n", req.ParentTitle)
	}
	fmt.Fprintf(&prompt, "Passage:\n%s", req.Span)

	resp, err := model.GenerateContent(ctx, genai.Text(prompt.String()))
	if err != nil {
		return nil, fmt.Errorf("gemini decompose request failed: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return nil, fmt.Errorf("gemini decompose returned no text")
	}
	drafts, err := ParseDrafts(text)
	if err != nil {
		g.logger.Warn("Unparseable decomposition", "depth", req.Depth, "response_length", len(text), "error", err)
		return nil, err
	}
	return drafts, nil
}

// Reply implements Generator.
func (g *Gemini) Reply(ctx context.Context, history []domain.Message) (string, error) {
	if len(history) == 0 {
		return "", fmt.Errorf("prompt history is empty for chat completion")
	}
	last := history[len(history)-1]
	if last.Role != domain.RoleUser {
		return "", fmt.Errorf("last message in history is not from the user")
	}

	model := g.client.GenerativeModel(g.chatModel)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(chatSystemInstruction)},
	}

	session := model.StartChat()
	for _, m := range history[:len(history)-1] {
		session.History = append(session.History, &genai.Content{
			Role:  geminiRole(m.Role),
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}

	resp, err := session.SendMessage(ctx, genai.Text(last.Content))
	if err != nil {
		return "", fmt.Errorf("gemini chat SendMessage failed: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return "", fmt.Errorf("gemini chat returned no text")
	}
	return text, nil
}

// Summarize implements Generator.
func (g *Gemini) Summarize(ctx context.Context, window []domain.Message) (string, error) {
	model := g.client.GenerativeModel(g.titleModel)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(titleSystemInstruction)},
	}
	model.SetTemperature(0.3)
	model.SetMaxOutputTokens(20)

	var convo strings.Builder
	for _, m := range window {
		fmt.Fprintf(&convo, "%s: %s\n", m.Role, m.Content)
	}
	prompt := fmt.Sprintf("Generate a very concise title (3-5 words maximum) for this conversation:\n%s", convo.String())

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini title generation request failed: %w", err)
	}
	return CleanTitle(responseText(resp)), nil
}

func geminiRole(r domain.Role) string {
	if r == domain.RoleAssistant {
		return "model"
	}
	return "user"
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String())
}
