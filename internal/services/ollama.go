package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/MegaGrindStone/evaldash/internal/models"
	"github.com/ollama/ollama/api"
)

// Ollama implements the handlers Responder interface with a model served by an Ollama instance.
type Ollama struct {
	model        string
	systemPrompt string

	client *api.Client

	logger *slog.Logger
}

// NewOllama creates a new Ollama instance with the specified host URL and model name. The host
// parameter should be a valid URL pointing to an Ollama server.
func NewOllama(host, model, systemPrompt string, logger *slog.Logger) (Ollama, error) {
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	return Ollama{
		model:        model,
		systemPrompt: systemPrompt,
		client:       api.NewClient(u, &http.Client{}),
		logger:       logger.With(slog.String("module", "ollama")),
	}, nil
}

// Reply asks the model for the next assistant message of the conversation.
func (o Ollama) Reply(ctx context.Context, messages []models.Message) (string, error) {
	msgs := make([]api.Message, 0, len(messages)+1)
	if o.systemPrompt != "" {
		msgs = append(msgs, api.Message{Role: "system", Content: o.systemPrompt})
	}
	for _, msg := range messages {
		msgs = append(msgs, api.Message{
			Role:    string(msg.Sender),
			Content: msg.Content,
		})
	}

	f := false
	req := api.ChatRequest{
		Model:    o.model,
		Messages: msgs,
		Stream:   &f,
	}

	var sb strings.Builder
	if err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
		sb.WriteString(res.Message.Content)
		return nil
	}); err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}

	o.logger.Debug("Reply generated", slog.Int("length", sb.Len()))
	return sb.String(), nil
}
