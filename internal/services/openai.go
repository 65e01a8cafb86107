package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MegaGrindStone/evaldash/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAI implements the handlers Responder interface with OpenAI's chat completion API, or any API
// compatible with it when a base URL is given.
type OpenAI struct {
	model        string
	systemPrompt string
	temperature  *float32

	client *goopenai.Client

	logger *slog.Logger
}

// NewOpenAI creates a new OpenAI instance. An empty baseURL uses OpenAI's own endpoint.
func NewOpenAI(apiKey, baseURL, model, systemPrompt string, temperature *float32, logger *slog.Logger) OpenAI {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return OpenAI{
		model:        model,
		systemPrompt: systemPrompt,
		temperature:  temperature,
		client:       goopenai.NewClientWithConfig(cfg),
		logger:       logger.With(slog.String("module", "openai")),
	}
}

func openAIMessages(systemPrompt string, messages []models.Message) []goopenai.ChatCompletionMessage {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, msg := range messages {
		role := goopenai.ChatMessageRoleUser
		if msg.Sender == models.SenderAssistant {
			role = goopenai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		})
	}
	return msgs
}

// Reply asks the model for the next assistant message of the conversation.
func (o OpenAI) Reply(ctx context.Context, messages []models.Message) (string, error) {
	req := goopenai.ChatCompletionRequest{
		Model:    o.model,
		Messages: openAIMessages(o.systemPrompt, messages),
	}
	if o.temperature != nil {
		req.Temperature = *o.temperature
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no choices found")
	}

	o.logger.Debug("Reply generated",
		slog.String("finishReason", string(resp.Choices[0].FinishReason)),
		slog.Int("totalTokens", resp.Usage.TotalTokens))
	return resp.Choices[0].Message.Content, nil
}
