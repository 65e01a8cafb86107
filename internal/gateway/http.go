// Package gateway is the client side of the remote conversation gateway: a REST client, a change
// feed subscription, and the shared conversation-list cache.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/MegaGrindStone/evaldash/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Gateway is the full request/response contract of the remote conversation gateway.
type Gateway interface {
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
	GetConversation(ctx context.Context, id string) (models.Conversation, error)
	CreateConversation(ctx context.Context, conv models.NewConversation) (models.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	SendMessage(ctx context.Context, conversationID string, req models.SendRequest) (models.Reply, error)
}

// HTTP implements Gateway over the gateway server's REST API.
type HTTP struct {
	baseURL string
	client  *http.Client

	logger *slog.Logger
}

// ConversationsEventType is the SSE event type published when a conversation is created, changed or
// deleted. The event data is the conversation id.
const ConversationsEventType = "conversations"

type errorResponse struct {
	Error string `json:"error"`
}

// NewHTTP creates a client for the gateway at baseURL. A nil client means http.DefaultClient.
func NewHTTP(baseURL string, client *http.Client, logger *slog.Logger) HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return HTTP{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
		logger:  logger.With(slog.String("module", "gateway")),
	}
}

// ListConversations returns the summaries of userID's conversations.
func (h HTTP) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	var convs []models.Conversation
	if err := h.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID)+"/conversations", nil, &convs); err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, nil
}

// GetConversation returns conversation id with its messages.
func (h HTTP) GetConversation(ctx context.Context, id string) (models.Conversation, error) {
	var conv models.Conversation
	if err := h.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(id), nil, &conv); err != nil {
		return models.Conversation{}, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

// CreateConversation creates a conversation and returns it with its stable id.
func (h HTTP) CreateConversation(ctx context.Context, nc models.NewConversation) (models.Conversation, error) {
	var conv models.Conversation
	if err := h.do(ctx, http.MethodPost, "/conversations", nc, &conv); err != nil {
		return models.Conversation{}, fmt.Errorf("failed to create conversation: %w", err)
	}
	if conv.ID == "" {
		return models.Conversation{}, errors.New("failed to create conversation: gateway returned no id")
	}
	return conv, nil
}

// DeleteConversation deletes conversation id.
func (h HTTP) DeleteConversation(ctx context.Context, id string) error {
	if err := h.do(ctx, http.MethodDelete, "/conversations/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// SendMessage sends a user message to conversation id and returns the assistant's answer.
func (h HTTP) SendMessage(ctx context.Context, id string, req models.SendRequest) (models.Reply, error) {
	var reply models.Reply
	path := "/conversations/" + url.PathEscape(id) + "/messages"
	if err := h.do(ctx, http.MethodPost, path, req, &reply); err != nil {
		return models.Reply{}, fmt.Errorf("failed to send message: %w", err)
	}
	return reply, nil
}

// Watch subscribes to the gateway's change feed and calls onChange with the id of every conversation
// that was created, changed or deleted, by this client or any other. It blocks until ctx is done or
// the stream breaks.
func (h HTTP) Watch(ctx context.Context, onChange func(conversationID string)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/sse/conversations", nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	for ev, err := range sse.Read(resp.Body, nil) {
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("error reading change feed: %w", err)
		}
		if ev.Type != ConversationsEventType {
			continue
		}
		h.logger.Debug("Conversation changed", slog.String("conversationID", ev.Data))
		onChange(ev.Data)
	}
	return ctx.Err()
}

func (h HTTP) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("error marshaling request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return models.ErrNotFound
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var e errorResponse
		raw, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(raw, &e); err == nil && e.Error != "" {
			return fmt.Errorf("gateway error %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(raw))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}
