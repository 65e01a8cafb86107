package models

import (
	"errors"
	"time"
)

// Conversation represents a conversation container owned by the remote store. It provides basic
// identification and labeling for organizing message threads of a single user. Messages are only
// populated when a single conversation is fetched; list reads return summaries.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	Messages  []Message `json:"messages,omitempty"`
}

// NewConversation carries the fields needed to create a conversation.
type NewConversation struct {
	UserID string `json:"user_id"`
	Title  string `json:"title"`
}

// SendRequest is the payload of a message-send ("regenerate answer") operation.
type SendRequest struct {
	Sender  Sender `json:"sender"`
	Message string `json:"message"`
}

// Reply is the gateway answer to a SendRequest. Message holds the assistant content. The ID fields
// are filled when the gateway persisted the exchange, and are empty otherwise.
type Reply struct {
	Message            string `json:"message"`
	UserMessageID      string `json:"user_message_id,omitempty"`
	AssistantMessageID string `json:"assistant_message_id,omitempty"`
}

// ErrNotFound is returned when a conversation id no longer exists in the store.
var ErrNotFound = errors.New("conversation not found")
