package models

import "time"

// Message represents an individual entry within a conversation. The ID is client-generated for
// optimistic entries and server-generated once persisted.
//
// Historical and Status are local to the client's working copy and never travel over the wire.
type Message struct {
	ID        string    `json:"id"`
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Historical is true only for messages loaded from a previously persisted conversation.
	Historical bool `json:"-"`
	// Status tracks delivery of optimistic user messages. It is StatusSent for everything else.
	Status MessageStatus `json:"-"`
}

// Sender represents the participant who authored a message.
type Sender string

// MessageStatus represents the delivery state of a message in the working copy.
type MessageStatus string

const (
	// SenderUser represents a message typed by the user.
	SenderUser Sender = "user"
	// SenderAssistant represents a message produced by the assistant.
	SenderAssistant Sender = "assistant"

	// StatusPending marks an optimistic message whose exchange has not settled yet.
	StatusPending MessageStatus = "pending"
	// StatusSent marks a message confirmed by the gateway, or one that came from it.
	StatusSent MessageStatus = "sent"
	// StatusFailed marks an optimistic message whose creation or send failed. It is kept in place.
	StatusFailed MessageStatus = "failed"
)
