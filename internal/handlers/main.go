package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/MegaGrindStone/evaldash/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Responder produces the assistant's answer to a conversation whose last message is the user's.
type Responder interface {
	Reply(ctx context.Context, messages []models.Message) (string, error)
}

// Store defines the interface for conversation and message persistence. Conversations are scoped to
// a user; deleting a conversation deletes its messages.
type Store interface {
	Conversations(ctx context.Context, userID string) ([]models.Conversation, error)
	Conversation(ctx context.Context, id string) (models.Conversation, error)
	AddConversation(ctx context.Context, conv models.Conversation) (string, error)
	DeleteConversation(ctx context.Context, id string) error

	Messages(ctx context.Context, conversationID string) ([]models.Message, error)
	AddMessage(ctx context.Context, conversationID string, message models.Message) (string, error)
}

// Main serves the conversation gateway: the REST contract consumed by clients and a server-sent
// events feed that tells every connected client which conversations changed.
type Main struct {
	sseSrv *sse.Server

	responder Responder
	store     Store

	logger *slog.Logger
}

const (
	conversationsSSETopic = "conversations"
	errLoggerKey          = "error"
)

var conversationsSSEType = sse.Type("conversations")

// NewMain creates a new Main instance with the provided Responder and Store implementations. Every
// SSE client is subscribed to the default topic and to the conversations topic.
func NewMain(responder Responder, store Store, logger *slog.Logger) Main {
	return Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      []string{sse.DefaultTopic, conversationsSSETopic},
				}, true
			},
		},
		responder: responder,
		store:     store,
		logger:    logger.With(slog.String("module", "handlers")),
	}
}

// Handler returns the gateway's routes.
func (m Main) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/{userID}/conversations", m.HandleListConversations)
	mux.HandleFunc("POST /conversations", m.HandleCreateConversation)
	mux.HandleFunc("GET /conversations/{id}", m.HandleGetConversation)
	mux.HandleFunc("DELETE /conversations/{id}", m.HandleDeleteConversation)
	mux.HandleFunc("POST /conversations/{id}/messages", m.HandleSendMessage)
	mux.HandleFunc("GET /sse/conversations", m.HandleSSE)
	return mux
}

// HandleSSE serves the conversation change feed.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

// Shutdown gracefully terminates the SSE server. It broadcasts a close message to all connected
// clients and waits up to 5 seconds for connections to terminate. After the timeout, any remaining
// connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	e := &sse.Message{Type: sse.Type("close")}
	// Events without data are not dispatched by clients.
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}

func (m Main) publishChange(conversationID string) {
	msg := sse.Message{Type: conversationsSSEType}
	msg.AppendData(conversationID)
	if err := m.sseSrv.Publish(&msg, conversationsSSETopic); err != nil {
		m.logger.Error("Failed to publish conversation change",
			slog.String("conversationID", conversationID),
			slog.String(errLoggerKey, err.Error()))
	}
}
