package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MegaGrindStone/evaldash/internal/models"
	"github.com/google/uuid"
)

type errorResponse struct {
	Error string `json:"error"`
}

// HandleListConversations responds with the summaries of a user's conversations, without messages.
func (m Main) HandleListConversations(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	if userID == "" {
		m.writeError(w, http.StatusBadRequest, errors.New("user id is required"))
		return
	}

	convs, err := m.store.Conversations(r.Context(), userID)
	if err != nil {
		m.logger.Error("Failed to list conversations",
			slog.String("userID", userID),
			slog.String(errLoggerKey, err.Error()))
		m.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if convs == nil {
		convs = []models.Conversation{}
	}
	for i := range convs {
		convs[i].Messages = nil
	}
	m.writeJSON(w, http.StatusOK, convs)
}

// HandleGetConversation responds with a conversation and all of its messages.
func (m Main) HandleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conv, err := m.store.Conversation(r.Context(), id)
	if err != nil {
		m.writeStoreError(w, "Failed to get conversation", id, err)
		return
	}

	msgs, err := m.store.Messages(r.Context(), id)
	if err != nil {
		m.writeStoreError(w, "Failed to get messages", id, err)
		return
	}
	conv.Messages = msgs
	if conv.Messages == nil {
		conv.Messages = []models.Message{}
	}
	m.writeJSON(w, http.StatusOK, conv)
}

// HandleCreateConversation creates a conversation for the given user. The title is required.
func (m Main) HandleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var nc models.NewConversation
	if err := json.NewDecoder(r.Body).Decode(&nc); err != nil {
		m.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if strings.TrimSpace(nc.UserID) == "" || strings.TrimSpace(nc.Title) == "" {
		m.writeError(w, http.StatusBadRequest, errors.New("user_id and title are required"))
		return
	}

	conv := models.Conversation{
		ID:        uuid.New().String(),
		UserID:    nc.UserID,
		Title:     nc.Title,
		CreatedAt: time.Now(),
	}
	id, err := m.store.AddConversation(r.Context(), conv)
	if err != nil {
		m.logger.Error("Failed to add conversation",
			slog.String("conversation", fmt.Sprintf("%+v", conv)),
			slog.String(errLoggerKey, err.Error()))
		m.writeError(w, http.StatusInternalServerError, err)
		return
	}
	conv.ID = id

	m.publishChange(conv.ID)
	m.writeJSON(w, http.StatusCreated, conv)
}

// HandleDeleteConversation deletes a conversation and its messages.
func (m Main) HandleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := m.store.DeleteConversation(r.Context(), id); err != nil {
		m.writeStoreError(w, "Failed to delete conversation", id, err)
		return
	}

	m.publishChange(id)
	w.WriteHeader(http.StatusNoContent)
}

// HandleSendMessage stores the user's message, regenerates the assistant's answer over the whole
// conversation, stores it, and responds with its content and both persisted message ids.
func (m Main) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req models.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		m.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Sender != models.SenderUser {
		m.writeError(w, http.StatusBadRequest, fmt.Errorf("sender must be %q", models.SenderUser))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		m.writeError(w, http.StatusBadRequest, errors.New("message is required"))
		return
	}

	if _, err := m.store.Conversation(r.Context(), id); err != nil {
		m.writeStoreError(w, "Failed to get conversation", id, err)
		return
	}

	um := models.Message{
		ID:        uuid.New().String(),
		Sender:    models.SenderUser,
		Content:   req.Message,
		Timestamp: time.Now(),
	}
	userMsgID, err := m.store.AddMessage(r.Context(), id, um)
	if err != nil {
		m.writeStoreError(w, "Failed to add user message", id, err)
		return
	}

	messages, err := m.store.Messages(r.Context(), id)
	if err != nil {
		m.writeStoreError(w, "Failed to get messages", id, err)
		return
	}

	answer, err := m.responder.Reply(r.Context(), messages)
	if err != nil {
		m.logger.Error("Error from responder",
			slog.String("conversationID", id),
			slog.String(errLoggerKey, err.Error()))
		m.writeError(w, http.StatusBadGateway, err)
		return
	}

	am := models.Message{
		ID:        uuid.New().String(),
		Sender:    models.SenderAssistant,
		Content:   answer,
		Timestamp: time.Now(),
	}
	aiMsgID, err := m.store.AddMessage(r.Context(), id, am)
	if err != nil {
		m.writeStoreError(w, "Failed to add assistant message", id, err)
		return
	}

	m.publishChange(id)
	m.writeJSON(w, http.StatusOK, models.Reply{
		Message:            answer,
		UserMessageID:      userMsgID,
		AssistantMessageID: aiMsgID,
	})
}

func (m Main) writeStoreError(w http.ResponseWriter, msg, conversationID string, err error) {
	if errors.Is(err, models.ErrNotFound) {
		m.writeError(w, http.StatusNotFound, err)
		return
	}
	m.logger.Error(msg,
		slog.String("conversationID", conversationID),
		slog.String(errLoggerKey, err.Error()))
	m.writeError(w, http.StatusInternalServerError, err)
}

func (m Main) writeError(w http.ResponseWriter, status int, err error) {
	m.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (m Main) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		m.logger.Error("Failed to encode response", slog.String(errLoggerKey, err.Error()))
	}
}
