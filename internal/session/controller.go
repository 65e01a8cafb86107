// Package session owns the lifecycle of the active conversation: its working copy of messages, the
// input buffer and the send/load flags. Locally originated messages are appended optimistically and
// reconciled against the gateway's answers.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/evaldash/internal/models"
	"github.com/google/uuid"
)

// Gateway is the part of the remote conversation gateway the controller talks to.
type Gateway interface {
	GetConversation(ctx context.Context, id string) (models.Conversation, error)
	CreateConversation(ctx context.Context, conv models.NewConversation) (models.Conversation, error)
	SendMessage(ctx context.Context, conversationID string, req models.SendRequest) (models.Reply, error)
}

// State is a snapshot of the controller's in-memory truth.
type State struct {
	ActiveConversationID string
	Messages             []models.Message
	Input                string

	IsSending        bool
	IsLoading        bool
	IsHistoricalLoad bool
}

// Options configures a Controller. Zero values are replaced by defaults.
type Options struct {
	// UserID returns the current user id from the authentication context.
	UserID func() string
	// HistoricalWindow is how long IsHistoricalLoad stays set after a selection settles.
	HistoricalWindow time.Duration
	// OnChange is called with a fresh snapshot after every state mutation, outside the lock.
	OnChange func(State)
	Logger   *slog.Logger

	now   func() time.Time
	newID func() string
}

// Controller is the session controller. It is safe for concurrent use: gateway calls run without
// holding the lock, and their results are applied only if the session they were issued for is still
// the current one.
type Controller struct {
	gw     Gateway
	opts   Options
	logger *slog.Logger

	mu    sync.Mutex
	state State
	// epoch changes on every selection and reset. A result carrying an old epoch is discarded.
	epoch uint64
	// inflight is the token of the outstanding exchange, zero when none. It is the single-flight flag.
	inflight uint64
	tokens   uint64
	window   *time.Timer
}

const defaultHistoricalWindow = 500 * time.Millisecond

var (
	// ErrEmptyInput is returned by Submit for empty or whitespace-only text.
	ErrEmptyInput = errors.New("input is empty")
	// ErrBusy is returned by Submit while another exchange is outstanding or a selection is loading.
	ErrBusy = errors.New("a message is already being sent")
	// ErrDetached is returned when a result arrives for a session that is no longer current.
	ErrDetached = errors.New("session changed while the request was in flight")
)

const errLoggerKey = "error"

// New creates a Controller with no active conversation.
func New(gw Gateway, opts Options) *Controller {
	if opts.UserID == nil {
		opts.UserID = func() string { return "" }
	}
	if opts.HistoricalWindow <= 0 {
		opts.HistoricalWindow = defaultHistoricalWindow
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	if opts.newID == nil {
		opts.newID = uuid.NewString
	}
	return &Controller{
		gw:     gw,
		opts:   opts,
		logger: opts.Logger.With(slog.String("module", "session")),
	}
}

// State returns a snapshot of the current state. The returned messages are a copy.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

// ActiveConversationID returns the id of the active conversation, or "" when none.
func (c *Controller) ActiveConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.ActiveConversationID
}

// SetInput replaces the input buffer.
func (c *Controller) SetInput(text string) {
	c.mu.Lock()
	if c.state.Input == text {
		c.mu.Unlock()
		return
	}
	c.state.Input = text
	s := c.snapshot()
	c.mu.Unlock()
	c.notify(s)
}

// NewSession clears all working state and detaches from the active conversation. Any request in
// flight keeps running, but its result is discarded on arrival.
func (c *Controller) NewSession() {
	c.mu.Lock()
	c.reset()
	s := c.snapshot()
	c.mu.Unlock()
	c.notify(s)
}

// CloseConversation resets the session if id is the active conversation, and reports whether it did.
func (c *Controller) CloseConversation(id string) bool {
	c.mu.Lock()
	if id == "" || c.state.ActiveConversationID != id {
		c.mu.Unlock()
		return false
	}
	c.reset()
	s := c.snapshot()
	c.mu.Unlock()
	c.notify(s)
	return true
}

// SelectConversation makes id the active conversation and replaces the working copy with its stored
// messages, all flagged historical. When selections overlap, the last one wins.
func (c *Controller) SelectConversation(ctx context.Context, id string) error {
	c.mu.Lock()
	c.stopWindow()
	c.epoch++
	epoch := c.epoch
	c.inflight = 0
	c.state = State{
		ActiveConversationID: id,
		Input:                c.state.Input,
		IsLoading:            true,
	}
	s := c.snapshot()
	c.mu.Unlock()
	c.notify(s)

	conv, err := c.gw.GetConversation(ctx, id)

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		c.logger.Debug("Discarding superseded selection", slog.String("conversationID", id))
		return ErrDetached
	}
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.reset()
		} else {
			c.state.IsLoading = false
		}
		s = c.snapshot()
		c.mu.Unlock()
		c.notify(s)
		c.logger.Error("Failed to load conversation",
			slog.String("conversationID", id),
			slog.String(errLoggerKey, err.Error()))
		return fmt.Errorf("failed to load conversation %s: %w", id, err)
	}

	msgs := make([]models.Message, len(conv.Messages))
	for i, msg := range conv.Messages {
		msg.Historical = true
		msg.Status = models.StatusSent
		msgs[i] = msg
	}
	c.state.Messages = msgs
	c.state.IsLoading = false
	c.state.IsHistoricalLoad = true
	c.window = time.AfterFunc(c.opts.HistoricalWindow, func() { c.closeWindow(epoch) })
	s = c.snapshot()
	c.mu.Unlock()
	c.notify(s)
	return nil
}

// Submit sends text as a user message. It is a no-op for empty input, while another exchange is
// outstanding, or while a selected conversation is loading. When no conversation is active, one is created first, titled with text.
//
// The user message is appended before any request is issued. Failures are logged and returned, the
// optimistic message is marked failed and stays in place, and nothing is added to the transcript.
func (c *Controller) Submit(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyInput
	}

	c.mu.Lock()
	// IsLoading without an exchange in flight means a selection is being fetched; its result would
	// replace the optimistic message.
	if c.inflight != 0 || c.state.IsLoading {
		c.mu.Unlock()
		return ErrBusy
	}
	c.tokens++
	token := c.tokens
	c.inflight = token
	epoch := c.epoch
	userMsg := models.Message{
		ID:        c.opts.newID(),
		Sender:    models.SenderUser,
		Content:   text,
		Timestamp: c.opts.now(),
		Status:    models.StatusPending,
	}
	c.state.Messages = append(c.state.Messages, userMsg)
	c.state.IsSending = true
	c.state.IsLoading = true
	convID := c.state.ActiveConversationID
	s := c.snapshot()
	c.mu.Unlock()
	c.notify(s)

	err := c.exchange(ctx, epoch, convID, userMsg)
	c.settle(token, userMsg.ID, err)
	return err
}

func (c *Controller) exchange(ctx context.Context, epoch uint64, convID string, userMsg models.Message) error {
	if convID == "" {
		conv, err := c.gw.CreateConversation(ctx, models.NewConversation{
			UserID: c.opts.UserID(),
			Title:  userMsg.Content,
		})
		if err != nil {
			c.logger.Error("Failed to create conversation",
				slog.String("title", userMsg.Content),
				slog.String(errLoggerKey, err.Error()))
			return fmt.Errorf("failed to create conversation: %w", err)
		}

		c.mu.Lock()
		if c.epoch != epoch {
			c.mu.Unlock()
			c.logger.Debug("Discarding created conversation for a detached session",
				slog.String("conversationID", conv.ID))
			return ErrDetached
		}
		c.state.ActiveConversationID = conv.ID
		s := c.snapshot()
		c.mu.Unlock()
		c.notify(s)
		convID = conv.ID
	}

	reply, err := c.gw.SendMessage(ctx, convID, models.SendRequest{
		Sender:  models.SenderUser,
		Message: userMsg.Content,
	})
	if err != nil {
		c.logger.Error("Failed to send message",
			slog.String("conversationID", convID),
			slog.String(errLoggerKey, err.Error()))
		return fmt.Errorf("failed to send message: %w", err)
	}

	c.mu.Lock()
	if c.epoch != epoch || c.state.ActiveConversationID != convID {
		c.mu.Unlock()
		c.logger.Debug("Discarding reply for a detached session", slog.String("conversationID", convID))
		return ErrDetached
	}
	if reply.UserMessageID != "" {
		if i := c.indexOf(userMsg.ID); i >= 0 {
			c.state.Messages[i].ID = reply.UserMessageID
		}
		userMsg.ID = reply.UserMessageID
	}
	assistantID := reply.AssistantMessageID
	if assistantID == "" {
		assistantID = c.opts.newID()
	}
	c.state.Messages = append(c.state.Messages, models.Message{
		ID:        assistantID,
		Sender:    models.SenderAssistant,
		Content:   reply.Message,
		Timestamp: c.opts.now(),
		Status:    models.StatusSent,
	})
	if i := c.indexOf(userMsg.ID); i >= 0 {
		c.state.Messages[i].Status = models.StatusSent
	}
	s := c.snapshot()
	c.mu.Unlock()
	c.notify(s)
	return nil
}

// settle ends the exchange identified by token. Nothing changes if the session was reset or another
// selection happened in between, since those already cleared the flags.
func (c *Controller) settle(token uint64, userMsgID string, err error) {
	c.mu.Lock()
	if c.inflight != token {
		c.mu.Unlock()
		return
	}
	c.inflight = 0
	c.state.IsSending = false
	c.state.IsLoading = false
	c.state.Input = ""
	if err != nil {
		// The id may have been re-keyed by the server, but only after a successful send.
		if i := c.indexOf(userMsgID); i >= 0 {
			c.state.Messages[i].Status = models.StatusFailed
		}
	}
	s := c.snapshot()
	c.mu.Unlock()
	c.notify(s)
}

func (c *Controller) closeWindow(epoch uint64) {
	c.mu.Lock()
	if c.epoch != epoch || !c.state.IsHistoricalLoad {
		c.mu.Unlock()
		return
	}
	c.state.IsHistoricalLoad = false
	c.window = nil
	s := c.snapshot()
	c.mu.Unlock()
	c.notify(s)
}

// reset must be called with c.mu held.
func (c *Controller) reset() {
	c.stopWindow()
	c.epoch++
	c.inflight = 0
	c.state = State{}
}

func (c *Controller) stopWindow() {
	if c.window != nil {
		c.window.Stop()
		c.window = nil
	}
}

func (c *Controller) indexOf(id string) int {
	return slices.IndexFunc(c.state.Messages, func(m models.Message) bool { return m.ID == id })
}

func (c *Controller) snapshot() State {
	s := c.state
	s.Messages = slices.Clone(c.state.Messages)
	return s
}

func (c *Controller) notify(s State) {
	if c.opts.OnChange != nil {
		c.opts.OnChange(s)
	}
}
