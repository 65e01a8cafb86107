// Package history turns the user's conversation list into date-grouped, deletable entries for the
// history panel, and keeps the active session consistent with what the list says exists.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MegaGrindStone/evaldash/internal/models"
)

// Gateway is the part of the remote conversation gateway the reconciler needs.
type Gateway interface {
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
}

// Session is the part of the session controller the reconciler drives.
type Session interface {
	ActiveConversationID() string
	CloseConversation(id string) bool
	NewSession()
}

// Notifier raises one-shot failure notifications.
type Notifier interface {
	Notify(message string)
}

// Options configures a Reconciler.
type Options struct {
	// UserID returns the current user id from the authentication context.
	UserID func() string
	// Invalidate drops the cached conversation list of a user. May be nil.
	Invalidate func(userID string)
	// OnWelcome is called whenever the reconciler forces the welcome presentation. May be nil.
	OnWelcome func()
	Notifier  Notifier
	Location  *time.Location
	Logger    *slog.Logger

	now func() time.Time
}

// Reconciler groups conversations for display and handles their deletion.
type Reconciler struct {
	gw     Gateway
	sess   Session
	opts   Options
	logger *slog.Logger

	mu    sync.Mutex
	convs []models.Conversation
}

const errLoggerKey = "error"

// New creates a Reconciler.
func New(gw Gateway, sess Session, opts Options) *Reconciler {
	if opts.UserID == nil {
		opts.UserID = func() string { return "" }
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	return &Reconciler{
		gw:     gw,
		sess:   sess,
		opts:   opts,
		logger: opts.Logger.With(slog.String("module", "history")),
	}
}

// Refresh fetches the user's conversations and returns them grouped. When the user has none left,
// any active session is cleared and the welcome presentation is forced, whoever deleted them.
func (r *Reconciler) Refresh(ctx context.Context) ([]Group, error) {
	convs, err := r.gw.ListConversations(ctx, r.opts.UserID())
	if err != nil {
		r.logger.Error("Failed to list conversations", slog.String(errLoggerKey, err.Error()))
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	r.mu.Lock()
	r.convs = slices.Clone(convs)
	r.mu.Unlock()

	if len(convs) == 0 {
		if id := r.sess.ActiveConversationID(); id != "" {
			r.logger.Info("Conversation list is empty, clearing active session",
				slog.String("conversationID", id))
			r.sess.NewSession()
		}
		r.welcome()
	}
	return r.Groups(), nil
}

// Groups returns the last fetched conversations grouped by date, newest first.
func (r *Reconciler) Groups() []Group {
	r.mu.Lock()
	convs := slices.Clone(r.convs)
	r.mu.Unlock()
	return GroupByDate(convs, r.sess.ActiveConversationID(), r.opts.now(), r.opts.Location)
}

// Delete removes conversation id. On failure the list is left untouched and a notification is raised.
// On success the list cache is invalidated, the active session is cleared if it showed id, and the
// list is refreshed.
func (r *Reconciler) Delete(ctx context.Context, id string) error {
	if err := r.gw.DeleteConversation(ctx, id); err != nil {
		r.logger.Error("Failed to delete conversation",
			slog.String("conversationID", id),
			slog.String(errLoggerKey, err.Error()))
		if r.opts.Notifier != nil {
			r.opts.Notifier.Notify("Failed to delete conversation")
		}
		return fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}

	if r.opts.Invalidate != nil {
		r.opts.Invalidate(r.opts.UserID())
	}
	r.mu.Lock()
	r.convs = slices.DeleteFunc(r.convs, func(c models.Conversation) bool { return c.ID == id })
	r.mu.Unlock()

	if r.sess.CloseConversation(id) {
		r.welcome()
	}

	if _, err := r.Refresh(ctx); err != nil {
		r.logger.Warn("Conversation deleted but list refresh failed",
			slog.String("conversationID", id),
			slog.String(errLoggerKey, err.Error()))
	}
	return nil
}

func (r *Reconciler) welcome() {
	if r.opts.OnWelcome != nil {
		r.opts.OnWelcome()
	}
}
