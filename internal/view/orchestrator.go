// Package view composes the session controller and the history reconciler into what a front-end
// draws: the presentation mode, the history panel layout and the grouped conversation list.
package view

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/MegaGrindStone/evaldash/internal/history"
	"github.com/MegaGrindStone/evaldash/internal/models"
	"github.com/MegaGrindStone/evaldash/internal/session"
)

// Mode is the presentation mode of the conversation area.
type Mode int

// Layout is how the history panel is laid out next to the conversation area.
type Layout int

const (
	// ModeWelcome shows the welcome screen: the working copy has no messages.
	ModeWelcome Mode = iota
	// ModeLoading is shown while a selected conversation is being fetched.
	ModeLoading
	// ModeActive shows the transcript.
	ModeActive
)

const (
	// LayoutSidePanel keeps the history panel beside the transcript.
	LayoutSidePanel Layout = iota
	// LayoutOverlay draws the history panel over the transcript, on demand.
	LayoutOverlay
)

const defaultNarrowWidth = 80

// Session is the part of the session controller the orchestrator drives.
type Session interface {
	State() session.State
	SetInput(text string)
	NewSession()
	SelectConversation(ctx context.Context, id string) error
	Submit(ctx context.Context, text string) error
}

// History is the part of the history reconciler the orchestrator drives.
type History interface {
	Refresh(ctx context.Context) ([]history.Group, error)
	Groups() []history.Group
	Delete(ctx context.Context, id string) error
}

// Snapshot is everything a front-end needs to draw one frame.
type Snapshot struct {
	Mode           Mode
	Layout         Layout
	HistoryVisible bool
	Session        session.State
	Groups         []history.Group
}

// Options configures an Orchestrator.
type Options struct {
	// NarrowWidth is the viewport width below which the history panel becomes an overlay.
	NarrowWidth int
	Logger      *slog.Logger
}

// Orchestrator holds nothing but presentation state. Everything else is read from the session and
// the history reconciler on demand.
type Orchestrator struct {
	sess   Session
	hist   History
	opts   Options
	logger *slog.Logger

	mu          sync.Mutex
	width       int
	panelHidden bool
	overlayOpen bool
}

const errLoggerKey = "error"

func (m Mode) String() string {
	switch m {
	case ModeWelcome:
		return "welcome"
	case ModeLoading:
		return "loading"
	case ModeActive:
		return "active"
	default:
		return "unknown"
	}
}

// DeriveMode computes the presentation mode of s. Welcome covers both no conversation and an empty
// conversation; a selection in flight is loading, never welcome.
func DeriveMode(s session.State) Mode {
	switch {
	case len(s.Messages) > 0:
		return ModeActive
	case s.IsLoading && s.ActiveConversationID != "":
		return ModeLoading
	default:
		return ModeWelcome
	}
}

// New creates an Orchestrator.
func New(sess Session, hist History, opts Options) *Orchestrator {
	if opts.NarrowWidth <= 0 {
		opts.NarrowWidth = defaultNarrowWidth
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		sess:   sess,
		hist:   hist,
		opts:   opts,
		logger: opts.Logger.With(slog.String("module", "view")),
	}
}

// Mode returns the current presentation mode.
func (o *Orchestrator) Mode() Mode {
	return DeriveMode(o.sess.State())
}

// Snapshot returns the current frame.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	layout := o.layout()
	visible := o.historyVisible()
	o.mu.Unlock()

	s := o.sess.State()
	return Snapshot{
		Mode:           DeriveMode(s),
		Layout:         layout,
		HistoryVisible: visible,
		Session:        s,
		Groups:         o.hist.Groups(),
	}
}

// SetWidth records the viewport width, which decides the layout.
func (o *Orchestrator) SetWidth(width int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.width = width
}

// Layout returns the current history panel layout.
func (o *Orchestrator) Layout() Layout {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.layout()
}

// ToggleHistory shows or hides the history panel. It never changes the mode.
func (o *Orchestrator) ToggleHistory() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.layout() == LayoutOverlay {
		o.overlayOpen = !o.overlayOpen
		return
	}
	o.panelHidden = !o.panelHidden
}

// HistoryVisible reports whether the history panel is drawn.
func (o *Orchestrator) HistoryVisible() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.historyVisible()
}

// SetInput forwards the input buffer to the session.
func (o *Orchestrator) SetInput(text string) {
	o.sess.SetInput(text)
}

// Select switches to the conversation id. The overlay closes so the transcript is visible. A
// conversation that no longer exists triggers a history refresh.
func (o *Orchestrator) Select(ctx context.Context, id string) error {
	o.closeOverlay()

	err := o.sess.SelectConversation(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		o.refreshQuietly(ctx)
	}
	return err
}

// Submit sends text through the session. When the send created a conversation, the history is
// refreshed so it is listed.
func (o *Orchestrator) Submit(ctx context.Context, text string) error {
	before := o.sess.State().ActiveConversationID

	err := o.sess.Submit(ctx, text)
	if errors.Is(err, session.ErrEmptyInput) || errors.Is(err, session.ErrBusy) {
		return err
	}
	if after := o.sess.State().ActiveConversationID; after != before {
		o.refreshQuietly(ctx)
	}
	return err
}

// NewChat detaches from the active conversation and shows the welcome screen.
func (o *Orchestrator) NewChat() {
	o.closeOverlay()
	o.sess.NewSession()
}

// Delete deletes the conversation id through the history reconciler.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	return o.hist.Delete(ctx, id)
}

// Refresh reloads the history panel.
func (o *Orchestrator) Refresh(ctx context.Context) ([]history.Group, error) {
	return o.hist.Refresh(ctx)
}

// Groups returns the last grouped history.
func (o *Orchestrator) Groups() []history.Group {
	return o.hist.Groups()
}

func (o *Orchestrator) refreshQuietly(ctx context.Context) {
	if _, err := o.hist.Refresh(ctx); err != nil {
		o.logger.Warn("Failed to refresh history", slog.String(errLoggerKey, err.Error()))
	}
}

func (o *Orchestrator) closeOverlay() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.overlayOpen = false
}

func (o *Orchestrator) layout() Layout {
	if o.width > 0 && o.width < o.opts.NarrowWidth {
		return LayoutOverlay
	}
	return LayoutSidePanel
}

func (o *Orchestrator) historyVisible() bool {
	if o.layout() == LayoutOverlay {
		return o.overlayOpen
	}
	return !o.panelHidden
}
