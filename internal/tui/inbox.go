package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// Inbox carries events from outside the program (session changes, change-feed notifications,
// failure notices) into the update loop. It is created before the components that post to it.
//
// Failure notices are queued apart from the other events and are never dropped.
type Inbox struct {
	ch   chan tea.Msg
	wake chan struct{}

	mu     sync.Mutex
	toasts []string
}

// StateChangedMsg tells the model the session state changed. The model reads the fresh state itself.
type StateChangedMsg struct{}

// HistoryChangedMsg tells the model the conversation list changed elsewhere and must be refreshed.
type HistoryChangedMsg struct{}

// WelcomeMsg tells the model the welcome presentation was forced.
type WelcomeMsg struct{}

// toastsMsg delivers the failure notices queued since the last delivery.
type toastsMsg struct {
	texts []string
}

const inboxSize = 256

// NewInbox creates an empty Inbox.
func NewInbox() *Inbox {
	return &Inbox{
		ch:   make(chan tea.Msg, inboxSize),
		wake: make(chan struct{}, 1),
	}
}

// Post delivers msg to the program. When the inbox is full the message is dropped; the state and
// history messages only ask the model to re-read, so a later one covers a dropped one.
func (i *Inbox) Post(msg tea.Msg) {
	select {
	case i.ch <- msg:
	default:
	}
}

// Notify raises a toast. It satisfies the history Notifier interface.
func (i *Inbox) Notify(message string) {
	i.mu.Lock()
	i.toasts = append(i.toasts, message)
	i.mu.Unlock()

	select {
	case i.wake <- struct{}{}:
	default:
	}
}

func (i *Inbox) takeToasts() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	texts := i.toasts
	i.toasts = nil
	return texts
}

// wait returns a command that blocks until the next event arrives.
func (i *Inbox) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-i.ch:
			return msg
		case <-i.wake:
			return toastsMsg{texts: i.takeToasts()}
		}
	}
}
