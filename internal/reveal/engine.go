// Package reveal schedules the progressive, character-by-character display of live assistant
// messages. Historical and user messages are shown whole and never scheduled.
//
// Progress is tracked by message identity, so re-rendering the same message never restarts it, and a
// message that was torn down mid-reveal is remembered as fully delivered.
package reveal

import (
	"context"
	"sync"
	"time"

	"github.com/MegaGrindStone/evaldash/internal/models"
)

// Engine tracks reveal progress per message id. It has no clock of its own: callers drive it with
// Step and wait for the returned delay, or use Run.
type Engine struct {
	pacer Pacer

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	runes []rune
	shown int
	done  chan struct{}
}

// NewEngine creates an Engine with the given pacing.
func NewEngine(pacer Pacer) *Engine {
	return &Engine{
		pacer:   pacer,
		entries: make(map[string]*entry),
	}
}

// Animates reports whether msg qualifies for a reveal animation.
func Animates(msg models.Message) bool {
	return msg.Sender == models.SenderAssistant && !msg.Historical
}

// Track registers msg and reports whether it needs animating. A message id that is already tracked
// keeps its progress, unless it comes back as a message that does not animate: then it is finished.
// Messages that do not animate are registered as complete.
func (e *Engine) Track(msg models.Message) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if en, ok := e.entries[msg.ID]; ok {
		if !Animates(msg) {
			en.finish()
		}
		return !en.complete()
	}

	en := &entry{runes: []rune(msg.Content), done: make(chan struct{})}
	if !Animates(msg) || len(en.runes) == 0 {
		en.shown = len(en.runes)
		close(en.done)
	}
	e.entries[msg.ID] = en
	return !en.complete()
}

// Step reveals one more character of message id and returns the pause before the next one. done is
// true once the whole content is visible, and for ids that are not tracked.
func (e *Engine) Step(id string) (delay time.Duration, done bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	en, ok := e.entries[id]
	if !ok || en.complete() {
		return 0, true
	}
	r := en.runes[en.shown]
	en.shown++
	if en.complete() {
		close(en.done)
		return 0, true
	}
	return e.pacer.Delay(r), false
}

// Visible returns the revealed prefix of msg. Untracked messages are shown whole.
func (e *Engine) Visible(msg models.Message) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	en, ok := e.entries[msg.ID]
	if !ok || en.complete() {
		return msg.Content
	}
	return string(en.runes[:en.shown])
}

// Progress returns how many characters of message id are visible out of its total.
func (e *Engine) Progress(id string) (shown, total int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	en, ok := e.entries[id]
	if !ok {
		return 0, 0
	}
	return en.shown, len(en.runes)
}

// Done reports whether message id is fully revealed. Untracked ids count as done.
func (e *Engine) Done(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	en, ok := e.entries[id]
	return !ok || en.complete()
}

// Completed returns a channel closed when message id is fully revealed. For untracked ids the
// returned channel is already closed.
func (e *Engine) Completed(id string) <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	en, ok := e.entries[id]
	if !ok {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return en.done
}

// Finish marks message id as fully delivered.
func (e *Engine) Finish(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if en, ok := e.entries[id]; ok {
		en.finish()
	}
}

// FinishAll marks every tracked message as fully delivered. Call it when the owning view goes away.
func (e *Engine) FinishAll() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, en := range e.entries {
		en.finish()
	}
}

// Retain finishes and forgets every tracked message whose id is not in ids. Call it with the ids of
// the working copy whenever the working copy is replaced. A forgotten id that comes back is tracked
// anew.
func (e *Engine) Retain(ids ...string) {
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for id, en := range e.entries {
		if _, ok := keep[id]; ok {
			continue
		}
		en.finish()
		delete(e.entries, id)
	}
}

// Run drives the reveal of message id on a timer until it completes or ctx is done, calling onStep
// after each character. If ctx ends first the message is finished, so nothing stays partial.
func (e *Engine) Run(ctx context.Context, id string, onStep func(shown int)) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			e.Finish(id)
			return ctx.Err()
		case <-timer.C:
		}

		delay, done := e.Step(id)
		if onStep != nil {
			shown, _ := e.Progress(id)
			onStep(shown)
		}
		if done {
			return nil
		}
		timer.Reset(delay)
	}
}

func (en *entry) complete() bool {
	return en.shown >= len(en.runes)
}

func (en *entry) finish() {
	if en.complete() {
		return
	}
	en.shown = len(en.runes)
	close(en.done)
}
