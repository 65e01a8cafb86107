package history_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MegaGrindStone/evaldash/internal/history"
	"github.com/MegaGrindStone/evaldash/internal/models"
	"github.com/google/go-cmp/cmp"
)

type mockGateway struct {
	convs     []models.Conversation
	listErr   error
	deleteErr error
	deleted   []string
	listedFor []string
}

type mockSession struct {
	active string
	resets int
}

type mockNotifier struct {
	messages []string
}

func (m *mockGateway) ListConversations(_ context.Context, userID string) ([]models.Conversation, error) {
	m.listedFor = append(m.listedFor, userID)
	if m.listErr != nil {
		return nil, m.listErr
	}
	return slices.Clone(m.convs), nil
}

func (m *mockGateway) DeleteConversation(_ context.Context, id string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = append(m.deleted, id)
	m.convs = slices.DeleteFunc(m.convs, func(c models.Conversation) bool { return c.ID == id })
	return nil
}

func (m *mockSession) ActiveConversationID() string { return m.active }

func (m *mockSession) CloseConversation(id string) bool {
	if id == "" || id != m.active {
		return false
	}
	m.NewSession()
	return true
}

func (m *mockSession) NewSession() {
	m.active = ""
	m.resets++
}

func (m *mockNotifier) Notify(message string) {
	m.messages = append(m.messages, message)
}

func TestGroupByDate(t *testing.T) {
	loc := time.UTC
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, loc)
	convs := []models.Conversation{
		{ID: "old", Title: "Old", CreatedAt: time.Date(2025, 3, 4, 23, 59, 0, 0, loc)},
		{ID: "t1", Title: "Morning", CreatedAt: time.Date(2025, 3, 10, 1, 0, 0, 0, loc)},
		{ID: "y1", Title: "Yesterday one", CreatedAt: time.Date(2025, 3, 9, 12, 0, 0, 0, loc)},
		{ID: "t2", Title: "Earlier but listed second", CreatedAt: time.Date(2025, 3, 10, 0, 5, 0, 0, loc)},
	}

	got := history.GroupByDate(convs, "y1", now, loc)
	want := []history.Group{
		{Label: "Today", Date: "2025-03-10", Entries: []history.Entry{
			{ID: "t1", Title: "Morning", FullTitle: "Morning"},
			{ID: "t2", Title: "Earlier but listed secon...", FullTitle: "Earlier but listed second"},
		}},
		{Label: "Yesterday", Date: "2025-03-09", Entries: []history.Entry{
			{ID: "y1", Title: "Yesterday one", FullTitle: "Yesterday one", Active: true},
		}},
		{Label: "Mar 4, 2025", Date: "2025-03-04", Entries: []history.Entry{
			{ID: "old", Title: "Old", FullTitle: "Old"},
		}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GroupByDate() mismatch (-want +got):\n%s", diff)
	}
}

func TestGroupByDateUsesLocation(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, tokyo)
	// 20:00 UTC on the 9th is already the 10th in Tokyo.
	convs := []models.Conversation{{ID: "a", CreatedAt: time.Date(2025, 3, 9, 20, 0, 0, 0, time.UTC)}}

	got := history.GroupByDate(convs, "", now, tokyo)
	if len(got) != 1 || got[0].Label != "Today" {
		t.Errorf("GroupByDate() = %+v, want a single Today group", got)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"short", "short"},
		{strings.Repeat("a", 24), strings.Repeat("a", 24)},
		{strings.Repeat("a", 25), strings.Repeat("a", 24) + "..."},
		{strings.Repeat("é", 30), strings.Repeat("é", 24) + "..."},
	}
	for _, tt := range tests {
		if got := history.Truncate(tt.in); got != tt.want {
			t.Errorf("Truncate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRefreshEmptyClearsActiveSession(t *testing.T) {
	gw := &mockGateway{}
	sess := &mockSession{active: "ghost"}
	welcomes := 0
	r := history.New(gw, sess, history.Options{
		UserID:    func() string { return "user-1" },
		OnWelcome: func() { welcomes++ },
	})

	groups, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("groups = %d, want 0", len(groups))
	}
	if sess.active != "" || sess.resets != 1 {
		t.Errorf("session active = %q resets = %d, want cleared once", sess.active, sess.resets)
	}
	if welcomes != 1 {
		t.Errorf("welcomes = %d, want 1", welcomes)
	}
	if diff := cmp.Diff([]string{"user-1"}, gw.listedFor); diff != "" {
		t.Errorf("listedFor mismatch (-want +got):\n%s", diff)
	}
}

func TestRefreshKeepsSessionWhenListed(t *testing.T) {
	gw := &mockGateway{convs: []models.Conversation{{ID: "a", Title: "A", CreatedAt: time.Now()}}}
	sess := &mockSession{active: "a"}
	r := history.New(gw, sess, history.Options{})

	groups, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if sess.resets != 0 {
		t.Errorf("resets = %d, want 0", sess.resets)
	}
	if len(groups) != 1 || !groups[0].Entries[0].Active {
		t.Errorf("groups = %+v, want one active entry", groups)
	}
}

func TestDeleteActiveConversation(t *testing.T) {
	gw := &mockGateway{convs: []models.Conversation{
		{ID: "a", Title: "A", CreatedAt: time.Now()},
		{ID: "b", Title: "B", CreatedAt: time.Now()},
	}}
	sess := &mockSession{active: "a"}
	var invalidated []string
	welcomes := 0
	r := history.New(gw, sess, history.Options{
		UserID:     func() string { return "user-1" },
		Invalidate: func(userID string) { invalidated = append(invalidated, userID) },
		OnWelcome:  func() { welcomes++ },
	})
	if _, err := r.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := r.Delete(context.Background(), "a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if sess.active != "" {
		t.Errorf("active = %q, want cleared", sess.active)
	}
	if welcomes != 1 {
		t.Errorf("welcomes = %d, want 1", welcomes)
	}
	if diff := cmp.Diff([]string{"user-1"}, invalidated); diff != "" {
		t.Errorf("invalidated mismatch (-want +got):\n%s", diff)
	}
	groups := r.Groups()
	if len(groups) != 1 || len(groups[0].Entries) != 1 || groups[0].Entries[0].ID != "b" {
		t.Errorf("groups after delete = %+v, want only b", groups)
	}
}

func TestDeleteInactiveConversationKeepsSession(t *testing.T) {
	gw := &mockGateway{convs: []models.Conversation{
		{ID: "a", CreatedAt: time.Now()},
		{ID: "b", CreatedAt: time.Now()},
	}}
	sess := &mockSession{active: "a"}
	r := history.New(gw, sess, history.Options{})

	if err := r.Delete(context.Background(), "b"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if sess.active != "a" || sess.resets != 0 {
		t.Errorf("session = %+v, want untouched", sess)
	}
}

func TestDeleteFailureNotifies(t *testing.T) {
	gw := &mockGateway{
		convs:     []models.Conversation{{ID: "a", CreatedAt: time.Now()}},
		deleteErr: errors.New("network down"),
	}
	sess := &mockSession{active: "a"}
	notifier := &mockNotifier{}
	invalidations := 0
	r := history.New(gw, sess, history.Options{
		Notifier:   notifier,
		Invalidate: func(string) { invalidations++ },
	})
	if _, err := r.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := r.Delete(context.Background(), "a"); err == nil {
		t.Fatal("Delete() error = nil, want failure")
	}
	if len(notifier.messages) != 1 {
		t.Errorf("notifications = %v, want exactly one", notifier.messages)
	}
	if sess.active != "a" || invalidations != 0 {
		t.Errorf("state changed on failure: active = %q invalidations = %d", sess.active, invalidations)
	}
	if groups := r.Groups(); len(groups) != 1 || groups[0].Entries[0].ID != "a" {
		t.Errorf("groups after failed delete = %+v, want a untouched", groups)
	}
}

func TestRefreshFailure(t *testing.T) {
	gw := &mockGateway{listErr: errors.New("timeout")}
	sess := &mockSession{active: "a"}
	r := history.New(gw, sess, history.Options{})

	if _, err := r.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh() error = nil, want failure")
	}
	if sess.resets != 0 {
		t.Errorf("resets = %d, want 0 on failed refresh", sess.resets)
	}
}
