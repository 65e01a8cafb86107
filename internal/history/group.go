package history

import (
	"slices"
	"strings"
	"time"

	"github.com/MegaGrindStone/evaldash/internal/models"
)

// Group is a set of conversations created on the same calendar date.
type Group struct {
	Label   string
	Date    string
	Entries []Entry
}

// Entry is a conversation as shown in the history panel. Title may be truncated; FullTitle never is.
type Entry struct {
	ID        string
	Title     string
	FullTitle string
	Active    bool
}

const (
	maxTitleRunes = 24
	ellipsis      = "..."
	dateKeyLayout = "2006-01-02"
	labelLayout   = "Jan 2, 2006"
)

// GroupByDate groups convs by the calendar date of CreatedAt in loc, newest date first. Within a date
// the received order is kept. The entry whose id equals activeID is marked active.
func GroupByDate(convs []models.Conversation, activeID string, now time.Time, loc *time.Location) []Group {
	var groups []Group
	index := map[string]int{}
	for _, c := range convs {
		key := c.CreatedAt.In(loc).Format(dateKeyLayout)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Label: Label(c.CreatedAt, now, loc), Date: key})
		}
		groups[i].Entries = append(groups[i].Entries, Entry{
			ID:        c.ID,
			Title:     Truncate(c.Title),
			FullTitle: c.Title,
			Active:    activeID != "" && c.ID == activeID,
		})
	}

	// Date keys are ISO dates, so string order is chronological order.
	slices.SortStableFunc(groups, func(a, b Group) int {
		return strings.Compare(b.Date, a.Date)
	})
	return groups
}

// Label names the calendar date of t relative to now: "Today", "Yesterday", or e.g. "Mar 4, 2025".
func Label(t, now time.Time, loc *time.Location) string {
	day := t.In(loc).Format(dateKeyLayout)
	today := now.In(loc)
	switch day {
	case today.Format(dateKeyLayout):
		return "Today"
	case today.AddDate(0, 0, -1).Format(dateKeyLayout):
		return "Yesterday"
	}
	return t.In(loc).Format(labelLayout)
}

// Truncate shortens titles longer than 24 characters to their first 24 characters and an ellipsis.
func Truncate(title string) string {
	runes := []rune(title)
	if len(runes) <= maxTitleRunes {
		return title
	}
	return string(runes[:maxTitleRunes]) + ellipsis
}
