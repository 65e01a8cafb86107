package gateway_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/MegaGrindStone/evaldash/internal/gateway"
	"github.com/MegaGrindStone/evaldash/internal/models"
)

type countingGateway struct {
	lists atomic.Int32
	gate  chan struct{}

	mu     sync.Mutex
	convs  []models.Conversation
	ctxErr error
}

func (g *countingGateway) ListConversations(ctx context.Context, _ string) ([]models.Conversation, error) {
	g.lists.Add(1)
	if g.gate != nil {
		<-g.gate
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := ctx.Err(); err != nil {
		g.ctxErr = err
		return nil, err
	}
	return append([]models.Conversation(nil), g.convs...), nil
}

func (g *countingGateway) GetConversation(context.Context, string) (models.Conversation, error) {
	return models.Conversation{}, nil
}

func (g *countingGateway) CreateConversation(_ context.Context, nc models.NewConversation) (models.Conversation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := models.Conversation{ID: nc.Title, Title: nc.Title}
	g.convs = append(g.convs, c)
	return c, nil
}

func (g *countingGateway) DeleteConversation(context.Context, string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.convs = nil
	return nil
}

func (g *countingGateway) SendMessage(context.Context, string, models.SendRequest) (models.Reply, error) {
	return models.Reply{Message: "ok"}, nil
}

func TestCacheServesFromCacheUntilMutation(t *testing.T) {
	inner := &countingGateway{}
	c := gateway.NewCache(inner)
	ctx := context.Background()

	for range 3 {
		if _, err := c.ListConversations(ctx, "u"); err != nil {
			t.Fatal(err)
		}
	}
	if n := inner.lists.Load(); n != 1 {
		t.Errorf("inner lists = %d, want 1", n)
	}

	if _, err := c.CreateConversation(ctx, models.NewConversation{UserID: "u", Title: "new"}); err != nil {
		t.Fatal(err)
	}
	convs, err := c.ListConversations(ctx, "u")
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 || convs[0].ID != "new" {
		t.Errorf("list after create = %+v, want the new conversation", convs)
	}

	if err := c.DeleteConversation(ctx, "new"); err != nil {
		t.Fatal(err)
	}
	if convs, _ := c.ListConversations(ctx, "u"); len(convs) != 0 {
		t.Errorf("list after delete = %+v, want empty", convs)
	}

	c.Invalidate("u")
	if _, err := c.ListConversations(ctx, "u"); err != nil {
		t.Fatal(err)
	}
	if n := inner.lists.Load(); n != 4 {
		t.Errorf("inner lists = %d, want 4", n)
	}
}

func TestCacheSharesConcurrentReads(t *testing.T) {
	inner := &countingGateway{gate: make(chan struct{})}
	c := gateway.NewCache(inner)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.ListConversations(context.Background(), "u"); err != nil {
				t.Error(err)
			}
		}()
	}
	// Let every reader reach the shared call before releasing it.
	for inner.lists.Load() == 0 {
	}
	close(inner.gate)
	wg.Wait()

	if n := inner.lists.Load(); n > 5 || n < 1 {
		t.Errorf("inner lists = %d", n)
	}
}

func TestCacheDropsFetchStartedBeforeInvalidation(t *testing.T) {
	inner := &countingGateway{gate: make(chan struct{}), convs: []models.Conversation{{ID: "stale"}}}
	c := gateway.NewCache(inner)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.ListConversations(context.Background(), "u")
	}()
	for inner.lists.Load() == 0 {
	}
	c.Invalidate("u")
	close(inner.gate)
	<-done

	inner.gate = nil
	if _, err := c.ListConversations(context.Background(), "u"); err != nil {
		t.Fatal(err)
	}
	if n := inner.lists.Load(); n != 2 {
		t.Errorf("inner lists = %d, want 2 (stale result must not be cached)", n)
	}
}

func TestCacheSharedReadSurvivesCanceledCaller(t *testing.T) {
	inner := &countingGateway{gate: make(chan struct{}), convs: []models.Conversation{{ID: "c1"}}}
	c := gateway.NewCache(inner)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := c.ListConversations(ctx, "u")
		first <- err
	}()
	for inner.lists.Load() == 0 {
	}

	type result struct {
		convs []models.Conversation
		err   error
	}
	second := make(chan result, 1)
	go func() {
		convs, err := c.ListConversations(context.Background(), "u")
		second <- result{convs, err}
	}()

	cancel()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Errorf("canceled caller error = %v, want context.Canceled", err)
	}
	close(inner.gate)

	res := <-second
	if res.err != nil {
		t.Fatalf("joined caller error = %v", res.err)
	}
	if len(res.convs) != 1 || res.convs[0].ID != "c1" {
		t.Errorf("joined caller got %+v", res.convs)
	}
	inner.mu.Lock()
	defer inner.mu.Unlock()
	if inner.ctxErr != nil {
		t.Errorf("shared fetch saw %v", inner.ctxErr)
	}
	if n := inner.lists.Load(); n != 1 {
		t.Errorf("inner lists = %d, want 1", n)
	}
}
