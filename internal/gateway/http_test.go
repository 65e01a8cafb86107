package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MegaGrindStone/evaldash/internal/gateway"
	"github.com/MegaGrindStone/evaldash/internal/models"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/{userID}/conversations", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []models.Conversation{{ID: "c1", UserID: r.PathValue("userID"), Title: "First"}})
	})
	mux.HandleFunc("GET /conversations/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "c1" {
			w.WriteHeader(http.StatusNotFound)
			writeJSON(w, map[string]string{"error": "conversation not found"})
			return
		}
		writeJSON(w, models.Conversation{ID: "c1", Title: "First", Messages: []models.Message{
			{ID: "m1", Sender: models.SenderUser, Content: "hi"},
		}})
	})
	mux.HandleFunc("POST /conversations", func(w http.ResponseWriter, r *http.Request) {
		var nc models.NewConversation
		if err := json.NewDecoder(r.Body).Decode(&nc); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeJSON(w, models.Conversation{ID: "c2", UserID: nc.UserID, Title: nc.Title})
	})
	mux.HandleFunc("DELETE /conversations/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /conversations/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		var req models.SendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Message == "fail" {
			w.WriteHeader(http.StatusInternalServerError)
			writeJSON(w, map[string]string{"error": "responder unavailable"})
			return
		}
		writeJSON(w, models.Reply{Message: "echo: " + req.Message, AssistantMessageID: "a1"})
	})
	mux.HandleFunc("GET /sse/conversations", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: ping\ndata: x\n\n")
		fmt.Fprint(w, "event: conversations\ndata: c1\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestHTTPGateway(t *testing.T) {
	srv := newTestServer(t)
	gw := gateway.NewHTTP(srv.URL+"/", srv.Client(), slog.Default())
	ctx := context.Background()

	convs, err := gw.ListConversations(ctx, "user 1")
	if err != nil {
		t.Fatalf("ListConversations() error = %v", err)
	}
	if len(convs) != 1 || convs[0].UserID != "user 1" {
		t.Errorf("ListConversations() = %+v", convs)
	}

	conv, err := gw.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if len(conv.Messages) != 1 || conv.Messages[0].Content != "hi" {
		t.Errorf("GetConversation() = %+v", conv)
	}

	if _, err := gw.GetConversation(ctx, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("GetConversation(missing) error = %v, want ErrNotFound", err)
	}

	created, err := gw.CreateConversation(ctx, models.NewConversation{UserID: "u", Title: "Hello"})
	if err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	if diff := cmp.Diff(models.Conversation{ID: "c2", UserID: "u", Title: "Hello"}, created); diff != "" {
		t.Errorf("CreateConversation() mismatch (-want +got):\n%s", diff)
	}

	if err := gw.DeleteConversation(ctx, "c1"); err != nil {
		t.Errorf("DeleteConversation() error = %v", err)
	}

	reply, err := gw.SendMessage(ctx, "c1", models.SendRequest{Sender: models.SenderUser, Message: "ping"})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if diff := cmp.Diff(models.Reply{Message: "echo: ping", AssistantMessageID: "a1"}, reply); diff != "" {
		t.Errorf("SendMessage() mismatch (-want +got):\n%s", diff)
	}

	if _, err := gw.SendMessage(ctx, "c1", models.SendRequest{Sender: models.SenderUser, Message: "fail"}); err == nil {
		t.Error("SendMessage(fail) error = nil")
	}
}

func TestHTTPGatewayWatch(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv := newTestServer(t)
	gw := gateway.NewHTTP(srv.URL, srv.Client(), slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	changed := make(chan string, 4)
	errs := make(chan error, 1)
	go func() { errs <- gw.Watch(ctx, func(id string) { changed <- id }) }()

	select {
	case id := <-changed:
		if id != "c1" {
			t.Errorf("changed id = %q, want c1", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no change event received")
	}

	cancel()
	if err := <-errs; !errors.Is(err, context.Canceled) {
		t.Errorf("Watch() error = %v, want context.Canceled", err)
	}
	srv.Close()
}
