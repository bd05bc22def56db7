package qwen

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/qwenverse/qwenbridge/internal/interfaces"
)

func TestExchangeToken(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/auths/refresh" {
			t.Errorf("unexpected call: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret-1" {
			t.Errorf("Authorization = %q, want Bearer secret-1", got)
		}
		if got := r.Header.Get("Source"); got != "web" {
			t.Errorf("Source = %q, want web", got)
		}
		_, _ = w.Write([]byte(`{"token":"fresh-bearer","expires_at":1790000000}`))
	}))
	defer server.Close()

	token, err := NewClient(server.URL).ExchangeToken(context.Background(), "secret-1")
	if err != nil {
		t.Fatalf("ExchangeToken() error = %v", err)
	}
	if token != "fresh-bearer" {
		t.Fatalf("token = %q, want fresh-bearer", token)
	}
}

func TestExchangeTokenRejectedStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"detail":"token invalid"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := NewClient(server.URL).ExchangeToken(context.Background(), "secret-1")
	if err == nil {
		t.Fatalf("ExchangeToken() error = nil, want status error")
	}
	var statusError interfaces.StatusError
	if !errors.As(err, &statusError) || statusError.StatusCode() != http.StatusUnauthorized {
		t.Fatalf("error = %v, want StatusError with 401", err)
	}
}

func TestOpenSession(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/chats/new" {
			t.Errorf("path = %s, want /api/v2/chats/new", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if got := gjson.GetBytes(body, "models.0").String(); got != "qwen3-max" {
			t.Errorf("models.0 = %q, want qwen3-max", got)
		}
		if got := gjson.GetBytes(body, "chat_type").String(); got != "t2i" {
			t.Errorf("chat_type = %q, want t2i", got)
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"id":"chat-42"}}`))
	}))
	defer server.Close()

	chatID, err := NewClient(server.URL).OpenSession(context.Background(), "bearer", "qwen3-max", "t2i")
	if err != nil {
		t.Fatalf("OpenSession() error = %v", err)
	}
	if chatID != "chat-42" {
		t.Fatalf("chatID = %q, want chat-42", chatID)
	}
}

func TestDispatch(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("chat_id"); got != "chat-42" {
			t.Errorf("chat_id = %q, want chat-42", got)
		}
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("Accept = %q, want text/event-stream", got)
		}
		_, _ = w.Write([]byte("data: {}\n\n"))
	}))
	defer server.Close()

	body, err := NewClient(server.URL).Dispatch(context.Background(), "bearer", "chat-42", []byte(`{}`), true)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	defer func() {
		_ = body.Close()
	}()
	raw, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.HasPrefix(string(raw), "data: ") {
		t.Fatalf("body = %q, want raw upstream stream", raw)
	}
}

func TestDispatchNon2xxDrained(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"detail":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := NewClient(server.URL).Dispatch(context.Background(), "bearer", "chat-42", []byte(`{}`), true)
	if err == nil {
		t.Fatalf("Dispatch() error = nil, want status error")
	}
	var statusError interfaces.StatusError
	if !errors.As(err, &statusError) || statusError.StatusCode() != http.StatusTooManyRequests {
		t.Fatalf("error = %v, want StatusError with 429", err)
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("error = %v, want upstream body included", err)
	}
}

