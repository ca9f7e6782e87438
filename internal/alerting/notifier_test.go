package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottoken/sendMessage" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	note := Notification{
		At:         time.Now(),
		Kind:       KindValidationRejected,
		Readings:   map[string]float64{"qli": 100, "apool": 0},
		Validation: map[string]bool{"qli": true, "apool": false},
	}

	if err := notifier.Notify(context.Background(), note); err != nil {
		t.Fatalf("notify should succeed: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("unexpected chat_id: %#v", received)
	}
	if !strings.Contains(received["text"], "apool: 0 (rejected)") || strings.Contains(received["text"], "qli: 100 (rejected)") {
		t.Fatalf("unexpected text %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), Notification{At: time.Now(), Kind: KindStoreUnavailable}); err == nil {
		t.Fatal("ok=false should fail")
	}
}

type countingNotifier struct {
	calls int
	err   error
}

func (c *countingNotifier) Notify(context.Context, Notification) error {
	c.calls++
	return c.err
}

func TestThrottledCooldownPerKind(t *testing.T) {
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	inner := &countingNotifier{}
	th := NewThrottled(inner, 30*time.Minute, func() time.Time { return now })
	ctx := context.Background()

	_ = th.Notify(ctx, Notification{Kind: KindValidationRejected})
	_ = th.Notify(ctx, Notification{Kind: KindValidationRejected})
	_ = th.Notify(ctx, Notification{Kind: KindStoreUnavailable})
	if inner.calls != 2 {
		t.Fatalf("expected 2 forwarded notifications, got %d", inner.calls)
	}

	now = now.Add(30 * time.Minute)
	_ = th.Notify(ctx, Notification{Kind: KindValidationRejected})
	if inner.calls != 3 {
		t.Fatalf("cooldown elapsed, expected 3 calls, got %d", inner.calls)
	}
}

func TestThrottledRetriesAfterFailure(t *testing.T) {
	inner := &countingNotifier{err: errors.New("boom")}
	th := NewThrottled(inner, time.Hour, nil)
	ctx := context.Background()

	if err := th.Notify(ctx, Notification{Kind: KindUnexpectedFailure}); err == nil {
		t.Fatal("expected inner error")
	}
	_ = th.Notify(ctx, Notification{Kind: KindUnexpectedFailure})
	if inner.calls != 2 {
		t.Fatalf("failed sends must not start the cooldown, got %d calls", inner.calls)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
