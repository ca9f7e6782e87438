package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoginRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Auth/Login" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var creds Credentials
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds.Username != "user" {
			t.Errorf("unexpected username %q", creds.Username)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "abcdefghijklmnop"})
	}))
	defer srv.Close()

	auth := NewAuthenticator(AuthOptions{BaseURL: srv.URL, Attempts: 3, Backoff: time.Millisecond}, noopLogger())
	token, err := auth.Login(context.Background(), Credentials{Username: "user", Password: "pw"})
	if err != nil {
		t.Fatalf("login should succeed on third attempt: %v", err)
	}
	if token != "abcdefghijklmnop" || calls.Load() != 3 {
		t.Fatalf("token %q after %d calls", token, calls.Load())
	}
	if Preview(token) != "abcdefghij..." {
		t.Fatalf("unexpected preview %q", Preview(token))
	}
}

func TestLoginGivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	auth := NewAuthenticator(AuthOptions{BaseURL: srv.URL, Attempts: 3, Backoff: time.Millisecond}, noopLogger())
	if _, err := auth.Login(context.Background(), Credentials{Username: "u", Password: "p"}); err == nil {
		t.Fatal("expected failure")
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestLoginRequiresCredentials(t *testing.T) {
	auth := NewAuthenticator(AuthOptions{BaseURL: "http://127.0.0.1:0"}, noopLogger())
	if _, err := auth.Login(context.Background(), Credentials{}); err == nil {
		t.Fatal("missing credentials should fail")
	}
}
