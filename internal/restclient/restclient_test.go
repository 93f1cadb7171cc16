package restclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v5"
)

func newTestClient(url string, opts ...Option) *Client {
	opts = append([]Option{WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} })}, opts...)
	return New(url, opts...)
}

func TestGet_DecodesJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/thing" {
			t.Errorf("path = %q, want /thing", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("X-Extra"); got != "1" {
			t.Errorf("X-Extra = %q", got)
		}
		_, _ = w.Write([]byte(`{"name":"x"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL+"/", WithAuth(Bearer("tok")), WithHeader("X-Extra", "1"))
	var out struct {
		Name string `json:"name"`
	}
	if err := c.Get(context.Background(), "/thing", &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out.Name != "x" {
		t.Errorf("Name = %q, want x", out.Name)
	}
}

func TestPost_SendsBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "me@example.com" || pass != "secret" {
			t.Errorf("basic auth = %q/%q/%v", user, pass, ok)
		}
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in["a"] != "b" {
			t.Errorf("body = %v", in)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, WithAuth(Basic("me@example.com", "secret")))
	if err := c.Post(context.Background(), "/x", map[string]string{"a": "b"}, nil); err != nil {
		t.Fatalf("Post: %v", err)
	}
}

func TestRetryPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		method    string
		status    int
		wantCalls int32
	}{
		{"GET 5xx retried", http.MethodGet, http.StatusBadGateway, 3},
		{"POST 5xx not retried", http.MethodPost, http.StatusInternalServerError, 1},
		{"GET 4xx not retried", http.MethodGet, http.StatusNotFound, 1},
		{"POST 4xx not retried", http.MethodPost, http.StatusBadRequest, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			err := newTestClient(srv.URL).Do(context.Background(), tt.method, "/p", nil, nil)
			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatalf("err = %v, want *StatusError", err)
			}
			if se.Status != tt.status {
				t.Errorf("Status = %d, want %d", se.Status, tt.status)
			}
			if se.Body != "nope" {
				t.Errorf("Body = %q, want nope", se.Body)
			}
			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestRetry_RecoversAfterTransient(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var out struct {
		OK bool `json:"ok"`
	}
	if err := newTestClient(srv.URL).Get(context.Background(), "/", &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !out.OK || calls.Load() != 2 {
		t.Errorf("ok = %v, calls = %d", out.OK, calls.Load())
	}
}

func TestNetworkErrorRetried(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := newTestClient(url, WithMaxTries(2)).Post(context.Background(), "/", map[string]int{"a": 1}, nil)
	if err == nil {
		t.Fatal("expected error for closed server")
	}
	var se *StatusError
	if errors.As(err, &se) {
		t.Errorf("network failure should not be a StatusError: %v", err)
	}
}

func TestIsStatus(t *testing.T) {
	t.Parallel()

	err := &StatusError{Status: 404}
	if !IsStatus(err, 404) {
		t.Error("IsStatus(404) = false")
	}
	if IsStatus(err, 500) || IsStatus(errors.New("x"), 404) {
		t.Error("IsStatus matched wrongly")
	}
}
