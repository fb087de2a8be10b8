package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var fastRetry = RetryConfig{Attempts: 3, Delay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

func TestHTTPTextService_Translate(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.URL.Path != "/translate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "bonjour " + req["targetLanguage"].(string)})
	}))
	defer srv.Close()

	svc, err := NewHTTPTextService(TextServiceConfig{URL: srv.URL + "/", APIKey: "key", Retry: fastRetry}, nil)
	if err != nil {
		t.Fatalf("NewHTTPTextService: %v", err)
	}
	out, err := svc.Translate(context.Background(), "hello", "fr", "")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if out != "bonjour fr" {
		t.Errorf("unexpected output %q", out)
	}
	if calls.Load() != 2 {
		t.Errorf("expected one retry, got %d calls", calls.Load())
	}
}

func TestHTTPTextService_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad tone", http.StatusBadRequest)
	}))
	defer srv.Close()

	svc, _ := NewHTTPTextService(TextServiceConfig{URL: srv.URL, Retry: fastRetry}, nil)
	_, err := svc.AdjustTone(context.Background(), "x", "angry")
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 StatusError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single call, got %d", calls.Load())
	}
}

func TestNewHTTPTextService_RequiresURL(t *testing.T) {
	if _, err := NewHTTPTextService(TextServiceConfig{}, nil); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestHTTPFetcher_HTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title>News &amp; Views</title><style>p{}</style></head>` +
			`<body><p>First   paragraph.</p><p>Second one.</p><script>evil()</script></body></html>`))
	}))
	defer srv.Close()

	doc, err := NewHTTPFetcher(FetcherConfig{Retry: fastRetry, AllowPrivateNetworks: true}, nil).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if doc.Title != "News & Views" {
		t.Errorf("unexpected title %q", doc.Title)
	}
	if strings.Contains(doc.Text, "evil") || strings.Contains(doc.Text, "<") {
		t.Errorf("markup leaked: %q", doc.Text)
	}
	if !strings.Contains(doc.Text, "First paragraph.") || !strings.Contains(doc.Text, "Second one.") {
		t.Errorf("unexpected text %q", doc.Text)
	}
}

func TestHTTPFetcher_SizeCap(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(strings.Repeat("a", 100)))
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(FetcherConfig{MaxBytes: 10, Retry: fastRetry, AllowPrivateNetworks: true}, nil).Fetch(context.Background(), srv.URL)
	if err == nil || !strings.Contains(err.Error(), "exceeds") {
		t.Fatalf("expected size error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("oversized bodies must not be retried, got %d calls", calls.Load())
	}
}

func TestHTTPFetcher_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewHTTPFetcher(FetcherConfig{Retry: fastRetry, AllowPrivateNetworks: true}, nil).Fetch(context.Background(), srv.URL)
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 StatusError, got %v", err)
	}
}

func TestHTTPFetcher_BlocksPrivateAddresses(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("internal"))
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(FetcherConfig{Retry: fastRetry}, nil).Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrBlockedAddress) {
		t.Fatalf("expected ErrBlockedAddress, got %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("blocked destination must not be reached, got %d calls", calls.Load())
	}
}

func TestIsPublic(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"93.184.216.34", true},
		{"2606:2800:220:1:248:1893:25c8:1946", true},
		{"127.0.0.1", false},
		{"::1", false},
		{"10.1.2.3", false},
		{"172.16.0.1", false},
		{"192.168.1.1", false},
		{"169.254.169.254", false},
		{"100.64.0.1", false},
		{"0.0.0.0", false},
		{"fd00::1", false},
		{"fe80::1", false},
		{"::ffff:127.0.0.1", false},
	}
	for _, tt := range tests {
		if got := isPublic(netip.MustParseAddr(tt.addr)); got != tt.want {
			t.Errorf("isPublic(%s) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}
