package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alexschlessinger/pollychat/messages"
)

func testConfig(url string) Config {
	return Config{
		BaseURL:    url,
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Timeout:    2 * time.Second,
	}
}

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	return c
}

func TestSendMessageRequestShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.URL.Path != ChatPath {
			t.Errorf("Expected path %s, got %s", ChatPath, r.URL.Path)
		}
		for k, want := range map[string]string{
			"Content-Type":  "application/json",
			"Accept":        "text/event-stream",
			"Cache-Control": "no-cache",
		} {
			if got := r.Header.Get(k); got != want {
				t.Errorf("Header %s = %q, want %q", k, got, want)
			}
		}
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode body: %v", err)
		}
		if req.Question != "what time is it?" {
			t.Errorf("Expected question to be forwarded, got %q", req.Question)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, messages.DataLine(messages.ChatEvent{Content: "hi"}))
	}))
	defer server.Close()

	c := newTestClient(t, testConfig(server.URL+"/"))
	body, err := c.SendMessage(context.Background(), "what time is it?")
	if err != nil {
		t.Fatalf("SendMessage() error: %v", err)
	}
	defer body.Close()

	data, _ := io.ReadAll(body)
	if !strings.Contains(string(data), `"content":"hi"`) {
		t.Errorf("Unexpected body %q", data)
	}
}

func TestSendMessageRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "data: {}\n\n")
	}))
	defer server.Close()

	c := newTestClient(t, testConfig(server.URL))
	body, err := c.SendMessage(context.Background(), "q")
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	body.Close()
	if calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls.Load())
	}
}

func TestSendMessageExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := newTestClient(t, testConfig(server.URL))
	_, err := c.SendMessage(context.Background(), "q")
	ce, ok := messages.AsChatError(err)
	if !ok {
		t.Fatalf("Expected ChatError, got %v", err)
	}
	if ce.Type != messages.ErrorConnection {
		t.Errorf("Expected connection error, got %s", ce.Type)
	}
	if !strings.Contains(ce.Message, "failed after 4 attempts") {
		t.Errorf("Expected attempt count in message, got %q", ce.Message)
	}
	if calls.Load() != 4 {
		t.Errorf("Expected 4 attempts, got %d", calls.Load())
	}
}

func TestSendMessageDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad question", http.StatusBadRequest)
	}))
	defer server.Close()

	c := newTestClient(t, testConfig(server.URL))
	_, err := c.SendMessage(context.Background(), "q")
	ce, ok := messages.AsChatError(err)
	if !ok {
		t.Fatalf("Expected ChatError, got %v", err)
	}
	if ce.Type != messages.ErrorServer || ce.Code != "400" {
		t.Errorf("Expected server error 400, got %s %s", ce.Type, ce.Code)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Body != "bad question" {
		t.Errorf("Expected StatusError with body, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected a single attempt, got %d", calls.Load())
	}
}

func TestSendMessageRetriesTooManyRequests(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, "data: {}\n\n")
	}))
	defer server.Close()

	c := newTestClient(t, testConfig(server.URL))
	body, err := c.SendMessage(context.Background(), "q")
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	body.Close()
	if calls.Load() != 2 {
		t.Errorf("Expected 2 attempts, got %d", calls.Load())
	}
}

func TestSendMessageConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	cfg := testConfig(url)
	cfg.MaxRetries = 1
	c := newTestClient(t, cfg)
	_, err := c.SendMessage(context.Background(), "q")
	ce, ok := messages.AsChatError(err)
	if !ok || ce.Type != messages.ErrorConnection {
		t.Fatalf("Expected connection error, got %v", err)
	}
	if !strings.Contains(ce.Message, "failed after 2 attempts") {
		t.Errorf("Unexpected message %q", ce.Message)
	}
}

func TestSendMessageCancelledDuringBackoff(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.BaseDelay = time.Hour
	cfg.MaxDelay = time.Hour
	c := newTestClient(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for calls.Load() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	start := time.Now()
	_, err := c.SendMessage(ctx, "q")
	if time.Since(start) > 10*time.Second {
		t.Fatal("Expected cancellation to interrupt the backoff wait")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled in chain, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected no further attempts after cancel, got %d", calls.Load())
	}
}

func TestSendMessageEmptyBody(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.MaxRetries = 2
	c := newTestClient(t, cfg)
	_, err := c.SendMessage(context.Background(), "q")
	if !errors.Is(err, ErrEmptyBody) {
		t.Errorf("Expected ErrEmptyBody in chain, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected empty bodies to be retried, got %d attempts", calls.Load())
	}
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.MaxRetries = 0
	cfg.Breaker = &BreakerConfig{MaxFailures: 2, Timeout: time.Minute}
	c := newTestClient(t, cfg)

	for i := 0; i < 2; i++ {
		if _, err := c.SendMessage(context.Background(), "q"); err == nil {
			t.Fatal("Expected failure")
		}
	}
	_, err := c.SendMessage(context.Background(), "q")
	ce, ok := messages.AsChatError(err)
	if !ok || ce.Code != "circuit_open" {
		t.Fatalf("Expected circuit_open error, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected open circuit to skip the server, got %d calls", calls.Load())
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{60, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := Backoff(time.Second, 10*time.Second, tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
	if got := Backoff(time.Second, 0, 3); got != 8*time.Second {
		t.Errorf("Expected uncapped backoff of 8s, got %v", got)
	}
	for _, attempt := range []int{40, 63, 64, 200} {
		if got := Backoff(time.Second, 0, attempt); got <= 0 {
			t.Errorf("Expected uncapped Backoff(%d) to stay positive, got %v", attempt, got)
		}
	}
	if got := Backoff(time.Second, 0, 200); got != time.Duration(math.MaxInt64) {
		t.Errorf("Expected uncapped backoff to saturate, got %v", got)
	}
}

func TestBreakerConfigDefaults(t *testing.T) {
	got := BreakerConfig{}.withDefaults()
	want := BreakerConfig{MaxFailures: 5, Timeout: 30 * time.Second, Interval: 60 * time.Second}
	if got != want {
		t.Errorf("Expected %+v, got %+v", want, got)
	}

	custom := BreakerConfig{MaxFailures: 2, Timeout: time.Second, Interval: 5 * time.Second}
	if got := custom.withDefaults(); got != custom {
		t.Errorf("Expected explicit settings to be kept, got %+v", got)
	}
}

func TestNewClientValidatesURL(t *testing.T) {
	for _, u := range []string{"", "ftp://example.com", "://bad"} {
		if _, err := NewClient(Config{BaseURL: u}); err == nil {
			t.Errorf("Expected error for %q", u)
		}
	}
}
