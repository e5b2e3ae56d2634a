package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nneupane1/telemetry-agent/internal/config"
)

func TestClient_GenerateText(t *testing.T) {
	var got chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  VIN is at HIGH risk.  "},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	client, err := New(server.URL+"/v1/", "sk-test", WithHTTPClient(server.Client()), WithModel("test-model"), WithSampling(0.1, 256))
	if err != nil {
		t.Fatal(err)
	}
	text, err := client.GenerateText(context.Background(), "Subject: VIN X")
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if text != "VIN is at HIGH risk." {
		t.Errorf("text = %q", text)
	}
	if got.Model != "test-model" || got.MaxTokens != 256 || got.Temperature != 0.1 {
		t.Errorf("request = %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "Subject: VIN X" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestClient_ErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
		substr string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key","type":"invalid_request_error"}}`, IsUnauthorized, "[invalid_request_error] bad key"},
		{"rate limited", http.StatusTooManyRequests, ``, IsRateLimited, "429 Too Many Requests"},
		{"plain body", http.StatusBadGateway, `upstream down`, func(err error) bool { return HasStatusCode(err, 502) }, "upstream down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client, _ := New(server.URL, "k", WithHTTPClient(server.Client()))
			_, err := client.GenerateText(context.Background(), "p")
			if err == nil || !tt.check(err) {
				t.Fatalf("err = %v", err)
			}
			if !strings.Contains(err.Error(), tt.substr) {
				t.Errorf("err = %q, want substring %q", err, tt.substr)
			}
		})
	}
}

func TestClient_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()
	client, _ := New(server.URL, "k", WithHTTPClient(server.Client()))
	if _, err := client.GenerateText(context.Background(), "p"); err == nil {
		t.Error("expected error for empty choices")
	}
}

func TestClient_HonoursContext(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client, _ := New(server.URL, "k", WithHTTPClient(server.Client()))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := client.GenerateText(ctx, "p"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("GenerateText outlived its context")
	}
}

func TestClient_Probe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/models" {
			w.Write([]byte(`{"data":[]}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()
	client, _ := New(server.URL, "k", WithHTTPClient(server.Client()))
	if err := client.Probe(context.Background()); err != nil {
		t.Errorf("Probe: %v", err)
	}
}

func TestNew_TimeoutLeavesCallerClientAlone(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		want    time.Duration
	}{
		{"no timeout keeps the client", 0, 5 * time.Second},
		{"timeout applies to a copy", 2 * time.Second, 2 * time.Second},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			shared := &http.Client{Timeout: 5 * time.Second}
			client, err := New("http://llm.invalid", "k", WithHTTPClient(shared), WithTimeout(tc.timeout))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if diff := cmp.Diff(5*time.Second, shared.Timeout); diff != "" {
				t.Errorf("caller client timeout (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tc.want, client.httpClient.Timeout); diff != "" {
				t.Errorf("client timeout (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFromConfig(t *testing.T) {
	if _, err := FromConfig(config.LLM{}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("empty config: err = %v", err)
	}
	if _, err := FromConfig(config.LLM{Provider: "bard", APIKey: "k", Endpoint: "http://x"}); err == nil {
		t.Error("unknown provider should fail")
	}
	if _, err := FromConfig(config.LLM{Provider: "openai", APIKey: "k", Endpoint: "http://x", Temperature: 3}); err == nil {
		t.Error("temperature out of range should fail")
	}
	c, err := FromConfig(config.Default().LLM)
	if !errors.Is(err, ErrNotConfigured) || c != nil {
		t.Errorf("default config without key: %v, %v", c, err)
	}
}

func TestStatic(t *testing.T) {
	s := &Static{Text: "ok"}
	if got, _ := s.GenerateText(context.Background(), "one"); got != "ok" {
		t.Errorf("got %q", got)
	}
	s.Err = errors.New("down")
	if _, err := s.GenerateText(context.Background(), "two"); err == nil || s.Probe(context.Background()) == nil {
		t.Error("expected configured error")
	}
	if p := s.Prompts(); len(p) != 2 || p[1] != "two" {
		t.Errorf("prompts = %v", p)
	}
}
