package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openrelay/gateway/internal/domain/service"
	"github.com/openrelay/gateway/internal/domain/valueobject"
	llm "github.com/openrelay/gateway/internal/infrastructure/llm"
	"go.uber.org/zap"
)

func newTestSpec(baseURL string) llm.ProviderSpec {
	return llm.ProviderSpec{
		ID:   "test-openai",
		Name: "test-openai",
		Config: map[string]valueobject.ConfigValue{
			"base_url": {Kind: valueobject.ConfigString, Str: baseURL},
			"api_key":  {Kind: valueobject.ConfigString, Str: "sk-test", Sensitive: true},
		},
		Logger: zap.NewNop(),
	}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	spec := newTestSpec("http://example.invalid")
	delete(spec.Config, "api_key")

	if _, err := New(spec); err == nil {
		t.Fatal("expected error when api_key is missing")
	}
}

func TestNew_DefaultsBaseURL(t *testing.T) {
	spec := newTestSpec("")
	p, err := New(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.baseURL != "https://api.openai.com/v1" {
		t.Errorf("baseURL = %q, want default", p.baseURL)
	}
}

func TestChat_Buffered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing/incorrect Authorization header: %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"1","model":"gpt-test","choices":[{"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`))
	}))
	defer srv.Close()

	p, err := New(newTestSpec(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := p.Chat(service.ChatRequest{
		Model:    "gpt-test",
		Messages: []service.ChatMessage{{Role: "user", Content: "hi"}},
	}, service.ChatContext{Ctx: context.Background(), Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if result.Content != "hello" {
		t.Errorf("Content = %q, want %q", result.Content, "hello")
	}
	if result.Usage.TotalTokens != 7 {
		t.Errorf("TotalTokens = %d, want 7", result.Usage.TotalTokens)
	}
}

func TestChat_UpstreamAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	p, err := New(newTestSpec(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = p.Chat(service.ChatRequest{
		Model:    "gpt-test",
		Messages: []service.ChatMessage{{Role: "user", Content: "hi"}},
	}, service.ChatContext{Ctx: context.Background(), Logger: zap.NewNop()})
	if err == nil {
		t.Fatal("expected error on 401")
	}
}

type captureSink struct {
	chunks []service.StreamChunk
}

func (s *captureSink) Send(c service.StreamChunk) error {
	s.chunks = append(s.chunks, c)
	return nil
}

func TestChat_Streaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		w.Write([]byte("data: {\"id\":\"1\",\"choices\":[{\"delta\":{\"content\":\"he\"}}]}\n\n"))
		flusher.Flush()
		w.Write([]byte("data: {\"id\":\"1\",\"choices\":[{\"delta\":{\"content\":\"llo\"},\"finish_reason\":\"stop\"}]}\n\n"))
		flusher.Flush()
		w.Write([]byte("data: [DONE]\n\n"))
		flusher.Flush()
	}))
	defer srv.Close()

	p, err := New(newTestSpec(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sink := &captureSink{}
	result, err := p.Chat(service.ChatRequest{
		Model:    "gpt-test",
		Stream:   true,
		Messages: []service.ChatMessage{{Role: "user", Content: "hi"}},
	}, service.ChatContext{Ctx: context.Background(), Sink: sink, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if result.Content != "hello" {
		t.Errorf("Content = %q, want %q", result.Content, "hello")
	}
	if len(sink.chunks) != 3 {
		t.Fatalf("got %d chunks, want 3 (2 deltas + terminal)", len(sink.chunks))
	}
	if sink.chunks[len(sink.chunks)-1].FinishReason != "stop" {
		t.Errorf("terminal chunk finish_reason = %q, want stop", sink.chunks[len(sink.chunks)-1].FinishReason)
	}
}

// cancellingSink cancels the call's context once the first delta lands,
// simulating a client that disconnects mid-stream.
type cancellingSink struct {
	captureSink
	cancel context.CancelFunc
}

func (s *cancellingSink) Send(c service.StreamChunk) error {
	err := s.captureSink.Send(c)
	s.cancel()
	return err
}

func TestChat_StreamingClientCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		w.Write([]byte("data: {\"id\":\"1\",\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n"))
		flusher.Flush()
		// Hold the stream open until the client goes away; the next
		// chunk never arrives.
		<-r.Context().Done()
	}))
	defer srv.Close()

	p, err := New(newTestSpec(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &cancellingSink{cancel: cancel}
	result, err := p.Chat(service.ChatRequest{
		Model:    "gpt-test",
		Stream:   true,
		Messages: []service.ChatMessage{{Role: "user", Content: "hi"}},
	}, service.ChatContext{Ctx: ctx, Sink: sink, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("Chat after cancellation: %v (a cancellation must finalise, not fail)", err)
	}
	if result.FinishReason != "cancelled" {
		t.Errorf("FinishReason = %q, want cancelled", result.FinishReason)
	}
	if result.Content != "partial" {
		t.Errorf("Content = %q, want the partial content preserved", result.Content)
	}
}
