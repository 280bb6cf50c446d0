package qwenweb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openrelay/gateway/internal/domain/entity"
	"github.com/openrelay/gateway/internal/domain/service"
	"github.com/openrelay/gateway/internal/domain/valueobject"
	llm "github.com/openrelay/gateway/internal/infrastructure/llm"
	"go.uber.org/zap"
)

type fakeCreds struct {
	cred      *entity.Credential
	getErr    error
	markStale []string
}

func (f *fakeCreds) GetValid(ctx context.Context, backend string) (*entity.Credential, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.cred, nil
}

func (f *fakeCreds) MarkStale(ctx context.Context, backend, reason string) error {
	f.markStale = append(f.markStale, backend)
	return nil
}

var _ llm.CredentialReader = (*fakeCreds)(nil)

func newTestSpec(baseURL string, sessions service.SessionManager, creds llm.CredentialReader) llm.ProviderSpec {
	return llm.ProviderSpec{
		ID:   "qwen",
		Name: "qwen",
		Config: map[string]valueobject.ConfigValue{
			"base_url":      {Kind: valueobject.ConfigString, Str: baseURL},
			"default_model": {Kind: valueobject.ConfigString, Str: "qwen-max"},
		},
		Logger:      zap.NewNop(),
		Sessions:    sessions,
		Credentials: creds,
	}
}

type captureSink struct {
	chunks []service.StreamChunk
}

func (s *captureSink) Send(c service.StreamChunk) error {
	s.chunks = append(s.chunks, c)
	return nil
}

func TestChat_FirstTurnBuffered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing auth header: %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte(`{"content":"he","parent_id":"p1","chat_id":"c1"}` + "\n"))
		w.Write([]byte(`{"content":"llo","finish_reason":"stop","usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}` + "\n"))
	}))
	defer srv.Close()

	sessions := newFakeSessions()
	creds := &fakeCreds{cred: &entity.Credential{Token: "tok", Cookies: "s=1"}}

	p, err := New(newTestSpec(srv.URL, sessions, creds))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := p.Chat(service.ChatRequest{
		Messages: []service.ChatMessage{{Role: "user", Content: "hello"}},
	}, service.ChatContext{Ctx: context.Background(), Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if result.Content != "hello" {
		t.Errorf("Content = %q, want %q", result.Content, "hello")
	}
	if result.ParentID != "p1" || result.ChatID != "c1" {
		t.Errorf("ParentID/ChatID = %q/%q", result.ParentID, result.ChatID)
	}
	if len(sessions.advanced) != 1 {
		t.Errorf("expected Advance to be called once, got %d", len(sessions.advanced))
	}
}

func TestChat_Streaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Write([]byte(`{"content":"he","parent_id":"p1","chat_id":"c1"}` + "\n"))
		flusher.Flush()
		w.Write([]byte(`{"content":"llo","finish_reason":"stop"}` + "\n"))
		flusher.Flush()
	}))
	defer srv.Close()

	sessions := newFakeSessions()
	creds := &fakeCreds{cred: &entity.Credential{Token: "tok", Cookies: ""}}
	p, err := New(newTestSpec(srv.URL, sessions, creds))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sink := &captureSink{}
	result, err := p.Chat(service.ChatRequest{
		Stream:   true,
		Messages: []service.ChatMessage{{Role: "user", Content: "hello"}},
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
		flusher := w.(http.Flusher)
		w.Write([]byte(`{"content":"partial","parent_id":"p1","chat_id":"c1"}` + "\n"))
		flusher.Flush()
		// Hold the stream open until the client goes away; the next
		// chunk never arrives.
		<-r.Context().Done()
	}))
	defer srv.Close()

	sessions := newFakeSessions()
	creds := &fakeCreds{cred: &entity.Credential{Token: "tok", Cookies: "c"}}
	p, err := New(newTestSpec(srv.URL, sessions, creds))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &cancellingSink{cancel: cancel}
	result, err := p.Chat(service.ChatRequest{
		Stream:   true,
		Messages: []service.ChatMessage{{Role: "user", Content: "hello"}},
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
	if result.Error == "" {
		t.Error("expected the abort reason recorded on ChatResult.Error")
	}
}

func TestChat_RejectsToolCalls(t *testing.T) {
	p, err := New(newTestSpec("http://example.invalid", newFakeSessions(), &fakeCreds{cred: &entity.Credential{Token: "t", Cookies: "c"}}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Chat(service.ChatRequest{
		Messages: []service.ChatMessage{{Role: "user", Content: "hi"}},
		Tools:    []any{map[string]any{"type": "function"}},
	}, service.ChatContext{Ctx: context.Background(), Logger: zap.NewNop()})
	if err == nil {
		t.Fatal("expected validation error for tool calls")
	}
}

func TestChat_InvalidCredentialFailsFast(t *testing.T) {
	creds := &fakeCreds{getErr: &credError{}}
	p, err := New(newTestSpec("http://example.invalid", newFakeSessions(), creds))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Chat(service.ChatRequest{
		Messages: []service.ChatMessage{{Role: "user", Content: "hi"}},
	}, service.ChatContext{Ctx: context.Background(), Logger: zap.NewNop()})
	if err == nil {
		t.Fatal("expected error when credentials are invalid")
	}
}

type credError struct{}

func (*credError) Error() string { return "no valid credential" }

func TestChat_401MarksCredentialStale(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	creds := &fakeCreds{cred: &entity.Credential{Token: "tok", Cookies: "c"}}
	p, err := New(newTestSpec(srv.URL, newFakeSessions(), creds))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Chat(service.ChatRequest{
		Messages: []service.ChatMessage{{Role: "user", Content: "hi"}},
	}, service.ChatContext{Ctx: context.Background(), Logger: zap.NewNop()})
	if err == nil {
		t.Fatal("expected error on 401")
	}
	if len(creds.markStale) != 1 {
		t.Errorf("expected MarkStale to be called once, got %d", len(creds.markStale))
	}
}

func TestResolveModel_RejectsUnlinkedModel(t *testing.T) {
	spec := newTestSpec("http://example.invalid", newFakeSessions(), &fakeCreds{cred: &entity.Credential{Token: "t", Cookies: "c"}})
	spec.Config["allowed_models"] = valueobject.ConfigValue{Kind: valueobject.ConfigString, Str: "qwen-max"}
	p, err := New(spec)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.resolveModel("qwen-turbo"); err == nil {
		t.Fatal("expected validation error for unlinked model")
	}
	if m, err := p.resolveModel("qwen-max"); err != nil || m != "qwen-max" {
		t.Fatalf("resolveModel(qwen-max) = %q, %v", m, err)
	}
}
