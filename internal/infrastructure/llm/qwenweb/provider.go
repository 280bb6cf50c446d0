package qwenweb

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/openrelay/gateway/internal/domain/service"
	"github.com/openrelay/gateway/internal/domain/valueobject"
	llm "github.com/openrelay/gateway/internal/infrastructure/llm"
	gerrors "github.com/openrelay/gateway/pkg/errors"
	"go.uber.org/zap"
)

// TypeName is the provider type this package registers under.
const TypeName = "qwen-web"

// Backend identifies this adapter's credential in the credential store.
const Backend = "qwen-web"

// maxErrorExcerpt bounds how much of an upstream error body lands in an
// ErrorRecord's Payload.
const maxErrorExcerpt = 4096

func init() {
	llm.RegisterFactory(TypeName, llm.Factory{
		RequiredConfig: []llm.RequiredConfigKey{
			{Key: "base_url", Kind: valueobject.ConfigString, Required: true},
			{Key: "default_model", Kind: valueobject.ConfigString, Required: true},
			{Key: "allowed_models", Kind: valueobject.ConfigString, Required: false},
			{Key: "timeout", Kind: valueobject.ConfigInt, Required: false},
		},
		New: func(spec llm.ProviderSpec) (service.Provider, error) {
			return New(spec)
		},
	})
}

// Provider is the stateful Qwen-web adapter.
type Provider struct {
	name          string
	baseURL       string
	defaultModel  string
	allowedModels map[string]bool // nil/empty => any requested model accepted
	timeout       time.Duration
	client        *http.Client
	sessions      service.SessionManager
	credentials   llm.CredentialReader
	logger        *zap.Logger
}

// New constructs the adapter. Both a SessionManager and a CredentialReader
// must be present on spec — this type cannot operate statelessly.
func New(spec llm.ProviderSpec) (*Provider, error) {
	if spec.Sessions == nil {
		return nil, gerrors.Internal("qwen-web provider requires a session manager", nil)
	}
	if spec.Credentials == nil {
		return nil, gerrors.Internal("qwen-web provider requires a credential reader", nil)
	}

	baseURL := strings.TrimRight(spec.Config["base_url"].Str, "/")
	defaultModel := spec.Config["default_model"].Str

	var allowed map[string]bool
	if v, ok := spec.Config["allowed_models"]; ok && v.Str != "" {
		allowed = map[string]bool{}
		for _, m := range strings.Split(v.Str, ",") {
			m = strings.TrimSpace(m)
			if m != "" {
				allowed[m] = true
			}
		}
	}

	timeoutMS := spec.Timeout
	if timeoutMS <= 0 {
		timeoutMS = 30000
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	logger := spec.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Provider{
		name:          spec.ID,
		baseURL:       baseURL,
		defaultModel:  defaultModel,
		allowedModels: allowed,
		timeout:       time.Duration(timeoutMS) * time.Millisecond,
		client:        &http.Client{Transport: transport},
		sessions:      spec.Sessions,
		credentials:   spec.Credentials,
		logger:        logger.With(zap.String("provider", spec.ID), zap.String("type", TypeName)),
	}, nil
}

var _ service.Provider = (*Provider)(nil)

func (p *Provider) Name() string { return p.name }

func (p *Provider) resolveModel(requested string) (string, error) {
	if requested == "" {
		return p.defaultModel, nil
	}
	if len(p.allowedModels) == 0 || p.allowedModels[requested] {
		return requested, nil
	}
	return "", gerrors.Validation("model %q is not linked to provider %q", requested, p.name)
}

// Chat runs the full turn reconciliation and upstream orchestration.
// Tool-call definitions are rejected; upstream is always contacted in
// streaming mode regardless of cc.Sink, since a buffered upstream
// response omits the parent_id chunk the adapter needs.
func (p *Provider) Chat(req service.ChatRequest, cc service.ChatContext) (service.ChatResult, error) {
	if len(req.Tools) > 0 {
		return service.ChatResult{}, gerrors.Validation("qwen-web adapter does not support tool calls")
	}

	model, err := p.resolveModel(req.Model)
	if err != nil {
		return service.ChatResult{}, err
	}

	ctx := cc.Ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	cred, err := p.credentials.GetValid(ctx, Backend)
	if err != nil {
		return service.ChatResult{}, err
	}

	now := time.Now().UnixMilli()
	plan, err := planTurn(ctx, p.sessions, req.Messages, now)
	if err != nil {
		return service.ChatResult{}, err
	}

	parentID, chatID := plan.parentID, plan.chatID
	if plan.replayMessage != "" {
		replayResult, err := p.doCall(ctx, cred.Token, cred.Cookies, model, chatID, parentID, plan.replayMessage, nil, true)
		if err != nil {
			if gerrors.CodeOf(err) == gerrors.CodeUpstreamAuth {
				_ = p.credentials.MarkStale(ctx, Backend, err.Error())
			}
			return service.ChatResult{}, err
		}
		if replayResult.aborted {
			// The reconstitution leg itself stalled or was cancelled —
			// there's no chain to continue from, so this is fatal to
			// the whole turn rather than a partial result.
			return service.ChatResult{}, gerrors.UpstreamNetwork("qwen-web reconstitution aborted: "+replayResult.abortReason, nil)
		}
		parentID, chatID = replayResult.parentID, replayResult.chatID
	}

	if cc.RecordUpstreamRequest != nil {
		if b, err := json.Marshal(upstreamRequest{
			ChatID:   chatID,
			ParentID: parentID,
			Message:  plan.finalMessage,
			Model:    model,
			Stream:   true,
		}); err == nil {
			cc.RecordUpstreamRequest(string(b))
		}
	}

	buffered := cc.Sink == nil
	final, err := p.doCall(ctx, cred.Token, cred.Cookies, model, chatID, parentID, plan.finalMessage, cc.Sink, buffered)
	if err != nil {
		if gerrors.CodeOf(err) == gerrors.CodeUpstreamAuth {
			_ = p.credentials.MarkStale(ctx, Backend, err.Error())
		}
		return service.ChatResult{}, err
	}

	// advance() is best-effort even on a mid-stream abort: a partial
	// parent_id is still the correct continuation point for the next
	// client turn.
	ok, advErr := p.sessions.Advance(ctx, plan.session.ID, final.parentID, strPtr(final.chatID), time.Now().UnixMilli())
	if advErr != nil {
		p.logger.Warn("advance failed", zap.Error(advErr))
	} else if !ok {
		p.logger.Debug("advance skipped: session missing or expired")
	}

	// On the first turn's terminal response, write
	// conversation_hash/first_assistant_message back so a later request
	// replaying the full prefix can resume via ContinueByConversation
	// instead of re-flattening the history.
	if plan.isFirstTurn && final.content != "" {
		if _, err := p.sessions.CompleteFirstTurn(ctx, plan.session.ID, final.content, time.Now().UnixMilli()); err != nil {
			p.logger.Warn("complete first turn failed", zap.Error(err))
		}
	}

	result := service.ChatResult{
		Content:      final.content,
		FinishReason: final.finishReason,
		Usage:        final.usage,
		ParentID:     final.parentID,
		ChatID:       final.chatID,
	}
	if final.aborted {
		result.Error = final.abortReason
	}
	if b, err := json.Marshal(map[string]any{
		"content":       final.content,
		"parent_id":     final.parentID,
		"chat_id":       final.chatID,
		"finish_reason": final.finishReason,
	}); err == nil {
		result.UpstreamResponse = string(b)
	}
	return result, nil
}

func strPtr(s string) *string { return &s }

type upstreamCallResult = streamResult

// doCall performs one upstream turn. The replay ("reconstitution") leg
// calls this with sink=nil and buffered=true so its content is decoded and
// discarded — its only purpose is obtaining a fresh parent_id/chat_id; the
// turn actually surfaced to the client calls this with the real sink and
// the client's buffered/streamed preference.
func (p *Provider) doCall(ctx context.Context, token, cookies, model, chatID, parentID, message string, sink service.Sink, buffered bool) (upstreamCallResult, error) {
	reqBody := upstreamRequest{
		ChatID:   chatID,
		ParentID: parentID,
		Message:  message,
		Model:    model,
		Stream:   true, // always streaming upstream; buffered replies omit parent_id
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return upstreamCallResult{}, fmt.Errorf("marshal qwen-web request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return upstreamCallResult{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	if cookies != "" {
		httpReq.Header.Set("Cookie", cookies)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return upstreamCallResult{}, gerrors.UpstreamNetwork("qwen-web request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return upstreamCallResult{}, gerrors.UpstreamAuth("qwen-web rejected credentials", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 500 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorExcerpt))
		return upstreamCallResult{}, gerrors.UpstreamServer(resp.StatusCode, gerrors.RedactJSONBody(string(excerpt)))
	}
	if resp.StatusCode != http.StatusOK {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorExcerpt))
		return upstreamCallResult{}, gerrors.UpstreamClient(resp.StatusCode, gerrors.RedactJSONBody(string(excerpt)))
	}

	streamDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			resp.Body.Close()
		case <-streamDone:
		}
	}()

	result, err := decodeStream(ctx, resp.Body, sink, buffered, p.logger)
	close(streamDone)
	if err != nil {
		if ctx.Err() != nil {
			return result, gerrors.Internal("qwen-web stream cancelled", ctx.Err())
		}
		return result, fmt.Errorf("decode qwen-web stream: %w", err)
	}
	return result, nil
}

func (p *Provider) HealthCheck(ctx context.Context) (service.HealthStatus, error) {
	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return service.HealthStatus{}, fmt.Errorf("create health request: %w", err)
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return service.HealthStatus{Healthy: false, Message: err.Error()}, nil
	}
	defer resp.Body.Close()

	return service.HealthStatus{
		Healthy:   resp.StatusCode == http.StatusOK,
		LatencyMS: time.Since(start).Milliseconds(),
		Message:   fmt.Sprintf("status %d", resp.StatusCode),
	}, nil
}

// ListModels returns nil: model support here is config-declared
// (allowed_models), not upstream-discoverable.
func (p *Provider) ListModels(ctx context.Context) []string { return nil }

func (p *Provider) GetConfig() service.ProviderConfigView {
	return service.ProviderConfigView{
		BaseURL: p.baseURL,
		Extra:   map[string]string{"default_model": p.defaultModel},
	}
}

func (p *Provider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
