package openai

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

// TypeName is the provider type this package registers under: the
// pass-through, forwarding the client's OpenAI-shaped request upstream
// with only the Authorization header and base URL substituted.
const TypeName = "openai"

func init() {
	llm.RegisterFactory(TypeName, llm.Factory{
		RequiredConfig: []llm.RequiredConfigKey{
			{Key: "base_url", Kind: valueobject.ConfigString, Required: false},
			{Key: "api_key", Kind: valueobject.ConfigString, Required: true},
			{Key: "timeout", Kind: valueobject.ConfigInt, Required: false},
		},
		New: func(spec llm.ProviderSpec) (service.Provider, error) {
			return New(spec)
		},
	})
}

// Provider is a Go-native OpenAI-compatible HTTP client. It forwards chat
// requests to any upstream that speaks the OpenAI chat-completions wire
// format verbatim — OpenAI itself, or any self-hosted server emulating it.
type Provider struct {
	name    string
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
	logger  *zap.Logger
}

// New constructs the pass-through provider from a validated spec. The
// "api_key" config key is required; "base_url" defaults to the public
// OpenAI endpoint when absent.
func New(spec llm.ProviderSpec) (*Provider, error) {
	baseURL := "https://api.openai.com/v1"
	if v, ok := spec.Config["base_url"]; ok && v.Str != "" {
		baseURL = strings.TrimRight(v.Str, "/")
	}

	apiKey, ok := spec.Config["api_key"]
	if !ok || apiKey.Str == "" {
		return nil, gerrors.Validation("provider %q: api_key must not be empty", spec.ID)
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
		name:    spec.ID,
		baseURL: baseURL,
		apiKey:  apiKey.Str,
		timeout: time.Duration(timeoutMS) * time.Millisecond,
		client:  &http.Client{Transport: transport},
		logger:  logger.With(zap.String("provider", spec.ID), zap.String("type", TypeName)),
	}, nil
}

var _ service.Provider = (*Provider)(nil)

func (p *Provider) Name() string { return p.name }

// Chat executes one OpenAI chat-completions call, buffered or streamed
// depending on whether cc.Sink is set.
func (p *Provider) Chat(req service.ChatRequest, cc service.ChatContext) (service.ChatResult, error) {
	if len(req.Tools) > 0 {
		p.logger.Debug("forwarding request with tool definitions unchanged")
	}

	ctx := cc.Ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if cc.Sink != nil {
		return p.generateStream(ctx, req, cc.Sink)
	}
	return p.generate(ctx, req)
}

func (p *Provider) generate(ctx context.Context, req service.ChatRequest) (service.ChatResult, error) {
	apiReq := p.buildAPIRequest(req)

	body, err := json.Marshal(apiReq)
	if err != nil {
		return service.ChatResult{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return service.ChatResult{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return service.ChatResult{}, gerrors.UpstreamNetwork("openai request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return service.ChatResult{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return service.ChatResult{}, gerrors.UpstreamAuth("openai rejected credentials", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 500 {
		return service.ChatResult{}, gerrors.UpstreamServer(resp.StatusCode, gerrors.RedactJSONBody(string(respBody)))
	}
	if resp.StatusCode != http.StatusOK {
		return service.ChatResult{}, gerrors.UpstreamClient(resp.StatusCode, gerrors.RedactJSONBody(string(respBody)))
	}

	return p.parseAPIResponse(respBody)
}

func (p *Provider) generateStream(ctx context.Context, req service.ChatRequest, sink service.Sink) (service.ChatResult, error) {
	apiReq := p.buildAPIRequest(req)

	streamBody := StreamRequest{
		Request:       apiReq,
		StreamOptions: map[string]any{"include_usage": true},
	}
	streamBody.Stream = true

	body, err := json.Marshal(streamBody)
	if err != nil {
		return service.ChatResult{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return service.ChatResult{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return service.ChatResult{}, gerrors.UpstreamNetwork("openai stream request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return service.ChatResult{}, gerrors.UpstreamAuth("openai rejected credentials", fmt.Errorf("status %d", resp.StatusCode))
		}
		if resp.StatusCode >= 500 {
			return service.ChatResult{}, gerrors.UpstreamServer(resp.StatusCode, gerrors.RedactJSONBody(string(respBody)))
		}
		return service.ChatResult{}, gerrors.UpstreamClient(resp.StatusCode, gerrors.RedactJSONBody(string(respBody)))
	}

	streamDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			p.logger.Info("context cancelled, force-closing SSE stream", zap.Error(ctx.Err()))
			resp.Body.Close()
		case <-streamDone:
		}
	}()

	result, err := ParseSSEStream(ctx, resp.Body, sink, p.logger)
	close(streamDone)
	return result, err
}

func (p *Provider) HealthCheck(ctx context.Context) (service.HealthStatus, error) {
	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return service.HealthStatus{}, fmt.Errorf("create health request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return service.HealthStatus{Healthy: false, Message: err.Error()}, nil
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return service.HealthStatus{
		Healthy:   resp.StatusCode == http.StatusOK,
		LatencyMS: time.Since(start).Milliseconds(),
		Message:   fmt.Sprintf("status %d", resp.StatusCode),
	}, nil
}

// ListModels returns nil: the OpenAI pass-through doesn't surface a model
// catalog through Provider itself — the dispatcher's model listing still
// includes the provider's linked ProviderModel rows.
func (p *Provider) ListModels(ctx context.Context) []string { return nil }

func (p *Provider) GetConfig() service.ProviderConfigView {
	return service.ProviderConfigView{
		BaseURL: p.baseURL,
		Extra:   map[string]string{"api_key": "••••••••"},
	}
}

func (p *Provider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

// --- Internal conversion methods ---

func (p *Provider) buildAPIRequest(req service.ChatRequest) *Request {
	apiReq := &Request{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Tools:       req.Tools,
		User:        req.User,
	}
	for _, msg := range req.Messages {
		apiReq.Messages = append(apiReq.Messages, Message{
			Role:    msg.Role,
			Content: msg.Content,
			Name:    msg.Name,
		})
	}
	return apiReq
}

func (p *Provider) parseAPIResponse(body []byte) (service.ChatResult, error) {
	var apiResp Response
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return service.ChatResult{}, fmt.Errorf("parse response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return service.ChatResult{}, fmt.Errorf("empty response: no choices")
	}

	choice := apiResp.Choices[0]
	return service.ChatResult{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage: service.Usage{
			PromptTokens:     apiResp.Usage.PromptTokens,
			CompletionTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:      apiResp.Usage.Total(),
		},
	}, nil
}
