// Package application holds the dispatcher that routes an inbound chat
// call to a provider and records the audit trail. The process-wide wiring
// lives in internal/bootstrap.
package application

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openrelay/gateway/internal/domain/entity"
	"github.com/openrelay/gateway/internal/domain/repository"
	"github.com/openrelay/gateway/internal/domain/service"
	"github.com/openrelay/gateway/internal/infrastructure/eventbus"
	"github.com/openrelay/gateway/internal/infrastructure/registry"
	"github.com/openrelay/gateway/internal/infrastructure/session"
	"github.com/openrelay/gateway/internal/infrastructure/settingssync"
	gerrors "github.com/openrelay/gateway/pkg/errors"
)

// modelsCacheTTL bounds how stale the aggregated model listing may be.
const modelsCacheTTL = 30 * time.Second

// Dispatcher is the chat choke point: resolve a provider for the inbound
// request, persist the audit rows around the upstream call, and serialize
// concurrent turns on the same session.
type Dispatcher struct {
	registry       *registry.Registry
	providers      repository.ProviderRepository
	providerModels repository.ProviderModelRepository
	requests       repository.RequestRepository
	responses      repository.ResponseRepository
	errors         repository.ErrorRepository
	settings       *settingssync.Sync
	bus            eventbus.Bus
	logger         *zap.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	modelsMu        sync.Mutex
	modelsCache     []string
	modelsExpiresAt time.Time
}

func New(
	reg *registry.Registry,
	providers repository.ProviderRepository,
	providerModels repository.ProviderModelRepository,
	requests repository.RequestRepository,
	responses repository.ResponseRepository,
	errs repository.ErrorRepository,
	settings *settingssync.Sync,
	bus eventbus.Bus,
	logger *zap.Logger,
) *Dispatcher {
	d := &Dispatcher{
		registry:       reg,
		providers:      providers,
		providerModels: providerModels,
		requests:       requests,
		responses:      responses,
		errors:         errs,
		settings:       settings,
		bus:            bus,
		logger:         logger.With(zap.String("component", "dispatcher")),
		locks:          make(map[string]*sync.Mutex),
	}
	if bus != nil {
		bus.Subscribe(eventbus.EventLifecycle, func(ctx context.Context, _ eventbus.Event) {
			d.invalidateModelsCache()
		})
	}
	return d
}

// Dispatch executes one chat-completions call end to end: resolve
// provider, persist Request, invoke Chat, persist Response. The returned
// error is usually a *pkg/errors.AppError; an untyped error from a
// provider's Chat is returned as is, and pkg/errors.CodeOf reports it as
// internal.
func (d *Dispatcher) Dispatch(ctx context.Context, req service.ChatRequest, sink service.Sink) (service.ChatResult, error) {
	if len(req.Messages) == 0 {
		return service.ChatResult{}, gerrors.Validation("messages must not be empty")
	}
	if req.Model == "" {
		req.Model = d.settings.ActiveModel()
	}

	sessionID := session.HashMessage(firstUserMessage(req.Messages))

	lock, acquired := d.acquireSessionLock(sessionID)
	if !acquired {
		return service.ChatResult{}, gerrors.Conflict("a turn is already in flight for session %s", sessionID)
	}
	defer lock.Unlock()

	providerID, inst, err := d.resolveProvider(ctx, req.Model)
	if err != nil {
		return service.ChatResult{}, err
	}

	reqRow, err := d.recordRequest(ctx, req, sessionID)
	if err != nil {
		return service.ChatResult{}, err
	}

	if !d.registry.Allow(providerID) {
		err := gerrors.UpstreamNetwork("circuit open for provider "+providerID, nil)
		d.recordError(ctx, entity.ErrorKindUpstream, entity.SeverityError, sessionID, reqRow.ID, err.Error())
		return service.ChatResult{}, err
	}

	cc := service.ChatContext{
		Ctx:       ctx,
		Sink:      sink,
		RequestID: reqRow.RequestID,
		Logger:    d.logger,
		// Fires (pre-upstream) only from translating providers, so the
		// audit row also captures what was actually sent upstream.
		RecordUpstreamRequest: func(payload string) {
			if err := d.requests.AttachUpstreamPayload(ctx, reqRow.ID, payload); err != nil {
				d.logger.Warn("attach upstream payload to request row", zap.Error(err))
			}
		},
	}
	start := time.Now()
	result, callErr := inst.Chat(req, cc)
	duration := time.Since(start).Milliseconds()

	if callErr != nil {
		d.registry.RecordFailure(providerID)
		d.recordError(ctx, errorKindFor(callErr, sink != nil), entity.SeverityError, sessionID, reqRow.ID, callErr.Error())
		return service.ChatResult{}, callErr
	}
	d.registry.RecordSuccess(providerID)

	if err := d.recordResponse(ctx, reqRow, sessionID, result, duration); err != nil {
		d.logger.Error("persist response row", zap.Error(err))
	}
	return result, nil
}

// ListModels aggregates the union of every enabled provider's
// ListModels() and linked ProviderModel rows, caching the result for
// modelsCacheTTL and invalidating early on any lifecycle event.
func (d *Dispatcher) ListModels(ctx context.Context) ([]string, error) {
	d.modelsMu.Lock()
	if time.Now().Before(d.modelsExpiresAt) {
		cached := d.modelsCache
		d.modelsMu.Unlock()
		return cached, nil
	}
	d.modelsMu.Unlock()

	rows, err := d.providers.FindAll(ctx, repository.Filter{"enabled": true}, nil, repository.Page{})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}

	for _, p := range rows {
		if inst, ok := d.registry.Get(p.ID); ok {
			for _, m := range inst.ListModels(ctx) {
				add(m)
			}
		}
		links, err := d.providerModels.FindByProvider(ctx, p.ID)
		if err != nil {
			continue
		}
		for _, l := range links {
			add(l.ModelID)
		}
	}

	d.modelsMu.Lock()
	d.modelsCache = out
	d.modelsExpiresAt = time.Now().Add(modelsCacheTTL)
	d.modelsMu.Unlock()
	return out, nil
}

func (d *Dispatcher) invalidateModelsCache() {
	d.modelsMu.Lock()
	d.modelsExpiresAt = time.Time{}
	d.modelsMu.Unlock()
}

// resolveProvider picks the serving provider: try the configured
// active_provider verbatim, then fall through silently by descending
// priority among enabled providers that link the requested model.
func (d *Dispatcher) resolveProvider(ctx context.Context, model string) (string, service.Provider, error) {
	active := d.settings.ActiveProvider()
	if active != "" {
		if p, err := d.providers.Get(ctx, active); err == nil && p.Enabled {
			if inst, ok := d.registry.Get(active); ok && d.registry.Allow(active) {
				return active, inst, nil
			}
		}
	}

	rows, err := d.providers.FindAll(ctx, repository.Filter{"enabled": true}, []repository.Order{{Column: "priority", Desc: true}}, repository.Page{})
	if err != nil {
		return "", nil, err
	}
	for _, p := range rows {
		if p.ID == active {
			continue
		}
		if model != "" && !d.linksModel(ctx, p.ID, model) {
			continue
		}
		inst, ok := d.registry.Get(p.ID)
		if !ok || !d.registry.Allow(p.ID) {
			continue
		}
		return p.ID, inst, nil
	}
	return "", nil, gerrors.NotFound("no enabled provider available to serve model %q", model)
}

func (d *Dispatcher) linksModel(ctx context.Context, providerID, model string) bool {
	links, err := d.providerModels.FindByProvider(ctx, providerID)
	if err != nil {
		return false
	}
	for _, l := range links {
		if l.ModelID == model {
			return true
		}
	}
	return false
}

func (d *Dispatcher) recordRequest(ctx context.Context, req service.ChatRequest, sessionID string) (*entity.Request, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, gerrors.Internal("marshal request for audit log", err)
	}
	row := &entity.Request{
		RequestID:     uuid.NewString(),
		SessionID:     sessionID,
		OpenAIRequest: string(body),
		Model:         req.Model,
		Stream:        req.Stream,
		Method:        "POST",
		Path:          "/v1/chat/completions",
		Timestamp:     time.Now().UnixMilli(),
	}
	if err := d.requests.Create(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}

func (d *Dispatcher) recordResponse(ctx context.Context, reqRow *entity.Request, sessionID string, result service.ChatResult, durationMS int64) error {
	// The openai_response blob is the OpenAI-shaped completion the client
	// received (or would have, for a stream: the reconstructed final),
	// not the internal ChatResult.
	body, err := json.Marshal(map[string]any{
		"id":      "chatcmpl-" + reqRow.RequestID,
		"object":  "chat.completion",
		"model":   reqRow.Model,
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": result.Content},
			"finish_reason": result.FinishReason,
		}},
		"usage": map[string]any{
			"prompt_tokens":     result.Usage.PromptTokens,
			"completion_tokens": result.Usage.CompletionTokens,
			"total_tokens":      result.Usage.TotalTokens,
		},
	})
	if err != nil {
		return gerrors.Internal("marshal response for audit log", err)
	}
	row := &entity.Response{
		ResponseID:       uuid.NewString(),
		RequestID:        reqRow.ID,
		SessionID:        sessionID,
		QwenResponse:     result.UpstreamResponse,
		OpenAIResponse:   string(body),
		ParentID:         result.ParentID,
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
		TotalTokens:      result.Usage.TotalTokens,
		FinishReason:     result.FinishReason,
		Error:            result.Error,
		DurationMS:       durationMS,
		Timestamp:        time.Now().UnixMilli(),
	}
	return d.responses.Create(ctx, row)
}

// RecordHTTPError persists an ErrorRecord for a failure at the HTTP
// framing layer itself (malformed JSON, unreadable body) — before any
// session or Request row exists to anchor it. Called by the inbound
// handlers, which otherwise never reach the dispatcher on a bind failure.
func (d *Dispatcher) RecordHTTPError(ctx context.Context, message string) {
	d.recordError(ctx, entity.ErrorKindHTTP, entity.SeverityWarn, "", 0, message)
}

func (d *Dispatcher) recordError(ctx context.Context, kind entity.ErrorKind, severity entity.ErrorSeverity, sessionID string, requestID int64, message string) {
	row := &entity.ErrorRecord{
		ErrorID:   uuid.NewString(),
		ErrorType: kind,
		Severity:  severity,
		SessionID: sessionID,
		RequestID: requestID,
		Payload:   message,
		Timestamp: time.Now().UnixMilli(),
	}
	if err := d.errors.Create(ctx, row); err != nil {
		d.logger.Error("persist error row", zap.Error(err))
	}
}

// errorKindFor maps a dispatcher-observed error onto the ErrorRecord
// taxonomy distinct from pkg/errors.Code. streaming reports whether the
// failed call was running against a client sink: an untyped error out of
// an in-flight stream (scan failure, sink write, idle timeout) is a
// streaming-origin failure, not a lifecycle one.
func errorKindFor(err error, streaming bool) entity.ErrorKind {
	switch gerrors.CodeOf(err) {
	case gerrors.CodeUpstreamAuth, gerrors.CodeUpstreamNetwork, gerrors.CodeUpstreamClient, gerrors.CodeUpstreamServer:
		return entity.ErrorKindUpstream
	case gerrors.CodeValidation:
		return entity.ErrorKindValidation
	case gerrors.CodeStore:
		return entity.ErrorKindStore
	default:
		if streaming {
			return entity.ErrorKindStreaming
		}
		return entity.ErrorKindLifecycle
	}
}

// acquireSessionLock returns the per-session mutex (creating it on first
// use) and whether this call won the non-blocking TryLock. The map of
// mutexes is never pruned: sessions are finite in practice and the cost
// of one idle *sync.Mutex per session id ever seen is negligible next to
// the row it corresponds to.
func (d *Dispatcher) acquireSessionLock(sessionID string) (*sync.Mutex, bool) {
	d.locksMu.Lock()
	lock, ok := d.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		d.locks[sessionID] = lock
	}
	d.locksMu.Unlock()
	return lock, lock.TryLock()
}

func firstUserMessage(messages []service.ChatMessage) string {
	for _, m := range messages {
		if m.Role == "user" {
			return m.Content
		}
	}
	if len(messages) > 0 {
		return messages[0].Content
	}
	return ""
}
