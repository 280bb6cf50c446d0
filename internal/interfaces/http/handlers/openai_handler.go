// Package handlers implements the gateway's two external HTTP surfaces:
// the OpenAI-compatible surface (chat/completions, models, health) and
// the admin surface (provider/model/settings CRUD, read-only audit
// access, credential upsert).
package handlers

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/openrelay/gateway/internal/application"
	"github.com/openrelay/gateway/internal/domain/service"
	gerrors "github.com/openrelay/gateway/pkg/errors"
)

// OpenAIHandler implements the OpenAI chat-completions-compatible surface
// by delegating every call straight to the Dispatcher; it
// owns no state of its own beyond request decoding and SSE framing.
type OpenAIHandler struct {
	dispatcher *application.Dispatcher
	logger     *zap.Logger
	started    time.Time
}

func NewOpenAIHandler(d *application.Dispatcher, logger *zap.Logger) *OpenAIHandler {
	return &OpenAIHandler{
		dispatcher: d,
		logger:     logger.With(zap.String("component", "openai-handler")),
		started:    time.Now(),
	}
}

// ginSink adapts gin's ResponseWriter into a service.Sink, framing each
// chunk as an OpenAI-shaped SSE `data: ...` line and flushing immediately
// so the client sees chunks as they arrive rather than buffered.
type ginSink struct {
	c            *gin.Context
	id           string
	model        string
	created      int64
	wroteHeaders bool
}

func newGinSink(c *gin.Context, model string) *ginSink {
	return &ginSink{
		c:       c,
		id:      fmt.Sprintf("chatcmpl-%s", randomID()),
		model:   model,
		created: time.Now().Unix(),
	}
}

func (s *ginSink) ensureHeaders() {
	if s.wroteHeaders {
		return
	}
	s.c.Header("Content-Type", "text/event-stream")
	s.c.Header("Cache-Control", "no-cache")
	s.c.Header("Connection", "keep-alive")
	s.c.Header("X-Accel-Buffering", "no")
	s.c.Status(http.StatusOK)
	s.wroteHeaders = true
}

func (s *ginSink) Send(chunk service.StreamChunk) error {
	s.ensureHeaders()

	var finishReason any
	if chunk.FinishReason != "" {
		finishReason = chunk.FinishReason
	}
	payload := gin.H{
		"id":      s.id,
		"object":  "chat.completion.chunk",
		"created": s.created,
		"model":   s.model,
		"choices": []gin.H{
			{
				"index":         0,
				"delta":         gin.H{"content": chunk.DeltaContent},
				"finish_reason": finishReason,
			},
		},
	}
	b, err := jsonMarshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.c.Writer, "data: %s\n\n", b); err != nil {
		return err
	}
	s.c.Writer.Flush()
	if chunk.FinishReason != "" {
		io.WriteString(s.c.Writer, "data: [DONE]\n\n")
		s.c.Writer.Flush()
	}
	return nil
}

// ChatCompletions handles POST /v1/chat/completions.
// Authorization is accepted but ignored; upstream auth comes from the
// credential store (qwen-web) or the provider's own configured api_key.
func (h *OpenAIHandler) ChatCompletions(c *gin.Context) {
	var req service.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// A bind failure never reaches Dispatch, so the error row is
		// recorded from here — the only producer of the http error kind.
		h.dispatcher.RecordHTTPError(c.Request.Context(), err.Error())
		badRequest(c, err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeError(c, gerrors.Validation("messages must not be empty"))
		return
	}

	if req.Stream {
		sink := newGinSink(c, req.Model)
		_, err := h.dispatcher.Dispatch(c.Request.Context(), req, sink)
		if err != nil {
			if !sink.wroteHeaders {
				writeError(c, err)
				return
			}
			// Headers (and possibly some chunks) are already on the wire;
			// the client only learns of the failure by the stream ending
			// without a [DONE] terminator. Nothing more to send at this
			// point.
			h.logger.Warn("stream terminated with error", zap.Error(err))
			return
		}
		return
	}

	result, err := h.dispatcher.Dispatch(c.Request.Context(), req, nil)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":      fmt.Sprintf("chatcmpl-%s", randomID()),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   req.Model,
		"choices": []gin.H{
			{
				"index": 0,
				"message": gin.H{
					"role":    "assistant",
					"content": result.Content,
				},
				"finish_reason": result.FinishReason,
			},
		},
		"usage": gin.H{
			"prompt_tokens":     result.Usage.PromptTokens,
			"completion_tokens": result.Usage.CompletionTokens,
			"total_tokens":      result.Usage.TotalTokens,
		},
	})
}

// ListModels handles GET /v1/models: the aggregated, de-duplicated union
// of every enabled provider's own model list and linked ProviderModel
// rows, cached briefly by the dispatcher itself.
func (h *OpenAIHandler) ListModels(c *gin.Context) {
	ids, err := h.dispatcher.ListModels(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	data := make([]gin.H, 0, len(ids))
	for _, id := range ids {
		data = append(data, gin.H{
			"id":       id,
			"object":   "model",
			"created":  time.Now().Unix(),
			"owned_by": "openrelay",
		})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}

// Health handles GET /health: liveness plus a short summary.
func (h *OpenAIHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"time":      time.Now().UTC().Format(time.RFC3339),
		"uptime_ms": time.Since(h.started).Milliseconds(),
	})
}
