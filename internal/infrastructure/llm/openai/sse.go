package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/openrelay/gateway/internal/domain/service"
	"go.uber.org/zap"
)

// ParseSSEStream reads a text/event-stream response, emitting deltas to
// sink and accumulating the final result.
//
// Three-tier termination protection:
//
//	L1: break on finish_reason — don't wait for [DONE], some upstreams
//	    never send it.
//	L2: 60s read idle timeout, detecting a stalled connection.
//	L3: the context deadline (Provider.Chat applies the provider's
//	    timeout when the caller's context has none).
func ParseSSEStream(ctx context.Context, reader io.Reader, sink service.Sink, logger *zap.Logger) (service.ChatResult, error) {
	idleTimeout := 60 * time.Second
	tReader := &timedReader{r: reader, timeout: idleTimeout}

	scanner := bufio.NewScanner(tReader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var contentBuilder strings.Builder
	var finishReason string
	var usage Usage

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			// Client cancellation: keep whatever was already relayed and
			// finalise with finish_reason="cancelled", not an error — the
			// audit row must still land, and the disconnect was never the
			// upstream's fault. No retry.
			return cancelledResult(contentBuilder.String(), usage), nil
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk StreamChunkData
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			logger.Debug("skip unparseable SSE chunk", zap.Error(err))
			continue
		}

		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.FinishReason != nil {
			finishReason = *choice.FinishReason
		}

		if choice.Delta.Content != "" {
			contentBuilder.WriteString(choice.Delta.Content)
			if err := sink.Send(service.StreamChunk{DeltaContent: choice.Delta.Content}); err != nil {
				return service.ChatResult{}, fmt.Errorf("sink write: %w", err)
			}
		}

		// L1: finish_reason received — break immediately, some upstreams
		// never emit [DONE].
		if finishReason != "" {
			logger.Debug("SSE stream: finish_reason received, breaking",
				zap.String("finish_reason", finishReason))
			break
		}
	}

	if err := scanner.Err(); err != nil {
		// A cancellation can also surface here: the caller's watchdog
		// force-closes the response body, and the scanner reports that
		// as a read error before the in-loop ctx check gets a chance to
		// run.
		if ctx.Err() != nil {
			return cancelledResult(contentBuilder.String(), usage), nil
		}
		if isIdleTimeoutErr(err) {
			logger.Warn("SSE stream idle timeout — upstream stalled",
				zap.Duration("idle_timeout", idleTimeout),
				zap.Int("content_len", contentBuilder.Len()),
			)
			if contentBuilder.Len() == 0 {
				return service.ChatResult{}, fmt.Errorf("SSE stream stalled: no data for %v", idleTimeout)
			}
			logger.Info("returning partial SSE response after idle timeout")
		} else {
			return service.ChatResult{}, fmt.Errorf("SSE scan error: %w", err)
		}
	}

	if finishReason == "" {
		finishReason = "stop"
	}

	if err := sink.Send(service.StreamChunk{FinishReason: finishReason}); err != nil {
		return service.ChatResult{}, fmt.Errorf("sink write terminal chunk: %w", err)
	}

	return service.ChatResult{
		Content:      contentBuilder.String(),
		FinishReason: finishReason,
		Usage: service.Usage{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.Total(),
		},
	}, nil
}

// cancelledResult packages the partial stream state for a client
// cancellation: content relayed so far preserved, finish_reason
// "cancelled". No terminal chunk is written to the sink — the client is
// already gone.
func cancelledResult(content string, usage Usage) service.ChatResult {
	return service.ChatResult{
		Content:      content,
		FinishReason: "cancelled",
		Usage: service.Usage{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.Total(),
		},
	}
}

// --- SSE idle timeout support ---

var errIdleTimeout = fmt.Errorf("SSE read idle timeout")

// timedReader wraps an io.Reader and applies a per-Read deadline.
type timedReader struct {
	r       io.Reader
	timeout time.Duration
}

func (t *timedReader) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := t.r.Read(p)
		ch <- result{n, err}
	}()

	select {
	case res := <-ch:
		return res.n, res.err
	case <-time.After(t.timeout):
		return 0, errIdleTimeout
	}
}

func isIdleTimeoutErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "SSE read idle timeout")
}
