package qwenweb

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/openrelay/gateway/internal/domain/service"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const idleTimeout = 60 * time.Second

// streamResult is what decodeStream accumulates across the whole upstream
// response, independent of what gets re-emitted to the client sink.
type streamResult struct {
	content      string
	parentID     string
	chatID       string
	finishReason string
	aborted      bool
	abortReason  string
	usage        service.Usage
}

// decodeStream reads the upstream's JSON-lines response incrementally (no
// buffering the whole body) using gjson to pull fields out of each raw
// line without a full struct unmarshal, and re-emits OpenAI-shaped delta
// chunks to sink as it goes.
//
// buffered reports that the client asked for a non-streamed response: when
// true, chunks are still consumed incrementally from upstream (the
// upstream call is *always* streaming — see doCall) but nothing
// is written to sink; the caller instead uses the returned streamResult to
// build a single buffered OpenAI response.
func decodeStream(ctx context.Context, reader io.Reader, sink service.Sink, buffered bool, logger *zap.Logger) (streamResult, error) {
	tReader := &idleTimeoutReader{r: reader, timeout: idleTimeout}
	scanner := bufio.NewScanner(tReader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var result streamResult

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			// Client cancellation: stop reading upstream and finalise
			// with finish_reason="cancelled", not an error — no retry
			// either way.
			result.finishReason = "cancelled"
			result.aborted = true
			result.abortReason = ctx.Err().Error()
			return result, nil
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !gjson.Valid(line) {
			logger.Debug("skip non-JSON qwen-web line", zap.String("line", truncate(line, 200)))
			continue
		}

		parsed := gjson.Parse(line)
		content := parsed.Get("content").String()
		if pid := parsed.Get("parent_id"); pid.Exists() {
			result.parentID = pid.String()
		}
		if cid := parsed.Get("chat_id"); cid.Exists() {
			result.chatID = cid.String()
		}
		if fr := parsed.Get("finish_reason"); fr.Exists() && fr.String() != "" {
			result.finishReason = fr.String()
		}
		if u := parsed.Get("usage"); u.Exists() {
			result.usage = service.Usage{
				PromptTokens:     int(u.Get("prompt_tokens").Int()),
				CompletionTokens: int(u.Get("completion_tokens").Int()),
				TotalTokens:      int(u.Get("total_tokens").Int()),
			}
		}

		if content != "" {
			result.content += content
			// Empty chunks are suppressed in streaming; non-empty ones
			// are forwarded immediately.
			if !buffered && sink != nil {
				if err := sink.Send(service.StreamChunk{DeltaContent: content}); err != nil {
					result.finishReason = "cancelled"
					result.aborted = true
					result.abortReason = fmt.Sprintf("sink write failed: %v", err)
					return result, nil
				}
			}
		}

		if result.finishReason != "" {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		// A client cancellation surfaces here too: the caller's watchdog
		// force-closes the response body, which the scanner reports as a
		// read error before the in-loop ctx check gets a chance to run.
		if ctx.Err() != nil {
			result.finishReason = "cancelled"
			result.aborted = true
			result.abortReason = ctx.Err().Error()
			return result, nil
		}
		// Any other scan failure — idle timeout or a genuine
		// connection drop — is a mid-stream abort: the
		// response row is still finalised, with the partial content
		// preserved and finish_reason="error".
		if isIdleTimeoutErr(err) {
			logger.Warn("qwen-web stream idle timeout", zap.Duration("idle_timeout", idleTimeout))
		} else {
			logger.Warn("qwen-web stream scan error", zap.Error(err))
		}
		result.finishReason = "error"
		result.aborted = true
		result.abortReason = err.Error()
		return result, nil
	}

	if result.finishReason == "" {
		result.finishReason = "stop"
	}

	// Buffered-mode empty-content sentinel:
	// the client still expects a non-empty message even when the
	// upstream produced nothing (e.g. a no-output command).
	if buffered && result.content == "" {
		result.content = " "
	}

	if !buffered && sink != nil {
		if err := sink.Send(service.StreamChunk{FinishReason: result.finishReason}); err != nil {
			return result, fmt.Errorf("sink write terminal chunk: %w", err)
		}
	}

	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// --- idle timeout plumbing, same shape as the openai pass-through's ---

var errIdleTimeout = fmt.Errorf("qwen-web read idle timeout")

type idleTimeoutReader struct {
	r       io.Reader
	timeout time.Duration
}

func (t *idleTimeoutReader) Read(p []byte) (int, error) {
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
	return err != nil && strings.Contains(err.Error(), "qwen-web read idle timeout")
}
