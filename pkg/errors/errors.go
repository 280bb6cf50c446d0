// Package errors defines the gateway's closed set of error kinds and the
// typed error that carries one. Handlers at the HTTP boundary translate an
// AppError into an OpenAI-shaped {error:{message,type,code}} body; internal
// callers use errors.As/Is the same way they would with the standard
// library.
package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Code is one of the closed set of external error kinds.
type Code string

const (
	CodeValidation      Code = "validation"
	CodeNotFound        Code = "not-found"
	CodeConflict        Code = "conflict"
	CodeUpstreamAuth    Code = "upstream/auth"
	CodeUpstreamNetwork Code = "upstream/network"
	CodeUpstreamClient  Code = "upstream/client"
	CodeUpstreamServer  Code = "upstream/server"
	CodeStore           Code = "store"
	CodeInternal        Code = "internal"
)

// Severity mirrors the severity levels an ErrorRecord may carry.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
	SeverityFatal Severity = "fatal"
)

// DefaultSeverity returns the severity an ErrorRecord should log at for a
// given code.
func DefaultSeverity(code Code) Severity {
	switch code {
	case CodeStore:
		return SeverityError
	case CodeInternal:
		return SeverityFatal
	case CodeUpstreamAuth, CodeUpstreamNetwork, CodeUpstreamClient, CodeUpstreamServer:
		return SeverityError
	default:
		return SeverityWarn
	}
}

// AppError is the gateway's typed error. It always carries one of the
// closed-set Codes above, an operator-facing Message, an optional wrapped
// cause, and — for upstream/client and upstream/server — the raw HTTP
// status observed from the upstream.
type AppError struct {
	Code           Code
	Message        string
	Err            error
	UpstreamStatus int // non-zero only for upstream/client, upstream/server
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Err: cause}
}

func Validation(format string, args ...any) *AppError {
	return New(CodeValidation, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) *AppError {
	return New(CodeNotFound, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...any) *AppError {
	return New(CodeConflict, fmt.Sprintf(format, args...))
}

func UpstreamAuth(message string, cause error) *AppError {
	return &AppError{Code: CodeUpstreamAuth, Message: message, Err: cause}
}

func UpstreamNetwork(message string, cause error) *AppError {
	return &AppError{Code: CodeUpstreamNetwork, Message: message, Err: cause}
}

func UpstreamClient(status int, body string) *AppError {
	return &AppError{Code: CodeUpstreamClient, Message: body, UpstreamStatus: status}
}

func UpstreamServer(status int, body string) *AppError {
	return &AppError{Code: CodeUpstreamServer, Message: body, UpstreamStatus: status}
}

// redactedJSONKeys are the field names stripped from a captured upstream
// error body before it's stored as an ErrorRecord payload — an upstream
// occasionally echoes the request it rejected, credentials included.
var redactedJSONKeys = []string{"authorization", "api_key", "apiKey", "cookie", "token", "password"}

// RedactJSONBody masks known-sensitive fields in a captured upstream
// response body before it's persisted or logged. Non-JSON bodies (plain
// text error pages, HTML) pass through unchanged — there's no path-based
// structure to redact. Walks the full document, not just the top level,
// since an upstream echoing the rejected request back often nests it
// under an "error" or "request" wrapper. Uses gjson to walk and locate
// fields and sjson to rewrite them in place, the read/write pair from the
// same library the qwen-web adapter uses to decode its streamed chunks.
func RedactJSONBody(body string) string {
	if body == "" || !gjson.Valid(body) {
		return body
	}
	out := body
	redactJSONPaths(gjson.Parse(body), "", &out)
	return out
}

func redactJSONPaths(value gjson.Result, path string, out *string) {
	switch {
	case value.IsObject():
		value.ForEach(func(key, child gjson.Result) bool {
			childPath := joinJSONPath(path, key.String())
			if isRedactedKey(key.String()) {
				if updated, err := sjson.Set(*out, childPath, "[redacted]"); err == nil {
					*out = updated
				}
				return true
			}
			redactJSONPaths(child, childPath, out)
			return true
		})
	case value.IsArray():
		i := 0
		value.ForEach(func(_, child gjson.Result) bool {
			redactJSONPaths(child, joinJSONPath(path, fmt.Sprintf("%d", i)), out)
			i++
			return true
		})
	}
}

func joinJSONPath(prefix, segment string) string {
	if prefix == "" {
		return segment
	}
	return prefix + "." + segment
}

func isRedactedKey(key string) bool {
	key = strings.ToLower(key)
	for _, k := range redactedJSONKeys {
		if key == strings.ToLower(k) {
			return true
		}
	}
	return false
}

func Store(message string, cause error) *AppError {
	return &AppError{Code: CodeStore, Message: message, Err: cause}
}

func Internal(message string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Err: cause}
}

// CodeOf extracts the Code from err, defaulting to "internal" if err is not
// (or does not wrap) an *AppError.
func CodeOf(err error) Code {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
