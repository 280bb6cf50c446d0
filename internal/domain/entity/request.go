package entity

// Request is the audit row written before any upstream call is attempted.
// The only change after creation is the one-time, still pre-upstream fill
// of QwenRequest by a translating provider; after that the row is the
// permanent record of what the client asked for.
type Request struct {
	ID             int64
	RequestID      string // UUID
	SessionID      string // FK, cascade delete
	OpenAIRequest  string // JSON blob of the client payload
	QwenRequest    string // JSON blob of the transformed upstream payload; empty for non-Qwen upstreams
	Model          string
	Stream         bool
	Method         string
	Path           string
	Timestamp      int64 // unix-ms
}

// Response is the terminal-state row for a Request. A Request has zero
// Responses (failed before upstream emitted any bytes) or exactly one.
type Response struct {
	ID               int64
	ResponseID       string // UUID
	RequestID        int64  // FK, cascade delete
	SessionID        string // FK, cascade delete
	QwenResponse     string // JSON blob, empty for non-Qwen upstreams
	OpenAIResponse   string // JSON blob of what was (or would have been) sent to the client
	ParentID         string // parent_id returned by upstream, if any
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	FinishReason     string
	Error            string // nullable in spirit; empty string means no error
	DurationMS       int64
	Timestamp        int64 // unix-ms
}

// ErrorKind is the origin taxonomy for an ErrorRecord, distinct from the
// external error Code in pkg/errors (a single pkg/errors.Code may originate
// from several different ErrorKinds).
type ErrorKind string

const (
	ErrorKindHTTP       ErrorKind = "http"
	ErrorKindStreaming  ErrorKind = "streaming"
	ErrorKindUpstream   ErrorKind = "upstream"
	ErrorKindStore      ErrorKind = "store"
	ErrorKindValidation ErrorKind = "validation"
	ErrorKindLifecycle  ErrorKind = "lifecycle"
)

// ErrorSeverity mirrors pkg/errors.Severity but is kept as its own type so
// the persistence layer doesn't import pkg/errors for a single enum.
type ErrorSeverity string

const (
	SeverityInfo  ErrorSeverity = "info"
	SeverityWarn  ErrorSeverity = "warn"
	SeverityError ErrorSeverity = "error"
	SeverityFatal ErrorSeverity = "fatal"
)

// ErrorRecord is an append-only log entry. SessionID/RequestID are
// set-null on delete of their referent, not cascaded — the error log must
// survive the thing that caused it.
type ErrorRecord struct {
	ID        int64
	ErrorID   string
	ErrorType ErrorKind
	Severity  ErrorSeverity
	SessionID string // optional
	RequestID int64  // optional, 0 means unset
	Payload   string // captured request/response excerpt, JSON or text
	Resolved  bool
	Timestamp int64 // unix-ms
}
