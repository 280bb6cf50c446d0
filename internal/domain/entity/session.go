package entity

// Session binds a client's conversation (identified by the content hash of
// its first user message) to an upstream conversation's chat_id/parent_id
// chain and a TTL. See the session manager for the operations over this
// type; Session itself carries no behavior beyond the expiry check, which
// is cheap enough to keep on the value so callers don't need the clock
// threaded through every read.
type Session struct {
	ID                string // MD5(firstUserMessage), hex-encoded
	ChatID            string // upstream conversation handle; empty until first turn completes
	ParentID          string // upstream handle for the next turn's parent; empty for a fresh session
	FirstUserMessage  string
	FirstAssistant    string // set alongside ConversationHash after the first completion
	ConversationHash  string // MD5(firstUserMessage ++ firstAssistant); empty until first completion
	MessageCount      int
	CreatedAt         int64 // unix-ms
	LastAccessed      int64 // unix-ms
	ExpiresAt         int64 // unix-ms; session is logically absent once now > ExpiresAt
}

// Expired reports whether the session is logically absent at now (unix-ms).
func (s Session) Expired(nowMS int64) bool {
	return nowMS > s.ExpiresAt
}
