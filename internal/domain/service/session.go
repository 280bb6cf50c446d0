package service

import (
	"context"

	"github.com/openrelay/gateway/internal/domain/entity"
)

// SessionManager implements the content-addressed session identity
// scheme: a session's id is derived from the conversation's content,
// not an opaque handle the client must remember, so a stateless OpenAI
// client can transparently resume a stateful upstream conversation by
// simply re-sending the same leading message.
type SessionManager interface {
	// ResolveOrCreate returns the (possibly new) session keyed by the MD5
	// of firstUserMessage. An existing non-expired session is touched
	// (its expiry extended) before being returned.
	ResolveOrCreate(ctx context.Context, firstUserMessage string, nowMS int64) (*entity.Session, error)

	// ContinueByConversation looks up a session by conversation_hash =
	// MD5(firstUser ∥ firstAssistant). Returns nil, nil on a miss. On a
	// collision (more than one matching row) the session with the
	// greatest created_at wins.
	ContinueByConversation(ctx context.Context, firstUser, firstAssistant string, nowMS int64) (*entity.Session, error)

	// Advance records the upstream handles returned by a completed turn.
	// Returns false (no error) if the session is missing or expired, so
	// callers can still serve the response to the client.
	Advance(ctx context.Context, sessionID, newParentID string, newChatID *string, nowMS int64) (bool, error)

	// CompleteFirstTurn writes conversation_hash = MD5(first_user_message
	// ∥ firstAssistant) and first_assistant_message back onto the session
	// once its opening turn has a terminal upstream reply. Callers
	// invoke this only when the turn being finalized was
	// the session's first (message_count == 0 going in). Returns false
	// (no error) if the session is missing or expired, mirroring Advance.
	CompleteFirstTurn(ctx context.Context, sessionID, firstAssistant string, nowMS int64) (bool, error)

	// SweepExpired deletes sessions whose expires_at has passed and
	// reports how many rows were removed.
	SweepExpired(ctx context.Context, nowMS int64) (int64, error)
}
