package qwenweb

import (
	"context"
	"strings"

	"github.com/openrelay/gateway/internal/domain/entity"
	"github.com/openrelay/gateway/internal/domain/service"
	gerrors "github.com/openrelay/gateway/pkg/errors"
)

// turnDelimiter separates a prepended system message from the user
// content it's attached to.
const turnDelimiter = "\n\n\n"

// turnPlan is the result of reconciling a client's stateless message
// history against the upstream's stateful parent_id chain.
type turnPlan struct {
	session       *entity.Session
	isFirstTurn   bool
	replayMessage string // non-empty => send this as a reconstitution turn before finalMessage
	finalMessage  string
	parentID      string // parent_id to use for the FIRST upstream call (replay, or the only call)
	chatID        string // chat_id to use for the FIRST upstream call
}

// planTurn reconciles the client's history with the stored chain.
func planTurn(ctx context.Context, sessions service.SessionManager, messages []service.ChatMessage, nowMS int64) (*turnPlan, error) {
	if len(messages) == 0 {
		return nil, gerrors.Validation("messages must not be empty")
	}

	firstUser, ok := firstMessageByRole(messages, "user")
	if !ok {
		return nil, gerrors.Validation("messages must contain at least one user message")
	}

	sess, err := sessions.ResolveOrCreate(ctx, firstUser.Content, nowMS)
	if err != nil {
		return nil, err
	}

	systemPrefix := joinByRole(messages, "system", turnDelimiter)
	lastMsg := messages[len(messages)-1]
	finalText := withSystemPrefix(systemPrefix, lastMsg.Content)

	if len(messages) == 1 {
		plan := &turnPlan{
			session:      sess,
			isFirstTurn:  true,
			finalMessage: finalText,
		}
		// Reuse the existing chain only if the session has never
		// advanced; otherwise the client is restarting with the same
		// opening line mid an unrelated prior chain, so start fresh
		// upstream-side even though the session row persists.
		if sess.MessageCount == 0 {
			plan.parentID = sess.ParentID
			plan.chatID = sess.ChatID
		}
		return plan, nil
	}

	firstAssistant, _ := firstMessageByRole(messages, "assistant")
	contSess, err := sessions.ContinueByConversation(ctx, firstUser.Content, firstAssistant.Content, nowMS)
	if err != nil {
		return nil, err
	}

	if contSess != nil {
		return &turnPlan{
			session:      sess,
			isFirstTurn:  false,
			finalMessage: finalText,
			parentID:     contSess.ParentID,
			chatID:       contSess.ChatID,
		}, nil
	}

	// Miss: replay the full prefix (everything but the current turn) as
	// a single flattened user turn to reconstitute a chain, then submit
	// the current turn against whatever parent_id that replay returns.
	prefix := messages[:len(messages)-1]
	replayText := withSystemPrefix(systemPrefix, flattenPrefix(prefix))

	return &turnPlan{
		session:       sess,
		isFirstTurn:   false,
		replayMessage: replayText,
		finalMessage:  finalText,
	}, nil
}

func firstMessageByRole(messages []service.ChatMessage, role string) (service.ChatMessage, bool) {
	for _, m := range messages {
		if m.Role == role {
			return m, true
		}
	}
	return service.ChatMessage{}, false
}

func joinByRole(messages []service.ChatMessage, role, sep string) string {
	var parts []string
	for _, m := range messages {
		if m.Role == role && m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, sep)
}

func withSystemPrefix(systemPrefix, content string) string {
	if systemPrefix == "" {
		return content
	}
	return systemPrefix + turnDelimiter + content
}

// flattenPrefix renders every non-system message in the replayed prefix as
// a single block, role-labelled, so the upstream (which only accepts one
// message per turn) receives the full history in one shot.
func flattenPrefix(messages []service.ChatMessage) string {
	var b strings.Builder
	for _, m := range messages {
		if m.Role == "system" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(turnDelimiter)
		}
		role := m.Role
		if role == "" {
			role = "user"
		}
		b.WriteString(strings.ToUpper(role[:1]) + role[1:] + ": " + m.Content)
	}
	return b.String()
}
