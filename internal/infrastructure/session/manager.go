// Package session implements the content-addressed session manager:
// session identity is derived from conversation content (the
// MD5 of the first user message) rather than an opaque handle, so a
// stateless OpenAI client resumes a stateful upstream conversation just by
// re-sending the same leading message.
package session

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"sort"
	"time"

	"github.com/openrelay/gateway/internal/domain/entity"
	"github.com/openrelay/gateway/internal/domain/repository"
	"github.com/openrelay/gateway/internal/domain/service"
	"github.com/openrelay/gateway/internal/infrastructure/eventbus"
	"github.com/openrelay/gateway/pkg/safego"
	gerrors "github.com/openrelay/gateway/pkg/errors"
	"go.uber.org/zap"
)

// DefaultTTL and DefaultCleanupInterval are the sweep defaults.
const (
	DefaultTTL             = 30 * time.Minute
	DefaultCleanupInterval = 10 * time.Minute
)

// Manager is the service.SessionManager implementation.
type Manager struct {
	repo            repository.SessionRepository
	bus             eventbus.Bus
	logger          *zap.Logger
	ttl             time.Duration
	cleanupInterval time.Duration

	stopSweep chan struct{}
}

var _ service.SessionManager = (*Manager)(nil)

// New constructs a Manager. Pass ttl/cleanupInterval <= 0 to use the
// defaults.
func New(repo repository.SessionRepository, bus eventbus.Bus, logger *zap.Logger, ttl, cleanupInterval time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	return &Manager{
		repo:            repo,
		bus:             bus,
		logger:          logger.With(zap.String("component", "session-manager")),
		ttl:             ttl,
		cleanupInterval: cleanupInterval,
	}
}

// HashMessage computes the content-address used as a session id.
func HashMessage(msg string) string {
	sum := md5.Sum([]byte(msg))
	return hex.EncodeToString(sum[:])
}

// ConversationHash computes the address used for post-first-turn resume:
// the MD5 of the first user message concatenated with the first assistant
// reply.
func ConversationHash(firstUser, firstAssistant string) string {
	sum := md5.Sum([]byte(firstUser + firstAssistant))
	return hex.EncodeToString(sum[:])
}

func (m *Manager) ResolveOrCreate(ctx context.Context, firstUserMessage string, nowMS int64) (*entity.Session, error) {
	if firstUserMessage == "" {
		return nil, gerrors.Validation("first user message must not be empty")
	}

	id := HashMessage(firstUserMessage)
	existing, err := m.repo.Get(ctx, id)
	if err != nil && gerrors.CodeOf(err) != gerrors.CodeNotFound {
		return nil, err
	}
	if existing != nil && !existing.Expired(nowMS) {
		existing.LastAccessed = nowMS
		existing.ExpiresAt = nowMS + m.ttl.Milliseconds()
		if err := m.repo.Update(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	s := &entity.Session{
		ID:                id,
		FirstUserMessage:  firstUserMessage,
		MessageCount:      0,
		CreatedAt:         nowMS,
		LastAccessed:      nowMS,
		ExpiresAt:         nowMS + m.ttl.Milliseconds(),
	}
	if err := m.repo.Create(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Manager) ContinueByConversation(ctx context.Context, firstUser, firstAssistant string, nowMS int64) (*entity.Session, error) {
	hash := ConversationHash(firstUser, firstAssistant)
	candidates, err := m.repo.FindByConversationHash(ctx, hash)
	if err != nil {
		return nil, err
	}

	var live []entity.Session
	for _, s := range candidates {
		if !s.Expired(nowMS) {
			live = append(live, s)
		}
	}
	if len(live) == 0 {
		return nil, nil
	}

	// Collision policy: greatest created_at wins — it reflects the most
	// recent upstream state.
	sort.Slice(live, func(i, j int) bool { return live[i].CreatedAt > live[j].CreatedAt })
	winner := live[0]
	return &winner, nil
}

func (m *Manager) Advance(ctx context.Context, sessionID, newParentID string, newChatID *string, nowMS int64) (bool, error) {
	s, err := m.repo.Get(ctx, sessionID)
	if err != nil {
		if gerrors.CodeOf(err) == gerrors.CodeNotFound {
			return false, nil
		}
		return false, err
	}
	if s.Expired(nowMS) {
		return false, nil
	}

	s.ParentID = newParentID
	if newChatID != nil {
		s.ChatID = *newChatID
	}
	s.MessageCount++
	s.LastAccessed = nowMS
	s.ExpiresAt = nowMS + m.ttl.Milliseconds()

	if err := m.repo.Update(ctx, s); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) CompleteFirstTurn(ctx context.Context, sessionID, firstAssistant string, nowMS int64) (bool, error) {
	s, err := m.repo.Get(ctx, sessionID)
	if err != nil {
		if gerrors.CodeOf(err) == gerrors.CodeNotFound {
			return false, nil
		}
		return false, err
	}
	if s.Expired(nowMS) {
		return false, nil
	}

	s.FirstAssistant = firstAssistant
	s.ConversationHash = ConversationHash(s.FirstUserMessage, firstAssistant)

	if err := m.repo.Update(ctx, s); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) SweepExpired(ctx context.Context, nowMS int64) (int64, error) {
	n, err := m.repo.DeleteExpired(ctx, nowMS)
	if err != nil {
		return 0, err
	}
	if n > 0 && m.bus != nil {
		m.bus.Publish(ctx, eventbus.NewEvent(eventbus.EventSessionSwept, eventbus.SessionSweptPayload{Count: n}))
	}
	return n, nil
}

// StartSweepLoop runs SweepExpired on a ticker until Stop is called. The
// ticker goroutine is daemon-like: it must not keep the process alive, so
// callers running as a long-lived service should still call Stop on
// shutdown to release the ticker.
func (m *Manager) StartSweepLoop() {
	m.stopSweep = make(chan struct{})
	ticker := time.NewTicker(m.cleanupInterval)

	safego.Go(m.logger, "session-sweep", func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				now := time.Now().UnixMilli()
				n, err := m.SweepExpired(context.Background(), now)
				if err != nil {
					m.logger.Warn("session sweep failed", zap.Error(err))
					continue
				}
				if n > 0 {
					m.logger.Info("swept expired sessions", zap.Int64("count", n))
				}
			case <-m.stopSweep:
				return
			}
		}
	})
}

// Stop halts the sweep loop started by StartSweepLoop. Safe to call even
// if the loop was never started.
func (m *Manager) Stop() {
	if m.stopSweep != nil {
		close(m.stopSweep)
	}
}
