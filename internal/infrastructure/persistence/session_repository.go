package persistence

import (
	"context"

	"gorm.io/gorm"

	"github.com/openrelay/gateway/internal/domain/entity"
	"github.com/openrelay/gateway/internal/domain/repository"
	"github.com/openrelay/gateway/internal/infrastructure/persistence/models"
	gerrors "github.com/openrelay/gateway/pkg/errors"
)

// SessionRepository implements repository.SessionRepository.
type SessionRepository struct {
	*Repository[models.Session]
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) repository.SessionRepository {
	return &SessionRepository{Repository: NewRepository[models.Session](db), db: db}
}

func (r *SessionRepository) Create(ctx context.Context, s *entity.Session) error {
	return r.Repository.Create(ctx, sessionToModel(s))
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*entity.Session, error) {
	m, err := r.Repository.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return sessionToEntity(m), nil
}

func (r *SessionRepository) FindByConversationHash(ctx context.Context, hash string) ([]entity.Session, error) {
	var rows []models.Session
	if err := r.db.WithContext(ctx).Where("conversation_hash = ?", hash).Find(&rows).Error; err != nil {
		return nil, gerrors.Store("find sessions by conversation hash", err)
	}
	out := make([]entity.Session, 0, len(rows))
	for _, m := range rows {
		out = append(out, *sessionToEntity(&m))
	}
	return out, nil
}

func (r *SessionRepository) FindAll(ctx context.Context, f repository.Filter, order []repository.Order, page repository.Page) ([]entity.Session, error) {
	rows, err := r.Repository.FindAll(ctx, f, order, page)
	if err != nil {
		return nil, err
	}
	out := make([]entity.Session, 0, len(rows))
	for _, m := range rows {
		out = append(out, *sessionToEntity(&m))
	}
	return out, nil
}

func (r *SessionRepository) Update(ctx context.Context, s *entity.Session) error {
	return r.Repository.Update(ctx, sessionToModel(s))
}

func (r *SessionRepository) DeleteExpired(ctx context.Context, nowMS int64) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at < ?", nowMS).Delete(&models.Session{})
	if res.Error != nil {
		return 0, gerrors.Store("delete expired sessions", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *SessionRepository) Clear(ctx context.Context) error {
	if err := r.db.WithContext(ctx).Exec("DELETE FROM sessions").Error; err != nil {
		return gerrors.Store("clear sessions", err)
	}
	return nil
}

func sessionToModel(s *entity.Session) *models.Session {
	return &models.Session{
		ID:               s.ID,
		ChatID:           s.ChatID,
		ParentID:         s.ParentID,
		FirstUserMessage: s.FirstUserMessage,
		FirstAssistant:   s.FirstAssistant,
		ConversationHash: s.ConversationHash,
		MessageCount:     s.MessageCount,
		CreatedAt:        s.CreatedAt,
		LastAccessed:     s.LastAccessed,
		ExpiresAt:        s.ExpiresAt,
	}
}

func sessionToEntity(m *models.Session) *entity.Session {
	return &entity.Session{
		ID:               m.ID,
		ChatID:           m.ChatID,
		ParentID:         m.ParentID,
		FirstUserMessage: m.FirstUserMessage,
		FirstAssistant:   m.FirstAssistant,
		ConversationHash: m.ConversationHash,
		MessageCount:     m.MessageCount,
		CreatedAt:        m.CreatedAt,
		LastAccessed:     m.LastAccessed,
		ExpiresAt:        m.ExpiresAt,
	}
}
