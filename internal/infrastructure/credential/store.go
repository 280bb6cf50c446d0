// Package credential wraps the credential repository with the
// getCurrent/upsert/isValid contract and the mark-stale +
// credentials-invalid notification flow the Qwen-web adapter depends on.
package credential

import (
	"context"
	"time"

	"github.com/openrelay/gateway/internal/domain/entity"
	"github.com/openrelay/gateway/internal/domain/repository"
	"github.com/openrelay/gateway/internal/infrastructure/eventbus"
	gerrors "github.com/openrelay/gateway/pkg/errors"
)

// Store is the adapter-facing credential accessor.
type Store struct {
	repo repository.CredentialRepository
	bus  eventbus.Bus
}

func New(repo repository.CredentialRepository, bus eventbus.Bus) *Store {
	return &Store{repo: repo, bus: bus}
}

// GetValid returns the current credential for backend, failing with
// upstream/auth if none exists or it is no longer valid.
func (s *Store) GetValid(ctx context.Context, backend string) (*entity.Credential, error) {
	cred, err := s.repo.GetCurrent(ctx, backend)
	if err != nil {
		if gerrors.CodeOf(err) == gerrors.CodeNotFound {
			return nil, gerrors.UpstreamAuth("no credential on file for "+backend, nil)
		}
		return nil, err
	}
	if !cred.IsValid(time.Now().UnixMilli()) {
		return nil, gerrors.UpstreamAuth("credential for "+backend+" is stale or expired", nil)
	}
	return cred, nil
}

// MarkStale flags the backend's credential stale (not deleted) and
// publishes credentials-invalid, the handling a 401/403 from upstream
// triggers.
func (s *Store) MarkStale(ctx context.Context, backend, reason string) error {
	if err := s.repo.MarkStale(ctx, backend); err != nil {
		return err
	}
	if s.bus != nil {
		s.bus.Publish(ctx, eventbus.NewEvent(eventbus.EventCredentialsInvalid, eventbus.CredentialsPayload{
			Backend: backend,
			Reason:  reason,
		}))
	}
	return nil
}

// Upsert writes a new credential (e.g. from the browser-extension scrape)
// and publishes credentials-updated.
func (s *Store) Upsert(ctx context.Context, c *entity.Credential) error {
	// expires_at arrives from the extension in either unix-seconds or
	// unix-ms; normalize to unix-ms (Open Question resolved in the design
	// notes: values below 10_000_000_000 are treated as seconds).
	if c.ExpiresAt != 0 && c.ExpiresAt < 10_000_000_000 {
		c.ExpiresAt *= 1000
	}
	if err := s.repo.Upsert(ctx, c); err != nil {
		return err
	}
	if s.bus != nil {
		s.bus.Publish(ctx, eventbus.NewEvent(eventbus.EventCredentialsUpdated, eventbus.CredentialsPayload{Backend: c.Backend}))
	}
	return nil
}
