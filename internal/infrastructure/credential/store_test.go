package credential

import (
	"context"
	"testing"
	"time"

	"github.com/openrelay/gateway/internal/domain/entity"
	gerrors "github.com/openrelay/gateway/pkg/errors"
)

type fakeRepo struct {
	rows map[string]entity.Credential
}

func newFakeRepo() *fakeRepo { return &fakeRepo{rows: map[string]entity.Credential{}} }

func (f *fakeRepo) GetCurrent(ctx context.Context, backend string) (*entity.Credential, error) {
	c, ok := f.rows[backend]
	if !ok {
		return nil, gerrors.NotFound("credential %q", backend)
	}
	cp := c
	return &cp, nil
}
func (f *fakeRepo) Upsert(ctx context.Context, c *entity.Credential) error {
	f.rows[c.Backend] = *c
	return nil
}
func (f *fakeRepo) MarkStale(ctx context.Context, backend string) error {
	c := f.rows[backend]
	c.Stale = true
	f.rows[backend] = c
	return nil
}

func TestGetValid_MissingCredential(t *testing.T) {
	s := New(newFakeRepo(), nil)
	if _, err := s.GetValid(context.Background(), "qwen-web"); gerrors.CodeOf(err) != gerrors.CodeUpstreamAuth {
		t.Fatalf("expected upstream/auth, got %v", err)
	}
}

func TestGetValid_StaleCredential(t *testing.T) {
	repo := newFakeRepo()
	repo.rows["qwen-web"] = entity.Credential{Backend: "qwen-web", Token: "t", Cookies: "c", Stale: true}
	s := New(repo, nil)
	if _, err := s.GetValid(context.Background(), "qwen-web"); gerrors.CodeOf(err) != gerrors.CodeUpstreamAuth {
		t.Fatalf("expected upstream/auth for stale credential, got %v", err)
	}
}

func TestGetValid_Valid(t *testing.T) {
	repo := newFakeRepo()
	future := time.Now().Add(time.Hour).UnixMilli()
	repo.rows["qwen-web"] = entity.Credential{Backend: "qwen-web", Token: "t", Cookies: "c", ExpiresAt: future}
	s := New(repo, nil)
	cred, err := s.GetValid(context.Background(), "qwen-web")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.Token != "t" {
		t.Errorf("unexpected token: %q", cred.Token)
	}
}

func TestUpsert_NormalizesSecondsToMillis(t *testing.T) {
	repo := newFakeRepo()
	s := New(repo, nil)
	err := s.Upsert(context.Background(), &entity.Credential{Backend: "qwen-web", Token: "t", Cookies: "c", ExpiresAt: 2000000000})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if repo.rows["qwen-web"].ExpiresAt != 2000000000*1000 {
		t.Errorf("expected seconds->ms normalization, got %d", repo.rows["qwen-web"].ExpiresAt)
	}
}

func TestUpsert_LeavesMillisUntouched(t *testing.T) {
	repo := newFakeRepo()
	s := New(repo, nil)
	ms := int64(20_000_000_000)
	err := s.Upsert(context.Background(), &entity.Credential{Backend: "qwen-web", Token: "t", Cookies: "c", ExpiresAt: ms})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if repo.rows["qwen-web"].ExpiresAt != ms {
		t.Errorf("expected ms value untouched, got %d", repo.rows["qwen-web"].ExpiresAt)
	}
}
