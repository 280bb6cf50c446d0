package persistence

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/openrelay/gateway/internal/domain/repository"
	gerrors "github.com/openrelay/gateway/pkg/errors"
)

// Repository is the generic gorm-backed CRUD base:
// every entity with a single scalar primary key gets Create/Get/FindAll/
// Update/Delete/Count for free by embedding this, typed over its own gorm
// row. Entities with a composite key (ProviderConfig, ProviderModel), or
// whose key column is not named id (Credential, Setting), skip this base
// and implement their handful of operations directly, since a generic composite-key Get/Delete would need a second
// type parameter for no real benefit at this table count.
type Repository[M any] struct {
	db *gorm.DB
}

// NewRepository constructs a Repository[M] over db.
func NewRepository[M any](db *gorm.DB) *Repository[M] {
	return &Repository[M]{db: db}
}

func (r *Repository[M]) Create(ctx context.Context, m *M) error {
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return gerrors.Store("create row", err)
	}
	return nil
}

func (r *Repository[M]) Get(ctx context.Context, id any) (*M, error) {
	var m M
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gerrors.NotFound("row %v not found", id)
		}
		return nil, gerrors.Store("get row", err)
	}
	return &m, nil
}

func (r *Repository[M]) FindAll(ctx context.Context, f repository.Filter, order []repository.Order, page repository.Page) ([]M, error) {
	q := r.db.WithContext(ctx).Model(new(M))
	q = applyFilter(q, f)
	q = applyOrder(q, order)
	q = applyPage(q, page)

	var rows []M
	if err := q.Find(&rows).Error; err != nil {
		return nil, gerrors.Store("find rows", err)
	}
	return rows, nil
}

func (r *Repository[M]) Update(ctx context.Context, m *M) error {
	if err := r.db.WithContext(ctx).Save(m).Error; err != nil {
		return gerrors.Store("update row", err)
	}
	return nil
}

func (r *Repository[M]) Delete(ctx context.Context, id any) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(new(M)).Error; err != nil {
		return gerrors.Store("delete row", err)
	}
	return nil
}

func (r *Repository[M]) Count(ctx context.Context, f repository.Filter) (int64, error) {
	q := r.db.WithContext(ctx).Model(new(M))
	q = applyFilter(q, f)

	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, gerrors.Store("count rows", err)
	}
	return n, nil
}

func applyFilter(q *gorm.DB, f repository.Filter) *gorm.DB {
	for k, v := range f {
		q = q.Where(k+" = ?", v)
	}
	return q
}

func applyOrder(q *gorm.DB, order []repository.Order) *gorm.DB {
	for _, o := range order {
		col := o.Column
		if o.Desc {
			col += " DESC"
		}
		q = q.Order(col)
	}
	return q
}

func applyPage(q *gorm.DB, page repository.Page) *gorm.DB {
	if page.Limit > 0 {
		q = q.Limit(page.Limit)
	}
	if page.Offset > 0 {
		q = q.Offset(page.Offset)
	}
	return q
}
