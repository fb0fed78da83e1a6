package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/factoryops/core/internal/domain"
)

var ErrNotFound = errors.New("repository: not found")

type FactoryRepo struct {
	db *sqlx.DB
}

func NewFactoryRepo(db *sqlx.DB) *FactoryRepo { return &FactoryRepo{db: db} }

// GetBySlug is the C1 Identity Cache's L3 fallback for slug -> factory_id.
// A miss is reported as ErrNotFound so the cache layer can negative-cache it.
func (r *FactoryRepo) GetBySlug(ctx context.Context, slug string) (domain.Factory, error) {
	var f domain.Factory
	err := r.db.GetContext(ctx, &f, `SELECT id, slug, name, timezone, created_at, updated_at
		FROM factories WHERE slug = $1`, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Factory{}, ErrNotFound
	}
	if err != nil {
		return domain.Factory{}, fmt.Errorf("repository: get factory by slug: %w", err)
	}
	return f, nil
}

func (r *FactoryRepo) GetByID(ctx context.Context, id int64) (domain.Factory, error) {
	var f domain.Factory
	err := r.db.GetContext(ctx, &f, `SELECT id, slug, name, timezone, created_at, updated_at
		FROM factories WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Factory{}, ErrNotFound
	}
	if err != nil {
		return domain.Factory{}, fmt.Errorf("repository: get factory by id: %w", err)
	}
	return f, nil
}

func (r *FactoryRepo) List(ctx context.Context) ([]domain.Factory, error) {
	var out []domain.Factory
	err := r.db.SelectContext(ctx, &out, `SELECT id, slug, name, timezone, created_at, updated_at
		FROM factories ORDER BY id`)
	return out, err
}
