package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/relaypoint/outreach-engine/internal/model"
)

type BusinessesRepository interface {
	GetByAPIKey(ctx context.Context, apiKey string) (*model.Business, error)
}

type BusinessesRepositoryImpl struct {
	db *sqlx.DB
}

func NewBusinessesRepository(db *sqlx.DB) *BusinessesRepositoryImpl {
	return &BusinessesRepositoryImpl{db: db}
}

var _ BusinessesRepository = (*BusinessesRepositoryImpl)(nil)

func (r *BusinessesRepositoryImpl) GetByAPIKey(ctx context.Context, apiKey string) (*model.Business, error) {
	var b model.Business
	err := r.db.GetContext(ctx, &b, `
		SELECT id, name, api_key, status, rate_limit_rps, created_at, updated_at
		  FROM businesses
		 WHERE api_key = ? LIMIT 1
	`, apiKey)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}
