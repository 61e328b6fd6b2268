// Package sources exposes the narrow persistence contract the pipeline and
// retrieval engine consume: get by id and update by id. Creation and listing
// of sources belong to the registration surface, which lives outside this
// subsystem.
package sources

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/yungbote/sourcebridge-backend/internal/domain"
	"github.com/yungbote/sourcebridge-backend/internal/platform/logger"
)

type SourceRepo interface {
	GetByID(ctx context.Context, id int64) (*domain.Source, error)
	// UpdateByID applies the given column set and returns the updated row,
	// or nil when no such source exists.
	UpdateByID(ctx context.Context, id int64, fields map[string]any) (*domain.Source, error)
	ListByStatus(ctx context.Context, status domain.SourceStatus, limit int) ([]*domain.Source, error)
}

type sourceRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSourceRepo(db *gorm.DB, baseLog *logger.Logger) SourceRepo {
	return &sourceRepo{db: db, log: baseLog.With("repo", "SourceRepo")}
}

func (r *sourceRepo) GetByID(ctx context.Context, id int64) (*domain.Source, error) {
	var source domain.Source
	err := r.db.WithContext(ctx).First(&source, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &source, nil
}

func (r *sourceRepo) UpdateByID(ctx context.Context, id int64, fields map[string]any) (*domain.Source, error) {
	result := r.db.WithContext(ctx).
		Model(&domain.Source{}).
		Where("id = ?", id).
		Updates(fields)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return r.GetByID(ctx, id)
}

func (r *sourceRepo) ListByStatus(ctx context.Context, status domain.SourceStatus, limit int) ([]*domain.Source, error) {
	var results []*domain.Source
	q := r.db.WithContext(ctx).Where("status = ?", status).Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
