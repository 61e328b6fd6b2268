package sources

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/yungbote/sourcebridge-backend/internal/domain"
	"github.com/yungbote/sourcebridge-backend/internal/platform/logger"
)

type SourceDbRepo interface {
	GetBySourceID(ctx context.Context, sourceID int64) (*domain.SourceDb, error)
}

type sourceDbRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSourceDbRepo(db *gorm.DB, baseLog *logger.Logger) SourceDbRepo {
	return &sourceDbRepo{db: db, log: baseLog.With("repo", "SourceDbRepo")}
}

func (r *sourceDbRepo) GetBySourceID(ctx context.Context, sourceID int64) (*domain.SourceDb, error) {
	var mapping domain.SourceDb
	err := r.db.WithContext(ctx).First(&mapping, "source_id = ?", sourceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &mapping, nil
}
