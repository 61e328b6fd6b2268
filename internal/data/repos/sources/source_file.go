package sources

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/yungbote/sourcebridge-backend/internal/domain"
	"github.com/yungbote/sourcebridge-backend/internal/platform/logger"
)

type SourceFileRepo interface {
	GetBySourceID(ctx context.Context, sourceID int64) (*domain.SourceFile, error)
}

type sourceFileRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSourceFileRepo(db *gorm.DB, baseLog *logger.Logger) SourceFileRepo {
	return &sourceFileRepo{db: db, log: baseLog.With("repo", "SourceFileRepo")}
}

func (r *sourceFileRepo) GetBySourceID(ctx context.Context, sourceID int64) (*domain.SourceFile, error) {
	var file domain.SourceFile
	err := r.db.WithContext(ctx).First(&file, "source_id = ?", sourceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &file, nil
}
