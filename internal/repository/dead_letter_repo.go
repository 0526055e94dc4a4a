package repository

import (
	"context"

	"gorm.io/gorm"

	"economy/internal/model"
)

// DeadLetterRepository 死信表，只追加
type DeadLetterRepository struct {
	db *gorm.DB
}

func NewDeadLetterRepository(db *gorm.DB) *DeadLetterRepository {
	return &DeadLetterRepository{db: db}
}

func (r *DeadLetterRepository) SaveDeadLetters(ctx context.Context, letters []model.DeadLetter) error {
	if len(letters) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(&letters, 100).Error
}

// ListRecent 按写入时间倒序
func (r *DeadLetterRepository) ListRecent(ctx context.Context, limit int) ([]model.DeadLetter, error) {
	var letters []model.DeadLetter
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&letters).Error
	return letters, err
}

func (r *DeadLetterRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.DeadLetter{}).Count(&n).Error
	return n, err
}
