package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"studymate/internal/model"
)

type MistakeRepository struct {
	db *gorm.DB
}

func NewMistakeRepository(db *gorm.DB) *MistakeRepository {
	return &MistakeRepository{db: db}
}

func (r *MistakeRepository) CreateBatch(ctx context.Context, mistakes []model.Mistake) error {
	if len(mistakes) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&mistakes).Error; err != nil {
		return fmt.Errorf("create mistakes batch failed: %w", err)
	}
	return nil
}

// ListBetween returns mistakes with from <= created_at < to, oldest first.
func (r *MistakeRepository) ListBetween(ctx context.Context, ownerID string, from, to time.Time) ([]model.Mistake, error) {
	var list []model.Mistake
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND created_at >= ? AND created_at < ?", ownerID, from.UTC(), to.UTC()).
		Order("created_at ASC, id ASC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("list mistakes failed: %w", err)
	}
	return list, nil
}

func (r *MistakeRepository) ListRecent(ctx context.Context, ownerID string, limit int) ([]model.Mistake, error) {
	var list []model.Mistake
	if err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at DESC, id DESC").Limit(limit).Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list recent mistakes failed: %w", err)
	}
	return list, nil
}

func (r *MistakeRepository) DeleteByDocument(ctx context.Context, ownerID, documentID string) error {
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND document_id = ?", ownerID, documentID).
		Delete(&model.Mistake{}).Error
	if err != nil {
		return fmt.Errorf("delete mistakes failed: %w", err)
	}
	return nil
}

type QuizResultRepository struct {
	db *gorm.DB
}

func NewQuizResultRepository(db *gorm.DB) *QuizResultRepository {
	return &QuizResultRepository{db: db}
}

func (r *QuizResultRepository) Create(ctx context.Context, result *model.QuizResult) error {
	if err := r.db.WithContext(ctx).Create(result).Error; err != nil {
		return fmt.Errorf("create quiz result failed: %w", err)
	}
	return nil
}

func (r *QuizResultRepository) ListRecent(ctx context.Context, ownerID string, limit int) ([]model.QuizResult, error) {
	var list []model.QuizResult
	if err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at DESC, id DESC").Limit(limit).Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list quiz results failed: %w", err)
	}
	return list, nil
}

func (r *QuizResultRepository) DeleteByDocument(ctx context.Context, ownerID, documentID string) error {
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND document_id = ?", ownerID, documentID).
		Delete(&model.QuizResult{}).Error
	if err != nil {
		return fmt.Errorf("delete quiz results failed: %w", err)
	}
	return nil
}
