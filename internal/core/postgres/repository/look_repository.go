package repository

import (
	"context"
	"errors"
	"go-lookflow/internal/core/ports"
	"go-lookflow/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type lookRepository struct {
	db *gorm.DB
}

// NewLookRepository creates a LookStore over db, which may be a transaction
func NewLookRepository(db *gorm.DB) ports.LookStore {
	return &lookRepository{db: db}
}

func (r *lookRepository) CreatePendingLook(ctx context.Context, look *domain.Look) (*domain.Look, error) {
	db := r.db.WithContext(ctx)
	if look.SourceRunID == nil {
		if err := db.Create(look).Error; err != nil {
			return nil, err
		}
		return look, nil
	}

	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_run_id"}, {Name: "position"}},
		DoNothing: true,
	}).Create(look)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 1 {
		return look, nil
	}

	// Created by an earlier execution of the same run.
	var existing domain.Look
	err := db.Where("source_run_id = ? AND position = ?", *look.SourceRunID, look.Position).
		First(&existing).Error
	if err != nil {
		return nil, err
	}
	return &existing, nil
}

func (r *lookRepository) GetLook(ctx context.Context, lookID uuid.UUID) (*domain.Look, error) {
	var look domain.Look
	err := r.db.WithContext(ctx).Where("id = ?", lookID).First(&look).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrLookNotFound
	}
	if err != nil {
		return nil, err
	}
	return &look, nil
}

func (r *lookRepository) ListLooksByRun(ctx context.Context, runID uuid.UUID) ([]domain.Look, error) {
	var looks []domain.Look
	err := r.db.WithContext(ctx).
		Where("source_run_id = ?", runID).
		Order("position ASC").
		Find(&looks).Error
	return looks, err
}

func (r *lookRepository) SetLookGenerating(ctx context.Context, lookID uuid.UUID) error {
	return r.update(ctx, lookID, map[string]interface{}{
		"status": domain.LookGenerating,
	})
}

func (r *lookRepository) SetLookReady(ctx context.Context, lookID uuid.UUID, assetRef string) error {
	return r.update(ctx, lookID, map[string]interface{}{
		"status":         domain.LookReady,
		"image_ref":      assetRef,
		"failure_reason": "",
	})
}

func (r *lookRepository) SetLookFailed(ctx context.Context, lookID uuid.UUID, reason string) error {
	return r.update(ctx, lookID, map[string]interface{}{
		"status":         domain.LookGenerationFailed,
		"image_ref":      nil,
		"failure_reason": reason,
	})
}

func (r *lookRepository) update(ctx context.Context, lookID uuid.UUID, fields map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&domain.Look{}).
		Where("id = ?", lookID).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrLookNotFound
	}
	return nil
}
