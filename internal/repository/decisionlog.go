package repository

import (
	"context"
	"time"

	"github.com/markethub/admission-gateway/internal/models"
	"github.com/markethub/admission-gateway/internal/storage"
)

type DecisionLogRepository struct {
	db *storage.Postgres
}

func NewDecisionLogRepository(db *storage.Postgres) *DecisionLogRepository {
	return &DecisionLogRepository{db: db}
}

// Inserts multiple decision logs (for batch insertion)
func (r *DecisionLogRepository) CreateBatch(ctx context.Context, logs []models.DecisionLog) error {
	if len(logs) == 0 {
		return nil
	}
	return r.db.DB.WithContext(ctx).Create(&logs).Error
}

func (r *DecisionLogRepository) CountByTimeRange(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64
	err := r.db.DB.WithContext(ctx).
		Model(&models.DecisionLog{}).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Count(&count).Error

	return count, err
}

func (r *DecisionLogRepository) CountDenied(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64
	err := r.db.DB.WithContext(ctx).
		Model(&models.DecisionLog{}).
		Where("timestamp BETWEEN ? AND ? AND allowed = ?", from, to, false).
		Count(&count).Error

	return count, err
}

func (r *DecisionLogRepository) CountThrottled(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64
	err := r.db.DB.WithContext(ctx).
		Model(&models.DecisionLog{}).
		Where("timestamp BETWEEN ? AND ? AND throttled = ?", from, to, true).
		Count(&count).Error

	return count, err
}

// Retrieves the endpoints most often denied in the range
func (r *DecisionLogRepository) TopDeniedEndpoints(ctx context.Context, from, to time.Time, limit int) ([]map[string]interface{}, error) {
	var results []map[string]interface{}
	err := r.db.DB.WithContext(ctx).
		Model(&models.DecisionLog{}).
		Select("endpoint, count(*) as denials").
		Where("timestamp BETWEEN ? AND ? AND allowed = ?", from, to, false).
		Group("endpoint").
		Order("denials DESC").
		Limit(limit).
		Find(&results).Error

	return results, err
}

// Retrieves hit counts per matched rule in the range
func (r *DecisionLogRepository) RuleHitCounts(ctx context.Context, from, to time.Time) ([]map[string]interface{}, error) {
	var results []map[string]interface{}
	err := r.db.DB.WithContext(ctx).
		Model(&models.DecisionLog{}).
		Select("matched_rule, count(*) as hits").
		Where("timestamp BETWEEN ? AND ? AND matched_rule <> ''", from, to).
		Group("matched_rule").
		Order("hits DESC").
		Find(&results).Error

	return results, err
}

func (r *DecisionLogRepository) FindByTimeRange(ctx context.Context, from, to time.Time, limit, offset int) ([]models.DecisionLog, error) {
	var logs []models.DecisionLog
	err := r.db.DB.WithContext(ctx).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Order("timestamp DESC").
		Limit(limit).
		Offset(offset).
		Find(&logs).Error

	return logs, err
}

// Deletes logs older than the cutoff, returning how many were removed
func (r *DecisionLogRepository) DeleteOldLogs(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("timestamp < ?", cutoff).
		Delete(&models.DecisionLog{})

	return result.RowsAffected, result.Error
}
