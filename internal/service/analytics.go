package service

import (
	"context"
	"time"

	"github.com/markethub/admission-gateway/internal/models"
	"github.com/markethub/admission-gateway/internal/repository"
)

type AnalyticsService struct {
	repository *repository.DecisionLogRepository
}

func NewAnalyticsService(repo *repository.DecisionLogRepository) *AnalyticsService {
	return &AnalyticsService{repository: repo}
}

// Holds an admission outcome summary for a time range
type AdmissionSummary struct {
	TotalChecks        int64                    `json:"total_checks"`
	Denied             int64                    `json:"denied"`
	Throttled          int64                    `json:"throttled"`
	DenialRate         float64                  `json:"denial_rate"`
	TopDeniedEndpoints []map[string]interface{} `json:"top_denied_endpoints"`
	RuleHits           []map[string]interface{} `json:"rule_hits"`
}

// Retrieves an admission summary for a time range
func (s *AnalyticsService) GetSummary(ctx context.Context, from, to time.Time) (*AdmissionSummary, error) {
	summary := &AdmissionSummary{}

	total, err := s.repository.CountByTimeRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	summary.TotalChecks = total

	if total == 0 {
		return summary, nil
	}

	denied, err := s.repository.CountDenied(ctx, from, to)
	if err != nil {
		return nil, err
	}
	summary.Denied = denied

	throttled, err := s.repository.CountThrottled(ctx, from, to)
	if err != nil {
		return nil, err
	}
	summary.Throttled = throttled

	summary.DenialRate = (float64(denied) / float64(total)) * 100

	topDenied, err := s.repository.TopDeniedEndpoints(ctx, from, to, 10)
	if err != nil {
		return nil, err
	}
	summary.TopDeniedEndpoints = topDenied

	ruleHits, err := s.repository.RuleHitCounts(ctx, from, to)
	if err != nil {
		return nil, err
	}
	summary.RuleHits = ruleHits

	return summary, nil
}

// Retrieves decision logs with pagination
func (s *AnalyticsService) GetLogs(ctx context.Context, from, to time.Time, limit, offset int) ([]models.DecisionLog, error) {
	return s.repository.FindByTimeRange(ctx, from, to, limit, offset)
}

// Deletes logs older than the retention period
func (s *AnalyticsService) CleanupOldLogs(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	return s.repository.DeleteOldLogs(ctx, cutoff)
}
