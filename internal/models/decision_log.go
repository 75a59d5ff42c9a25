package models

import (
	"time"

	"github.com/google/uuid"
)

// DecisionLog is one admission decision, persisted for offline
// analysis. Written in batches by the decision logger middleware.
type DecisionLog struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Timestamp   time.Time  `gorm:"index" json:"timestamp"`
	APIKeyID    *uuid.UUID `gorm:"index" json:"api_key_id,omitempty"`
	SubjectTier string     `json:"subject_tier,omitempty"`
	Method      string     `json:"method"`
	Endpoint    string     `gorm:"index" json:"endpoint"`
	SourceIP    string     `json:"source_ip"`
	Allowed     bool       `gorm:"index" json:"allowed"`
	Blocked     bool       `json:"blocked"`
	Throttled   bool       `json:"throttled"`
	Degraded    bool       `json:"degraded"`
	MatchedRule string     `gorm:"index" json:"matched_rule,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	LimitValue  int        `json:"limit"`
	Remaining   int        `json:"remaining"`
}

func (DecisionLog) TableName() string {
	return "decision_logs"
}
