package models

import (
	"time"

	"gorm.io/gorm"
)

// RunStatus marks whether a run record counts toward rewards and statistics.
type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusDiscarded RunStatus = "discarded" // flagged invalid after the fact, kept for audit
)

// Run is a completed run as reported by the tracking client. Route geometry
// stays in the tracking service; only the metrics the reward engine needs are
// mirrored here.
type Run struct {
	ID             string    `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	ExternalUserID string    `gorm:"index;not null" json:"external_user_id"`

	// ExternalRunID is the tracking service's run ID. The partial unique
	// index turns a replay of the same run into a dedup hit instead of a
	// second credit; runs reported without an ID stay unconstrained.
	ExternalRunID string `gorm:"index:idx_runs_external_run_id,unique,where:external_run_id <> ''" json:"external_run_id,omitempty"`
	DistanceKM     float64   `gorm:"not null" json:"distance_km"`
	DurationSec    int       `gorm:"not null" json:"duration_sec"`
	Status         RunStatus `gorm:"type:varchar(16);not null;default:'completed';index" json:"status"`
	TokensEarned   float64   `json:"tokens_earned"`

	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime;index"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
