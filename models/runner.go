package models

import (
	"time"

	"gorm.io/gorm"
)

// RunnerProfile is a local snapshot of a user from the profile service plus the
// engine-owned progression fields. Identity data (username, email) is populated
// by the profile sync worker; coin/level/streak fields are written only by the
// reward engine.
//
// CoinBalance is a cached sum of the user's ledger entries kept for read
// performance — the ledger remains the source of truth and the balance can be
// rebuilt from it at any time.
type RunnerProfile struct {
	ID             string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	ExternalUserID string `gorm:"uniqueIndex;not null" json:"external_user_id"` // profile service UUID
	Username       string `gorm:"index;not null" json:"username"`
	Email          string `gorm:"index" json:"email,omitempty"`

	// Currency + level ladder
	CoinBalance        float64 `gorm:"not null;default:0" json:"coin_balance"`
	Level              int     `gorm:"not null;default:1" json:"level"`
	LevelProgressCoins float64 `gorm:"not null;default:0" json:"level_progress_coins"`

	// Run streak (calendar days, UTC)
	CurrentStreak int    `gorm:"not null;default:0" json:"current_streak"`
	LastRunDate   string `gorm:"type:varchar(10)" json:"last_run_date"` // ISO date, e.g. "2026-08-30"

	// Rolling daily-earn counter for the generic coin path
	DailyRewardedCoins float64 `gorm:"not null;default:0" json:"daily_rewarded_coins"`
	DailyResetDate     string  `gorm:"type:varchar(10)" json:"daily_reset_date"`

	LastLevelUpAt *time.Time `json:"last_level_up_at,omitempty"`

	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
