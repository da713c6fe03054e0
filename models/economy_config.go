package models

import (
	"time"
)

// EconomyConfig is the singleton row holding every tunable reward parameter.
// Distributed and Remaining are the only fields the engine itself writes;
// everything else is operator-edited through the admin endpoints.
// Invariant: Remaining == TotalSupply - Distributed (repaired by the
// reconciliation job when the two drift).
type EconomyConfig struct {
	ID string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`

	// Run reward shape
	BaseRatePerKM   float64 `gorm:"not null;default:1" json:"base_rate_per_km"`
	StreakMaxDays   int     `gorm:"not null;default:30" json:"streak_max_days"`
	StreakMaxBonus  float64 `gorm:"not null;default:0.2" json:"streak_max_bonus"`
	DailyFirstBonus float64 `gorm:"not null;default:0.1" json:"daily_first_bonus"`

	// Emission decay + per-run/per-day limits
	EmissionFloor   float64 `gorm:"not null;default:0.35" json:"emission_floor"`
	EmissionK       float64 `gorm:"not null;default:2.2" json:"emission_k"`
	MaxRewardPerRun float64 `gorm:"not null;default:50" json:"max_reward_per_run"`
	DailyUserCap    float64 `gorm:"not null;default:100" json:"daily_user_cap"`

	// Global supply pool
	TotalSupply float64 `gorm:"not null" json:"total_supply"`
	Distributed float64 `gorm:"not null;default:0" json:"distributed"`
	Remaining   float64 `gorm:"not null" json:"remaining"`

	// Generic coin/level path
	CoinsPerLevel    float64 `gorm:"not null;default:100" json:"coins_per_level"`
	DailyRewardCap   float64 `gorm:"not null;default:200" json:"daily_reward_cap"`
	RewardMultiplier float64 `gorm:"not null;default:1" json:"reward_multiplier"`

	// Bumped on every supply write; concurrent writers compare-and-swap on it.
	Version int64 `gorm:"not null;default:0" json:"version"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
