package models

import (
	"time"
)

// LedgerEntryType categorizes the source channel of a balance change.
type LedgerEntryType string

const (
	LedgerTypeRun      LedgerEntryType = "run"      // emission-curve run rewards
	LedgerTypeBonus    LedgerEntryType = "bonus"    // achievement bonuses, generic coin grants
	LedgerTypeActivity LedgerEntryType = "activity" // flat activity-table rewards, incl. quest completions
)

// LedgerEntry is one append-only balance change. Entries are never updated or
// deleted; a user's balance is the sum of their entries and the cached
// RunnerProfile.CoinBalance must always be rebuildable from this table.
type LedgerEntry struct {
	ID         string          `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	UserID     string          `gorm:"index;not null" json:"user_id"` // external user ID
	Amount     float64         `gorm:"not null" json:"amount"`
	Type       LedgerEntryType `gorm:"type:varchar(16);not null;index" json:"type"`
	SourceType string          `gorm:"type:varchar(64)" json:"source_type"` // e.g. run ID, activity type, achievement code

	// Note carries the serialized reward breakdown (run rewards) or a
	// deterministic dedup key (achievement bonuses).
	Note string `gorm:"type:text" json:"note"`

	// Audit copies of the calculation stages
	BaseReward     float64 `json:"base_reward"`
	MultiplierUsed float64 `json:"multiplier_used"`
	FinalReward    float64 `json:"final_reward"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime;index"`
}
