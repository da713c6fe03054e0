package models

import (
	"time"
)

// AchievementRequirement selects which user statistic an achievement threshold
// is checked against.
type AchievementRequirement string

const (
	RequirementTotalDistance AchievementRequirement = "total_distance"
	RequirementTotalRuns     AchievementRequirement = "total_runs"
	RequirementQuestStreak   AchievementRequirement = "quest_streak"
	RequirementFriendCount   AchievementRequirement = "friend_count"
)

// Achievement is a row of the (rarely changing) achievement catalog.
type Achievement struct {
	ID               string                 `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Code             string                 `gorm:"uniqueIndex;not null" json:"code"` // slug, e.g. "marathon-month"
	Title            string                 `gorm:"not null" json:"title"`
	Description      string                 `gorm:"type:text" json:"description"`
	Category         string                 `gorm:"type:varchar(32);default:'distance'" json:"category"`
	Rarity           string                 `gorm:"type:varchar(16);default:'common'" json:"rarity"` // common, rare, epic, legendary
	IconURL          string                 `gorm:"type:text" json:"icon_url"`
	RequirementType  AchievementRequirement `gorm:"type:varchar(32);not null" json:"requirement_type"`
	RequirementValue float64                `gorm:"not null" json:"requirement_value"`
	RewardCoins      float64                `gorm:"not null;default:0" json:"reward_coins"`
	CreatedAt        time.Time              `json:"created_at" gorm:"autoCreateTime"`
}

// UserAchievementUnlock records a single unlock. The unique index on
// (user_id, achievement_id) is the hard backstop for the at-most-once
// guarantee; the engine additionally re-checks before writing so a lost race
// resolves to a silent skip rather than a constraint error surfacing upward.
type UserAchievementUnlock struct {
	ID            string    `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	UserID        string    `gorm:"not null;uniqueIndex:idx_user_achievement" json:"user_id"`
	AchievementID string    `gorm:"not null;uniqueIndex:idx_user_achievement" json:"achievement_id"`
	BonusCoins    float64   `json:"bonus_coins"`
	UnlockedAt    time.Time `json:"unlocked_at" gorm:"autoCreateTime"`
}
