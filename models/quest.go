package models

import (
	"time"
)

// DailyQuest is one date-scoped quest instance, seeded each day by the
// scheduler from a rotating template set.
type DailyQuest struct {
	ID          string    `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	QuestDate   string    `gorm:"type:varchar(10);not null;uniqueIndex:idx_quest_date_code" json:"quest_date"` // ISO date
	Code        string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_quest_date_code" json:"code"`
	Title       string    `gorm:"not null" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	TargetValue float64   `gorm:"not null" json:"target_value"` // e.g. km to run, minutes active
	RewardCoins float64   `gorm:"not null" json:"reward_coins"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// QuestProgress tracks one user's progress on one daily quest. Completed rows
// feed the quest_streak achievement statistic.
type QuestProgress struct {
	ID          string     `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	UserID      string     `gorm:"not null;uniqueIndex:idx_user_quest" json:"user_id"`
	QuestID     string     `gorm:"not null;uniqueIndex:idx_user_quest" json:"quest_id"`
	Progress    float64    `gorm:"not null;default:0" json:"progress"`
	Completed   bool       `gorm:"not null;default:false;index" json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}
