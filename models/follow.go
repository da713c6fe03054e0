package models

import (
	"time"
)

// Follow is a one-directional follow edge mirrored from the social service.
// Only used as the friend_count statistic for achievements.
type Follow struct {
	ID         string    `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	FollowerID string    `gorm:"not null;uniqueIndex:idx_follower_followee" json:"follower_id"`
	FolloweeID string    `gorm:"not null;uniqueIndex:idx_follower_followee" json:"followee_id"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
}
