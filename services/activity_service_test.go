package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivityRewardTable(t *testing.T) {
	tests := []struct {
		name         string
		activityType string
		meta         ActivityMetadata
		wantCoins    float64
	}{
		{"run completed floors distance", "run_completed", ActivityMetadata{DistanceKM: 5.49}, 54},
		{"run completed short run", "run_completed", ActivityMetadata{DistanceKM: 0.3}, 3},
		{"streak milestone scales with days", "streak_milestone", ActivityMetadata{Days: 7}, 140},
		{"join group flat", "join_group", ActivityMetadata{}, 15},
		{"attend event flat", "attend_event", ActivityMetadata{}, 25},
		{"invite friend flat", "invite_friend", ActivityMetadata{}, 30},
		{"share route flat", "share_route", ActivityMetadata{}, 10},
		{"complete quest flat", "complete_quest", ActivityMetadata{}, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coins, reason, err := ActivityReward(tt.activityType, tt.meta)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantCoins, coins, 0.001)
			assert.NotEmpty(t, reason)
		})
	}
}

func TestActivityRewardUnknownType(t *testing.T) {
	_, _, err := ActivityReward("teleport_home", ActivityMetadata{})
	assert.ErrorIs(t, err, ErrInvalidActivity)

	_, _, err = ActivityReward("", ActivityMetadata{})
	assert.ErrorIs(t, err, ErrInvalidActivity)
}

func TestActivityRewardNeverNegative(t *testing.T) {
	coins, _, err := ActivityReward("streak_milestone", ActivityMetadata{Days: -5})
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, coins, 0.0)
}
