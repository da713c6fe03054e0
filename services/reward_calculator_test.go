package services

import (
	"math"
	"testing"
	"time"

	"run-rewards-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *models.EconomyConfig {
	return &models.EconomyConfig{
		BaseRatePerKM:   1,
		StreakMaxDays:   30,
		StreakMaxBonus:  0.2,
		DailyFirstBonus: 0.1,
		EmissionFloor:   0.35,
		EmissionK:       2.2,
		MaxRewardPerRun: 50,
		DailyUserCap:    100,
		TotalSupply:     1000,
		Distributed:     0,
		Remaining:       1000,
	}
}

func TestCalculateRunRewardFirstRun(t *testing.T) {
	cfg := testConfig()

	b, err := CalculateRunReward(5, 1, true, cfg)
	require.NoError(t, err)

	assert.InDelta(t, 5.0, b.Base, 0.001)
	assert.InDelta(t, 0.2*math.Sqrt(1.0/30.0), b.StreakRate, 0.0001)
	assert.InDelta(t, 0.18, b.StreakCoin, 0.001)
	assert.InDelta(t, 0.5, b.DailyCoin, 0.001)
	assert.InDelta(t, 1.0, b.EmissionMultiplier, 0.001)
	assert.InDelta(t, 5.68, b.Raw, 0.001)
	assert.InDelta(t, 5.68, b.Final, 0.001)
}

func TestCalculateRunRewardEmissionFloorDominates(t *testing.T) {
	cfg := testConfig()
	cfg.Distributed = 999
	cfg.Remaining = 1

	b, err := CalculateRunReward(5, 1, false, cfg)
	require.NoError(t, err)

	assert.InDelta(t, 0.001, b.RemainingRatio, 0.00001)
	// 0.001^2.2 is far below the floor
	assert.InDelta(t, 0.35, b.EmissionMultiplier, 0.0001)
}

func TestCalculateRunRewardPerRunCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRewardPerRun = 10

	b, err := CalculateRunReward(100, 1, true, cfg)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, b.Final, 0.001)
}

func TestCalculateRunRewardSupplyExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.Distributed = 1000
	cfg.Remaining = 0

	_, err := CalculateRunReward(5, 1, true, cfg)
	assert.ErrorIs(t, err, ErrSupplyExhausted)
}

func TestCalculateRunRewardInvalidInput(t *testing.T) {
	cfg := testConfig()

	_, err := CalculateRunReward(-1, 1, true, cfg)
	assert.ErrorIs(t, err, ErrInvalidRunMetrics)

	_, err = CalculateRunReward(5, 0, true, cfg)
	assert.ErrorIs(t, err, ErrInvalidRunMetrics)
}

func TestStreakRateMonotonicAndSaturating(t *testing.T) {
	cfg := testConfig()

	prev := -1.0
	for days := 1; days <= 40; days++ {
		b, err := CalculateRunReward(5, days, false, cfg)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, b.StreakRate, prev, "streak rate must be non-decreasing at %d days", days)
		prev = b.StreakRate
	}

	// Saturates at the configured max bonus once streak_max_days is reached.
	atMax, err := CalculateRunReward(5, 30, false, cfg)
	require.NoError(t, err)
	beyondMax, err := CalculateRunReward(5, 45, false, cfg)
	require.NoError(t, err)
	assert.InDelta(t, cfg.StreakMaxBonus, atMax.StreakRate, 0.0001)
	assert.Equal(t, atMax.StreakRate, beyondMax.StreakRate)
}

func TestEmissionMultiplierNonIncreasing(t *testing.T) {
	cfg := testConfig()

	prev := math.Inf(1)
	for distributed := 0.0; distributed < cfg.TotalSupply; distributed += 100 {
		cfg.Distributed = distributed
		cfg.Remaining = cfg.TotalSupply - distributed

		b, err := CalculateRunReward(5, 1, false, cfg)
		require.NoError(t, err)
		assert.LessOrEqual(t, b.EmissionMultiplier, prev)
		assert.GreaterOrEqual(t, b.EmissionMultiplier, cfg.EmissionFloor)
		prev = b.EmissionMultiplier
	}
}

func TestCalculateRunRewardFinalNeverExceedsCap(t *testing.T) {
	cfg := testConfig()

	for _, distance := range []float64{0.5, 1, 5, 10, 42.2, 100, 1000} {
		for _, streak := range []int{1, 7, 30, 100} {
			b, err := CalculateRunReward(distance, streak, true, cfg)
			require.NoError(t, err)
			assert.LessOrEqual(t, b.Final, cfg.MaxRewardPerRun,
				"distance=%.1f streak=%d", distance, streak)
		}
	}
}

func TestRound2HalfUp(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0.125, 0.13},
		{0.375, 0.38},
		{0.124, 0.12},
		{5.682, 5.68},
		{2.0, 2.0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, round2(tt.in), 0.0001, "round2(%v)", tt.in)
	}
}

func TestDeriveStreak(t *testing.T) {
	now := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		lastRunDate   string
		currentStreak int
		wantStreak    int
		wantFirst     bool
	}{
		{"already ran today", "2026-08-30", 4, 4, false},
		{"ran yesterday, streak extends", "2026-08-29", 4, 5, true},
		{"gap of two days resets", "2026-08-27", 9, 1, true},
		{"never ran before", "", 0, 1, true},
		{"ran today with zero stored streak", "2026-08-30", 0, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			streak, first := DeriveStreak(tt.lastRunDate, tt.currentStreak, now)
			assert.Equal(t, tt.wantStreak, streak)
			assert.Equal(t, tt.wantFirst, first)
		})
	}
}
