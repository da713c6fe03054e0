package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLinearLadderSingleLevelUp(t *testing.T) {
	ladder := LinearLadder{CoinsPerLevel: 100}

	level, progress, gained := ladder.Advance(3, 95, 30)

	assert.Equal(t, 4, level)
	assert.InDelta(t, 25.0, progress, 0.001)
	assert.Equal(t, 1, gained)
}

func TestLinearLadderMultipleLevelsInOneUpdate(t *testing.T) {
	ladder := LinearLadder{CoinsPerLevel: 100}

	level, progress, gained := ladder.Advance(1, 0, 250)

	assert.Equal(t, 3, level)
	assert.InDelta(t, 50.0, progress, 0.001)
	assert.Equal(t, 2, gained)
}

func TestLinearLadderNoLevelUp(t *testing.T) {
	ladder := LinearLadder{CoinsPerLevel: 100}

	level, progress, gained := ladder.Advance(2, 40, 30)

	assert.Equal(t, 2, level)
	assert.InDelta(t, 70.0, progress, 0.001)
	assert.Equal(t, 0, gained)
}

func TestQuadraticLadderThresholds(t *testing.T) {
	q := QuadraticLadder{}

	tests := []struct {
		total float64
		level int
	}{
		{0, 0},
		{9, 0},
		{10, 1},
		{39, 1},
		{40, 2},
		{90, 3},
		{1000, 10},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.level, q.levelForTotal(tt.total), "total=%.0f", tt.total)
	}
}

func TestQuadraticLadderAdvance(t *testing.T) {
	q := QuadraticLadder{}

	// 0 coins → 90 coins lands exactly on level 3 (3^2 * 10).
	level, progress, gained := q.Advance(0, 0, 90)
	assert.Equal(t, 3, level)
	assert.InDelta(t, 0.0, progress, 0.001)
	assert.Equal(t, 3, gained)

	// Mid-level delta keeps the remainder as progress.
	level, progress, gained = q.Advance(1, 5, 10)
	assert.Equal(t, 1, level)
	assert.InDelta(t, 15.0, progress, 0.001)
	assert.Equal(t, 0, gained)
}

func TestApplyDailyDiminish(t *testing.T) {
	tests := []struct {
		name          string
		delta         float64
		dailyRewarded float64
		cap           float64
		wantActual    float64
		wantMult      float64
		wantReduced   bool
	}{
		{"under cap, full award", 50, 100, 200, 50, 1.0, false},
		{"already over cap, halved", 50, 210, 200, 25, 0.5, true},
		{"exactly at cap, halved", 50, 200, 200, 25, 0.5, true},
		{"just below cap, full award", 50, 199.99, 200, 50, 1.0, false},
		{"cap disabled", 50, 9999, 0, 50, 1.0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actual, mult, reduced := applyDailyDiminish(tt.delta, tt.dailyRewarded, tt.cap)
			assert.InDelta(t, tt.wantActual, actual, 0.001)
			assert.InDelta(t, tt.wantMult, mult, 0.001)
			assert.Equal(t, tt.wantReduced, reduced)
		})
	}
}
