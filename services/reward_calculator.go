package services

import (
	"errors"
	"math"
	"time"

	"run-rewards-service/models"
)

// ErrSupplyExhausted is returned when the unissued token pool is empty.
// Callers treat this as a normal "no reward available" outcome, not a failure.
var ErrSupplyExhausted = errors.New("token supply exhausted")

// ErrInvalidRunMetrics is returned for out-of-range calculator input.
var ErrInvalidRunMetrics = errors.New("invalid run metrics")

// RewardTimeLocation anchors all calendar-day logic (streaks, daily caps,
// quest dates). Daily boundaries are day boundaries in this location, not
// rolling 24h windows.
var RewardTimeLocation = time.UTC

// DayString formats t as the ISO calendar date used for streaks and daily
// reset markers.
func DayString(t time.Time) string {
	return t.In(RewardTimeLocation).Format("2006-01-02")
}

// RewardBreakdown records every intermediate of a run reward calculation. It
// is serialized into the ledger entry note so receipts can show users exactly
// how their tokens were computed.
type RewardBreakdown struct {
	DistanceKM         float64 `json:"distance_km"`
	StreakDays         int     `json:"streak_days"`
	FirstRunToday      bool    `json:"first_run_today"`
	Base               float64 `json:"base"`
	StreakFactor       float64 `json:"streak_factor"`
	StreakRate         float64 `json:"streak_rate"`
	StreakCoin         float64 `json:"streak_coin"`
	DailyCoin          float64 `json:"daily_coin"`
	RemainingRatio     float64 `json:"remaining_ratio"`
	EmissionMultiplier float64 `json:"emission_multiplier"`
	Raw                float64 `json:"raw"`
	Final              float64 `json:"final"`
}

// round2 rounds half-up to 2 decimal places. All coin amounts in the engine
// are carried at this precision.
func round2(v float64) float64 {
	return math.Floor(v*100+0.5) / 100
}

// CalculateRunReward computes the token reward for one run. Pure function: no
// I/O, fully determined by its inputs. Returns ErrSupplyExhausted when the
// config's remaining pool is empty — callers short-circuit on remaining <= 0
// before doing any other work, this is the backstop.
//
// The emission multiplier is a convex decay on the remaining/total supply
// ratio: rewards shrink as the pool depletes but never fall below the
// configured floor, so issuance is bounded without ever fully halting.
func CalculateRunReward(distanceKM float64, streakDays int, firstRunToday bool, cfg *models.EconomyConfig) (*RewardBreakdown, error) {
	if distanceKM < 0 || streakDays < 1 {
		return nil, ErrInvalidRunMetrics
	}
	if cfg.Remaining <= 0 {
		return nil, ErrSupplyExhausted
	}

	b := &RewardBreakdown{
		DistanceKM:    distanceKM,
		StreakDays:    streakDays,
		FirstRunToday: firstRunToday,
	}

	b.Base = round2(distanceKM * cfg.BaseRatePerKM)

	// Square root gives diminishing marginal return for longer streaks: the
	// early days of a streak are worth the most.
	effectiveStreak := streakDays
	if effectiveStreak > cfg.StreakMaxDays {
		effectiveStreak = cfg.StreakMaxDays
	}
	b.StreakFactor = float64(effectiveStreak) / float64(cfg.StreakMaxDays)
	b.StreakRate = cfg.StreakMaxBonus * math.Sqrt(b.StreakFactor)
	b.StreakCoin = round2(b.Base * b.StreakRate)

	if firstRunToday {
		b.DailyCoin = round2(b.Base * cfg.DailyFirstBonus)
	}

	ratio := cfg.Remaining / cfg.TotalSupply
	if ratio > 1 {
		ratio = 1
	}
	if ratio < 0 {
		ratio = 0
	}
	b.RemainingRatio = ratio
	b.EmissionMultiplier = math.Max(cfg.EmissionFloor, math.Pow(ratio, cfg.EmissionK))

	b.Raw = round2(b.Base + b.StreakCoin + b.DailyCoin)
	b.Final = round2(b.Raw * b.EmissionMultiplier)
	if b.Final > cfg.MaxRewardPerRun {
		b.Final = cfg.MaxRewardPerRun
	}

	return b, nil
}

// DeriveStreak computes the streak state for a run happening at now, given the
// stored streak fields. Calendar-day granularity: a run today keeps the streak
// as-is, a run the day after the last one extends it, anything else resets to 1.
// Pure function; callers persist the result only after the reward commits.
func DeriveStreak(lastRunDate string, currentStreak int, now time.Time) (streakDays int, firstRunToday bool) {
	today := DayString(now)
	yesterday := DayString(now.AddDate(0, 0, -1))

	switch lastRunDate {
	case today:
		if currentStreak < 1 {
			currentStreak = 1
		}
		return currentStreak, false
	case yesterday:
		return currentStreak + 1, true
	default:
		return 1, true
	}
}
