package services

import (
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"run-rewards-service/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Ladder maps coin intake to levels. Two shapes ship today: the linear ladder
// drives the canonical level shown everywhere, the quadratic ladder drives the
// badge-tier display. They are intentionally not reconciled with each other.
type Ladder interface {
	// Advance applies delta coins and returns the new level, the new in-level
	// progress, and how many levels were gained (can be more than one).
	Advance(level int, progressCoins, delta float64) (newLevel int, newProgress float64, levelsGained int)
}

// LinearLadder levels up every CoinsPerLevel coins.
type LinearLadder struct {
	CoinsPerLevel float64
}

func (l LinearLadder) Advance(level int, progressCoins, delta float64) (int, float64, int) {
	if level < 1 {
		level = 1
	}
	per := l.CoinsPerLevel
	if per <= 0 {
		per = 100
	}

	progress := progressCoins + delta
	gained := 0
	for progress >= per {
		level++
		gained++
		progress = round2(progress - per)
	}
	if progress < 0 {
		progress = 0
	}
	if progress > per {
		progress = per
	}
	return level, progress, gained
}

// QuadraticLadder requires a cumulative N^2 * 10 coins for level N, so each
// level costs more than the last. Used for badge-threshold display.
type QuadraticLadder struct{}

func (QuadraticLadder) levelForTotal(total float64) int {
	if total < 10 {
		return 0
	}
	return int(math.Floor(math.Sqrt(total / 10)))
}

func (q QuadraticLadder) Advance(level int, progressCoins, delta float64) (int, float64, int) {
	if level < 0 {
		level = 0
	}
	total := float64(level*level)*10 + progressCoins + delta
	if total < 0 {
		total = 0
	}
	newLevel := q.levelForTotal(total)
	newProgress := round2(total - float64(newLevel*newLevel)*10)
	return newLevel, newProgress, newLevel - level
}

// CoinAwardResult is the response shape of the generic coin/level-up path.
type CoinAwardResult struct {
	CoinBalance        float64 `json:"coin_balance"`
	Level              int     `json:"level"`
	LevelProgressCoins float64 `json:"level_progress_coins"`
	LevelsGained       int     `json:"levelsGained"`
	ReducedRewards     bool    `json:"reducedRewards"`
	AppliedMultiplier  float64 `json:"appliedMultiplier"`
	OriginalAmount     float64 `json:"originalAmount"`
	ActualAmount       float64 `json:"actualAmount"`
}

// applyDailyDiminish applies the soft daily landing: once the user's daily
// rewarded total has already reached the cap before this award, new awards are
// halved rather than cut off.
func applyDailyDiminish(delta, dailyRewarded, dailyCap float64) (actual, multiplier float64, reduced bool) {
	if dailyCap > 0 && dailyRewarded >= dailyCap {
		return round2(delta * 0.5), 0.5, true
	}
	return round2(delta), 1.0, false
}

type ProgressionService struct {
	DB     *gorm.DB
	Ledger *LedgerService
}

func NewProgressionService(db *gorm.DB) *ProgressionService {
	return &ProgressionService{DB: db, Ledger: NewLedgerService(db)}
}

// EnsureProfile fetches the RunnerProfile for an external user ID, creating a
// fresh one if the sync worker has not mirrored the user yet (idempotent).
func (s *ProgressionService) EnsureProfile(tx *gorm.DB, externalUserID string) (*models.RunnerProfile, error) {
	var profile models.RunnerProfile
	err := tx.Where("external_user_id = ?", externalUserID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		profile = models.RunnerProfile{
			ID:             uuid.NewString(),
			ExternalUserID: externalUserID,
			Level:          1,
		}
		if err := tx.Create(&profile).Error; err != nil {
			return nil, err
		}
		return &profile, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// resetDailyCounterIfStale zeroes the rolling daily-earn counter when the
// stored reset date is not today.
func resetDailyCounterIfStale(profile *models.RunnerProfile, now time.Time) {
	today := DayString(now)
	if profile.DailyResetDate != today {
		profile.DailyRewardedCoins = 0
		profile.DailyResetDate = today
	}
}

// advanceLadder applies delta coins to the profile's balance and linear level
// ladder in place. Callers persist the profile themselves.
func (s *ProgressionService) advanceLadder(profile *models.RunnerProfile, delta, coinsPerLevel float64) int {
	ladder := LinearLadder{CoinsPerLevel: coinsPerLevel}
	newLevel, newProgress, gained := ladder.Advance(profile.Level, profile.LevelProgressCoins, delta)
	profile.CoinBalance = round2(profile.CoinBalance + delta)
	profile.Level = newLevel
	profile.LevelProgressCoins = newProgress
	if gained > 0 {
		now := time.Now()
		profile.LastLevelUpAt = &now
	}
	return gained
}

// ApplyCoinAndLevelUp runs the generic coin-award path: daily diminishing
// return, ledger append, balance and ladder update, all in one transaction.
// This channel is separate from the emission-curve run path and does not touch
// the global supply.
func (s *ProgressionService) ApplyCoinAndLevelUp(externalUserID string, delta float64, reason string) (*CoinAwardResult, error) {
	var result *CoinAwardResult
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		profile, err := s.EnsureProfile(tx, externalUserID)
		if err != nil {
			return err
		}

		var cfg models.EconomyConfig
		if err := tx.First(&cfg).Error; err != nil {
			return fmt.Errorf("economy config not seeded: %w", err)
		}

		now := time.Now()
		resetDailyCounterIfStale(profile, now)

		actual, multiplier, reduced := applyDailyDiminish(delta, profile.DailyRewardedCoins, cfg.DailyRewardCap)

		// Ledger first: if anything after this fails the transaction rolls
		// back whole, and on read the ledger always dominates the cached sum.
		entry := &models.LedgerEntry{
			UserID:         externalUserID,
			Amount:         actual,
			Type:           models.LedgerTypeBonus,
			SourceType:     reason,
			Note:           reason,
			BaseReward:     delta,
			MultiplierUsed: multiplier,
			FinalReward:    actual,
		}
		if err := s.Ledger.Append(tx, entry); err != nil {
			return err
		}

		gained := s.advanceLadder(profile, actual, cfg.CoinsPerLevel)
		profile.DailyRewardedCoins = round2(profile.DailyRewardedCoins + actual)

		if err := tx.Save(profile).Error; err != nil {
			return err
		}

		result = &CoinAwardResult{
			CoinBalance:        profile.CoinBalance,
			Level:              profile.Level,
			LevelProgressCoins: profile.LevelProgressCoins,
			LevelsGained:       gained,
			ReducedRewards:     reduced,
			AppliedMultiplier:  multiplier,
			OriginalAmount:     delta,
			ActualAmount:       actual,
		}

		log.Printf("🪙 Coins awarded: %s +%.2f (reason: %s, reduced=%t, lvl=%d)",
			externalUserID, actual, reason, reduced, profile.Level)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ApplyCoins is the POST /coins/apply handler.
func (s *ProgressionService) ApplyCoins(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	var req struct {
		DeltaCoins float64 `json:"delta_coins"`
		Reason     string  `json:"reason"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.DeltaCoins <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "delta_coins must be positive"})
	}
	if req.Reason == "" {
		req.Reason = "manual_award"
	}

	result, err := s.ApplyCoinAndLevelUp(userID, req.DeltaCoins, req.Reason)
	if err != nil {
		log.Printf("DB Error applying coins for %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to apply coins"})
	}
	return c.JSON(result)
}

// GetUserProgress is the GET /user/progress handler. Reports the canonical
// linear level plus the quadratic badge tier derived from lifetime balance.
func (s *ProgressionService) GetUserProgress(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	var profile *models.RunnerProfile
	var err error
	if profile, err = s.EnsureProfile(s.DB, userID); err != nil {
		log.Printf("DB Error fetching profile for %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch progress"})
	}

	var cfg models.EconomyConfig
	if err := s.DB.First(&cfg).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Economy config not seeded"})
	}

	quad := QuadraticLadder{}
	badgeTier := quad.levelForTotal(profile.CoinBalance)
	nextTierAt := float64((badgeTier+1)*(badgeTier+1)) * 10

	var unlockCount int64
	s.DB.Model(&models.UserAchievementUnlock{}).Where("user_id = ?", userID).Count(&unlockCount)

	return c.JSON(fiber.Map{
		"coin_balance":         profile.CoinBalance,
		"level":                profile.Level,
		"level_progress_coins": profile.LevelProgressCoins,
		"coins_per_level":      cfg.CoinsPerLevel,
		"badge_tier":           badgeTier,
		"badge_next_tier_at":   nextTierAt,
		"current_streak":       profile.CurrentStreak,
		"last_run_date":        profile.LastRunDate,
		"daily_rewarded_coins": profile.DailyRewardedCoins,
		"achievements_unlocked": unlockCount,
		"last_level_up_at":     profile.LastLevelUpAt,
	})
}
