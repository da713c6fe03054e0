package services

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"run-rewards-service/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// errConfigVersionConflict signals that another request moved the economy
// config version between our read and our write. The settlement retries once
// from scratch with fresh state.
var errConfigVersionConflict = errors.New("economy config version conflict")

// errRunAlreadySettled signals that a concurrent request committed a Run row
// for the same external run ID first. The loser rolls back and returns the
// winner's settlement.
var errRunAlreadySettled = errors.New("run already settled")

// RunService settles finished runs: streak derivation, reward calculation,
// cap enforcement, and the atomic ledger/balance/supply commit.
type RunService struct {
	DB          *gorm.DB
	Ledger      *LedgerService
	Progression *ProgressionService
}

func NewRunService(db *gorm.DB, progression *ProgressionService) *RunService {
	return &RunService{
		DB:          db,
		Ledger:      NewLedgerService(db),
		Progression: progression,
	}
}

// RunSettlement is the outcome of settling one run. A zero TokensEarned with a
// non-empty Reason is a normal steady state (exhausted supply, daily cap), not
// an error.
type RunSettlement struct {
	TokensEarned float64          `json:"tokens_earned"`
	Breakdown    *RewardBreakdown `json:"breakdown,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	RunID        string           `json:"run_id,omitempty"`
}

// SettleRun computes and commits the reward for one finished run. Replaying a
// run ID that already settled returns the original settlement without minting
// again. Retries the whole settlement once when the supply write loses a
// version race; beyond that the conflict surfaces to the caller, who may
// retry the request.
func (s *RunService) SettleRun(externalUserID, externalRunID string, distanceKM float64, durationSec int, now time.Time) (*RunSettlement, error) {
	settlement, err := s.settleOnce(externalUserID, externalRunID, distanceKM, durationSec, now)
	if errors.Is(err, errConfigVersionConflict) {
		log.Printf("⚠️ Supply version conflict for %s, retrying settlement", externalUserID)
		settlement, err = s.settleOnce(externalUserID, externalRunID, distanceKM, durationSec, now)
	}
	return settlement, err
}

// findSettled looks up a prior settlement by the tracking service's run ID.
// Returns nil when the run has not been settled yet.
func (s *RunService) findSettled(externalRunID string) (*RunSettlement, error) {
	var existing models.Run
	err := s.DB.Where("external_run_id = ?", externalRunID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &RunSettlement{
		TokensEarned: existing.TokensEarned,
		Reason:       "already_settled",
		RunID:        existing.ID,
	}, nil
}

func (s *RunService) settleOnce(externalUserID, externalRunID string, distanceKM float64, durationSec int, now time.Time) (*RunSettlement, error) {
	if externalRunID != "" {
		prior, err := s.findSettled(externalRunID)
		if err != nil || prior != nil {
			return prior, err
		}
	}

	var cfg models.EconomyConfig
	if err := s.DB.First(&cfg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &RunSettlement{TokensEarned: 0, Reason: "economy_not_configured"}, nil
		}
		return nil, err
	}

	// Fast path: nothing left to emit. The run is not even recorded as a
	// reward attempt; the calculator below is the backstop for races.
	if cfg.Remaining <= 0 {
		return &RunSettlement{TokensEarned: 0, Reason: "supply_exhausted"}, nil
	}

	var settlement *RunSettlement
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		profile, err := s.Progression.EnsureProfile(tx, externalUserID)
		if err != nil {
			return err
		}

		streakDays, firstRunToday := DeriveStreak(profile.LastRunDate, profile.CurrentStreak, now)

		breakdown, err := CalculateRunReward(distanceKM, streakDays, firstRunToday, &cfg)
		if errors.Is(err, ErrSupplyExhausted) {
			settlement = &RunSettlement{TokensEarned: 0, Reason: "supply_exhausted"}
			return nil
		}
		if err != nil {
			return err
		}

		final := ClipToSupply(breakdown.Final, cfg.Remaining)

		earnedToday, err := s.Ledger.EarnedToday(tx, externalUserID, models.LedgerTypeRun, now)
		if err != nil {
			return err
		}
		final = ClipToDailyCap(final, earnedToday, cfg.DailyUserCap)
		breakdown.Final = final

		run := &models.Run{
			ID:             uuid.NewString(),
			ExternalUserID: externalUserID,
			ExternalRunID:  externalRunID,
			DistanceKM:     distanceKM,
			DurationSec:    durationSec,
			Status:         models.RunStatusCompleted,
			TokensEarned:   final,
		}
		if err := tx.Create(run).Error; err != nil {
			// The unique index on external_run_id catches a replay that raced
			// past the dedup read above.
			if externalRunID != "" && errors.Is(err, gorm.ErrDuplicatedKey) {
				return errRunAlreadySettled
			}
			return err
		}

		// Streak state advances even when the reward was clipped to zero: the
		// run itself still happened today.
		today := DayString(now)
		profile.CurrentStreak = streakDays
		profile.LastRunDate = today

		if final <= 0 {
			if err := tx.Save(profile).Error; err != nil {
				return err
			}
			settlement = &RunSettlement{TokensEarned: 0, Breakdown: breakdown, Reason: "daily_cap_reached", RunID: run.ID}
			return nil
		}

		note, err := json.Marshal(breakdown)
		if err != nil {
			return err
		}
		entry := &models.LedgerEntry{
			UserID:         externalUserID,
			Amount:         final,
			Type:           models.LedgerTypeRun,
			SourceType:     run.ID,
			Note:           string(note),
			BaseReward:     breakdown.Base,
			MultiplierUsed: breakdown.EmissionMultiplier,
			FinalReward:    final,
		}
		if err := s.Ledger.Append(tx, entry); err != nil {
			return err
		}

		s.Progression.advanceLadder(profile, final, cfg.CoinsPerLevel)
		if err := tx.Save(profile).Error; err != nil {
			return err
		}

		// Version-guarded supply write: blind read-modify-write would let two
		// concurrent settlements both deduct from the same snapshot.
		res := tx.Model(&models.EconomyConfig{}).
			Where("id = ? AND version = ?", cfg.ID, cfg.Version).
			Updates(map[string]interface{}{
				"distributed": gorm.Expr("distributed + ?", final),
				"remaining":   gorm.Expr("remaining - ?", final),
				"version":     gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errConfigVersionConflict
		}

		settlement = &RunSettlement{TokensEarned: final, Breakdown: breakdown, RunID: run.ID}
		return nil
	})
	if errors.Is(err, errRunAlreadySettled) {
		return s.findSettled(externalRunID)
	}
	if err != nil {
		return nil, err
	}
	return settlement, nil
}

// FinishRun is the POST /runs/finish handler.
func (s *RunService) FinishRun(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	var req struct {
		RunID       string  `json:"run_id"`
		DistanceKM  float64 `json:"distance_km"`
		DurationSec int     `json:"duration_sec"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.DistanceKM <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "distance_km must be positive"})
	}
	if req.DurationSec <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "duration_sec must be positive"})
	}

	settlement, err := s.SettleRun(userID, req.RunID, req.DistanceKM, req.DurationSec, time.Now())
	if err != nil {
		log.Printf("DB Error settling run for %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to settle run"})
	}

	log.Printf("🏃 Run settled: %s %.2fkm → %.2f tokens (reason: %s)",
		userID, req.DistanceKM, settlement.TokensEarned, settlement.Reason)
	return c.JSON(settlement)
}

// GetUserRuns returns the authenticated user's recent completed runs.
func (s *RunService) GetUserRuns(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	days := c.QueryInt("days", 30)
	if days < 1 || days > 365 {
		days = 30
	}

	var runs []models.Run
	since := time.Now().AddDate(0, 0, -days)
	if err := s.DB.Where("external_user_id = ? AND created_at >= ?", userID, since).
		Order("created_at DESC").
		Find(&runs).Error; err != nil {
		log.Printf("DB Error fetching runs: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch runs"})
	}
	return c.JSON(runs)
}
