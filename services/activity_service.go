package services

import (
	"errors"
	"log"
	"math"

	"run-rewards-service/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// ErrInvalidActivity is returned for activity types not in the reward table.
// Unknown types are a hard input-validation failure, never a silent no-op.
var ErrInvalidActivity = errors.New("invalid activity type")

// ActivityMetadata carries the optional per-activity inputs some table
// entries compute from.
type ActivityMetadata struct {
	DistanceKM float64 `json:"distance_km,omitempty"`
	Days       int     `json:"days,omitempty"`
	GroupID    string  `json:"group_id,omitempty"`
	EventID    string  `json:"event_id,omitempty"`
}

type activityRule struct {
	reason string
	amount func(meta ActivityMetadata) float64
}

func flat(amount float64) func(ActivityMetadata) float64 {
	return func(ActivityMetadata) float64 { return amount }
}

// activityRewardTable maps discrete activity types to flat coin amounts.
// This channel bypasses the emission curve entirely — activity coins are a
// fixed-price tier, not supply-decayed.
var activityRewardTable = map[string]activityRule{
	"run_completed": {
		reason: "Completed a run",
		amount: func(meta ActivityMetadata) float64 { return math.Floor(meta.DistanceKM * 10) },
	},
	"streak_milestone": {
		reason: "Reached a streak milestone",
		amount: func(meta ActivityMetadata) float64 { return float64(meta.Days) * 20 },
	},
	"join_group":     {reason: "Joined a running group", amount: flat(15)},
	"attend_event":   {reason: "Attended a group event", amount: flat(25)},
	"invite_friend":  {reason: "Invited a friend", amount: flat(30)},
	"share_route":    {reason: "Shared a route", amount: flat(10)},
	"complete_quest": {reason: "Completed a daily quest", amount: flat(20)},
}

// ActivityReward resolves an activity type and metadata to a coin amount and
// display reason. Pure lookup, no I/O.
func ActivityReward(activityType string, meta ActivityMetadata) (float64, string, error) {
	rule, ok := activityRewardTable[activityType]
	if !ok {
		return 0, "", ErrInvalidActivity
	}
	amount := rule.amount(meta)
	if amount < 0 {
		amount = 0
	}
	return round2(amount), rule.reason, nil
}

// ActivityService awards flat coins for discrete social/app activities.
type ActivityService struct {
	DB          *gorm.DB
	Ledger      *LedgerService
	Progression *ProgressionService
}

func NewActivityService(db *gorm.DB, progression *ProgressionService) *ActivityService {
	return &ActivityService{
		DB:          db,
		Ledger:      NewLedgerService(db),
		Progression: progression,
	}
}

// Award credits a user for one activity: ledger entry, balance, and level
// ladder in one transaction. Returns the new balance.
func (s *ActivityService) Award(externalUserID, activityType string, meta ActivityMetadata) (coins, newBalance float64, reason string, err error) {
	coins, reason, err = ActivityReward(activityType, meta)
	if err != nil {
		return 0, 0, "", err
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		profile, err := s.Progression.EnsureProfile(tx, externalUserID)
		if err != nil {
			return err
		}

		var cfg models.EconomyConfig
		if err := tx.First(&cfg).Error; err != nil {
			return err
		}

		if coins > 0 {
			entry := &models.LedgerEntry{
				UserID:         externalUserID,
				Amount:         coins,
				Type:           models.LedgerTypeActivity,
				SourceType:     activityType,
				Note:           reason,
				BaseReward:     coins,
				MultiplierUsed: 1,
				FinalReward:    coins,
			}
			if err := s.Ledger.Append(tx, entry); err != nil {
				return err
			}
			s.Progression.advanceLadder(profile, coins, cfg.CoinsPerLevel)
			if err := tx.Save(profile).Error; err != nil {
				return err
			}
		}

		newBalance = profile.CoinBalance
		return nil
	})
	if err != nil {
		return 0, 0, "", err
	}
	return coins, newBalance, reason, nil
}

// AwardActivityCoins is the POST /activities/award handler.
func (s *ActivityService) AwardActivityCoins(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	var req struct {
		ActivityType string           `json:"activity_type"`
		Metadata     ActivityMetadata `json:"metadata"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.ActivityType == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "activity_type is required"})
	}

	coins, newBalance, reason, err := s.Award(userID, req.ActivityType, req.Metadata)
	if errors.Is(err, ErrInvalidActivity) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_activity"})
	}
	if err != nil {
		log.Printf("DB Error awarding activity coins for %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to award coins"})
	}

	return c.JSON(fiber.Map{
		"coinsAwarded": coins,
		"newBalance":   newBalance,
		"reason":       reason,
	})
}
