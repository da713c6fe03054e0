package services

import (
	"errors"
	"fmt"
	"log"

	"run-rewards-service/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// AchievementCatalog is the built-in catalog, seeded into the DB on boot.
// Codes are derived from titles so they stay stable across reseeds.
var AchievementCatalog = []models.Achievement{
	{Title: "First Steps", Description: "Complete your first run", Category: "runs", Rarity: "common",
		RequirementType: models.RequirementTotalRuns, RequirementValue: 1, RewardCoins: 10},
	{Title: "Regular Runner", Description: "Complete 10 runs", Category: "runs", Rarity: "common",
		RequirementType: models.RequirementTotalRuns, RequirementValue: 10, RewardCoins: 25},
	{Title: "Century Club", Description: "Complete 100 runs", Category: "runs", Rarity: "epic",
		RequirementType: models.RequirementTotalRuns, RequirementValue: 100, RewardCoins: 200},
	{Title: "Ten K Total", Description: "Run 10 km in total", Category: "distance", Rarity: "common",
		RequirementType: models.RequirementTotalDistance, RequirementValue: 10, RewardCoins: 15},
	{Title: "Road Warrior", Description: "Run 100 km in total", Category: "distance", Rarity: "rare",
		RequirementType: models.RequirementTotalDistance, RequirementValue: 100, RewardCoins: 50},
	{Title: "Marathon Month", Description: "Run 500 km in total", Category: "distance", Rarity: "epic",
		RequirementType: models.RequirementTotalDistance, RequirementValue: 500, RewardCoins: 150},
	{Title: "Quest Novice", Description: "Complete 5 daily quests", Category: "quests", Rarity: "common",
		RequirementType: models.RequirementQuestStreak, RequirementValue: 5, RewardCoins: 20},
	{Title: "Quest Master", Description: "Complete 50 daily quests", Category: "quests", Rarity: "rare",
		RequirementType: models.RequirementQuestStreak, RequirementValue: 50, RewardCoins: 100},
	{Title: "Social Starter", Description: "Follow 5 other runners", Category: "social", Rarity: "common",
		RequirementType: models.RequirementFriendCount, RequirementValue: 5, RewardCoins: 10},
	{Title: "Crew Leader", Description: "Follow 25 other runners", Category: "social", Rarity: "rare",
		RequirementType: models.RequirementFriendCount, RequirementValue: 25, RewardCoins: 40},
}

// userStats are the aggregates achievement predicates are evaluated against.
type userStats struct {
	TotalDistance   float64
	TotalRuns       int64
	CompletedQuests int64
	FriendCount     int64
}

func (st *userStats) valueFor(req models.AchievementRequirement) (float64, bool) {
	switch req {
	case models.RequirementTotalDistance:
		return st.TotalDistance, true
	case models.RequirementTotalRuns:
		return float64(st.TotalRuns), true
	case models.RequirementQuestStreak:
		return float64(st.CompletedQuests), true
	case models.RequirementFriendCount:
		return float64(st.FriendCount), true
	}
	return 0, false
}

// AchievementService evaluates unlock predicates and guarantees at most one
// unlock (and one bonus grant) per (user, achievement) pair, even when
// invoked concurrently.
type AchievementService struct {
	DB          *gorm.DB
	Ledger      *LedgerService
	Progression *ProgressionService
}

func NewAchievementService(db *gorm.DB, progression *ProgressionService) *AchievementService {
	return &AchievementService{
		DB:          db,
		Ledger:      NewLedgerService(db),
		Progression: progression,
	}
}

// SeedCatalog upserts the built-in achievement catalog (idempotent on code).
func (s *AchievementService) SeedCatalog() error {
	for _, a := range AchievementCatalog {
		a.Code = slug.Make(a.Title)

		var existing models.Achievement
		err := s.DB.Where("code = ?", a.Code).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			a.ID = uuid.NewString()
			if err := s.DB.Create(&a).Error; err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *AchievementService) loadStats(externalUserID string) (*userStats, error) {
	var st userStats

	if err := s.DB.Model(&models.Run{}).
		Where("external_user_id = ? AND status = ?", externalUserID, models.RunStatusCompleted).
		Select("COALESCE(SUM(distance_km), 0)").
		Scan(&st.TotalDistance).Error; err != nil {
		return nil, err
	}
	if err := s.DB.Model(&models.Run{}).
		Where("external_user_id = ? AND status = ?", externalUserID, models.RunStatusCompleted).
		Count(&st.TotalRuns).Error; err != nil {
		return nil, err
	}
	if err := s.DB.Model(&models.QuestProgress{}).
		Where("user_id = ? AND completed = ?", externalUserID, true).
		Count(&st.CompletedQuests).Error; err != nil {
		return nil, err
	}
	if err := s.DB.Model(&models.Follow{}).
		Where("follower_id = ?", externalUserID).
		Count(&st.FriendCount).Error; err != nil {
		return nil, err
	}
	return &st, nil
}

// errUnlockRaced signals that a concurrent request inserted the unlock row
// between our guard read and our write. The transaction rolls back and the
// caller treats it as "already present", never as a failure.
var errUnlockRaced = errors.New("achievement unlock already present")

// bonusNote builds the deterministic dedup key for an achievement's coin
// grant. Stable per (user, achievement) so a raced duplicate unlock can never
// credit twice.
func bonusNote(externalUserID, achievementCode string) string {
	return fmt.Sprintf("achievement_bonus:%s:%s", externalUserID, achievementCode)
}

// CheckAndUnlock scans the catalog for the user and unlocks everything newly
// qualified. Calling it again with no new progress is a no-op. Duplicate
// unlock attempts from concurrent calls resolve to a silent skip, never to a
// second unlock row or a second coin grant.
func (s *AchievementService) CheckAndUnlock(externalUserID string) ([]models.Achievement, error) {
	var catalog []models.Achievement
	if err := s.DB.Order("requirement_value ASC").Find(&catalog).Error; err != nil {
		return nil, err
	}

	var unlockedRows []models.UserAchievementUnlock
	if err := s.DB.Where("user_id = ?", externalUserID).Find(&unlockedRows).Error; err != nil {
		return nil, err
	}
	unlocked := make(map[string]bool, len(unlockedRows))
	for _, row := range unlockedRows {
		unlocked[row.AchievementID] = true
	}

	stats, err := s.loadStats(externalUserID)
	if err != nil {
		return nil, err
	}

	var newlyUnlocked []models.Achievement
	for _, achievement := range catalog {
		if unlocked[achievement.ID] {
			continue
		}
		value, ok := stats.valueFor(achievement.RequirementType)
		if !ok || value < achievement.RequirementValue {
			continue
		}

		granted, err := s.unlockOne(externalUserID, &achievement)
		if err != nil {
			return newlyUnlocked, err
		}
		if granted {
			newlyUnlocked = append(newlyUnlocked, achievement)
			log.Printf("🏅 Achievement unlocked: %s → %s", achievement.Code, externalUserID)
		}
	}
	return newlyUnlocked, nil
}

// unlockOne writes the unlock record and grants the bonus, guarding both
// writes against a concurrent duplicate. Returns false when another request
// got there first.
func (s *AchievementService) unlockOne(externalUserID string, achievement *models.Achievement) (bool, error) {
	granted := false
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		// Re-check immediately before writing: the catalog scan above reads a
		// snapshot, and a concurrent request for the same user may have
		// unlocked this pair in the meantime.
		var count int64
		if err := tx.Model(&models.UserAchievementUnlock{}).
			Where("user_id = ? AND achievement_id = ?", externalUserID, achievement.ID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		var cfg models.EconomyConfig
		if err := tx.First(&cfg).Error; err != nil {
			return fmt.Errorf("economy config not seeded: %w", err)
		}

		// Achievement bonuses are exempt from the emission curve: a badge
		// earned late in the token's life is worth the same as one earned
		// early.
		bonus := round2(achievement.RewardCoins * cfg.RewardMultiplier)

		unlock := models.UserAchievementUnlock{
			ID:            uuid.NewString(),
			UserID:        externalUserID,
			AchievementID: achievement.ID,
			BonusCoins:    bonus,
		}
		if err := tx.Create(&unlock).Error; err != nil {
			// The unique index on (user_id, achievement_id) is the hard
			// backstop: a concurrent request that slipped past the guard read
			// loses here and resolves to a skip, not an error.
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errUnlockRaced
			}
			return err
		}

		if bonus > 0 {
			// Second guard, specifically against double-crediting coins if the
			// unlock write itself raced.
			note := bonusNote(externalUserID, achievement.Code)
			exists, err := s.Ledger.HasEntryWithNote(tx, externalUserID, note)
			if err != nil {
				return err
			}
			if !exists {
				entry := &models.LedgerEntry{
					UserID:         externalUserID,
					Amount:         bonus,
					Type:           models.LedgerTypeBonus,
					SourceType:     achievement.Code,
					Note:           note,
					BaseReward:     achievement.RewardCoins,
					MultiplierUsed: cfg.RewardMultiplier,
					FinalReward:    bonus,
				}
				if err := s.Ledger.Append(tx, entry); err != nil {
					return err
				}

				profile, err := s.Progression.EnsureProfile(tx, externalUserID)
				if err != nil {
					return err
				}
				s.Progression.advanceLadder(profile, bonus, cfg.CoinsPerLevel)
				if err := tx.Save(profile).Error; err != nil {
					return err
				}
			}
		}

		granted = true
		return nil
	})
	if errors.Is(err, errUnlockRaced) {
		return false, nil
	}
	return granted, err
}

// CheckAchievements is the POST /achievements/check handler. Accepts an
// optional user_email in the body (admin/automation use); otherwise the
// authenticated user is scanned.
func (s *AchievementService) CheckAchievements(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	var req struct {
		UserEmail string `json:"user_email"`
	}
	_ = c.BodyParser(&req) // empty body is fine

	if req.UserEmail != "" {
		var profile models.RunnerProfile
		if err := s.DB.Where("email = ?", req.UserEmail).First(&profile).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
		}
		userID = profile.ExternalUserID
	}

	newly, err := s.CheckAndUnlock(userID)
	if err != nil {
		log.Printf("DB Error checking achievements for %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to check achievements"})
	}

	if newly == nil {
		newly = []models.Achievement{}
	}
	return c.JSON(fiber.Map{"newlyUnlocked": newly})
}

// GetUserAchievements lists the catalog annotated with the user's unlock state.
func (s *AchievementService) GetUserAchievements(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	var catalog []models.Achievement
	if err := s.DB.Order("requirement_value ASC").Find(&catalog).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch achievements"})
	}

	var unlocks []models.UserAchievementUnlock
	if err := s.DB.Where("user_id = ?", userID).Find(&unlocks).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch unlocks"})
	}
	unlockedAt := make(map[string]models.UserAchievementUnlock, len(unlocks))
	for _, u := range unlocks {
		unlockedAt[u.AchievementID] = u
	}

	var response []fiber.Map
	for _, a := range catalog {
		item := fiber.Map{
			"id":                a.ID,
			"code":              a.Code,
			"title":             a.Title,
			"description":       a.Description,
			"category":          a.Category,
			"rarity":            a.Rarity,
			"requirement_type":  a.RequirementType,
			"requirement_value": a.RequirementValue,
			"reward_coins":      a.RewardCoins,
			"unlocked":          false,
		}
		if u, ok := unlockedAt[a.ID]; ok {
			item["unlocked"] = true
			item["unlocked_at"] = u.UnlockedAt
			item["bonus_coins"] = u.BonusCoins
		}
		response = append(response, item)
	}
	return c.JSON(response)
}
