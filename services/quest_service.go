package services

import (
	"errors"
	"log"
	"time"

	"run-rewards-service/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// questTemplate is one entry of the rotating daily quest pool.
type questTemplate struct {
	Code        string
	Title       string
	Description string
	TargetValue float64
	RewardCoins float64
}

var questTemplates = []questTemplate{
	{"run-3k", "Quick 3K", "Run 3 km today", 3, 20},
	{"run-5k", "Daily 5K", "Run 5 km today", 5, 30},
	{"run-30min", "Half Hour Hustle", "Be active for 30 minutes", 30, 25},
	{"early-bird", "Early Bird", "Finish a run before 9am", 1, 15},
	{"share-one", "Show It Off", "Share one route with your crew", 1, 10},
}

// QuestService seeds date-scoped daily quests and records completions.
// Completed quests feed the quest_streak achievement statistic.
type QuestService struct {
	DB       *gorm.DB
	Activity *ActivityService
}

func NewQuestService(db *gorm.DB, activity *ActivityService) *QuestService {
	return &QuestService{DB: db, Activity: activity}
}

// SeedDailyQuests creates today's quest instances from the template pool.
// Idempotent: the (date, code) unique index makes a rerun a no-op. Three
// templates rotate in per day, keyed off the day number.
func (s *QuestService) SeedDailyQuests(now time.Time) error {
	today := DayString(now)
	dayIndex := now.In(RewardTimeLocation).YearDay()

	for i := 0; i < 3; i++ {
		tpl := questTemplates[(dayIndex+i)%len(questTemplates)]

		var existing models.DailyQuest
		err := s.DB.Where("quest_date = ? AND code = ?", today, tpl.Code).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		quest := models.DailyQuest{
			ID:          uuid.NewString(),
			QuestDate:   today,
			Code:        tpl.Code,
			Title:       tpl.Title,
			Description: tpl.Description,
			TargetValue: tpl.TargetValue,
			RewardCoins: tpl.RewardCoins,
		}
		if err := s.DB.Create(&quest).Error; err != nil {
			return err
		}
		log.Printf("📋 Seeded daily quest %s for %s", tpl.Code, today)
	}
	return nil
}

// GetTodayQuests lists today's quests with the user's progress attached.
func (s *QuestService) GetTodayQuests(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	today := DayString(time.Now())

	var quests []models.DailyQuest
	if err := s.DB.Where("quest_date = ?", today).Order("code ASC").Find(&quests).Error; err != nil {
		log.Printf("DB Error fetching daily quests: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch quests"})
	}

	questIDs := make([]string, 0, len(quests))
	for _, q := range quests {
		questIDs = append(questIDs, q.ID)
	}

	progress := map[string]models.QuestProgress{}
	if len(questIDs) > 0 {
		var rows []models.QuestProgress
		if err := s.DB.Where("user_id = ? AND quest_id IN ?", userID, questIDs).Find(&rows).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch quest progress"})
		}
		for _, row := range rows {
			progress[row.QuestID] = row
		}
	}

	var response []fiber.Map
	for _, q := range quests {
		item := fiber.Map{
			"id":           q.ID,
			"code":         q.Code,
			"title":        q.Title,
			"description":  q.Description,
			"target_value": q.TargetValue,
			"reward_coins": q.RewardCoins,
			"progress":     0.0,
			"completed":    false,
		}
		if p, ok := progress[q.ID]; ok {
			item["progress"] = p.Progress
			item["completed"] = p.Completed
		}
		response = append(response, item)
	}
	return c.JSON(response)
}

// CompleteQuest is the POST /quests/:id/complete handler. At most one
// completion per (user, quest): a repeat call reports already_completed and
// grants nothing.
func (s *QuestService) CompleteQuest(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	questID := c.Params("id")

	if _, err := uuid.Parse(questID); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid quest ID"})
	}

	var quest models.DailyQuest
	if err := s.DB.First(&quest, "id = ?", questID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Quest not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	if quest.QuestDate != DayString(time.Now()) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Quest is not active today"})
	}

	alreadyCompleted := false
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var existing models.QuestProgress
		err := tx.Where("user_id = ? AND quest_id = ?", userID, questID).First(&existing).Error
		if err == nil {
			if existing.Completed {
				alreadyCompleted = true
				return nil
			}
			now := time.Now()
			existing.Progress = quest.TargetValue
			existing.Completed = true
			existing.CompletedAt = &now
			return tx.Save(&existing).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now()
		row := models.QuestProgress{
			ID:          uuid.NewString(),
			UserID:      userID,
			QuestID:     questID,
			Progress:    quest.TargetValue,
			Completed:   true,
			CompletedAt: &now,
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		log.Printf("DB Error completing quest %s for %s: %v", questID, userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to complete quest"})
	}

	if alreadyCompleted {
		return c.JSON(fiber.Map{"message": "Quest already completed", "coinsAwarded": 0})
	}

	coins, newBalance, reason, err := s.Activity.Award(userID, "complete_quest", ActivityMetadata{})
	if err != nil {
		log.Printf("DB Error awarding quest coins for %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to award quest coins"})
	}

	return c.JSON(fiber.Map{
		"message":      "Quest completed",
		"coinsAwarded": coins,
		"newBalance":   newBalance,
		"reason":       reason,
	})
}
