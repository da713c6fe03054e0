package services

import (
	"log"
	"strconv"
	"time"

	"run-rewards-service/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LedgerService owns the append-only ledger: every coin a user earns or loses
// passes through here exactly once.
type LedgerService struct {
	DB *gorm.DB
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{DB: db}
}

// Append writes one ledger entry inside the caller's transaction. Entries are
// immutable after this point.
func (s *LedgerService) Append(tx *gorm.DB, entry *models.LedgerEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	return tx.Create(entry).Error
}

// EarnedToday sums a user's ledger entries of the given type for the current
// calendar day. The sum is a point-in-time snapshot: under heavy concurrency
// the daily cap can be exceeded by at most one in-flight reward, which is an
// accepted bounded overshoot.
func (s *LedgerService) EarnedToday(tx *gorm.DB, userID string, entryType models.LedgerEntryType, now time.Time) (float64, error) {
	dayStart := time.Date(now.In(RewardTimeLocation).Year(), now.In(RewardTimeLocation).Month(), now.In(RewardTimeLocation).Day(), 0, 0, 0, 0, RewardTimeLocation)

	var total float64
	err := tx.Model(&models.LedgerEntry{}).
		Where("user_id = ? AND type = ? AND created_at >= ? AND amount > 0", userID, entryType, dayStart).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

// RebuildBalance reconstructs a user's balance from the ledger. Used by the
// reconciliation path when the cached RunnerProfile.CoinBalance is suspect.
func (s *LedgerService) RebuildBalance(userID string) (float64, error) {
	var total float64
	err := s.DB.Model(&models.LedgerEntry{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return round2(total), err
}

// HasEntryWithNote reports whether the user already has a ledger entry
// carrying the exact note string. Achievement bonus grants use a deterministic
// note per (user, achievement) and check this before crediting, so a raced
// duplicate unlock can never double-credit coins.
func (s *LedgerService) HasEntryWithNote(tx *gorm.DB, userID, note string) (bool, error) {
	var count int64
	err := tx.Model(&models.LedgerEntry{}).
		Where("user_id = ? AND note = ?", userID, note).
		Count(&count).Error
	return count > 0, err
}

// EntriesForDay returns all entries created on the given calendar day, oldest
// first. Used by the archive worker for the nightly export.
func (s *LedgerService) EntriesForDay(day time.Time) ([]models.LedgerEntry, error) {
	start := time.Date(day.In(RewardTimeLocation).Year(), day.In(RewardTimeLocation).Month(), day.In(RewardTimeLocation).Day(), 0, 0, 0, 0, RewardTimeLocation)
	end := start.AddDate(0, 0, 1)

	var entries []models.LedgerEntry
	err := s.DB.Where("created_at >= ? AND created_at < ?", start, end).
		Order("created_at ASC").
		Find(&entries).Error
	return entries, err
}

// GetUserLedger returns the authenticated user's ledger entries, newest first,
// paginated. These are the user-facing receipts.
func (s *LedgerService) GetUserLedger(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	page, _ := strconv.Atoi(c.Query("page", "1"))
	size, _ := strconv.Atoi(c.Query("size", "20"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}

	var total int64
	if err := s.DB.Model(&models.LedgerEntry{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		log.Printf("DB Error counting ledger entries: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch ledger"})
	}

	var entries []models.LedgerEntry
	if err := s.DB.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(size).Offset((page - 1) * size).
		Find(&entries).Error; err != nil {
		log.Printf("DB Error fetching ledger entries: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch ledger"})
	}

	return c.JSON(fiber.Map{
		"entries":     entries,
		"page":        page,
		"size":        size,
		"total_items": total,
		"total_pages": (total + int64(size) - 1) / int64(size),
	})
}
