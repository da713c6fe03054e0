package services

import (
	"errors"
	"log"
	"math"

	"run-rewards-service/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// defaultTotalSupply seeds the pool on first boot; operators tune it afterward
// through the admin endpoint.
const defaultTotalSupply = 1_000_000

// EconomyService owns the singleton EconomyConfig: seeding, admin edits, and
// the ledger-vs-supply reconciliation.
type EconomyService struct {
	DB *gorm.DB
}

func NewEconomyService(db *gorm.DB) *EconomyService {
	return &EconomyService{DB: db}
}

// GetOrSeedConfig returns the config row, creating it with defaults when the
// service boots against an empty database (idempotent).
func (s *EconomyService) GetOrSeedConfig() (*models.EconomyConfig, error) {
	var cfg models.EconomyConfig
	err := s.DB.First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cfg = models.EconomyConfig{
			ID:               uuid.NewString(),
			BaseRatePerKM:    1,
			StreakMaxDays:    30,
			StreakMaxBonus:   0.2,
			DailyFirstBonus:  0.1,
			EmissionFloor:    0.35,
			EmissionK:        2.2,
			MaxRewardPerRun:  50,
			DailyUserCap:     100,
			TotalSupply:      defaultTotalSupply,
			Distributed:      0,
			Remaining:        defaultTotalSupply,
			CoinsPerLevel:    100,
			DailyRewardCap:   200,
			RewardMultiplier: 1,
		}
		if err := s.DB.Create(&cfg).Error; err != nil {
			return nil, err
		}
		log.Printf("✅ Seeded economy config: total_supply=%.0f", cfg.TotalSupply)
		return &cfg, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ReconcileSupply recomputes Distributed from the run-channel ledger sum and
// repairs Remaining when the cached values have drifted (e.g. after a crash
// between ledger append and supply write). The ledger wins.
func (s *EconomyService) ReconcileSupply() error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		var cfg models.EconomyConfig
		if err := tx.First(&cfg).Error; err != nil {
			return err
		}

		var ledgerDistributed float64
		if err := tx.Model(&models.LedgerEntry{}).
			Where("type = ?", models.LedgerTypeRun).
			Select("COALESCE(SUM(amount), 0)").
			Scan(&ledgerDistributed).Error; err != nil {
			return err
		}
		ledgerDistributed = round2(ledgerDistributed)

		if math.Abs(cfg.Distributed-ledgerDistributed) < 0.01 && math.Abs(cfg.Remaining-(cfg.TotalSupply-cfg.Distributed)) < 0.01 {
			return nil
		}

		log.Printf("⚠️ Supply drift detected: distributed cached=%.2f ledger=%.2f — repairing from ledger",
			cfg.Distributed, ledgerDistributed)

		return tx.Model(&models.EconomyConfig{}).
			Where("id = ?", cfg.ID).
			Updates(map[string]interface{}{
				"distributed": ledgerDistributed,
				"remaining":   round2(cfg.TotalSupply - ledgerDistributed),
				"version":     gorm.Expr("version + 1"),
			}).Error
	})
}

// RepairUserBalance recomputes one user's balance from the ledger and writes
// it back when the cached value has drifted. The ledger wins, same as the
// supply reconciliation.
func (s *EconomyService) RepairUserBalance(ledger *LedgerService, externalUserID string) (cached, rebuilt float64, err error) {
	var profile models.RunnerProfile
	if err := s.DB.Where("external_user_id = ?", externalUserID).First(&profile).Error; err != nil {
		return 0, 0, err
	}

	rebuilt, err = ledger.RebuildBalance(externalUserID)
	if err != nil {
		return 0, 0, err
	}

	cached = profile.CoinBalance
	if math.Abs(cached-rebuilt) >= 0.01 {
		log.Printf("⚠️ Balance drift for %s: cached=%.2f ledger=%.2f — repairing from ledger",
			externalUserID, cached, rebuilt)
		if err := s.DB.Model(&models.RunnerProfile{}).
			Where("external_user_id = ?", externalUserID).
			Update("coin_balance", rebuilt).Error; err != nil {
			return 0, 0, err
		}
	}
	return cached, rebuilt, nil
}

// RebuildUserBalance is the admin POST handler for support-driven balance
// repairs.
func (s *EconomyService) RebuildUserBalance(ledger *LedgerService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Params("user_id")
		if userID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id is required"})
		}

		cached, rebuilt, err := s.RepairUserBalance(ledger, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
			}
			log.Printf("DB Error rebuilding balance for %s: %v", userID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to rebuild balance"})
		}

		return c.JSON(fiber.Map{
			"user_id":          userID,
			"previous_balance": cached,
			"coin_balance":     rebuilt,
			"repaired":         math.Abs(cached-rebuilt) >= 0.01,
		})
	}
}

// GetEconomyConfig is the admin GET handler.
func (s *EconomyService) GetEconomyConfig(c *fiber.Ctx) error {
	cfg, err := s.GetOrSeedConfig()
	if err != nil {
		log.Printf("DB Error fetching economy config: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch config"})
	}
	return c.JSON(cfg)
}

// UpdateEconomyConfig is the admin PUT handler. Only operator-tunable fields
// are patchable; Distributed/Remaining/Version always stay engine-owned.
func (s *EconomyService) UpdateEconomyConfig(c *fiber.Ctx) error {
	var cfg models.EconomyConfig
	if err := s.DB.First(&cfg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Economy config not seeded"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	var req struct {
		BaseRatePerKM    *float64 `json:"base_rate_per_km"`
		StreakMaxDays    *int     `json:"streak_max_days"`
		StreakMaxBonus   *float64 `json:"streak_max_bonus"`
		DailyFirstBonus  *float64 `json:"daily_first_bonus"`
		EmissionFloor    *float64 `json:"emission_floor"`
		EmissionK        *float64 `json:"emission_k"`
		MaxRewardPerRun  *float64 `json:"max_reward_per_run"`
		DailyUserCap     *float64 `json:"daily_user_cap"`
		TotalSupply      *float64 `json:"total_supply"`
		CoinsPerLevel    *float64 `json:"coins_per_level"`
		DailyRewardCap   *float64 `json:"daily_reward_cap"`
		RewardMultiplier *float64 `json:"reward_multiplier"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	if req.BaseRatePerKM != nil {
		cfg.BaseRatePerKM = *req.BaseRatePerKM
	}
	if req.StreakMaxDays != nil {
		if *req.StreakMaxDays < 1 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "streak_max_days must be at least 1"})
		}
		cfg.StreakMaxDays = *req.StreakMaxDays
	}
	if req.StreakMaxBonus != nil {
		cfg.StreakMaxBonus = *req.StreakMaxBonus
	}
	if req.DailyFirstBonus != nil {
		cfg.DailyFirstBonus = *req.DailyFirstBonus
	}
	if req.EmissionFloor != nil {
		if *req.EmissionFloor < 0 || *req.EmissionFloor > 1 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "emission_floor must be in [0,1]"})
		}
		cfg.EmissionFloor = *req.EmissionFloor
	}
	if req.EmissionK != nil {
		if *req.EmissionK <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "emission_k must be positive"})
		}
		cfg.EmissionK = *req.EmissionK
	}
	if req.MaxRewardPerRun != nil {
		cfg.MaxRewardPerRun = *req.MaxRewardPerRun
	}
	if req.DailyUserCap != nil {
		cfg.DailyUserCap = *req.DailyUserCap
	}
	if req.TotalSupply != nil {
		if *req.TotalSupply < cfg.Distributed {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "total_supply cannot be below distributed"})
		}
		cfg.TotalSupply = *req.TotalSupply
		cfg.Remaining = round2(cfg.TotalSupply - cfg.Distributed)
	}
	if req.CoinsPerLevel != nil {
		if *req.CoinsPerLevel <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "coins_per_level must be positive"})
		}
		cfg.CoinsPerLevel = *req.CoinsPerLevel
	}
	if req.DailyRewardCap != nil {
		cfg.DailyRewardCap = *req.DailyRewardCap
	}
	if req.RewardMultiplier != nil {
		cfg.RewardMultiplier = *req.RewardMultiplier
	}

	cfg.Version++
	if err := s.DB.Save(&cfg).Error; err != nil {
		log.Printf("DB Error updating economy config: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update config"})
	}
	return c.JSON(cfg)
}

// GrantCoins is the admin POST handler to credit a user directly (support
// corrections, promotions). Goes through the generic coin path so caps and
// ledger discipline still apply.
func (s *EconomyService) GrantCoins(progression *ProgressionService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req struct {
			UserID string  `json:"user_id"`
			Coins  float64 `json:"coins"`
			Reason string  `json:"reason"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
		if req.UserID == "" || req.Coins <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id and positive coins are required"})
		}
		if req.Reason == "" {
			req.Reason = "admin_grant"
		}

		result, err := progression.ApplyCoinAndLevelUp(req.UserID, req.Coins, req.Reason)
		if err != nil {
			log.Printf("DB Error granting coins to %s: %v", req.UserID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to grant coins"})
		}
		return c.JSON(result)
	}
}
