// Integration tests run the engine against a real PostgreSQL container and
// are skipped automatically when Docker is unavailable.
package services

import (
	"context"
	"os/exec"
	"sync"
	"testing"
	"time"

	"run-rewards-service/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func checkDockerAvailable() bool {
	return exec.Command("docker", "info").Run() == nil
}

func setupTestDB(t *testing.T) (*gorm.DB, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(pgdriver.Open(connStr), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.EconomyConfig{},
		&models.RunnerProfile{},
		&models.LedgerEntry{},
		&models.Run{},
		&models.Achievement{},
		&models.UserAchievementUnlock{},
		&models.DailyQuest{},
		&models.QuestProgress{},
		&models.Follow{},
	))

	cleanup := func() {
		_ = pgContainer.Terminate(ctx)
	}
	return db, cleanup
}

func seedEconomy(t *testing.T, db *gorm.DB, mutate func(*models.EconomyConfig)) *models.EconomyConfig {
	cfg := &models.EconomyConfig{
		ID:               uuid.NewString(),
		BaseRatePerKM:    1,
		StreakMaxDays:    30,
		StreakMaxBonus:   0.2,
		DailyFirstBonus:  0.1,
		EmissionFloor:    0.35,
		EmissionK:        2.2,
		MaxRewardPerRun:  50,
		DailyUserCap:     100,
		TotalSupply:      1000,
		Distributed:      0,
		Remaining:        1000,
		CoinsPerLevel:    100,
		DailyRewardCap:   200,
		RewardMultiplier: 1,
	}
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, db.Create(cfg).Error)
	return cfg
}

func newEngine(db *gorm.DB) (*RunService, *ProgressionService, *AchievementService) {
	progression := NewProgressionService(db)
	return NewRunService(db, progression), progression, NewAchievementService(db, progression)
}

func TestSettleRunEndToEnd(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	seedEconomy(t, db, nil)
	runSvc, _, _ := newEngine(db)

	userID := uuid.NewString()
	settlement, err := runSvc.SettleRun(userID, "", 5, 1800, time.Now())
	require.NoError(t, err)

	assert.InDelta(t, 5.68, settlement.TokensEarned, 0.001)
	require.NotNil(t, settlement.Breakdown)
	assert.True(t, settlement.Breakdown.FirstRunToday)

	// Ledger entry written with the breakdown attached
	var entries []models.LedgerEntry
	require.NoError(t, db.Where("user_id = ?", userID).Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, models.LedgerTypeRun, entries[0].Type)
	assert.InDelta(t, 5.68, entries[0].Amount, 0.001)
	assert.Contains(t, entries[0].Note, "emission_multiplier")

	// Profile mirrored the reward and streak
	var profile models.RunnerProfile
	require.NoError(t, db.Where("external_user_id = ?", userID).First(&profile).Error)
	assert.InDelta(t, 5.68, profile.CoinBalance, 0.001)
	assert.Equal(t, 1, profile.CurrentStreak)
	assert.Equal(t, DayString(time.Now()), profile.LastRunDate)

	// Supply pool decremented, version bumped
	var cfg models.EconomyConfig
	require.NoError(t, db.First(&cfg).Error)
	assert.InDelta(t, 5.68, cfg.Distributed, 0.001)
	assert.InDelta(t, 994.32, cfg.Remaining, 0.001)
	assert.Equal(t, int64(1), cfg.Version)
}

func TestSettleRunDailyCapClipsSecondRun(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	seedEconomy(t, db, func(cfg *models.EconomyConfig) {
		cfg.DailyUserCap = 8
	})
	runSvc, _, _ := newEngine(db)

	userID := uuid.NewString()
	now := time.Now()

	first, err := runSvc.SettleRun(userID, "", 5, 1800, now)
	require.NoError(t, err)
	assert.InDelta(t, 5.68, first.TokensEarned, 0.001)

	// Second run the same day: no first-run bonus, and only the remaining
	// daily headroom (8 - 5.68 = 2.32) can be paid out.
	second, err := runSvc.SettleRun(userID, "", 5, 1800, now)
	require.NoError(t, err)
	assert.InDelta(t, 2.32, second.TokensEarned, 0.001)

	var earned float64
	require.NoError(t, db.Model(&models.LedgerEntry{}).
		Where("user_id = ? AND type = ?", userID, models.LedgerTypeRun).
		Select("COALESCE(SUM(amount), 0)").Scan(&earned).Error)
	assert.InDelta(t, 8.0, earned, 0.001)
}

func TestSettleRunSupplyExhausted(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	seedEconomy(t, db, func(cfg *models.EconomyConfig) {
		cfg.Distributed = 1000
		cfg.Remaining = 0
	})
	runSvc, _, _ := newEngine(db)

	settlement, err := runSvc.SettleRun(uuid.NewString(), "", 5, 1800, time.Now())
	require.NoError(t, err)
	assert.Zero(t, settlement.TokensEarned)
	assert.Equal(t, "supply_exhausted", settlement.Reason)

	var count int64
	require.NoError(t, db.Model(&models.LedgerEntry{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestSettleRunSupplyClip(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	seedEconomy(t, db, func(cfg *models.EconomyConfig) {
		cfg.Distributed = 999.5
		cfg.Remaining = 0.5
	})
	runSvc, _, _ := newEngine(db)

	settlement, err := runSvc.SettleRun(uuid.NewString(), "", 5, 1800, time.Now())
	require.NoError(t, err)
	// A single run can never emit more than the unissued pool.
	assert.InDelta(t, 0.5, settlement.TokensEarned, 0.001)

	var cfg models.EconomyConfig
	require.NoError(t, db.First(&cfg).Error)
	assert.InDelta(t, 0.0, cfg.Remaining, 0.001)
}

func TestCheckAchievementsIdempotent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	seedEconomy(t, db, nil)
	_, _, achievementSvc := newEngine(db)
	require.NoError(t, achievementSvc.SeedCatalog())

	userID := uuid.NewString()
	for i := 0; i < 3; i++ {
		require.NoError(t, db.Create(&models.Run{
			ID:             uuid.NewString(),
			ExternalUserID: userID,
			DistanceKM:     5,
			DurationSec:    1800,
			Status:         models.RunStatusCompleted,
		}).Error)
	}

	// 3 runs / 15 km qualifies "first-steps" (1 run) and "ten-k-total" (10 km).
	first, err := achievementSvc.CheckAndUnlock(userID)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	second, err := achievementSvc.CheckAndUnlock(userID)
	require.NoError(t, err)
	assert.Empty(t, second, "second pass with no new progress must unlock nothing")

	var unlockCount int64
	require.NoError(t, db.Model(&models.UserAchievementUnlock{}).
		Where("user_id = ?", userID).Count(&unlockCount).Error)
	assert.Equal(t, int64(2), unlockCount)

	// Bonus coins credited exactly once per achievement
	var bonusCount int64
	require.NoError(t, db.Model(&models.LedgerEntry{}).
		Where("user_id = ? AND type = ?", userID, models.LedgerTypeBonus).
		Count(&bonusCount).Error)
	assert.Equal(t, int64(2), bonusCount)
}

func TestApplyCoinAndLevelUpDiminishing(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	seedEconomy(t, db, nil)
	_, progression, _ := newEngine(db)

	userID := uuid.NewString()

	// Pre-load the daily counter past the cap.
	profile, err := progression.EnsureProfile(db, userID)
	require.NoError(t, err)
	profile.DailyRewardedCoins = 210
	profile.DailyResetDate = DayString(time.Now())
	require.NoError(t, db.Save(profile).Error)

	result, err := progression.ApplyCoinAndLevelUp(userID, 50, "event_bonus")
	require.NoError(t, err)

	assert.True(t, result.ReducedRewards)
	assert.InDelta(t, 0.5, result.AppliedMultiplier, 0.001)
	assert.InDelta(t, 50.0, result.OriginalAmount, 0.001)
	assert.InDelta(t, 25.0, result.ActualAmount, 0.001)
}

func TestSettleRunReplaySameRunID(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	seedEconomy(t, db, nil)
	runSvc, _, _ := newEngine(db)

	userID := uuid.NewString()
	externalRunID := uuid.NewString()

	first, err := runSvc.SettleRun(userID, externalRunID, 5, 1800, time.Now())
	require.NoError(t, err)
	assert.InDelta(t, 5.68, first.TokensEarned, 0.001)

	// Replaying the same run returns the original settlement and mints
	// nothing new.
	replay, err := runSvc.SettleRun(userID, externalRunID, 5, 1800, time.Now())
	require.NoError(t, err)
	assert.Equal(t, first.RunID, replay.RunID)
	assert.InDelta(t, first.TokensEarned, replay.TokensEarned, 0.001)
	assert.Equal(t, "already_settled", replay.Reason)

	var ledgerCount int64
	require.NoError(t, db.Model(&models.LedgerEntry{}).Where("user_id = ?", userID).Count(&ledgerCount).Error)
	assert.Equal(t, int64(1), ledgerCount)

	var profile models.RunnerProfile
	require.NoError(t, db.Where("external_user_id = ?", userID).First(&profile).Error)
	assert.InDelta(t, 5.68, profile.CoinBalance, 0.001)

	var cfg models.EconomyConfig
	require.NoError(t, db.First(&cfg).Error)
	assert.InDelta(t, 5.68, cfg.Distributed, 0.001)
}

func TestUnlockSkipsWhenAlreadyPresent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	seedEconomy(t, db, nil)
	_, _, achievementSvc := newEngine(db)
	require.NoError(t, achievementSvc.SeedCatalog())

	var achievement models.Achievement
	require.NoError(t, db.Where("code = ?", "first-steps").First(&achievement).Error)

	userID := uuid.NewString()
	require.NoError(t, db.Create(&models.UserAchievementUnlock{
		ID:            uuid.NewString(),
		UserID:        userID,
		AchievementID: achievement.ID,
	}).Error)

	granted, err := achievementSvc.unlockOne(userID, &achievement)
	require.NoError(t, err, "a duplicate unlock attempt must resolve to a skip, not an error")
	assert.False(t, granted)
}

func TestCheckAchievementsConcurrent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	seedEconomy(t, db, nil)
	_, _, achievementSvc := newEngine(db)
	require.NoError(t, achievementSvc.SeedCatalog())

	userID := uuid.NewString()
	require.NoError(t, db.Create(&models.Run{
		ID:             uuid.NewString(),
		ExternalUserID: userID,
		DistanceKM:     5,
		DurationSec:    1800,
		Status:         models.RunStatusCompleted,
	}).Error)

	// All racers must come back clean: a lost race is a silent skip.
	const racers = 8
	errCh := make(chan error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := achievementSvc.CheckAndUnlock(userID)
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		assert.NoError(t, err)
	}

	var unlockCount int64
	require.NoError(t, db.Model(&models.UserAchievementUnlock{}).
		Where("user_id = ?", userID).Count(&unlockCount).Error)
	assert.Equal(t, int64(1), unlockCount)

	var bonusCount int64
	require.NoError(t, db.Model(&models.LedgerEntry{}).
		Where("user_id = ? AND type = ?", userID, models.LedgerTypeBonus).
		Count(&bonusCount).Error)
	assert.Equal(t, int64(1), bonusCount)
}

func TestRepairUserBalance(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	seedEconomy(t, db, nil)
	economy := NewEconomyService(db)
	ledger := NewLedgerService(db)
	progression := NewProgressionService(db)

	userID := uuid.NewString()
	profile, err := progression.EnsureProfile(db, userID)
	require.NoError(t, err)

	require.NoError(t, ledger.Append(db, &models.LedgerEntry{
		UserID: userID, Amount: 10, Type: models.LedgerTypeRun,
	}))
	require.NoError(t, ledger.Append(db, &models.LedgerEntry{
		UserID: userID, Amount: 5.5, Type: models.LedgerTypeActivity,
	}))

	// Corrupt the cached balance; the ledger must win.
	profile.CoinBalance = 99
	require.NoError(t, db.Save(profile).Error)

	cached, rebuilt, err := economy.RepairUserBalance(ledger, userID)
	require.NoError(t, err)
	assert.InDelta(t, 99.0, cached, 0.001)
	assert.InDelta(t, 15.5, rebuilt, 0.001)

	var repaired models.RunnerProfile
	require.NoError(t, db.Where("external_user_id = ?", userID).First(&repaired).Error)
	assert.InDelta(t, 15.5, repaired.CoinBalance, 0.001)
}
