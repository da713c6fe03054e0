// services/scheduler.go
package services

import (
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartEconomyScheduler runs the engine's periodic jobs: seeding today's
// daily quests shortly after midnight and reconciling the supply counters
// against the ledger every hour.
func StartEconomyScheduler(economy *EconomyService, quests *QuestService) {
	sched, _ := gocron.NewScheduler(gocron.WithLocation(RewardTimeLocation))
	sched.Start()

	// Seed on boot so a fresh deploy has quests immediately.
	if err := quests.SeedDailyQuests(time.Now()); err != nil {
		log.Printf("[Scheduler] Initial quest seed failed: %v", err)
	}

	_, _ = sched.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 5, 0))),
		gocron.NewTask(func() {
			if err := quests.SeedDailyQuests(time.Now()); err != nil {
				log.Printf("[Scheduler] Quest seed failed: %v", err)
			}
		}),
	)

	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Hour),
		gocron.NewTask(func() {
			if err := economy.ReconcileSupply(); err != nil {
				log.Printf("[Scheduler] Supply reconciliation failed: %v", err)
			}
		}),
	)
}
