// handlers/reward_routes.go
package handlers

import (
	"run-rewards-service/middleware"
	"run-rewards-service/services"

	"github.com/gofiber/fiber/v2"
)

// SetupRewardRoutes wires every engine operation. The gateway forwards paths
// like /api/v1/rewards/s/runs/finish -> /runs/finish with the user identity
// headers attached.
func SetupRewardRoutes(
	app *fiber.App,
	runService *services.RunService,
	progressionService *services.ProgressionService,
	activityService *services.ActivityService,
	achievementService *services.AchievementService,
	questService *services.QuestService,
	ledgerService *services.LedgerService,
	economyService *services.EconomyService,
) {
	// 🔐 Secured routes — require user context from the gateway
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Post("/runs/finish", runService.FinishRun)
	secured.Get("/runs", runService.GetUserRuns)

	secured.Post("/coins/apply", progressionService.ApplyCoins)
	secured.Get("/user/progress", progressionService.GetUserProgress)
	secured.Get("/user/ledger", ledgerService.GetUserLedger)

	secured.Post("/activities/award", activityService.AwardActivityCoins)

	secured.Post("/achievements/check", achievementService.CheckAchievements)
	secured.Get("/achievements", achievementService.GetUserAchievements)

	secured.Get("/quests/today", questService.GetTodayQuests)
	secured.Post("/quests/:id/complete", questService.CompleteQuest)

	// Admin endpoints
	admin := app.Group("/s/admin", middleware.UserContextMiddleware(), middleware.RequireAdmin())

	admin.Get("/economy", economyService.GetEconomyConfig)
	admin.Put("/economy", economyService.UpdateEconomyConfig)
	admin.Post("/coins/grant", economyService.GrantCoins(progressionService))
	admin.Post("/users/:user_id/rebuild-balance", economyService.RebuildUserBalance(ledgerService))
}
