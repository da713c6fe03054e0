package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"run-rewards-service/handlers"
	"run-rewards-service/middleware"
	"run-rewards-service/models"
	"run-rewards-service/services"
	"run-rewards-service/utils"
	"run-rewards-service/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024, // reward payloads are tiny
	})

	// 🔐 GLOBAL: only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-User-ID, X-User-Email, X-User-Roles, X-Service-Token",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.EconomyConfig{},
		&models.RunnerProfile{},
		&models.LedgerEntry{},
		&models.Run{},
		&models.Achievement{},
		&models.UserAchievementUnlock{},
		&models.DailyQuest{},
		&models.QuestProgress{},
		&models.Follow{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	economyService := services.NewEconomyService(db)
	if _, err := economyService.GetOrSeedConfig(); err != nil {
		log.Fatal("failed to seed economy config:", err)
	}

	ledgerService := services.NewLedgerService(db)
	progressionService := services.NewProgressionService(db)
	runService := services.NewRunService(db, progressionService)
	activityService := services.NewActivityService(db, progressionService)
	achievementService := services.NewAchievementService(db, progressionService)
	questService := services.NewQuestService(db, activityService)

	if err := achievementService.SeedCatalog(); err != nil {
		log.Fatal("failed to seed achievement catalog:", err)
	}

	profileServiceURL := os.Getenv("SYNC_SERVICE_URL")
	if profileServiceURL == "" {
		log.Fatal("SYNC_SERVICE_URL environment variable not set")
	}
	serviceToken := os.Getenv("REWARDS_SERVICE_TOKEN")
	if serviceToken == "" {
		log.Fatal("REWARDS_SERVICE_TOKEN environment variable not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	syncWorker := workers.NewProfileSyncWorker(db, profileServiceURL, "/api/v1/public/profiles", serviceToken)
	syncWorker.Start(ctx)

	archiveWorker := workers.NewLedgerArchiveWorker(ledgerService, utils.UploadBytesToR2)
	archiveWorker.Start(ctx)

	services.StartEconomyScheduler(economyService, questService)

	handlers.SetupRewardRoutes(app, runService, progressionService, activityService,
		achievementService, questService, ledgerService, economyService)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Profile Sync Worker running")
	log.Println("✅ Ledger Archive Worker running (daily export)")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}
