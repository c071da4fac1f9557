package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lessonpulse/config"
	controllers "lessonpulse/controllers/progress"
	"lessonpulse/database"
	"lessonpulse/middleware"
	"lessonpulse/reporting"
	"lessonpulse/routers/progressRoutes"
	"lessonpulse/services/catalog"
	"lessonpulse/services/progress"
	"lessonpulse/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
)

var version = "dev"

func main() {
	cfg := config.LoadConfig()
	db := database.ConnectDb()

	reporting.Init(cfg.RollbarToken, cfg.AppEnv, version)
	defer reporting.Close()

	lessons := catalog.New(db)
	hooks := progress.NewHookRunner(progress.Hooks{
		OnLessonCompleted: func(_ context.Context, userID, lessonID uint) error {
			log.Printf("[HOOKS] lesson %d completed by user %d", lessonID, userID)
			return nil
		},
		OnCourseCompleted: func(_ context.Context, userID, courseID uint) error {
			log.Printf("[HOOKS] course %d completed by user %d", courseID, userID)
			return nil
		},
	})
	aggregator := progress.NewAggregator(db, lessons, hooks)
	tracker := progress.NewTracker(db, lessons,
		progress.WithThreshold(cfg.CompletionThreshold),
		progress.WithRollup(aggregator),
		progress.WithHooks(hooks),
	)

	app := fiber.New()

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST",                   // Allowed HTTP methods
		AllowHeaders: "Content-Type,Authorization", // Allowed headers
	}))

	// Enable the built-in logger middleware to log all requests
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${ip} ${method} ${path} ${status} ${latency}\n",
	}))

	// Connectivity probe target for heartbeat clients
	app.Get("/health", func(c *fiber.Ctx) error {
		return middleware.JsonResponse(c, fiber.StatusOK, true, "OK", nil)
	})

	progressRoutes.SetupProgressRoutes(app, &controllers.Handler{
		Tracker:     tracker,
		Aggregator:  aggregator,
		Enrollments: lessons,
	}, lessons)

	scheduler, err := utils.InitializeProgressScheduler(db, aggregator, cfg.ReconcileSchedule)
	if err != nil {
		log.Fatalf("Failed to start progress scheduler: %v", err)
	}

	go func() {
		log.Printf("Server is running on port %s", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatalf("Server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
	<-scheduler.Stop().Done()
	hooks.Wait()

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Println("Shutdown complete")
}
