package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/deskflow/deskflow-engine/internal/api"
	"github.com/deskflow/deskflow-engine/internal/api/handlers"
	"github.com/deskflow/deskflow-engine/internal/config"
	"github.com/deskflow/deskflow-engine/internal/repository/sqlite"
	"github.com/deskflow/deskflow-engine/internal/services"
)

func main() {
	// Optional .env for local development
	_ = godotenv.Load()

	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	db, err := sqlite.Open(cfg.Storage.Path)
	if err != nil {
		log.WithError(err).Fatal("failed to open database")
	}
	defer db.Close()

	if err := sqlite.RunMigrations(db); err != nil {
		log.WithError(err).Fatal("failed to run migrations")
	}

	svc := services.NewServices(db, cfg, log)
	svc.Start()
	defer svc.Shutdown()

	hub := handlers.NewHub(log)
	svc.Orchestrator.SetNotify(hub.Broadcast)

	app := fiber.New(fiber.Config{
		AppName:      "Deskflow Engine",
		ErrorHandler: customErrorHandler,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: getOrigins(cfg),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	api.SetupRoutes(app, svc, hub)

	// Graceful shutdown so the outbox drains and the supervisor stops
	// before the process exits.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info("shutting down")
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.WithField("addr", addr).Info("deskflow engine starting")
	if err := app.Listen(addr); err != nil {
		log.WithError(err).Fatal("failed to start server")
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
		"code":  code,
	})
}

func getOrigins(cfg *config.Config) string {
	if cfg.Server.CORSOrigins != "" {
		return cfg.Server.CORSOrigins
	}
	return "http://localhost:5173,http://localhost:3000"
}
