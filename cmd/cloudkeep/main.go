package main

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/CloudKeepHQ/CloudKeep/app/repository"
	"github.com/CloudKeepHQ/CloudKeep/internal/pkg/billing"
	"github.com/CloudKeepHQ/CloudKeep/internal/pkg/cache"
	"github.com/CloudKeepHQ/CloudKeep/internal/pkg/database"
	"github.com/CloudKeepHQ/CloudKeep/internal/pkg/env"
	"github.com/CloudKeepHQ/CloudKeep/internal/pkg/router"
	"github.com/CloudKeepHQ/CloudKeep/internal/pkg/sweeper"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	repository.SetGlobalFactory(database.GetDB())

	// Validate the plan catalog at boot; a broken catalog is fatal.
	billing.GetCatalog()

	// daily subscription sweep
	sweeper.GetManager().Start()

	// init fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 1024 * 1024, // webhook payloads and JSON bodies only
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "test"),
		},
	}), monitor.New())

	// ROUTER
	router.InstallRouter(app)

	return app
}
