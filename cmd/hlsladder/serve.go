package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/andesco/hlsladder/handlers"
	"github.com/andesco/hlsladder/pkg/relay"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hashicorp/go-hclog"
)

type serverConfig struct {
	Port        string
	Prefork     bool
	RulesetPath string
	// UserPass is "user:pass". When set, everything except /health needs
	// basic auth.
	UserPass string
	NoLogs   bool
}

func newApp(cfg serverConfig, logger hclog.Logger) (*fiber.App, error) {
	r, err := relay.NewRelay(cfg.RulesetPath, logger.Named("relay"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize relay: %w", err)
	}

	app := fiber.New(fiber.Config{
		Prefork:               cfg.Prefork,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())

	if !cfg.NoLogs {
		app.Use(handlers.RequestLogger(logger.Named("http")))
	}

	app.Get("/health", handlers.Health(version))

	if cfg.UserPass != "" {
		user, pass, ok := strings.Cut(cfg.UserPass, ":")
		if !ok {
			return nil, fmt.Errorf("USERPASS must be in the form user:pass")
		}
		app.Use(basicauth.New(basicauth.Config{
			Users: map[string]string{user: pass},
		}))
	}

	api := app.Group("/api")
	api.Post("/download", handlers.Download(r, logger.Named("download")))
	api.Post("/extract", handlers.Extract(logger.Named("extract")))

	return app, nil
}

func serve(ctx context.Context, cfg serverConfig, logger hclog.Logger) error {
	app, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down HTTP server")
		if err := app.Shutdown(); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	logger.Info("starting HTTP server", "port", cfg.Port, "version", version)
	return app.Listen(":" + cfg.Port)
}
