package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/suPer8Hu/genimage/internal/ai"
	"github.com/suPer8Hu/genimage/internal/app"
	"github.com/suPer8Hu/genimage/internal/auth"
	"github.com/suPer8Hu/genimage/internal/config"
	"github.com/suPer8Hu/genimage/internal/db"
	"github.com/suPer8Hu/genimage/internal/extract"
	"github.com/suPer8Hu/genimage/internal/httpapi"
	"github.com/suPer8Hu/genimage/internal/httpapi/handlers"
	"github.com/suPer8Hu/genimage/internal/logger"
)

func main() {
	loadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg, "server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}

	infra := app.Infra{
		DB:        gdb,
		Redis:     app.ConnectRedis(cfg, log),
		Publisher: app.ConnectPublisher(cfg, log),
	}
	infra.Assets, err = app.ConnectStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize storage")
	}
	defer infra.Close(log)

	webhooks, err := ai.NewWebhookVerifier(cfg.ReplicateWebhookSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("replicate webhook secret")
	}
	if webhooks == nil {
		log.Warn().Msg("REPLICATE_WEBHOOK_SECRET not set, webhooks are accepted unsigned")
	}

	verifier, err := auth.NewVerifier(ctx, auth.Options{
		Secret:  cfg.JWTSecret,
		JWKSURL: cfg.AuthJWKSURL,
		Issuer:  cfg.AuthIssuer,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize auth")
	}

	providers := app.NewProviders(cfg, log)
	chats := app.NewChatService(cfg, infra, providers, log)

	deps := handlers.Deps{
		Chats:              chats,
		Extract:            extract.NewService(providers.Readers, log),
		Webhooks:           webhooks,
		MaxImageBytes:      cfg.MaxImageBytes,
		StreamPollInterval: cfg.StreamPollInterval,
		StreamMaxWait:      cfg.StreamMaxWait,
		Health: []handlers.HealthCheck{{
			Name: "database",
			Check: func(ctx context.Context) error {
				sqlDB, err := gdb.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
		}},
	}
	if infra.Redis != nil {
		deps.Streams = infra.Redis
		deps.Health = append(deps.Health, handlers.HealthCheck{Name: "redis", Check: infra.Redis.Ping})
	}
	if infra.Assets != nil {
		deps.Health = append(deps.Health, handlers.HealthCheck{Name: "s3", Check: infra.Assets.Health})
	}

	router := httpapi.NewRouter(handlers.NewHandler(deps), verifier, log)
	server := httpapi.NewServer(cfg.Addr(), router, cfg.ShutdownTimeout, log)

	if err := server.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("server stopped with error")
	}

	log.Info().Msg("server exited cleanly")
}

func loadEnvFiles() {
	paths := []string{".env", "../.env"}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Overload(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}
