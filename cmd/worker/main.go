package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/suPer8Hu/genimage/internal/app"
	"github.com/suPer8Hu/genimage/internal/config"
	"github.com/suPer8Hu/genimage/internal/db"
	"github.com/suPer8Hu/genimage/internal/logger"
	"github.com/suPer8Hu/genimage/internal/store/rabbitmq"
	"github.com/suPer8Hu/genimage/internal/worker"
)

func main() {
	loadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}

	// reschedules go through the same retry queue the server publishes to
	publisher, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue, cfg.ReconcileDelay)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit publisher")
	}
	infra := app.Infra{
		DB:        gdb,
		Redis:     app.ConnectRedis(cfg, log),
		Publisher: publisher,
	}
	defer infra.Close(log)

	svc := app.NewChatService(cfg, infra, app.NewProviders(cfg, log), log)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit dial")
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit channel")
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatal().Err(err).Msg("queue declare")
	}

	concurrency := cfg.WorkerConcurrency
	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatal().Err(err).Msg("qos")
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("consume")
	}

	log.Info().Str("queue", cfg.RabbitQueue).Int("concurrency", concurrency).Msg("worker started")

	if err := worker.NewPool(svc, concurrency, log).Run(ctx, msgs); err != nil {
		log.Fatal().Err(err).Msg("worker stopped")
	}
	log.Info().Msg("worker exited cleanly")
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
