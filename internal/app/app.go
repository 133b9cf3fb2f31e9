// Package app wires configuration into the services shared by cmd/server
// and cmd/worker.
package app

import (
	"context"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/suPer8Hu/genimage/internal/chat"
	"github.com/suPer8Hu/genimage/internal/config"
	"github.com/suPer8Hu/genimage/internal/store/rabbitmq"
	"github.com/suPer8Hu/genimage/internal/store/redisstore"
	"github.com/suPer8Hu/genimage/internal/store/s3store"
)

// Infra is the set of optional backends. Redis, Publisher and Assets are nil
// when their backend is unavailable or disabled.
type Infra struct {
	DB        *gorm.DB
	Redis     *redisstore.Store
	Publisher *rabbitmq.Publisher
	Assets    *s3store.Storage
}

// ConnectRedis returns nil when redis is unreachable; generation then runs
// without the per-user guard and status streams fall back to polling.
func ConnectRedis(cfg config.Config, log zerolog.Logger) *redisstore.Store {
	rs, err := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.GenerationLockTTL)
	if err != nil {
		log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable")
		return nil
	}
	return rs
}

// ConnectPublisher returns nil when rabbitmq is unreachable; pending jobs
// then depend on the webhook alone.
func ConnectPublisher(cfg config.Config, log zerolog.Logger) *rabbitmq.Publisher {
	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue, cfg.ReconcileDelay)
	if err != nil {
		log.Warn().Err(err).Msg("rabbitmq unavailable, reconcile disabled")
		return nil
	}
	return pub
}

// ConnectStorage returns nil, nil when S3 offload is not configured.
func ConnectStorage(ctx context.Context, cfg config.Config, log zerolog.Logger) (*s3store.Storage, error) {
	st, err := s3store.New(ctx, cfg, log)
	if s3store.Disabled(err) {
		log.Info().Msg("s3 offload disabled, assets stored as data urls")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// NewChatService builds the generation service over whatever backends are up.
func NewChatService(cfg config.Config, infra Infra, p *Providers, log zerolog.Logger) *chat.Service {
	opts := chat.Options{
		ReconcileMaxAttempts: cfg.ReconcileMaxAttempts,
		Logger:               log,
	}
	if infra.Redis != nil {
		opts.Guard = infra.Redis
		opts.Notifier = infra.Redis
	}
	if infra.Publisher != nil {
		opts.Scheduler = infra.Publisher
	}
	if infra.Assets != nil {
		opts.Assets = infra.Assets
	}
	return chat.NewService(chat.NewRepo(infra.DB), p.Generators, p.Async, opts)
}

// Close releases every backend that was opened.
func (i Infra) Close(log zerolog.Logger) {
	if i.Publisher != nil {
		if err := i.Publisher.Close(); err != nil {
			log.Warn().Err(err).Msg("close rabbitmq publisher")
		}
	}
	if i.Redis != nil {
		if err := i.Redis.Close(); err != nil {
			log.Warn().Err(err).Msg("close redis")
		}
	}
	if i.DB != nil {
		if sqlDB, err := i.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
