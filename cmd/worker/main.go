package main

import (
	"context"

	"github.com/hibiken/asynq"
	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/storefront-core/internal/config"
	"github.com/noah-isme/storefront-core/internal/notify"
	"github.com/noah-isme/storefront-core/internal/obs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.Component(obs.NewLogger(obs.LogConfig{
		Format:  cfg.Obs.LogFormat,
		Level:   cfg.Obs.LogLevel,
		Service: cfg.ServiceName,
		Env:     cfg.AppEnv,
	}), "worker")

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	if cfg.Mail.SMTPHost == "" {
		logger.Fatal().Msg("SMTP_HOST is required by the mail worker")
	}

	srv := asynq.NewServer(asynq.RedisClientOpt{
		Addr:      redisOpts.Addr,
		Username:  redisOpts.Username,
		Password:  redisOpts.Password,
		DB:        redisOpts.DB,
		TLSConfig: redisOpts.TLSConfig,
	}, asynq.Config{
		Concurrency:     cfg.Mail.Concurrency,
		Queues:          map[string]int{notify.MailQueue: 1},
		ShutdownTimeout: cfg.Timeouts.Shutdown,
		Logger:          asynqLogger{logger: logger},
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Error().Err(err).Str("task", task.Type()).Msg("task failed")
		}),
	})

	mux := asynq.NewServeMux()
	mux.Handle(notify.TaskSendMail, notify.MailHandler{
		Sender: notify.SMTPSender{
			Host:     cfg.Mail.SMTPHost,
			Port:     cfg.Mail.SMTPPort,
			Username: cfg.Mail.SMTPUsername,
			Password: cfg.Mail.SMTPPassword,
			From:     cfg.Mail.From,
		},
		Logger: logger,
	})

	logger.Info().Str("queue", notify.MailQueue).Int("concurrency", cfg.Mail.Concurrency).Msg("worker starting")
	if err := srv.Run(mux); err != nil {
		logger.Fatal().Err(err).Msg("worker stopped with error")
	}
	logger.Info().Msg("worker shutdown complete")
}
