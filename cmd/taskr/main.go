package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"taskr/internal/api"
	"taskr/internal/bot"
	"taskr/internal/config"
	"taskr/internal/pkg/logger"
	"taskr/internal/pkg/metrics"
	"taskr/internal/pkg/notify"
	"taskr/internal/pkg/ratelimit"
	"taskr/internal/repository"
	"taskr/internal/service"
	"taskr/internal/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log := logger.NewDefault(cfg.Env, cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(ctx, cfg, log); err != nil {
		log.Error("taskr stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	db, err := repository.NewDB(cfg.DBDriver, cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
	}

	var store session.Store
	switch cfg.SessionBackend {
	case config.SessionRedis:
		store = session.NewRedisStore(rdb, cfg.SessionTTL)
	default:
		store = session.NewTokenStore(cfg.JWTSecret, cfg.SessionTTL)
	}

	var authOpts []service.AuthOption
	if rdb != nil && cfg.LoginRate > 0 {
		authOpts = append(authOpts, service.WithLoginLimiter(
			ratelimit.NewRedisRateLimiter(rdb, "taskr:login:", cfg.LoginRate, cfg.LoginBurst)))
	}

	userRepo := repository.NewUserRepository(db)
	taskRepo := repository.NewTaskRepository(db)

	authSvc := service.NewAuthService(userRepo, store, log, authOpts...)
	taskSvc := service.NewTaskService(taskRepo, log)
	reminderSvc := service.NewReminderService(userRepo, taskRepo, log)

	if cfg.Admin.Enabled() {
		if _, err := authSvc.EnsureAdmin(ctx, cfg.Admin.Name, cfg.Admin.Email, cfg.Admin.Password); err != nil {
			return err
		}
	}
	if cfg.SMTP.Enabled() {
		reminderSvc.AddNotifier(notify.NewEmailNotifier(cfg.SMTP, log))
	}

	metrics.InitMetrics()
	if !cfg.IsLocal() {
		gin.SetMode(gin.ReleaseMode)
	}
	server, err := api.NewServer(authSvc, taskSvc, log, api.Options{
		SessionTTL:   cfg.SessionTTL,
		SecureCookie: !cfg.IsLocal(),
	})
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.TelegramToken != "" {
		telegramBot, err := bot.New(cfg.TelegramToken, bot.Deps{
			Auth:      authSvc,
			Tasks:     taskSvc,
			Reminders: reminderSvc,
			Users:     userRepo,
		}, log)
		if err != nil {
			return err
		}
		reminderSvc.AddNotifier(telegramBot)
		go func() {
			if err := telegramBot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("bot stopped", slog.String("error", err.Error()))
			}
		}()
	}

	scheduler := service.NewSchedulerService(time.Local, log)
	sendReminders := func(jobCtx context.Context) error {
		return reminderSvc.SendReminders(jobCtx, time.Now())
	}
	if cfg.ReportInterval > 0 {
		_, err = scheduler.ScheduleInterval(cfg.ReportInterval, "reminders", time.Minute, sendReminders)
	} else {
		_, err = scheduler.ScheduleDaily(cfg.ReminderAt, "reminders", time.Minute, sendReminders)
	}
	if err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", slog.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
