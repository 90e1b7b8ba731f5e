// Package main - точка входа для фоновых процессов (Worker) MedQuiz Content Hub.
//
// Worker отвечает за периодические задачи:
// - Ежедневный дайджест очереди ревью для ревьюеров
// - Пересчёт статистики контрибьюторов
// - Деактивация истёкших кодов приглашений
// - Детектирование партий, застрявших в очереди ревью
//
// Worker не касается конвейера приёма и решений: вся бизнес-логика
// модерации живёт в боте, здесь только обслуживание и уведомления.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/medquiz-hub/medquiz-content-hub/config"

	// Domain layer
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/candidate"

	// Infrastructure layer
	tgclient "github.com/medquiz-hub/medquiz-content-hub/internal/infrastructure/external/telegram"
	"github.com/medquiz-hub/medquiz-content-hub/internal/infrastructure/persistence/postgres"
	"github.com/medquiz-hub/medquiz-content-hub/internal/infrastructure/persistence/redis"
	"github.com/medquiz-hub/medquiz-content-hub/internal/infrastructure/scheduler"
	"github.com/medquiz-hub/medquiz-content-hub/internal/infrastructure/scheduler/jobs"
	"github.com/medquiz-hub/medquiz-content-hub/internal/infrastructure/service"

	"github.com/medquiz-hub/medquiz-content-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	// Создаём корневой контекст с возможностью отмены
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Запускаем приложение
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting MedQuiz Content Hub Worker",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"debug", cfg.App.Debug,
		"timezone", cfg.App.Timezone,
	)

	if !cfg.Scheduler.Enabled {
		log.Warn("scheduler is disabled, worker has nothing to do")
		return nil
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ПОДКЛЮЧЕНИЕ К БАЗЕ ДАННЫХ (PostgreSQL/Supabase)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()

	// Проверяем соединение
	if err := dbConn.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	log.Info("database connection established")

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ЗАПУСК МИГРАЦИЙ (Worker также должен иметь актуальную схему)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("checking database migrations...")
	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database schema is up to date")

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ИНИЦИАЛИЗАЦИЯ REDIS (опционально)
	// ─────────────────────────────────────────────────────────────────────────
	// Без Redis пересчёт статистики пропускается: кеш, который задание
	// перестраивает, просто не существует.
	var contributorCache candidate.ContributorCache

	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...")
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB

		redisCache, err := redis.NewCache(redisCfg)
		if err != nil {
			log.Warn("failed to connect to Redis, stats rebuild disabled", "error", err)
		} else {
			defer redisCache.Close()
			contributorCache = redis.NewContributorCache(redisCache)
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ИНИЦИАЛИЗАЦИЯ РЕПОЗИТОРИЕВ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing repositories...")
	adminRepo := postgres.NewAdminRepository(dbConn)
	codeRepo := postgres.NewAccessCodeRepository(dbConn)
	batchRepo := postgres.NewBatchRepository(dbConn)
	candidateRepo := postgres.NewCandidateRepository(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ИНИЦИАЛИЗАЦИЯ ОТПРАВКИ УВЕДОМЛЕНИЙ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing notification sender...")
	telegramConfig := tgclient.DefaultClientConfig(cfg.Telegram.Token)
	telegramConfig.Logger = log
	telegramConfig.Debug = cfg.App.Debug
	telegramClient := tgclient.NewClient(telegramConfig)

	notificationSender := service.NewTelegramNotificationSender(telegramClient, log)
	ids := service.NewIDGenerator()

	// ─────────────────────────────────────────────────────────────────────────
	// 8. РЕГИСТРАЦИЯ ЗАДАНИЙ В ПЛАНИРОВЩИКЕ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing scheduler...", "timezone", cfg.App.Timezone)

	schedulerConfig := scheduler.DefaultSchedulerConfig()
	schedulerConfig.Logger = log
	schedulerConfig.Timezone = cfg.App.Location
	sched := scheduler.NewScheduler(schedulerConfig)

	// Ежедневный дайджест очереди ревью (cron в часовом поясе приложения)
	digestExpr := fmt.Sprintf("%d %d * * *", cfg.Scheduler.DailyDigestMinute, cfg.Scheduler.DailyDigestHour)
	digestSchedule, err := scheduler.ParseCronExpression(digestExpr)
	if err != nil {
		return fmt.Errorf("invalid digest schedule %q: %w", digestExpr, err)
	}

	if cfg.Features.IsEnabled(config.FeatureNotifyReviewDigest, nil) {
		digestCfg := jobs.DefaultReviewDigestConfig()
		digestCfg.LeaseTTL = cfg.Review.LeaseTTL
		digestJob := jobs.NewReviewDigestJob(
			batchRepo, candidateRepo, adminRepo, notificationSender, ids, log, digestCfg,
		)
		if err := sched.Register(digestJob, digestSchedule); err != nil {
			return fmt.Errorf("failed to register digest job: %w", err)
		}
	} else {
		log.Info("review digest job disabled by feature flag")
	}

	// Деактивация истёкших кодов приглашений
	cleanupJob := jobs.NewCleanupAccessCodesJob(codeRepo, log, jobs.DefaultCleanupAccessCodesConfig())
	if err := sched.Register(cleanupJob, scheduler.NewIntervalSchedule(cfg.Scheduler.CleanupInterval)); err != nil {
		return fmt.Errorf("failed to register cleanup job: %w", err)
	}

	// Пересчёт статистики контрибьюторов (только при включённом Redis)
	if contributorCache != nil {
		rebuildJob := jobs.NewRebuildContributorStatsJob(
			candidateRepo, contributorCache, log, jobs.DefaultRebuildContributorStatsConfig(),
		)
		if err := sched.Register(rebuildJob, scheduler.NewIntervalSchedule(cfg.Scheduler.RebuildStatsInterval)); err != nil {
			return fmt.Errorf("failed to register stats rebuild job: %w", err)
		}
	} else {
		log.Info("contributor stats rebuild job skipped, Redis disabled")
	}

	// Детектирование партий, застрявших в очереди ревью
	staleCfg := jobs.DefaultStaleDraftsConfig()
	staleCfg.WarnAfter = cfg.Scheduler.StaleAfter
	staleCfg.LeaseTTL = cfg.Review.LeaseTTL
	staleCfg.OpsChatID = cfg.Telegram.OpsChatID
	staleJob := jobs.NewStaleDraftsJob(batchRepo, notificationSender, ids, log, staleCfg)
	if err := sched.Register(staleJob, scheduler.NewIntervalSchedule(cfg.Scheduler.StaleCheckInterval)); err != nil {
		return fmt.Errorf("failed to register stale drafts job: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. ЗАПУСК ПЛАНИРОВЩИКА
	// ─────────────────────────────────────────────────────────────────────────
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	log.Info("MedQuiz Content Hub Worker is running",
		"digest_schedule", digestSchedule.String(),
		"cleanup_interval", cfg.Scheduler.CleanupInterval.String(),
		"stale_check_interval", cfg.Scheduler.StaleCheckInterval.String(),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 10. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	sig := <-sigCh
	log.Info("received shutdown signal", "signal", sig.String())

	// Начинаем graceful shutdown
	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

	if err := sched.Stop(); err != nil {
		log.Error("failed to stop scheduler gracefully", "error", err)
		return err
	}

	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger настраивает структурированное логирование.
func setupLogger(cfg *config.Config) *slog.Logger {
	return logger.Setup(logger.Options{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
		Debug:  cfg.App.Debug,
	})
}
