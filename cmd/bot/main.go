// Package main - точка входа для Telegram Bot приложения MedQuiz Content Hub.
//
// Бот принимает от преподавателей и студентов-контрибьюторов файлы с
// вопросами (текст, PDF, фото), прогоняет их через конвейер
// извлечение -> модерация -> ревью и публикует одобренные вопросы
// в банк курса. Каждое решение ревьюера фиксируется в журнале аудита.
//
// Архитектура следует принципам Clean Architecture и DDD:
// - Domain: чистая бизнес-логика без внешних зависимостей
// - Application: оркестрация use cases (Commands/Queries/Event Handlers)
// - Infrastructure: реализация репозиториев, внешние API
// - Interface: Telegram Bot handlers
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/config"

	// Application layer
	"github.com/medquiz-hub/medquiz-content-hub/internal/application/command"
	"github.com/medquiz-hub/medquiz-content-hub/internal/application/eventhandler"
	"github.com/medquiz-hub/medquiz-content-hub/internal/application/query"

	// Domain layer
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/admin"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/candidate"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"

	// Infrastructure layer
	"github.com/medquiz-hub/medquiz-content-hub/internal/infrastructure/external/ocr"
	"github.com/medquiz-hub/medquiz-content-hub/internal/infrastructure/external/scorer"
	tgclient "github.com/medquiz-hub/medquiz-content-hub/internal/infrastructure/external/telegram"
	"github.com/medquiz-hub/medquiz-content-hub/internal/infrastructure/messaging"
	"github.com/medquiz-hub/medquiz-content-hub/internal/infrastructure/persistence/postgres"
	"github.com/medquiz-hub/medquiz-content-hub/internal/infrastructure/persistence/redis"
	"github.com/medquiz-hub/medquiz-content-hub/internal/infrastructure/service"

	// Interface layer
	"github.com/medquiz-hub/medquiz-content-hub/internal/interface/telegram"

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
	log.Info("starting MedQuiz Content Hub Bot",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"debug", cfg.App.Debug,
		"timezone", cfg.App.Timezone,
	)

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
	// 4. ЗАПУСК МИГРАЦИЙ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("running database migrations...")
	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	status, err := migrator.Status(ctx)
	if err != nil {
		log.Warn("failed to get migration status", "error", err)
	} else {
		appliedCount := 0
		for _, m := range status {
			if m.IsApplied {
				appliedCount++
			}
		}
		log.Info("migrations completed", "applied", appliedCount, "total", len(status))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ИНИЦИАЛИЗАЦИЯ REDIS (опционально)
	// ─────────────────────────────────────────────────────────────────────────
	// Кеши объявлены интерфейсными типами: без Redis они остаются nil,
	// и конвейер работает напрямую через базу.
	var (
		redisCache       *redis.Cache
		publishedCache   candidate.Cache
		contributorCache candidate.ContributorCache
		alertDeduper     eventhandler.AlertDeduper
		queueCache       *redis.QueueCache
		verdictCache     *redis.VerdictCache
	)

	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...")
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		if cfg.Redis.PoolSize > 0 {
			redisCfg.PoolSize = cfg.Redis.PoolSize
		}
		if cfg.Redis.MinIdleConns > 0 {
			redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		}

		cache, err := redis.NewCache(redisCfg)
		if err != nil {
			log.Warn("failed to connect to Redis, caching disabled", "error", err)
		} else {
			defer cache.Close()
			redisCache = cache
			publishedCache = redis.NewPublishedCache(redisCache)
			contributorCache = redis.NewContributorCache(redisCache)
			alertDeduper = redis.NewAlertGuard(redisCache)
			queueCache = redis.NewQueueCache(redisCache, 0)
			verdictCache = redis.NewVerdictCache(redisCache, 0)
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ИНИЦИАЛИЗАЦИЯ РЕПОЗИТОРИЕВ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing repositories...")
	adminRepo := postgres.NewAdminRepository(dbConn)
	codeRepo := postgres.NewAccessCodeRepository(dbConn)
	curriculumRepo := postgres.NewCurriculumRepository(dbConn)
	batchRepo := postgres.NewBatchRepository(dbConn)
	candidateRepo := postgres.NewCandidateRepository(dbConn)
	auditRepo := postgres.NewAuditRepository(dbConn)
	uowFactory := postgres.NewUnitOfWorkFactory(dbConn)

	// Первые супер-администраторы попадают в систему из конфигурации,
	// дальше доступ раздаётся кодами приглашений.
	if err := bootstrapSuperAdmins(ctx, adminRepo, cfg.Telegram.SuperAdminIDs, log); err != nil {
		return fmt.Errorf("failed to bootstrap super admins: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ИНИЦИАЛИЗАЦИЯ EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing event bus...")
	localBusConfig := messaging.DefaultInMemoryEventBusConfig()
	localBusConfig.Logger = log
	localBusConfig.AsyncMode = true

	// Одиночный инстанс обходится локальной шиной; шина поверх Redis
	// Pub/Sub нужна горизонтально масштабируемому webhook-развёртыванию,
	// где инвалидация кешей должна доходить до всех инстансов.
	var eventBus interface {
		shared.EventBus
		Close() error
	}
	if cfg.Redis.EventBusEnabled && redisCache != nil {
		redisBus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         redis.NewEventBridge(redisCache),
			ChannelName:    cfg.Redis.EventBusChannel,
			LocalBusConfig: localBusConfig,
			Logger:         log,
		})
		if err != nil {
			return fmt.Errorf("failed to start redis event bus: %w", err)
		}
		eventBus = redisBus
		log.Info("event bus connected to Redis Pub/Sub", "channel", cfg.Redis.EventBusChannel)
	} else {
		eventBus = messaging.NewInMemoryEventBus(localBusConfig)
	}
	defer func() {
		log.Info("closing event bus...")
		_ = eventBus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 8. ИНИЦИАЛИЗАЦИЯ ВНЕШНИХ КЛИЕНТОВ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing external clients...")

	// Telegram Bot API Client (общий для бота и уведомлений)
	telegramConfig := tgclient.DefaultClientConfig(cfg.Telegram.Token)
	telegramConfig.Logger = log
	telegramConfig.Debug = cfg.App.Debug
	telegramClient := tgclient.NewClient(telegramConfig)

	notificationSender := service.NewTelegramNotificationSender(telegramClient, log)

	// AI Scorer (опционально: без него модерация работает на эвристике)
	var scorerPort candidate.Scorer
	switch {
	case cfg.Scorer.BaseURL == "":
		log.Info("AI scorer not configured, moderation falls back to heuristics")
	case !cfg.Features.IsEnabled(config.FeatureModerationAIScoring, nil):
		log.Info("AI scorer disabled by feature flag, moderation falls back to heuristics")
	default:
		scorerConfig := scorer.DefaultClientConfig(cfg.Scorer.BaseURL)
		scorerConfig.APIKey = cfg.Scorer.APIKey
		scorerConfig.Logger = log
		scorerConfig.Debug = cfg.App.Debug
		if cfg.Scorer.Model != "" {
			scorerConfig.Model = cfg.Scorer.Model
		}
		if cfg.Scorer.Temperature > 0 {
			scorerConfig.Temperature = cfg.Scorer.Temperature
		}
		if cfg.Scorer.RequestTimeout > 0 {
			scorerConfig.Timeout = cfg.Scorer.RequestTimeout
		}
		if cfg.Scorer.RateLimit > 0 {
			scorerConfig.RateLimiter.RequestsPerSecond = float64(cfg.Scorer.RateLimit) / 60
		}
		if cfg.Scorer.RateLimitBurst > 0 {
			scorerConfig.RateLimiter.BurstSize = cfg.Scorer.RateLimitBurst
		}
		// Нулевые значения ниже означают «оставить пресет скорера».
		scorerConfig.MaxRetries = cfg.Scorer.MaxRetries
		scorerConfig.RetryBaseDelay = cfg.Scorer.RetryBaseDelay
		scorerConfig.RetryMaxDelay = cfg.Scorer.RetryMaxDelay
		scorerConfig.BreakerThreshold = cfg.Scorer.CircuitBreakerThreshold
		scorerConfig.BreakerTimeout = cfg.Scorer.CircuitBreakerTimeout
		scorerConfig.BreakerHalfOpenMax = cfg.Scorer.CircuitBreakerHalfOpenMax
		scorerClient := scorer.NewClient(scorerConfig)
		scorerPort = service.NewScorerAdapter(scorerClient, cfg.Scorer.RequestTimeout)
		log.Info("AI scorer enabled", "base_url", cfg.Scorer.BaseURL, "model", scorerConfig.Model)

		// Резервный провайдер: основной эндпоинт недоступен -> вторая
		// попытка здесь, и только затем деградация до эвристики.
		if cfg.Scorer.FallbackBaseURL != "" {
			fallbackConfig := scorer.DefaultClientConfig(cfg.Scorer.FallbackBaseURL)
			fallbackConfig.APIKey = cfg.Scorer.FallbackAPIKey
			fallbackConfig.Logger = log
			fallbackConfig.Debug = cfg.App.Debug
			if cfg.Scorer.FallbackModel != "" {
				fallbackConfig.Model = cfg.Scorer.FallbackModel
			}
			if cfg.Scorer.Temperature > 0 {
				fallbackConfig.Temperature = cfg.Scorer.Temperature
			}
			if cfg.Scorer.RequestTimeout > 0 {
				fallbackConfig.Timeout = cfg.Scorer.RequestTimeout
			}
			fallbackClient := scorer.NewClient(fallbackConfig)
			fallbackPort := service.NewScorerAdapter(fallbackClient, cfg.Scorer.RequestTimeout)
			scorerPort = service.NewFailoverScorer(scorerPort, fallbackPort, log)
			log.Info("AI scorer fallback enabled",
				"base_url", cfg.Scorer.FallbackBaseURL, "model", fallbackConfig.Model)
		}

		// Кеш вердиктов: повторная загрузка того же материала не платит
		// за повторную оценку каждого вопроса.
		if verdictCache != nil {
			scorerPort = service.NewCachedScorer(scorerPort, verdictCache, log)
		}

		probeCtx, cancelProbe := context.WithTimeout(ctx, 5*time.Second)
		if !scorerClient.IsHealthy(probeCtx) {
			log.Warn("scorer health probe failed, assessments will degrade to heuristics until it recovers")
		}
		cancelProbe()
	}

	// OCR (опционально: без него принимаются только текстовые загрузки)
	var recognizer command.TextRecognizer
	ocrWanted := cfg.Features.IsEnabled(config.FeatureUploadPDF, nil) ||
		cfg.Features.IsEnabled(config.FeatureUploadPhotoOCR, nil)
	switch {
	case cfg.OCR.BaseURL == "":
		log.Info("OCR not configured, document uploads are rejected")
	case !ocrWanted:
		log.Info("OCR disabled by feature flags, document uploads are rejected")
	default:
		ocrConfig := ocr.DefaultClientConfig(cfg.OCR.BaseURL)
		ocrConfig.APIKey = cfg.OCR.APIKey
		ocrConfig.Logger = log
		ocrConfig.Debug = cfg.App.Debug
		if cfg.OCR.RequestTimeout > 0 {
			ocrConfig.Timeout = cfg.OCR.RequestTimeout
		}
		if cfg.OCR.Languages != "" {
			ocrConfig.Languages = cfg.OCR.Languages
		}
		ocrConfig.MaxRetries = cfg.OCR.MaxRetries
		ocrConfig.RetryBaseDelay = cfg.OCR.RetryBaseDelay
		ocrConfig.RetryMaxDelay = cfg.OCR.RetryMaxDelay
		ocrClient := ocr.NewClient(ocrConfig)
		recognizer = service.NewOCRAdapter(ocrClient)
		log.Info("OCR enabled", "base_url", cfg.OCR.BaseURL, "languages", ocrConfig.Languages)

		probeCtx, cancelProbe := context.WithTimeout(ctx, 5*time.Second)
		if !ocrClient.IsHealthy(probeCtx) {
			log.Warn("ocr health probe failed, document uploads will fail until it recovers")
		}
		cancelProbe()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. ИНИЦИАЛИЗАЦИЯ APPLICATION LAYER (Commands, Queries)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing application layer...")

	moderator := candidate.NewModerator(scorerPort)
	ids := service.NewIDGenerator()
	codeGenerator := service.NewAccessCodeGenerator()
	codeHasher := service.NewBcryptCodeHasher(0)

	// Отложенная обработка переносит OCR и оценку с горячего пути бота
	// в событийный конвейер; флаг возвращает старый синхронный режим.
	asyncIngest := cfg.Features.IsEnabled(config.FeatureIngestAsync, nil)

	submitBatchCfg := command.DefaultSubmitBatchHandlerConfig()
	if cfg.Review.MaxBatchCandidates > 0 {
		submitBatchCfg.MaxCandidates = cfg.Review.MaxBatchCandidates
	}
	submitBatchCfg.AsyncIngest = asyncIngest
	submitBatchCfg.Logger = log
	submitBatchCmd := command.NewSubmitBatchHandler(
		uowFactory, adminRepo, curriculumRepo, recognizer, moderator, ids, eventBus, submitBatchCfg,
	)

	ingestBatchCmd := command.NewIngestBatchHandler(
		uowFactory, curriculumRepo, recognizer, moderator, ids, eventBus,
		command.IngestBatchHandlerConfig{
			MaxCandidates: submitBatchCfg.MaxCandidates,
			Logger:        log,
		},
	)

	acquireLockCfg := command.DefaultAcquireLockHandlerConfig()
	acquireLockCfg.LeaseTTL = cfg.Review.LeaseTTL
	acquireLockCfg.Logger = log
	acquireLockCmd := command.NewAcquireLockHandler(
		uowFactory, adminRepo, curriculumRepo, eventBus, acquireLockCfg,
	)

	decideCfg := command.DefaultDecideCandidateHandlerConfig()
	decideCfg.LeaseTTL = cfg.Review.LeaseTTL
	decideCfg.Logger = log
	decideCandidateCmd := command.NewDecideCandidateHandler(
		uowFactory, adminRepo, eventBus, decideCfg,
	)

	releaseCfg := command.DefaultReleaseLockHandlerConfig()
	releaseCfg.LeaseTTL = cfg.Review.LeaseTTL
	releaseCfg.Logger = log
	releaseLockCmd := command.NewReleaseLockHandler(
		uowFactory, adminRepo, eventBus, releaseCfg,
	)

	abandonBatchCmd := command.NewAbandonBatchHandler(
		uowFactory, adminRepo, eventBus, command.AbandonBatchHandlerConfig{Logger: log},
	)

	issueAccessCodeCmd := command.NewIssueAccessCodeHandler(
		adminRepo, codeRepo, codeGenerator, codeHasher, eventBus, command.IssueAccessCodeHandlerConfig{Logger: log},
	)

	redeemAccessCodeCmd := command.NewRedeemAccessCodeHandler(
		adminRepo, codeRepo, codeHasher, auditRepo, eventBus, command.RedeemAccessCodeHandlerConfig{Logger: log},
	)

	var reviewQueueCache query.QueueCache
	if queueCache != nil {
		reviewQueueCache = queueCache
	}
	reviewQueueQuery := query.NewListReviewQueueHandler(
		batchRepo, adminRepo, curriculumRepo, reviewQueueCache,
		query.ListReviewQueueHandlerConfig{LeaseTTL: cfg.Review.LeaseTTL},
	)
	reviewCardQuery := query.NewGetReviewCardHandler(
		batchRepo, candidateRepo, query.GetReviewCardHandlerConfig{},
	)
	contributorStatsQuery := query.NewGetContributorStatsHandler(
		candidateRepo, batchRepo, contributorCache, query.GetContributorStatsHandlerConfig{},
	)
	auditTrailQuery := query.NewGetAuditTrailHandler(
		auditRepo, query.GetAuditTrailHandlerConfig{},
	)
	publishedQuery := query.NewGetPublishedQuestionsHandler(
		candidateRepo, publishedCache, curriculumRepo, query.DefaultGetPublishedQuestionsHandlerConfig(),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 10. РЕГИСТРАЦИЯ EVENT HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("registering event handlers...")

	dispatcher := messaging.NewDispatcherBuilder(eventBus).
		WithLogger(log).
		Build()

	batchIngestedHandler := eventhandler.NewOnBatchIngestedHandler(
		adminRepo, curriculumRepo, notificationSender, ids, log, eventhandler.DefaultBatchIngestedConfig(),
	)
	ingestFailedHandler := eventhandler.NewOnIngestFailedHandler(notificationSender, ids, log)
	batchCompletedHandler := eventhandler.NewOnBatchCompletedHandler(
		adminRepo, contributorCache, notificationSender, ids, log,
	)
	adminPromotedHandler := eventhandler.NewOnAdminPromotedHandler(adminRepo, notificationSender, ids, log)

	scorerDegradedCfg := eventhandler.DefaultScorerDegradedConfig()
	scorerDegradedCfg.OpsChatID = cfg.Telegram.OpsChatID
	scorerDegradedHandler := eventhandler.NewOnScorerDegradedHandler(
		alertDeduper, notificationSender, ids, log, scorerDegradedCfg,
	)

	ingestRequestedHandler := eventhandler.NewOnIngestRequestedHandler(ingestBatchCmd, log)

	type registration struct {
		eventType shared.EventType
		name      string
		handler   shared.EventHandler
	}

	registrations := []registration{
		{ingestFailedHandler.EventType(), "notify_ingest_failed", ingestFailedHandler.Handle},
		{adminPromotedHandler.EventType(), "notify_admin_promoted", adminPromotedHandler.Handle},
	}

	if asyncIngest {
		registrations = append(registrations, registration{
			ingestRequestedHandler.EventType(), "run_deferred_ingest", ingestRequestedHandler.Handle,
		})
	}

	// Уведомительные обработчики включаются фиче-флагами: ревьюеров легко
	// засыпать сообщениями, поэтому каждый канал отключается независимо.
	if cfg.Features.IsEnabled(config.FeatureNotifyNewBatch, nil) {
		registrations = append(registrations, registration{
			batchIngestedHandler.EventType(), "notify_batch_ingested", batchIngestedHandler.Handle,
		})
	}
	if cfg.Features.IsEnabled(config.FeatureNotifyBatchCompleted, nil) {
		registrations = append(registrations, registration{
			batchCompletedHandler.EventType(), "notify_batch_completed", batchCompletedHandler.Handle,
		})
	}
	if cfg.Features.IsEnabled(config.FeatureNotifyModerationDegraded, nil) {
		registrations = append(registrations, registration{
			scorerDegradedHandler.EventType(), "alert_scorer_degraded", scorerDegradedHandler.Handle,
		})
	}

	// Инвалидация кеша публикаций имеет смысл только при включённом Redis
	if publishedCache != nil {
		decidedHandler := eventhandler.NewOnCandidateDecidedHandler(candidateRepo, publishedCache, log)
		registrations = append(registrations, registration{
			decidedHandler.EventType(), "invalidate_published_cache", decidedHandler.Handle,
		})
	}

	// Страницы очереди ревью устаревают от любого события, меняющего её
	// состав или блокировки; один обработчик слушает их все.
	if queueCache != nil {
		queueChangedHandler := eventhandler.NewOnQueueChangedHandler(queueCache, log)
		for _, eventType := range queueChangedHandler.EventTypes() {
			registrations = append(registrations, registration{
				eventType, "invalidate_queue_cache_" + string(eventType), queueChangedHandler.Handle,
			})
		}
	}

	for _, reg := range registrations {
		if err := dispatcher.Register(reg.eventType, reg.name, reg.handler); err != nil {
			return fmt.Errorf("failed to register event handler %s: %w", reg.name, err)
		}
	}

	if err := dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start event dispatcher: %w", err)
	}
	defer func() {
		log.Info("stopping event dispatcher...")
		_ = dispatcher.Stop()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 11. СОЗДАНИЕ TELEGRAM BOT
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing Telegram bot...")

	botConfig := telegram.DefaultBotConfig(cfg.Telegram.Token)
	if cfg.Telegram.UseWebhook {
		botConfig.Mode = "webhook"
		botConfig.WebhookURL = cfg.Telegram.WebhookURL
	}
	botConfig.PollingTimeout = int(cfg.Telegram.PollingTimeout.Seconds())
	botConfig.Debug = cfg.App.Debug
	botConfig.Logger = log
	botConfig.CourseID = cfg.Content.DefaultCourseID
	botConfig.MaxUploadBytes = cfg.Telegram.MaxUploadBytes
	if cfg.Review.QueuePageSize > 0 {
		botConfig.QueuePageSize = cfg.Review.QueuePageSize
	}

	botDeps := telegram.BotDependencies{
		AdminRepo:      adminRepo,
		CurriculumRepo: curriculumRepo,

		SubmitBatchCmd:      submitBatchCmd,
		AcquireLockCmd:      acquireLockCmd,
		DecideCandidateCmd:  decideCandidateCmd,
		ReleaseLockCmd:      releaseLockCmd,
		AbandonBatchCmd:     abandonBatchCmd,
		IssueAccessCodeCmd:  issueAccessCodeCmd,
		RedeemAccessCodeCmd: redeemAccessCodeCmd,

		ReviewQueueQuery:        reviewQueueQuery,
		ReviewCardQuery:         reviewCardQuery,
		ContributorStatsQuery:   contributorStatsQuery,
		AuditTrailQuery:         auditTrailQuery,
		PublishedQuestionsQuery: publishedQuery,
	}
	// Общий счётчик загрузок нужен только при нескольких репликах,
	// но и в одиночной конфигурации он безвреден.
	if redisCache != nil {
		botDeps.RateLimitBackend = redis.NewRateLimitGuard(redisCache)
	}

	bot, err := telegram.NewBot(botConfig, botDeps)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}

	// Роль меняется в момент активации кода, а auth-кеш бота живёт
	// несколько минут. Сбрасываем запись по событию, чтобы свежего
	// админа не встречало «доступ только по приглашению».
	err = dispatcher.Register(shared.EventAdminPromoted, "invalidate_auth_cache",
		func(event shared.Event) error {
			if id, perr := strconv.ParseInt(event.AggregateID(), 10, 64); perr == nil {
				bot.InvalidateAuthCache(id)
			}
			return nil
		},
	)
	if err != nil {
		return fmt.Errorf("failed to register event handler invalidate_auth_cache: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 12. ЗАПУСК СЕРВИСОВ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("starting services...")

	// Канал для ошибок
	errCh := make(chan error, 1)

	// Запускаем Telegram бота
	go func() {
		log.Info("starting Telegram bot", "mode", botConfig.Mode)
		if err := bot.Start(ctx); err != nil {
			errCh <- fmt.Errorf("telegram bot error: %w", err)
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 13. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("MedQuiz Content Hub Bot is running",
		"telegram_mode", botConfig.Mode,
		"lease_ttl", cfg.Review.LeaseTTL.String(),
	)

	// Ожидаем сигнал завершения или ошибку
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		log.Error("service error", "error", err)
		return err
	}

	// Начинаем graceful shutdown
	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	// 1. Останавливаем бота (перестаём принимать новые апдейты)
	var shutdownErr error
	log.Info("stopping Telegram bot...")
	if err := bot.Stop(shutdownCtx); err != nil {
		log.Error("failed to stop bot gracefully", "error", err)
		shutdownErr = err
	}

	// 2. Диспетчер, event bus и база закроются через defer

	if shutdownErr != nil {
		log.Warn("shutdown completed with errors")
	} else {
		log.Info("shutdown completed successfully")
	}

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

// bootstrapSuperAdmins заводит супер-администраторов из конфигурации.
// Уже существующие записи не трогаются: роль, выданная через бота,
// не перетирается при рестарте.
func bootstrapSuperAdmins(ctx context.Context, adminRepo admin.Repository, ids []int64, log *slog.Logger) error {
	for _, id := range ids {
		telegramID := shared.TelegramID(id)
		if !telegramID.IsValid() {
			log.Warn("skipping invalid super admin id", "telegram_id", id)
			continue
		}

		existing, err := adminRepo.GetByTelegramID(ctx, telegramID)
		if err == nil && existing != nil {
			continue
		}

		a, err := admin.NewAdmin(admin.NewAdminParams{
			TelegramID: telegramID,
			Role:       shared.RoleSuperAdmin,
		})
		if err != nil {
			return fmt.Errorf("create super admin %d: %w", id, err)
		}

		if err := adminRepo.Save(ctx, a); err != nil {
			return fmt.Errorf("save super admin %d: %w", id, err)
		}
		log.Info("bootstrapped super admin", "telegram_id", id)
	}

	return nil
}
