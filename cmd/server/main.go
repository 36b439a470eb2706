package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/annel0/arena-stats/internal/api"
	"github.com/annel0/arena-stats/internal/assets"
	"github.com/annel0/arena-stats/internal/config"
	"github.com/annel0/arena-stats/internal/engine"
	"github.com/annel0/arena-stats/internal/eventbus"
	"github.com/annel0/arena-stats/internal/logging"
	"github.com/annel0/arena-stats/internal/matchmeta"
	"github.com/annel0/arena-stats/internal/observability"
	"github.com/annel0/arena-stats/internal/playback"
	"github.com/annel0/arena-stats/internal/session"
	"github.com/annel0/arena-stats/internal/viewport"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации")
	flag.Parse()

	// Инициализируем систему логирования
	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	logging.Info("🎬 Запуск сервиса воспроизведения реплеев...")

	// === КОНФИГУРАЦИЯ ===
	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("❌ Ошибка чтения конфигурации: %v", err)
		log.Fatalf("❌ Ошибка чтения конфигурации: %v", err)
	}
	if cfg == nil {
		cfg = &config.Config{}
	}

	restPort := cfg.Server.GetRESTPort()
	matchAPI := cfg.Server.MatchAPIURL
	if matchAPI == "" {
		matchAPI = "http://localhost:8080"
	}
	cdnBase := cfg.Assets.CDNBaseURL
	if cdnBase == "" {
		cdnBase = "http://localhost:9000/bundles"
	}
	manifestPath := cfg.Assets.ManifestPath
	if manifestPath == "" {
		manifestPath = "manifest.json"
	}
	stagingRoot := cfg.Assets.StagingRoot
	if stagingRoot == "" {
		stagingRoot = "data/staging"
	}
	cacheDir := cfg.Assets.CacheDir
	if cacheDir == "" {
		cacheDir = "data/asset_cache"
	}
	modulePath := cfg.Engine.ModulePath
	if modulePath == "" {
		modulePath = "bin/engine-runner"
	}

	logging.Info("📡 Конфигурация: REST=:%d, матчи=%s, CDN=%s", restPort, matchAPI, cdnBase)

	// === TELEMETRY ===
	shutdownTelemetry, err := observability.InitTelemetry(context.Background(), "replay-playback")
	if err != nil {
		logging.Warn("OpenTelemetry недоступен: %v", err)
		shutdownTelemetry = func(context.Context) error { return nil }
	}

	// === КЕШ КОНТЕНТА ===
	// Бандлы кешируются в BadgerDB; при недоступности кеша загрузки идут
	// напрямую из сети.
	var cache assets.ContentCache
	if badger, err := assets.NewBadgerCache(cacheDir); err != nil {
		logging.Warn("BadgerDB кеш недоступен (%v), работаем без кеша", err)
	} else {
		cache = badger
		defer badger.Close()
		logging.Info("✅ Кеш контента: BadgerDB в %s", cacheDir)
	}

	fetcher := assets.NewFetcher(nil, cache)

	// Манифест — мелкий объект, обновляемый на CDN по тому же пути:
	// при наличии Redis он кешируется там с коротким TTL, а крупные
	// бандлы остаются в BadgerDB.
	var manifestFetcher *assets.Fetcher
	if cfg.Redis.URL != "" {
		if mcache, err := assets.NewRedisCache(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB); err != nil {
			logging.Warn("Redis кеш манифеста недоступен (%v), манифест идёт через общий кеш", err)
		} else {
			manifestFetcher = assets.NewManifestFetcher(nil, mcache)
			defer mcache.Close()
			logging.Info("✅ Кеш манифеста: Redis %s", cfg.Redis.URL)
		}
	}

	// === ШИНА СОБЫТИЙ ===
	var bus eventbus.EventBus
	if cfg.EventBus.URL != "" {
		retention := time.Duration(cfg.EventBus.Retention) * time.Hour
		if retention == 0 {
			retention = 24 * time.Hour
		}
		js, err := eventbus.NewJetStreamBus(cfg.EventBus.URL, cfg.EventBus.Stream, retention)
		if err != nil {
			logging.Warn("NATS JetStream недоступен (%v), событийная шина в памяти", err)
			bus = eventbus.NewMemoryBus(256)
		} else {
			bus = js
			defer js.Close()
			logging.Info("✅ Шина событий: NATS JetStream %s", cfg.EventBus.URL)
		}
	} else {
		bus = eventbus.NewMemoryBus(256)
	}

	// === ГРОМКОСТЬ ===
	var volumeRepo playback.VolumeRepo
	if cfg.Redis.URL != "" {
		redisRepo, err := playback.NewRedisVolumeRepo(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logging.Warn("Redis недоступен (%v), громкость не переживёт рестарт", err)
			volumeRepo = playback.NewMemoryVolumeRepo()
		} else {
			volumeRepo = redisRepo
			defer redisRepo.Close()
			logging.Info("✅ Настройки громкости: Redis %s", cfg.Redis.URL)
		}
	} else {
		volumeRepo = playback.NewMemoryVolumeRepo()
	}

	// === МЕНЕДЖЕР СЕССИЙ ===
	deps := session.Deps{
		Fetcher:         fetcher,
		ManifestFetcher: manifestFetcher,

		CDNBase:     cdnBase,
		BaseDir:     cfg.Assets.GetBaseGameDir(),
		StagingRoot: stagingRoot,
		BootExtra:   strings.Fields(cfg.Engine.BootExtra),
		Launcher:    engine.NewProcessLauncher(modulePath),
		VolumeRepo:  volumeRepo,
		Publisher:   eventbus.NewPublisher(bus),
		Viewport:    viewport.Size{Width: 1280, Height: 720},
	}
	manager := session.NewManager(matchmeta.NewClient(matchAPI), deps, cdnBase+"/"+manifestPath)

	// === REST API ===
	rest := api.NewRestServer(api.Config{Port: restPort, Sessions: manager})
	go func() {
		if err := rest.Start(); err != nil {
			logging.Error("❌ REST сервер: %v", err)
		}
	}()

	logging.Info("✅ Сервис готов")
	logging.Info("   🌐 REST API: http://localhost:%d/api/replay", restPort)
	logging.Info("   ❤️  Health check: http://localhost:%d/health", restPort)
	logging.Info("   📈 Метрики: http://localhost:%d/metrics", restPort)

	// Ждём сигнала для завершения
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("📡 Получен сигнал %v, завершение работы...", sig)

	// === GRACEFUL SHUTDOWN ===
	// Сначала разбираем сессии: teardown движков безусловен.
	manager.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rest.Stop(ctx); err != nil {
		logging.Warn("Ошибка остановки REST сервера: %v", err)
	}
	if err := shutdownTelemetry(ctx); err != nil {
		logging.Warn("Ошибка остановки телеметрии: %v", err)
	}

	logging.Info("👋 Сервис остановлен")
}
