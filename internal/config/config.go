package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации сервиса воспроизведения реплеев.

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Assets   AssetsConfig   `yaml:"assets"`
	Engine   EngineConfig   `yaml:"engine"`
	EventBus EventBusConfig `yaml:"eventbus"`
	Redis    RedisConfig    `yaml:"redis"`
}

type ServerConfig struct {
	RESTPort    int    `yaml:"rest_port"`
	MetricsPort int    `yaml:"metrics_port"`
	MatchAPIURL string `yaml:"match_api_url"` // Upstream REST с метаданными матчей
}

type AssetsConfig struct {
	CDNBaseURL   string `yaml:"cdn_base_url"`  // Корень CDN с бандлами
	ManifestPath string `yaml:"manifest_path"` // Путь манифеста относительно CDN
	CacheDir     string `yaml:"cache_dir"`     // BadgerDB кеш контента
	StagingRoot  string `yaml:"staging_root"`  // Корень staging-деревьев сессий
	BaseGameDir  string `yaml:"base_game_dir"` // Директория базовой игры (по умолчанию "basegame")
}

type EngineConfig struct {
	ModulePath string `yaml:"module_path"` // Путь к модулю движка
	BootExtra  string `yaml:"boot_extra"`  // Дополнительные аргументы запуска
}

type EventBusConfig struct {
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "STATS_REST_PORT", 8090)
}

// GetMetricsPort возвращает Prometheus метрики порт с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "STATS_METRICS_PORT", 2112)
}

// GetBaseGameDir возвращает директорию базовой игры.
func (a *AssetsConfig) GetBaseGameDir() string {
	if a.BaseGameDir != "" {
		return a.BaseGameDir
	}
	return "basegame"
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV STATS_CONFIG или возвращает nil, nil.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("STATS_CONFIG")
		if path == "" {
			return nil, nil // конфиг не задан — использовать дефолты
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
