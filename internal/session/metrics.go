package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики жизненного цикла сессий воспроизведения.
var (
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "replay",
		Name:      "sessions_active",
		Help:      "Число живых сессий воспроизведения",
	})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replay",
		Name:      "sessions_total",
		Help:      "Всего открытых сессий по итоговому состоянию",
	}, []string{"outcome"})

	stagedAssetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "replay",
		Name:      "staged_assets_total",
		Help:      "Всего ассетов, прошедших через staging-пайплайн",
	})

	bootDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "replay",
		Name:      "boot_duration_seconds",
		Help:      "Время от открытия сессии до первого кадра",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)
