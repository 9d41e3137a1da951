package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	FeedbackSaved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedback_saved_total",
		Help: "Сохранённые на сервере отзывы",
	}, []string{"kind"})
	BatchItemErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feedback_batch_item_errors_total",
		Help: "Отклонённые элементы пакетной отправки",
	})

	SyncRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_runs_total",
		Help: "Запуски синхронизации по результату",
	}, []string{"result"})
	SyncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_duration_seconds",
		Help:    "Длительность синхронизации",
		Buckets: prometheus.DefBuckets,
	})
	UnsyncedRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sync_unsynced_records",
		Help: "Количество несинхронизированных записей в локальном кэше",
	})

	CachePersistFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_persist_failures_total",
		Help: "Ошибки записи локального кэша",
	}, []string{"reason"})
	CacheEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_evicted_total",
		Help: "Удалённые по возрасту записи локального кэша",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30, 60},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		FeedbackSaved,
		BatchItemErrors,
		SyncRuns,
		SyncDuration,
		UnsyncedRecords,
		CachePersistFailures,
		CacheEvicted,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveSync записывает результат одного запуска синхронизации.
func ObserveSync(result string, start time.Time) {
	SyncRuns.WithLabelValues(result).Inc()
	SyncDuration.Observe(time.Since(start).Seconds())
}
