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
	TimelineRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timeline_requests_total",
		Help: "Запросы таймлайна по источнику данных",
	}, []string{"source"})

	TimelineBuildSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "timeline_build_seconds",
		Help:    "Время построения страницы таймлайна",
		Buckets: prometheus.DefBuckets,
	})

	TimelineEmptyPages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timeline_empty_pages_total",
		Help: "Количество пустых страниц таймлайна",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// Источники данных страницы таймлайна.
const (
	SourceFanout         = "fanout"
	SourceFanoutFallback = "fanout_fallback"
	SourceDirect         = "direct"
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		TimelineRequestsTotal,
		TimelineBuildSeconds,
		TimelineEmptyPages,
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

	go func() {
		<-ctx.Done()
		shutdownTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
	}()
}

// IncTimelineSource увеличивает счётчик запросов по источнику данных.
func IncTimelineSource(source string) {
	TimelineRequestsTotal.WithLabelValues(source).Inc()
}

// ObserveTimelineBuild записывает длительность построения страницы.
func ObserveTimelineBuild(start time.Time) {
	TimelineBuildSeconds.Observe(time.Since(start).Seconds())
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
