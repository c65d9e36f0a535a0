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
	PostsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "posts_processed_total",
		Help: "Обработанные задачи по исходу",
	}, []string{"outcome"})

	CommentsSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "comments_submitted_total",
		Help: "Успешно отправленные комментарии",
	})

	CommentsRevised = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "comments_revised_total",
		Help: "Отредактированные комментарии",
	})

	CommentsRetracted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "comments_retracted_total",
		Help: "Удалённые по рейтингу или запросу комментарии",
	})

	SearchPages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "search_pages_total",
		Help: "Просмотренные страницы поиска",
	})

	InboxMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inbox_messages_total",
		Help: "Обработанные сообщения инбокса по типу команды",
	}, []string{"command"})

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

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		PostsProcessed,
		CommentsSubmitted,
		CommentsRevised,
		CommentsRetracted,
		SearchPages,
		InboxMessages,
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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
