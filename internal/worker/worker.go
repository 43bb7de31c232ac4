// Package worker runs the background side of the event core: the outbox
// relay, the reputation sweeper, limiter eviction and the metrics endpoint.
package worker

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cosplatform/eventcore/internal/config"
	"github.com/cosplatform/eventcore/internal/messaging"
	"github.com/cosplatform/eventcore/internal/metrics"
	"github.com/cosplatform/eventcore/internal/services"
	"github.com/cosplatform/eventcore/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

type Worker struct {
	config    *config.Config
	services  *services.Services
	relayer   *services.OutboxRelayer
	publisher messaging.Publisher
	server    *http.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires the services and, when brokers are configured, the Kafka relay.
func New(cfg *config.Config, db *gorm.DB, reg *prometheus.Registry) (*Worker, error) {
	m := metrics.New(reg)
	svc := services.New(db, services.Options{
		TicketSecret:      cfg.TicketSecret,
		TicketTTL:         cfg.TicketTTL,
		ScanRateLimit:     cfg.ScanRateLimit,
		VerifyRateLimit:   cfg.VerifyRateLimit,
		RateWindow:        cfg.ScanRateWindow,
		LockRetryAttempts: cfg.LockRetryAttempts,
		LockRetryBackoff:  cfg.LockRetryBackoff,
	}, m)

	w := &Worker{config: cfg, services: svc}

	if cfg.RelayEnabled() {
		producer, err := messaging.NewKafkaProducer(messaging.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaActivityTopic,
		})
		if err != nil {
			return nil, err
		}
		w.publisher = producer
		w.relayer = services.NewOutboxRelayer(svc.Store.Activities, producer, m, cfg.OutboxBatchSize, cfg.OutboxInterval)
	} else {
		logger.Warn("KAFKA_BROKERS not set, activity relay disabled")
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		w.server = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return w, nil
}

// Services exposes the wired core.
func (w *Worker) Services() *services.Services {
	return w.services
}

// Start launches every background job.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	w.spawn(func() { w.services.Limiter.Run(ctx, time.Minute) })
	w.spawn(func() {
		w.services.Reputation.RunSweeper(ctx, w.config.ReputationSweepInterval, w.config.ReputationSweepBatch)
	})
	if w.relayer != nil {
		w.spawn(func() { w.relayer.Run(ctx) })
	}
	if w.server != nil {
		w.spawn(func() {
			logger.Info("Metrics endpoint listening", "addr", w.server.Addr)
			if err := w.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics endpoint failed", "error", err)
			}
		})
	}
}

func (w *Worker) spawn(fn func()) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		fn()
	}()
}

// Stop cancels the jobs, waits for them and releases the producer.
func (w *Worker) Stop() {
	if w.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := w.server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics endpoint shutdown failed", "error", err)
		}
		cancel()
	}
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	if w.publisher != nil {
		if err := w.publisher.Close(); err != nil {
			logger.Warn("Failed to close publisher", "error", err)
		}
	}
}
