// veild is the on-device anonymization daemon. It owns the whole pipeline
// lifecycle: encrypted local store, budget ledger, bucket arena, incident
// detector, transport sink, and the loopback admin surface.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"veil/internal/api"
	"veil/internal/audit"
	"veil/internal/budget"
	"veil/internal/guarantee"
	"veil/internal/incident"
	"veil/internal/kanon"
	"veil/internal/noise"
	"veil/internal/pipeline"
	"veil/internal/platform/config"
	"veil/internal/platform/httpserver"
	"veil/internal/platform/localstore"
	"veil/internal/platform/logger"
	"veil/internal/platform/metrics"
	"veil/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "veild:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	key, err := loadStoreKey(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("store key: %w", err)
	}
	storeCfg := localstore.DefaultConfig(filepath.Join(cfg.DataDir, "store"), key)
	storeCfg.Logger = log
	db, err := localstore.Open(storeCfg)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	defer db.Close()

	publisher := audit.NewPublisher(audit.NewLocalStore(db), audit.WithLogger(log))
	auditInbox := make(chan audit.Entry, 256)
	auditWorker := audit.NewWorker(publisher, auditInbox, log)

	budgetMgr, err := budget.NewManager(ctx, budget.NewLocalStore(db),
		cfg.EpsilonCeiling, cfg.EpsilonFloor,
		budget.WithLogger(log),
		budget.WithMetrics(m),
		budget.WithAuditPublisher(publisher),
		budget.WithCategoryEpsilon(cfg.CategoryEpsilon),
	)
	if err != nil {
		return fmt.Errorf("budget manager: %w", err)
	}

	engine := kanon.NewEngine(cfg.K, cfg.BucketTimeout,
		kanon.WithLogger(log),
		kanon.WithMetrics(m),
		kanon.WithAuditPublisher(publisher),
	)
	checker := guarantee.NewChecker(cfg.K, cfg.PayloadCeiling,
		guarantee.WithLogger(log),
		guarantee.WithMetrics(m),
		guarantee.WithAuditPublisher(publisher),
	)

	sink, err := buildSink(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	defer sink.Close()

	pl := pipeline.New(*cfg, engine, budgetMgr, noise.NewGenerator(noise.WithLogger(log)), checker, sink,
		pipeline.WithLogger(log),
		pipeline.WithMetrics(m),
		pipeline.WithAuditPublisher(publisher),
		pipeline.WithAsyncAudit(auditInbox),
	)
	detector := incident.NewDetector(engine, budgetMgr, pl,
		incident.WithLogger(log),
		incident.WithMetrics(m),
		incident.WithAuditPublisher(publisher),
		incident.WithTransportFailureThreshold(cfg.TransportFailureThreshold),
		incident.WithExpiryThreshold(cfg.ExpiryRateThreshold),
		incident.WithBudgetWarnRemaining(cfg.BudgetWarnRemaining),
	)
	pl.SetDeliveryReporter(detector)

	if err := pl.Start(ctx); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	defer pl.Close()

	scheduler := pipeline.NewScheduler(engine, detector, cfg.SweepInterval, cfg.IncidentScanInterval, log)

	handler := api.New(pl, budgetMgr, publisher, log)
	srv := httpserver.New(cfg.ListenAddr, api.NewRouter(handler, registry))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("veild listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := scheduler.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		err := auditWorker.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info("veild stopped")
	return err
}

// loadStoreKey resolves the store encryption key: VEIL_STORE_KEY as hex, or
// a keyfile under the data directory, generated on first run.
func loadStoreKey(dataDir string) ([]byte, error) {
	if v := os.Getenv("VEIL_STORE_KEY"); v != "" {
		key, err := hex.DecodeString(v)
		if err != nil || len(key) != 32 {
			return nil, errors.New("VEIL_STORE_KEY must be 64 hex characters")
		}
		return key, nil
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, err
	}
	path := filepath.Join(dataDir, "store.key")
	if key, err := os.ReadFile(path); err == nil {
		if len(key) != 32 {
			return nil, fmt.Errorf("keyfile %s is corrupt", path)
		}
		return key, nil
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, err
	}
	return key, nil
}

// buildSink chooses the transport: Kafka when brokers are configured,
// otherwise the in-process sink so the daemon runs standalone.
func buildSink(ctx context.Context, cfg *config.Config, log *slog.Logger) (transport.Sink, error) {
	if len(cfg.KafkaBrokers) == 0 {
		log.Info("no brokers configured, using in-process sink")
		return transport.NewMemorySink(), nil
	}
	return transport.NewKafkaSink(ctx, transport.KafkaConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
		TLS:     cfg.KafkaTLS,
		Logger:  log,
	})
}
