package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"veritas/internal/accumulator"
	"veritas/internal/anchor/batcher"
	anchorhandler "veritas/internal/anchor/handler"
	"veritas/internal/anchor/ledger"
	"veritas/internal/audit"
	"veritas/internal/credential/models"
	"veritas/internal/credential/schema"
	"veritas/internal/events"
	"veritas/internal/issuance"
	issuancehandler "veritas/internal/issuance/handler"
	"veritas/internal/issuer"
	"veritas/internal/platform/config"
	"veritas/internal/platform/health"
	"veritas/internal/platform/logger"
	"veritas/internal/platform/tracer"
	"veritas/internal/proof"
	proofhandler "veritas/internal/proof/handler"
	httptransport "veritas/internal/transport/http"
	"veritas/internal/verification"
	verificationhandler "veritas/internal/verification/handler"
	id "veritas/pkg/domain"
	"veritas/pkg/platform/circuit"
	"veritas/pkg/platform/middleware/request"
)

const (
	shutdownTimeout   = 15 * time.Second
	poolStatsInterval = 15 * time.Second
	pruneInterval     = time.Hour
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

// run wires the engine and serves until ctx is cancelled.
func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	log.Info("initializing veritas",
		"addr", cfg.Addr,
		"environment", cfg.Environment,
		"postgres", cfg.UsesPostgres(),
		"redis", cfg.Redis.URL != "",
		"kafka", cfg.Kafka.Brokers != "",
	)

	schemas, err := buildSchemas(cfg.Schemas)
	if err != nil {
		return err
	}
	keys, err := buildKeys(cfg.Issuers)
	if err != nil {
		return err
	}

	probes := health.New(cfg.Environment)

	stores, err := openInfra(ctx, cfg, log, probes)
	if err != nil {
		return err
	}
	defer stores.Close()

	var publisher events.Publisher
	if cfg.Kafka.Brokers != "" {
		kcfg := events.DefaultKafkaConfig()
		kcfg.Brokers = cfg.Kafka.Brokers
		kcfg.Topic = cfg.Kafka.Topic
		kcfg.Acks = cfg.Kafka.Acks
		kafka, err := events.NewKafkaPublisher(kcfg, log)
		if err != nil {
			return fmt.Errorf("kafka publisher: %w", err)
		}
		defer func() {
			if err := kafka.Close(); err != nil {
				log.Warn("failed to close kafka publisher", "error", err)
			}
		}()
		probes.RegisterCheck("kafka", kafka.Health)
		publisher = kafka
	}

	accs := accumulator.NewRegistry(
		accumulator.WithRetention(cfg.Accumulator.Retention),
		accumulator.WithMetrics(accumulator.NewMetrics()),
		accumulator.WithLogger(log),
	)
	defer accs.Close()
	for _, issuerID := range keys.Issuers() {
		accs.For(issuerID)
	}
	probes.RegisterCheck("accumulators", func(context.Context) error {
		for _, acc := range accs.All() {
			if acc.Halted() {
				return fmt.Errorf("issuer %s halted", acc.Issuer())
			}
		}
		return nil
	})

	firstEpoch, err := batcher.NextEpoch(ctx, stores.epochs, stores.anchors, keys.Issuers())
	if err != nil {
		return err
	}

	batchOpts := []batcher.Option{
		batcher.WithConfig(batcher.Config{
			Interval:       cfg.Batcher.Interval,
			Threshold:      cfg.Batcher.Threshold,
			AttemptTimeout: cfg.Batcher.AttemptTimeout,
			PollInterval:   cfg.Batcher.PollInterval,
			InitialBackoff: cfg.Batcher.InitialBackoff,
			MaxBackoff:     cfg.Batcher.MaxBackoff,
			MaxAttempts:    cfg.Batcher.MaxAttempts,
			FirstEpoch:     firstEpoch,
		}),
		batcher.WithEpochLog(stores.epochs),
		batcher.WithBreaker(circuit.New("ledger")),
		batcher.WithMetrics(batcher.NewMetrics()),
		batcher.WithLogger(log),
	}
	issueOpts := []issuance.Option{
		issuance.WithTracer(tracer.NewOTel()),
		issuance.WithMetrics(issuance.NewMetrics()),
		issuance.WithLogger(log),
	}
	if publisher != nil {
		batchOpts = append(batchOpts, batcher.WithPublisher(publisher))
		issueOpts = append(issueOpts, issuance.WithPublisher(publisher))
	}

	anchoring := batcher.New(
		ledger.NewMemory(ledger.WithConfirmAfter(cfg.Batcher.LedgerConfirmAfter)),
		accs, stores.anchors, stores.credentials, batchOpts...,
	)
	issuing := issuance.NewService(schemas, keys, stores.credentials, accs, anchoring, issueOpts...)

	// Accumulators are rebuilt from the claim store before anything seals,
	// and changes that were never anchored go back on the queue.
	for _, issuerID := range keys.Issuers() {
		if _, err := issuing.Reconcile(ctx, issuerID); err != nil {
			return fmt.Errorf("reconcile issuer %s: %w", issuerID, err)
		}
		n, err := issuing.Requeue(ctx, issuerID)
		if err != nil {
			return fmt.Errorf("requeue issuer %s: %w", issuerID, err)
		}
		if n > 0 {
			log.Info("requeued unanchored changes", "issuer_id", issuerID, "items", n)
		}
	}

	anchoring.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := anchoring.Stop(stopCtx); err != nil {
			log.Warn("batcher stopped with pending work", "error", err)
		}
	}()
	if len(keys.Issuers()) > 0 {
		if epoch, err := anchoring.Seal(ctx); err != nil {
			log.Warn("initial seal failed", "error", err)
		} else {
			log.Info("initial epoch sealed", "epoch", epoch)
		}
	}

	auditor := audit.NewPublisher(stores.audit,
		audit.WithAsyncBuffer(cfg.Audit.Buffer),
		audit.WithPublisherLogger(log),
	)
	defer auditor.Close()

	prover := proof.New(schemas, accs,
		proof.WithTracer(tracer.NewOTel()),
		proof.WithMetrics(proof.NewMetrics()),
		proof.WithLogger(log),
	)
	verifier := verification.New(stores.anchors, keys, schemas,
		verification.WithAuditor(auditor),
		verification.WithTracer(tracer.NewOTel()),
		verification.WithMetrics(verification.NewMetrics()),
		verification.WithLogger(log),
	)

	router := httptransport.NewRouter(log, request.NewMetrics(), probes,
		issuancehandler.New(issuing, log),
		anchorhandler.New(stores.anchors, accs, log),
		proofhandler.New(prover, stores.credentials, log),
		verificationhandler.New(verifier, log),
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      45 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return pruneHistory(gctx, accs, log)
	})
	if stores.redis != nil {
		g.Go(func() error {
			return stores.redis.RunPoolStats(gctx, poolStatsInterval)
		})
	}
	return g.Wait()
}

// pruneHistory applies the witness retention window to issuers that have
// not published recently. Publishing prunes on its own.
func pruneHistory(ctx context.Context, accs *accumulator.Registry, log *slog.Logger) error {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, acc := range accs.All() {
				if err := acc.Prune(ctx); err != nil && ctx.Err() == nil {
					log.Warn("failed to prune accumulator history", "issuer_id", acc.Issuer(), "error", err)
				}
			}
		}
	}
}

func buildSchemas(decls []config.SchemaConfig) (*schema.Registry, error) {
	reg := schema.NewRegistry()
	for _, decl := range decls {
		schemaID, err := id.ParseSchemaID(decl.ID)
		if err != nil {
			return nil, err
		}
		s := models.Schema{ID: schemaID}
		for _, attr := range decl.Attributes {
			typ, err := models.ParseAttributeType(attr.Type)
			if err != nil {
				return nil, fmt.Errorf("schema %s attribute %s: %w", decl.ID, attr.Name, err)
			}
			s.Attributes = append(s.Attributes, models.Attribute{Name: attr.Name, Type: typ})
		}
		if err := reg.Register(s); err != nil {
			return nil, fmt.Errorf("register schema %s: %w", decl.ID, err)
		}
	}
	return reg, nil
}

// buildKeys loads issuer keys. Keys marked revoked are revoked at startup,
// so credentials they signed stop verifying.
func buildKeys(decls []config.IssuerConfig) (*issuer.Registry, error) {
	reg := issuer.NewRegistry()
	revokedAt := time.Now().UTC()
	for _, decl := range decls {
		issuerID, err := id.ParseIssuerID(decl.ID)
		if err != nil {
			return nil, err
		}
		for _, key := range decl.Keys {
			keyID, err := id.ParseKeyID(key.ID)
			if err != nil {
				return nil, fmt.Errorf("issuer %s: %w", decl.ID, err)
			}
			seed, err := key.DecodeSeed()
			if err != nil {
				return nil, fmt.Errorf("issuer %s: %w", decl.ID, err)
			}
			if _, err := reg.AddKey(issuerID, keyID, seed); err != nil {
				return nil, fmt.Errorf("issuer %s key %s: %w", decl.ID, key.ID, err)
			}
			if key.Revoked {
				if err := reg.RevokeKey(issuerID, keyID, revokedAt); err != nil {
					return nil, fmt.Errorf("issuer %s key %s: %w", decl.ID, key.ID, err)
				}
			}
		}
	}
	return reg, nil
}
