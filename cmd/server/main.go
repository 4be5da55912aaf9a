package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"memberflow/cmd/server/config"
	"memberflow/internal/api"
	flowsdb "memberflow/internal/db/flows"
	membersdb "memberflow/internal/db/members"
	webhookdb "memberflow/internal/db/webhook"
	"memberflow/internal/flow"
	"memberflow/internal/gateway"
	"memberflow/internal/observability"
	"memberflow/internal/polling"
	"memberflow/internal/realtime"
	"memberflow/internal/split"
	"memberflow/internal/status"
	"memberflow/internal/webhook"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func run(ctx context.Context) error {
	gatewayCfg, err := config.LoadGateway()
	if err != nil {
		return err
	}
	pollCfg, err := config.LoadPoll()
	if err != nil {
		return err
	}
	httpCfg, err := config.LoadHTTP()
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	client := buildGatewayClient(gatewayCfg, metrics)

	stores, cleanupStores, err := buildStores(ctx)
	if err != nil {
		return err
	}
	defer cleanupStores()

	registry, cleanupRegistry := buildRegistry(ctx)
	defer cleanupRegistry()
	metrics.SetActiveFlowsFn(registryLen(registry))

	hub := realtime.NewHub()
	go hub.Run(ctx)
	publisher := status.NewFanoutPublisher(nil, hub)

	poller := polling.NewPoller(client)
	pollOpts := polling.Options{Timeout: pollCfg.Timeout, Interval: pollCfg.Interval}

	orchestrator, err := flow.NewOrchestrator(flow.Config{
		Gateway:     client,
		Poller:      poller,
		Store:       stores.flows,
		Fallback:    stores.fallbacks,
		Provisioner: stores.provisioner,
		Plans:       stores.plans,
		Registry:    registry,
		Publisher:   publisher,
		Metrics:     metrics,
		Wallets:     split.Wallets{Partner: gatewayCfg.PartnerWallet},
		PollOptions: pollOpts,
		Logf:        log.Printf,
	})
	if err != nil {
		return err
	}

	validator := webhook.NewValidator(gatewayCfg.WebhookToken)
	if allow, _ := strconv.ParseBool(os.Getenv("WEBHOOK_ALLOW_UNVERIFIED")); allow {
		validator.AllowUnverified = true
		log.Println("webhook signature validation disabled (WEBHOOK_ALLOW_UNVERIFIED)")
	}

	consumer, err := webhook.NewConsumer(webhook.ConsumerConfig{
		Ledger:      stores.ledger,
		Fallbacks:   stores.fallbackSource,
		Flows:       stores.flows,
		Provisioner: stores.provisioner,
		Plans:       stores.plans,
		Commissions: stores.commissions,
		Publisher:   publisher,
		Wallets:     split.Wallets{Partner: gatewayCfg.PartnerWallet},
		Logf:        log.Printf,
	})
	if err != nil {
		return err
	}

	router := api.NewRouter(api.RouterConfig{
		Orchestrator: orchestrator,
		Poller:       poller,
		Statuses:     client,
		Validator:    validator,
		Consumer:     consumer,
		Hub:          hub,
		Metrics:      metrics,
		Logf:         log.Printf,
	})

	srv := &http.Server{
		Addr:    httpCfg.Addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", httpCfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		metrics.MarkShutdown(metrics.Snapshot().InFlight)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpCfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// buildGatewayClient selects the real Asaas client when credentials are
// configured, else the in-memory sandbox, and wraps either with retry,
// circuit breaking and rate limiting.
func buildGatewayClient(cfg config.GatewayConfig, metrics *observability.Metrics) gateway.Client {
	var base gateway.Client
	if cfg.APIKey != "" {
		base = gateway.NewAsaasClient(cfg.BaseURL, cfg.APIKey, nil)
		log.Printf("payment gateway: asaas at %s", cfg.BaseURL)
	} else {
		base = gateway.NewInMemoryClient()
		log.Println("payment gateway: in-memory (no ASAAS_API_KEY)")
	}

	relCfg, err := gateway.LoadReliabilityConfig()
	if err != nil {
		log.Printf("gateway reliability config: %v (using defaults)", err)
		relCfg = gateway.DefaultReliabilityConfig()
	}
	return relCfg.Wrap(base, metrics.AddGatewayWait)
}

// serverStores bundles the persistence side of the wiring.
type serverStores struct {
	flows          flow.Store
	fallbacks      flow.FallbackStore
	fallbackSource webhook.FallbackSource
	provisioner    flow.Provisioner
	plans          flow.PlanCatalog
	ledger         webhook.Ledger
	commissions    webhook.CommissionLedger
}

var openDB = func(driver, dsn string) (*sql.DB, error) {
	return sql.Open(driver, dsn)
}

// buildStores wires Postgres-backed stores when DATABASE_URL is set, else
// in-memory stand-ins for local development.
func buildStores(ctx context.Context) (serverStores, func(), error) {
	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		log.Println("storage: in-memory (no DATABASE_URL)")
		fallbacks := flow.NewMemoryFallbackStore()
		return serverStores{
			flows:          flow.NewMemoryStore(),
			fallbacks:      fallbacks,
			fallbackSource: fallbacks,
			provisioner:    membersdb.NewInMemoryProvisioner(),
			plans:          membersdb.NewStaticPlanCatalog(membersdb.DefaultPlans()),
			ledger:         webhook.NewMemoryLedger(),
			commissions:    nil,
		}, func() {}, nil
	}

	db, err := openDB("pgx", databaseURL)
	if err != nil {
		return serverStores{}, nil, err
	}
	cleanup := func() {
		if err := db.Close(); err != nil {
			log.Printf("close db: %v", err)
		}
	}

	flows, err := flowsdb.NewFlowStoreWithSchema(ctx, db)
	if err != nil {
		cleanup()
		return serverStores{}, nil, err
	}

	fallbacks := flowsdb.NewFallbackStore(db)
	accounts := membersdb.NewAccountStore(db)
	plans := membersdb.NewPlanCatalog(db)
	ledger := webhookdb.NewEventLedger(db)
	commissions := flowsdb.NewCommissionStore(db)
	for _, init := range []interface {
		InitSchema(context.Context) error
	}{fallbacks, accounts, plans, ledger, commissions} {
		if err := init.InitSchema(ctx); err != nil {
			cleanup()
			return serverStores{}, nil, err
		}
	}

	return serverStores{
		flows:          flows,
		fallbacks:      fallbacks,
		fallbackSource: fallbacks,
		provisioner:    accounts,
		plans:          plans,
		ledger:         ledger,
		commissions:    commissions,
	}, cleanup, nil
}

// buildRegistry mirrors flows into Redis when REDIS_URL is set; without it
// the in-memory registry alone serves reads.
func buildRegistry(ctx context.Context) (flow.Registry, func()) {
	if strings.TrimSpace(os.Getenv("REDIS_URL")) == "" {
		log.Println("flow registry: in-memory (no REDIS_URL)")
		return flow.NewMemoryRegistry(), func() {}
	}

	registry, cleanup, err := buildFlowRegistry(ctx)
	if err != nil {
		log.Printf("flow registry: redis unavailable (%v), using in-memory", err)
		return flow.NewMemoryRegistry(), func() {}
	}
	return registry, cleanup
}

// registryLen exposes the active flow count to the metrics snapshot when
// the registry supports it.
func registryLen(registry flow.Registry) func() int64 {
	type counter interface{ Len() int }
	if c, ok := registry.(counter); ok {
		return func() int64 { return int64(c.Len()) }
	}
	return func() int64 { return 0 }
}
