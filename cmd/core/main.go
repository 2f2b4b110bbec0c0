// Package main provides the unified trading core process: it wires the
// Event Bus, Position Manager, Capital Manager, Route Builder, Settlement
// Resolver, Submitter, Signer, Position Executor, Graduation Tracker, and
// Graduation Sniper together, and exposes /health, /metrics, and /status
// over HTTP.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"solana-token-lab/internal/bus"
	"solana-token-lab/internal/capital"
	capitalmemory "solana-token-lab/internal/capital/memory"
	capitalpostgres "solana-token-lab/internal/capital/postgres"
	"solana-token-lab/internal/executor"
	"solana-token-lab/internal/graduation"
	"solana-token-lab/internal/journal"
	journalclickhouse "solana-token-lab/internal/journal/clickhouse"
	journalmemory "solana-token-lab/internal/journal/memory"
	journalmigrations "solana-token-lab/internal/journal/migrations"
	journalpostgres "solana-token-lab/internal/journal/postgres"
	"solana-token-lab/internal/observability"
	"solana-token-lab/internal/positions"
	"solana-token-lab/internal/positionstore"
	positionstorememory "solana-token-lab/internal/positionstore/memory"
	positionstorepostgres "solana-token-lab/internal/positionstore/postgres"
	"solana-token-lab/internal/routing"
	"solana-token-lab/internal/settlement"
	"solana-token-lab/internal/signing"
	"solana-token-lab/internal/sniper"
	"solana-token-lab/internal/solana"
	"solana-token-lab/internal/solwallet"
	"solana-token-lab/internal/submission"
	chstore "solana-token-lab/internal/storage/clickhouse"
	pgstore "solana-token-lab/internal/storage/postgres"
)

// defaultStrategyID is the single strategy this process trades under when
// no multi-strategy registry is configured (spec.md only models one active
// wallet's worth of capital per run).
var defaultStrategyID = uuid.Nil

// Core holds every wired component of the unified trading process.
type Core struct {
	bus        *bus.Bus
	manager    *positions.Manager
	capitalMgr *capital.Manager
	builder    routing.Builder
	executor   *executor.Executor
	sniper     *sniper.Sniper
	tracker    *graduation.Tracker
	submitter  *submission.Submitter
	rpc        *solana.HTTPClient
	logger     *log.Logger

	startedAt time.Time
	wg        sync.WaitGroup
}

func main() {
	loadEnvFile()

	rpcEndpoint := flag.String("rpc-endpoint", os.Getenv("SOLANA_RPC_ENDPOINT"), "Solana RPC HTTP endpoint")
	curveURL := flag.String("curve-url", os.Getenv("CURVE_READER_URL"), "Bonding-curve reader service URL")
	poolURL := flag.String("pool-url", os.Getenv("POOL_READER_URL"), "Raydium pool reader service URL")
	aggregatorURL := flag.String("aggregator-url", os.Getenv("AGGREGATOR_URL"), "DEX aggregator service URL")
	bundleURL := flag.String("bundle-url", os.Getenv("BUNDLE_SERVICE_URL"), "Bundle submission service URL")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "Optional ClickHouse DSN for the trade-ledger analytics export")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address")
	walletSecret := flag.String("wallet-secret", os.Getenv("WALLET_SECRET_KEY"), "Base58 or JSON secret key for the trading wallet")
	totalBudgetSOL := flag.Float64("total-budget-sol", envFloat("TOTAL_BUDGET_SOL", 10), "Total lamport budget across strategies, in SOL")
	allocationPercent := flag.Float64("allocation-percent", envFloat("ALLOCATION_PERCENT", 100), "Percent of the total budget allocated to the default strategy")
	maxSignerAmountSOL := flag.Float64("max-signer-amount-sol", envFloat("MAX_SIGNER_AMOUNT_SOL", 5), "Per-transaction cap enforced by the dev-key signer; <=0 disables it")
	sniperEntrySOL := flag.Float64("sniper-entry-sol", envFloat("SNIPER_ENTRY_SOL", 0.1), "SOL spent on each post-graduation quick-flip buy")
	sniperPostGradEnabled := flag.Bool("sniper-post-grad-buy", os.Getenv("SNIPER_POST_GRAD_BUY") == "true", "Enable the post-graduation quick-flip buy path")
	wsEndpoint := flag.String("ws-endpoint", os.Getenv("SOLANA_WS_ENDPOINT"), "Optional Solana WebSocket endpoint for real-time curve-program log notifications")
	curveProgramIDs := flag.String("curve-program-ids", os.Getenv("CURVE_PROGRAM_IDS"), "Comma-separated bonding-curve program IDs to watch over --ws-endpoint")
	exitDustSOL := flag.Float64("exit-dust-sol", envFloat("EXIT_DUST_SOL", positions.DefaultDustThresholds().TokenValueSOL), "SOL value below which a leftover exit balance is written off instead of sold")
	positionDustSOL := flag.Float64("position-dust-sol", envFloat("POSITION_DUST_SOL", positions.DefaultDustThresholds().PositionValueSOL), "SOL value below which a wallet-reconciliation balance is not worth tracking as a position")
	redisAddr := flag.String("redis-addr", os.Getenv("REDIS_ADDR"), "Optional Redis address backing the Sniper's durable in-flight-sell set; empty disables crash-survivable claim tracking")
	sellClaimTTL := flag.Duration("sell-claim-ttl", 10*time.Minute, "TTL for a durable sell-claim entry in Redis")

	flag.Parse()

	logger := log.New(os.Stdout, "[core] ", log.LstdFlags|log.Lshortfile)

	if *rpcEndpoint == "" {
		logger.Fatal("--rpc-endpoint is required")
	}
	if *curveURL == "" || *poolURL == "" {
		logger.Fatal("--curve-url and --pool-url are required")
	}
	if *bundleURL == "" {
		logger.Fatal("--bundle-url is required")
	}
	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}
	if *walletSecret == "" {
		logger.Fatal("--wallet-secret (or WALLET_SECRET_KEY) is required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	keypair, err := loadKeypair(*walletSecret)
	if err != nil {
		logger.Fatalf("failed to load wallet keypair: %v", err)
	}
	logger.Printf("trading wallet: %s", keypair.PublicKey())

	positionStore, capitalStore, journalStore, cleanup, err := createStores(ctx, *postgresDSN, *useMemory)
	if err != nil {
		logger.Fatalf("failed to create stores: %v", err)
	}
	defer cleanup()

	dustThresholds := positions.DustThresholds{TokenValueSOL: *exitDustSOL, PositionValueSOL: *positionDustSOL}

	eventBus := bus.New()
	manager := positions.NewManager(positions.WithStore(positionStore), positions.WithDustThresholds(dustThresholds))
	if n, err := manager.LoadFromStore(ctx); err != nil {
		logger.Printf("failed to restore open positions: %v", err)
	} else if n > 0 {
		logger.Printf("restored %d open positions", n)
	}

	capitalMgr := capital.NewManager(solToLamports(*totalBudgetSOL), capital.WithStore(capitalStore))
	capitalMgr.RegisterStrategy(defaultStrategyID, capital.Cap{
		AllocationPercent: decimalFromFloat(*allocationPercent),
		MaxSlots:          0,
	})
	if n, err := capitalMgr.LoadFromStore(ctx); err != nil {
		logger.Printf("failed to restore capital reservations: %v", err)
	} else if n > 0 {
		logger.Printf("restored %d capital reservations", n)
	}

	rpc := solana.NewHTTPClient(*rpcEndpoint)
	builder := routing.NewHTTPBuilder(*curveURL, *poolURL, *aggregatorURL, 5, 10)
	resolver := settlement.NewResolver(rpc)
	submitter := submission.New(rpc, *bundleURL)

	var journalOpts []journal.Option
	if *clickhouseDSN != "" {
		chConn, err := chstore.NewConn(ctx, *clickhouseDSN)
		if err != nil {
			logger.Fatalf("failed to connect to clickhouse: %v", err)
		}
		defer chConn.Close()
		if err := journalmigrations.RunClickhouseMigrations(ctx, chConn); err != nil {
			logger.Fatalf("failed to apply clickhouse migrations: %v", err)
		}
		journalOpts = append(journalOpts, journal.WithAnalyticsSink(journalclickhouse.NewSink(chConn)))
	}
	journalWriter := journal.New(journalStore, journalOpts...)

	signer := signing.NewDevKeySigner(keypair, *maxSignerAmountSOL)

	exec := executor.New(
		manager, positionStore, capitalMgr, builder, resolver, submitter, rpc, eventBus, journalWriter,
		executor.WithDefaultSigner(signer),
		executor.WithConfig(executor.Config{DustTokenValueSOL: dustThresholds.TokenValueSOL}),
	)

	sniperOpts := []sniper.Option{
		sniper.WithConfig(sniper.Config{
			EntrySOL:             *sniperEntrySOL,
			AggregatorURL:        *aggregatorURL,
			PostGradEntryEnabled: *sniperPostGradEnabled,
		}),
		sniper.WithSigner(signer),
	}
	if *redisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: *redisAddr})
		sniperOpts = append(sniperOpts, sniper.WithDurableSet(bus.NewDurableSet(redisClient, "arb:inflight:sells", *sellClaimTTL)))
	}
	snipe := sniper.New(manager, builder, rpc, eventBus, exec, submitter, sniperOpts...)

	var trackerOpts []graduation.Option
	if *wsEndpoint != "" {
		wsClient, err := solana.NewWSClient(ctx, *wsEndpoint, nil)
		if err != nil {
			logger.Printf("failed to connect to %s, graduation tracker falls back to ticker-only: %v", *wsEndpoint, err)
		} else {
			defer wsClient.Close()
			trackerOpts = append(trackerOpts, graduation.WithWSClient(wsClient, splitCommaList(*curveProgramIDs)))
		}
	}
	tracker := graduation.New(manager, builder, eventBus, exec, trackerOpts...)

	core := &Core{
		bus:        eventBus,
		manager:    manager,
		capitalMgr: capitalMgr,
		builder:    builder,
		executor:   exec,
		sniper:     snipe,
		tracker:    tracker,
		submitter:  submitter,
		rpc:        rpc,
		logger:     logger,
		startedAt:  time.Now(),
	}

	done := make(chan struct{})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("received signal %v, initiating graceful shutdown...", sig)
		for _, evtSig := range manager.EmergencyCloseAll() {
			exec.SubmitSignal(evtSig)
		}
		cancel()
		exec.Shutdown()

		select {
		case sig := <-sigCh:
			logger.Printf("received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(60 * time.Second):
			logger.Println("graceful shutdown timed out after 60s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	go core.startHTTPServer(*metricsAddr)

	core.Run(ctx)
	close(done)
	logger.Println("shutdown complete")
}

// Run starts the Executor, the Sniper, and the Graduation Tracker, and
// blocks until ctx is canceled.
func (c *Core) Run(ctx context.Context) {
	c.logger.Println("starting trading core...")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.executor.Run(ctx)
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.sniper.Run(ctx)
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.tracker.Run(ctx)
	}()

	<-ctx.Done()
	c.wg.Wait()
}

// startHTTPServer starts the HTTP server for health/metrics/status.
func (c *Core) startHTTPServer(addr string) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", observability.Handler())

	mux.HandleFunc("/status", c.handleStatus)

	c.logger.Printf("starting HTTP server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		c.logger.Printf("HTTP server error: %v", err)
	}
}

// StatusResponse is the JSON response for the /status endpoint.
type StatusResponse struct {
	Status          string              `json:"status"`
	Uptime          string              `json:"uptime"`
	Positions       positions.Stats     `json:"positions"`
	SubmissionStats submission.Snapshot `json:"submission"`
}

func (c *Core) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:          "running",
		Uptime:          time.Since(c.startedAt).String(),
		Positions:       c.manager.Stats(),
		SubmissionStats: c.submitter.Counters(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func createStores(ctx context.Context, postgresDSN string, useMemory bool) (positionstore.Store, capital.Store, journal.Store, func(), error) {
	if useMemory {
		return positionstorememory.New(), capitalmemory.New(), journalmemory.New(), func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}

	positionStore := positionstorepostgres.NewStore(pool)
	capitalStore := capitalpostgres.NewStore(pool)
	journalStore := journalpostgres.NewStore(pool)

	cleanup := func() { pool.Close() }
	return positionStore, capitalStore, journalStore, cleanup, nil
}

func decimalFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func loadKeypair(secret string) (*solwallet.Keypair, error) {
	trimmed := strings.TrimSpace(secret)
	if strings.HasPrefix(trimmed, "[") {
		return solwallet.FromJSON([]byte(trimmed))
	}
	if data, err := os.ReadFile(trimmed); err == nil {
		return solwallet.FromJSON(data)
	}
	return solwallet.FromBase58(trimmed)
}

func solToLamports(sol float64) uint64 {
	return uint64(sol * solwallet.LamportsPerSOL)
}

// splitCommaList splits a comma-separated flag value into its trimmed,
// non-empty parts.
func splitCommaList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

// loadEnvFile loads environment variables from a .env file if one exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
