// relayer is the compliance-screening transfer relayer: it accepts signed
// transfer intents over HTTP, screens destinations, submits approved
// transfers on chain with a custodial key and tracks them to confirmation.
package main

import (
	"context"
	"crypto/ed25519"
	crand "crypto/rand"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdktypes "github.com/blocto/solana-go-sdk/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/mr-tron/base58"
	"github.com/urfave/cli/v2"

	"github.com/shieldpay/relayer/api"
	"github.com/shieldpay/relayer/blocklist"
	"github.com/shieldpay/relayer/chain"
	"github.com/shieldpay/relayer/compliance"
	"github.com/shieldpay/relayer/internal/flags"
	"github.com/shieldpay/relayer/relay"
	"github.com/shieldpay/relayer/store"
)

// Git SHA1 commit hash of the release (set via linker flags)
var gitCommit = ""
var gitDate = ""

var (
	databaseURLFlag = &cli.StringFlag{
		Name:     "db.url",
		Usage:    "PostgreSQL connection string",
		EnvVars:  []string{"DATABASE_URL"},
		Category: flags.DatabaseCategory,
	}
	devFlag = &cli.BoolFlag{
		Name:     "dev",
		Usage:    "Run with an in-memory store (no persistence)",
		Category: flags.DatabaseCategory,
	}
	rpcURLFlag = &cli.StringFlag{
		Name:     "chain.rpc",
		Usage:    "Solana RPC endpoint",
		EnvVars:  []string{"SOLANA_RPC_URL"},
		Category: flags.ChainCategory,
	}
	issuerKeyFlag = &cli.StringFlag{
		Name:     "chain.key",
		Usage:    "Base58 custodial signing key (32-byte seed or 64-byte keypair); ephemeral when omitted",
		EnvVars:  []string{"ISSUER_PRIVATE_KEY"},
		Category: flags.ChainCategory,
	}
	privateSubmissionFlag = &cli.BoolFlag{
		Name:     "chain.private-submission",
		Usage:    "Submit through the provider's private relay with a tip",
		EnvVars:  []string{"USE_PRIVATE_SUBMISSION"},
		Category: flags.ChainCategory,
	}
	privateTipFlag = &cli.Uint64Flag{
		Name:     "chain.private-tip",
		Usage:    "Tip in lamports for private submission",
		EnvVars:  []string{"PRIVATE_SUBMISSION_TIP"},
		Value:    chain.DefaultConfig.PrivateSubmissionTip,
		Category: flags.ChainCategory,
	}
	hostFlag = &cli.StringFlag{
		Name:     "http.host",
		Usage:    "HTTP listen interface",
		EnvVars:  []string{"HOST"},
		Value:    api.DefaultConfig.Host,
		Category: flags.APICategory,
	}
	portFlag = &cli.IntFlag{
		Name:     "http.port",
		Usage:    "HTTP listen port",
		EnvVars:  []string{"PORT"},
		Value:    api.DefaultConfig.Port,
		Category: flags.APICategory,
	}
	rateLimitFlag = &cli.BoolFlag{
		Name:     "http.ratelimit",
		Usage:    "Apply per-client rate limiting to the public endpoints",
		EnvVars:  []string{"ENABLE_RATE_LIMITING"},
		Value:    true,
		Category: flags.APICategory,
	}
	corsFlag = &cli.StringSliceFlag{
		Name:     "http.corsdomain",
		Usage:    "Comma separated list of origins to accept cross-origin requests from",
		Category: flags.APICategory,
	}
	rangeAPIKeyFlag = &cli.StringFlag{
		Name:     "compliance.range-key",
		Usage:    "Range risk API key; mock scoring when omitted",
		EnvVars:  []string{"RANGE_API_KEY"},
		Category: flags.ComplianceCategory,
	}
	rangeAPIURLFlag = &cli.StringFlag{
		Name:     "compliance.range-url",
		Usage:    "Range risk API base URL",
		EnvVars:  []string{"RANGE_API_URL"},
		Category: flags.ComplianceCategory,
	}
	riskThresholdFlag = &cli.IntFlag{
		Name:     "compliance.risk-threshold",
		Usage:    "Lowest risk score that rejects a transfer",
		EnvVars:  []string{"RANGE_RISK_THRESHOLD"},
		Value:    compliance.DefaultConfig.RiskThreshold,
		Category: flags.ComplianceCategory,
	}
	strictFlag = &cli.BoolFlag{
		Name:     "compliance.strict",
		Usage:    "Reject transfers when the risk provider is unreachable",
		EnvVars:  []string{"COMPLIANCE_STRICT_ON_FAILURE"},
		Category: flags.ComplianceCategory,
	}
	heliusSecretFlag = &cli.StringFlag{
		Name:     "webhook.helius-secret",
		Usage:    "Shared secret for the Helius webhook endpoint",
		EnvVars:  []string{"HELIUS_WEBHOOK_SECRET"},
		Category: flags.WebhookCategory,
	}
	quicknodeSecretFlag = &cli.StringFlag{
		Name:     "webhook.quicknode-secret",
		Usage:    "Shared secret for the QuickNode webhook endpoint",
		EnvVars:  []string{"QUICKNODE_WEBHOOK_SECRET"},
		Category: flags.WebhookCategory,
	}
	workerFlag = &cli.BoolFlag{
		Name:     "worker.enable",
		Usage:    "Run the background submission workers",
		EnvVars:  []string{"ENABLE_BACKGROUND_WORKER"},
		Value:    true,
		Category: flags.WorkerCategory,
	}
	workerCountFlag = &cli.IntFlag{
		Name:     "worker.count",
		Usage:    "Number of submission workers",
		EnvVars:  []string{"WORKER_COUNT"},
		Value:    relay.DefaultWorkerConfig.Workers,
		Category: flags.WorkerCategory,
	}
	workerPollFlag = &cli.IntFlag{
		Name:     "worker.poll-interval",
		Usage:    "Worker poll interval in seconds",
		EnvVars:  []string{"WORKER_POLL_INTERVAL_SECS"},
		Value:    1,
		Category: flags.WorkerCategory,
	}
	workerBatchFlag = &cli.IntFlag{
		Name:     "worker.batch-size",
		Usage:    "Rows claimed per worker poll",
		EnvVars:  []string{"WORKER_BATCH_SIZE"},
		Value:    relay.DefaultWorkerConfig.BatchSize,
		Category: flags.WorkerCategory,
	}
	crankFlag = &cli.BoolFlag{
		Name:     "crank.enable",
		Usage:    "Run the stale-transaction crank",
		EnvVars:  []string{"ENABLE_STALE_CRANK"},
		Value:    true,
		Category: flags.CrankCategory,
	}
	crankPollFlag = &cli.IntFlag{
		Name:     "crank.poll-interval",
		Usage:    "Crank poll interval in seconds",
		EnvVars:  []string{"CRANK_POLL_INTERVAL_SECS"},
		Value:    60,
		Category: flags.CrankCategory,
	}
	crankStaleFlag = &cli.IntFlag{
		Name:     "crank.stale-after",
		Usage:    "Age in seconds before a submitted row is re-checked",
		EnvVars:  []string{"CRANK_STALE_AFTER_SECS"},
		Value:    90,
		Category: flags.CrankCategory,
	}
	crankBatchFlag = &cli.IntFlag{
		Name:     "crank.batch-size",
		Usage:    "Rows checked per crank cycle",
		EnvVars:  []string{"CRANK_BATCH_SIZE"},
		Value:    relay.DefaultCrankConfig.BatchSize,
		Category: flags.CrankCategory,
	}
	verbosityFlag = &cli.IntFlag{
		Name:     "verbosity",
		Usage:    "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
		Value:    3,
		Category: flags.LoggingCategory,
	}
	configFileFlag = &cli.StringFlag{
		Name:     "config",
		Usage:    "TOML configuration file",
		Category: flags.MiscCategory,
	}
)

var app = flags.NewApp(gitCommit, gitDate, "a Solana compliance-screening transfer relayer")

func init() {
	app.Action = run
	app.Flags = []cli.Flag{
		databaseURLFlag, devFlag,
		rpcURLFlag, issuerKeyFlag, privateSubmissionFlag, privateTipFlag,
		hostFlag, portFlag, rateLimitFlag, corsFlag,
		rangeAPIKeyFlag, rangeAPIURLFlag, riskThresholdFlag, strictFlag,
		heliusSecretFlag, quicknodeSecretFlag,
		workerFlag, workerCountFlag, workerPollFlag, workerBatchFlag,
		crankFlag, crankPollFlag, crankStaleFlag, crankBatchFlag,
		verbosityFlag, configFileFlag,
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	handler := log.StreamHandler(os.Stderr, log.TerminalFormat(true))
	log.Root().SetHandler(log.LvlFilterHandler(log.Lvl(ctx.Int(verbosityFlag.Name)), handler))

	cfg := loadConfig(ctx)

	// Storage.
	flags.CheckExclusive(ctx, devFlag, databaseURLFlag)
	var st store.Store
	switch {
	case cfg.Dev:
		log.Warn("Running with in-memory store; nothing will be persisted")
		st = store.NewMemory()
	case cfg.DatabaseURL == "":
		flags.Fatalf("No database configured; set --%s (or DATABASE_URL) or pass --dev", databaseURLFlag.Name)
	default:
		pg, err := store.NewPostgres(cfg.DatabaseURL, store.DefaultConfig)
		if err != nil {
			flags.Fatalf("Failed to open database: %v", err)
		}
		migCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = pg.RunMigrations(migCtx)
		cancel()
		if err != nil {
			flags.Fatalf("Failed to run migrations: %v", err)
		}
		st = pg
	}

	// Custodial signer.
	var signer sdktypes.Account
	if cfg.IssuerPrivateKey == "" {
		_, priv, genErr := ed25519.GenerateKey(crand.Reader)
		if genErr != nil {
			flags.Fatalf("Failed to generate ephemeral key: %v", genErr)
		}
		signer, genErr = chain.SignerFromBase58(base58.Encode(priv))
		if genErr != nil {
			flags.Fatalf("Failed to load ephemeral key: %v", genErr)
		}
		log.Warn("No signing key configured, generated an ephemeral one",
			"address", signer.PublicKey.ToBase58())
	} else {
		var keyErr error
		signer, keyErr = chain.SignerFromBase58(cfg.IssuerPrivateKey)
		if keyErr != nil {
			flags.Fatalf("Invalid signing key: %v", keyErr)
		}
	}

	chainClient := chain.New(chain.Config{
		RPCURL:               cfg.RPCURL,
		UsePrivateSubmission: cfg.UsePrivateSubmission,
		PrivateSubmissionTip: cfg.PrivateSubmissionTip,
	}, signer)

	// Deny-list, eagerly loaded.
	denylist := blocklist.New(st)
	loadCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	loadErr := denylist.Load(loadCtx)
	cancel()
	if loadErr != nil {
		flags.Fatalf("Failed to load deny-list: %v", loadErr)
	}

	// Risk aggregator.
	risk := compliance.NewRange(cfg.RangeAPIKey, cfg.RangeAPIURL, compliance.DefaultConfig.ProviderTimeout)
	var assets compliance.AssetChecker = compliance.NoAssetChecker{}
	if chainClient.Provider().SupportsDAS() {
		assets = compliance.NewHeliusDas(cfg.RPCURL, compliance.DefaultConfig.ProviderTimeout)
	}
	screener := compliance.New(st, denylist, risk, assets, compliance.Config{
		RiskThreshold:   cfg.RangeRiskThreshold,
		StrictOnFailure: cfg.StrictOnFailure,
	})

	service := relay.NewService(st, chainClient, screener, app.Version)

	var pool *relay.WorkerPool
	if cfg.EnableBackgroundWorker {
		pool = relay.NewWorkerPool(service, relay.WorkerConfig{
			Workers:      cfg.WorkerCount,
			PollInterval: time.Duration(cfg.WorkerPollIntervalSecs) * time.Second,
			BatchSize:    cfg.WorkerBatchSize,
		})
		pool.Start()
	}
	var crank *relay.Crank
	if cfg.EnableStaleCrank {
		crank = relay.NewCrank(service, relay.CrankConfig{
			PollInterval: time.Duration(cfg.CrankPollIntervalSecs) * time.Second,
			StaleAfter:   time.Duration(cfg.CrankStaleAfterSecs) * time.Second,
			BatchSize:    cfg.CrankBatchSize,
		})
		crank.Start()
	}

	server := api.NewServer(api.Config{
		Host:                   cfg.Host,
		Port:                   cfg.Port,
		EnableRateLimiting:     cfg.EnableRateLimiting,
		HeliusWebhookSecret:    cfg.HeliusWebhookSecret,
		QuickNodeWebhookSecret: cfg.QuickNodeWebhookSecret,
		CORSAllowedOrigins:     cfg.CORSAllowedOrigins,
	}, service, denylist)
	if err := server.Start(); err != nil {
		flags.Fatalf("Failed to start HTTP server: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	got := <-sig
	log.Info("Shutting down", "signal", got)

	// Drain order: stop accepting requests, let the workers finish their
	// claimed rows, stop the crank, then close the store.
	server.Stop()
	if pool != nil {
		pool.Stop()
	}
	if crank != nil {
		crank.Stop()
	}
	if err := st.Close(); err != nil {
		log.Warn("Store close failed", "err", err)
	}
	log.Info("Shutdown complete")
	return nil
}
