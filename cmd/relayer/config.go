package main

import (
	"os"
	"time"

	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"

	"github.com/shieldpay/relayer/api"
	"github.com/shieldpay/relayer/chain"
	"github.com/shieldpay/relayer/compliance"
	"github.com/shieldpay/relayer/internal/flags"
	"github.com/shieldpay/relayer/relay"
)

// Config is the full service configuration. Values come from three layers:
// built-in defaults, an optional TOML file, and command line flags or their
// environment variables, each overriding the previous.
type Config struct {
	DatabaseURL string
	Dev         bool

	RPCURL               string
	IssuerPrivateKey     string
	UsePrivateSubmission bool
	PrivateSubmissionTip uint64

	Host               string
	Port               int
	EnableRateLimiting bool
	CORSAllowedOrigins []string

	RangeAPIKey        string
	RangeAPIURL        string
	RangeRiskThreshold int
	StrictOnFailure    bool

	HeliusWebhookSecret    string
	QuickNodeWebhookSecret string

	EnableBackgroundWorker bool
	WorkerCount            int
	WorkerPollIntervalSecs int
	WorkerBatchSize        int

	EnableStaleCrank      bool
	CrankPollIntervalSecs int
	CrankStaleAfterSecs   int
	CrankBatchSize        int
}

func defaultConfig() Config {
	return Config{
		RPCURL:                 chain.DefaultConfig.RPCURL,
		PrivateSubmissionTip:   chain.DefaultConfig.PrivateSubmissionTip,
		Host:                   api.DefaultConfig.Host,
		Port:                   api.DefaultConfig.Port,
		EnableRateLimiting:     true,
		RangeRiskThreshold:     compliance.DefaultConfig.RiskThreshold,
		EnableBackgroundWorker: true,
		WorkerCount:            relay.DefaultWorkerConfig.Workers,
		WorkerPollIntervalSecs: int(relay.DefaultWorkerConfig.PollInterval / time.Second),
		WorkerBatchSize:        relay.DefaultWorkerConfig.BatchSize,
		EnableStaleCrank:       true,
		CrankPollIntervalSecs:  int(relay.DefaultCrankConfig.PollInterval / time.Second),
		CrankStaleAfterSecs:    int(relay.DefaultCrankConfig.StaleAfter / time.Second),
		CrankBatchSize:         relay.DefaultCrankConfig.BatchSize,
	}
}

// loadConfig layers the TOML file (when given) and set flags over the
// defaults.
func loadConfig(ctx *cli.Context) Config {
	cfg := defaultConfig()

	if path := ctx.String(configFileFlag.Name); path != "" {
		f, err := os.Open(flags.ExpandPath(path))
		if err != nil {
			flags.Fatalf("Failed to open config file: %v", err)
		}
		defer f.Close()
		if err := toml.NewDecoder(f).Decode(&cfg); err != nil {
			flags.Fatalf("Invalid config file %s: %v", path, err)
		}
	}

	applyString := func(flag *cli.StringFlag, dst *string) {
		if ctx.IsSet(flag.Name) {
			*dst = ctx.String(flag.Name)
		}
	}
	applyBool := func(flag *cli.BoolFlag, dst *bool) {
		if ctx.IsSet(flag.Name) {
			*dst = ctx.Bool(flag.Name)
		}
	}
	applyInt := func(flag *cli.IntFlag, dst *int) {
		if ctx.IsSet(flag.Name) {
			*dst = ctx.Int(flag.Name)
		}
	}

	applyString(databaseURLFlag, &cfg.DatabaseURL)
	applyBool(devFlag, &cfg.Dev)
	applyString(rpcURLFlag, &cfg.RPCURL)
	applyString(issuerKeyFlag, &cfg.IssuerPrivateKey)
	applyBool(privateSubmissionFlag, &cfg.UsePrivateSubmission)
	if ctx.IsSet(privateTipFlag.Name) {
		cfg.PrivateSubmissionTip = ctx.Uint64(privateTipFlag.Name)
	}
	applyString(hostFlag, &cfg.Host)
	applyInt(portFlag, &cfg.Port)
	applyBool(rateLimitFlag, &cfg.EnableRateLimiting)
	if ctx.IsSet(corsFlag.Name) {
		cfg.CORSAllowedOrigins = ctx.StringSlice(corsFlag.Name)
	}
	applyString(rangeAPIKeyFlag, &cfg.RangeAPIKey)
	applyString(rangeAPIURLFlag, &cfg.RangeAPIURL)
	applyInt(riskThresholdFlag, &cfg.RangeRiskThreshold)
	applyBool(strictFlag, &cfg.StrictOnFailure)
	applyString(heliusSecretFlag, &cfg.HeliusWebhookSecret)
	applyString(quicknodeSecretFlag, &cfg.QuickNodeWebhookSecret)
	applyBool(workerFlag, &cfg.EnableBackgroundWorker)
	applyInt(workerCountFlag, &cfg.WorkerCount)
	applyInt(workerPollFlag, &cfg.WorkerPollIntervalSecs)
	applyInt(workerBatchFlag, &cfg.WorkerBatchSize)
	applyBool(crankFlag, &cfg.EnableStaleCrank)
	applyInt(crankPollFlag, &cfg.CrankPollIntervalSecs)
	applyInt(crankStaleFlag, &cfg.CrankStaleAfterSecs)
	applyInt(crankBatchFlag, &cfg.CrankBatchSize)

	return cfg
}
