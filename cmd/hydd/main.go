package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"hydchain/cmd/internal/passphrase"
	"hydchain/config"
	"hydchain/core"
	"hydchain/crypto"
	"hydchain/gateway"
	"hydchain/integrations/webhooks"
	"hydchain/native/oracle"
	nativeparams "hydchain/native/params"
	"hydchain/observability/logging"
	"hydchain/observability/otel"
	"hydchain/storage"
)

const (
	governorPassEnv = "HYD_GOVERNOR_PASS"
	envVar          = "HYD_ENV"

	defaultAccrualTick = time.Minute
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis YAML file (overrides config GenesisFile)")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv(envVar))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	var sink *logging.FileSink
	if strings.TrimSpace(cfg.LogFile.Path) != "" {
		sink = &logging.FileSink{
			Path:       cfg.LogFile.Path,
			MaxSizeMB:  cfg.LogFile.MaxSizeMB,
			MaxBackups: cfg.LogFile.MaxBackups,
			MaxAgeDays: cfg.LogFile.MaxAgeDays,
		}
	}
	logger := logging.SetupWithSink("hydd", env, sink)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdown, err := otel.Init(ctx, otel.Config{
			ServiceName: "hydd",
			Environment: cfg.Telemetry.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     otel.ParseHeaders(cfg.Telemetry.Headers),
			Traces:      true,
		})
		if err != nil {
			logger.Error("Failed to initialise telemetry", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("Telemetry shutdown failed", slog.Any("error", err))
			}
		}()
	}

	passSource := passphrase.NewSource(governorPassEnv)
	governorKey, err := loadGovernorKey(cfg, passSource.Get)
	if err != nil {
		panic(fmt.Sprintf("Failed to load governor key: %v", err))
	}
	logger.Info("Governor key loaded", slog.String("address", governorKey))

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	node, err := core.NewNode(db, core.Config{})
	if err != nil {
		panic(fmt.Sprintf("Failed to create node: %v", err))
	}

	audit, err := nativeparams.OpenAuditLog(cfg.AuditLogPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to open audit log: %v", err))
	}
	defer audit.Close()
	node.SetAuditLog(audit)

	genesisPath := strings.TrimSpace(*genesisFlag)
	if genesisPath == "" {
		genesisPath = strings.TrimSpace(cfg.GenesisFile)
	}
	if genesisPath != "" {
		genesis, err := config.LoadGenesis(genesisPath)
		if err != nil {
			panic(fmt.Sprintf("Failed to load genesis: %v", err))
		}
		switch err := node.ApplyGenesis(genesis); {
		case err == nil:
			logger.Info("Genesis applied", slog.String("path", genesisPath))
		case errors.Is(err, core.ErrGenesisApplied):
			logger.Info("Genesis already applied, skipping")
		default:
			panic(fmt.Sprintf("Failed to apply genesis: %v", err))
		}
	}

	for _, feed := range cfg.OracleFeeds {
		node.Oracle().Register(oracle.NewHTTPFeed(feed.Name, feed.Endpoint, nil))
		logger.Info("Oracle feed registered", slog.String("feed", feed.Name), slog.String("endpoint", feed.Endpoint))
	}
	poller := oracle.NewPoller(
		node.Oracle(),
		pollAssets(node),
		time.Duration(cfg.OraclePollSeconds)*time.Second,
		float64(cfg.OracleRequestsPerSec),
		logger,
	)
	go poller.Run(ctx)

	go runAccrual(ctx, node, logger)

	var dispatcher *webhooks.Dispatcher
	if strings.TrimSpace(cfg.WebhookURL) != "" {
		dispatcher, err = webhooks.NewDispatcher(cfg.WebhookURL, []byte(cfg.WebhookSecret))
		if err != nil {
			panic(fmt.Sprintf("Failed to create webhook dispatcher: %v", err))
		}
		defer dispatcher.Close()
		logger.Info("Webhook dispatcher enabled",
			slog.String("endpoint", cfg.WebhookURL),
			logging.MaskField("secret", cfg.WebhookSecret))
	}

	server, err := gateway.NewServer(node, gateway.Config{
		NetworkName:   cfg.NetworkName,
		ExportDir:     cfg.ExportDir,
		RatePerSecond: cfg.GatewayRatePerSecond,
		RateBurst:     cfg.GatewayRateBurst,
		Dispatcher:    dispatcher,
		LogRequests:   true,
	}, nil)
	if err != nil {
		panic(fmt.Sprintf("Failed to create gateway: %v", err))
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Gateway listening", slog.String("address", cfg.ListenAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Gateway stopped", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Gateway shutdown failed", slog.Any("error", err))
	}
}

// pollAssets is the union of every configured collateral tier asset and any
// asset already quoted, so feeds keep tier prices fresh even before the first
// deposit.
func pollAssets(node *core.Node) []string {
	seen := make(map[string]struct{})
	assets := make([]string, 0)
	add := func(symbol string) {
		if symbol == "" {
			return
		}
		if _, ok := seen[symbol]; ok {
			return
		}
		seen[symbol] = struct{}{}
		assets = append(assets, symbol)
	}
	if tiers, err := node.Tiers(); err == nil {
		for _, tier := range tiers {
			add(tier.Asset)
		}
	}
	for _, asset := range node.Oracle().Assets() {
		add(asset)
	}
	return assets
}

// runAccrual ticks the share ledger's yield schedule. The tick shortens to the
// governance interval when one is configured so accrual events land on time.
func runAccrual(ctx context.Context, node *core.Node, logger *slog.Logger) {
	tick := defaultAccrualTick
	if schedule, ok, err := node.AccrualSchedule(); err == nil && ok && schedule.IntervalSeconds > 0 {
		interval := time.Duration(schedule.IntervalSeconds) * time.Second
		if interval < tick {
			tick = interval
		}
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			index, err := node.Accrue()
			if err != nil {
				logger.Warn("Accrual failed", slog.Any("error", err))
				continue
			}
			if index != nil {
				logger.Info("Accrual applied", slog.String("index", index.String()))
			}
		}
	}
}

// loadGovernorKey decrypts the configured keystore and returns the governor's
// bech32 address for startup logging.
func loadGovernorKey(cfg *config.Config, pass func() (string, error)) (string, error) {
	path := strings.TrimSpace(cfg.GovernorKeystorePath)
	if path == "" {
		return "", errors.New("governor keystore path not configured")
	}
	// Default keystores are created without a passphrase; only prompt when the
	// empty passphrase fails to decrypt.
	if key, err := crypto.LoadFromKeystore(path, ""); err == nil {
		return key.PubKey().Address().String(), nil
	}
	secret, err := pass()
	if err != nil {
		return "", err
	}
	key, err := crypto.LoadFromKeystore(path, secret)
	if err != nil {
		return "", err
	}
	return key.PubKey().Address().String(), nil
}
