package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"raspsentinel/sentinel-go/internal/blocker"
	"raspsentinel/sentinel-go/internal/commands"
	"raspsentinel/sentinel-go/internal/config"
	"raspsentinel/sentinel-go/internal/enrichment/rdns"
	"raspsentinel/sentinel-go/internal/httpapi"
	"raspsentinel/sentinel-go/internal/metrics"
	"raspsentinel/sentinel-go/internal/notify"
	"raspsentinel/sentinel-go/internal/registry"
	"raspsentinel/sentinel-go/internal/scanner"
	"raspsentinel/sentinel-go/internal/sentinel"
	"raspsentinel/sentinel-go/internal/vendor"
)

func main() {
	configPath := flag.String("config", envOr("SENTINEL_CONFIG", config.DefaultPath), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot := httpapi.NewLogger("info")
		boot.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
	}

	logger := httpapi.NewLogger(cfg.App.LogLevel)
	logger.Info().Str("config", cfg.String()).Msg("sentinel-go starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	store, err := registry.Open(logger, cfg.App.DataDir, registry.Options{})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open registry")
	}

	vendors := vendor.NewTable(logger, vendor.Options{
		OUIPaths: cfg.Vendor.OUIPaths,
		IABPaths: cfg.Vendor.IABPaths,
	})

	sc, err := scanner.New(logger, vendors, scanner.Options{
		Interface: cfg.Network.Interface,
		Timeout:   cfg.ScanTimeout(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build scanner")
	}

	notifiers := notify.Multi{notify.NewLogNotifier(logger)}
	if cfg.Notify.WebhookURL != "" {
		wh, err := notify.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.NotifyTimeout())
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to build webhook notifier")
		}
		notifiers = append(notifiers, wh)
	}

	// Interfaces stay nil (not typed-nil) when blocking is disabled.
	var (
		blockMgr      *blocker.Manager
		loopBlocker   sentinel.Blocker
		cmdBlocker    commands.Blocker
		blockSessions httpapi.Sessions
	)
	if blockMgr = openBlocker(logger, cfg, store, m); blockMgr != nil {
		defer blockMgr.ShutdownAll()
		loopBlocker, cmdBlocker, blockSessions = blockMgr, blockMgr, blockMgr
	}

	var resolver sentinel.HostnameResolver
	if cfg.Enrichment.ReverseDNS {
		if server := cfg.DNSServer(); server != "" {
			resolver = rdns.NewResolver(server, 0)
		} else {
			logger.Warn().Msg("reverse DNS enabled but no DNS server or gateway configured")
		}
	}

	worker := sentinel.New(logger, sentinel.Deps{
		Registry: store,
		Scanner:  sc,
		Notifier: notifiers,
		Blocker:  loopBlocker,
		Resolver: resolver,
	}, sentinel.Options{
		Interval:  cfg.ScanInterval(),
		AutoApply: cfg.AutoApply(),
	}, m)

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		worker.Run(ctx)
	}()

	cmds := commands.New(logger, store, cmdBlocker)
	h := httpapi.NewHandler(logger, cmds, store, httpapi.Options{
		Token:    cfg.HTTP.Token,
		Sessions: blockSessions,
	}, m)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTP.Addr).Msg("sentinel-go listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	<-loopDone
	logger.Info().Msg("shutdown complete")
}

// openBlocker returns nil when blocking is disabled or the manager cannot be
// built. Discovery and the command surface keep running without it; block
// commands are then recorded only.
func openBlocker(logger zerolog.Logger, cfg *config.Config, store *registry.Store, m *metrics.Metrics) *blocker.Manager {
	if !cfg.Block.Enable {
		return nil
	}
	mgr, err := blocker.NewManager(logger, blocker.Options{
		Interface: cfg.Network.Interface,
		Gateway:   cfg.Block.GatewayIP,
		Interval:  cfg.ARPInterval(),
		Blocked: func(mac string) (bool, error) {
			return store.IsBlocked(context.Background(), mac)
		},
	}, m)
	if err != nil {
		logger.Error().Err(err).Str("interface", cfg.Network.Interface).Msg("block manager unavailable, blocking disabled")
		return nil
	}
	logger.Info().Str("gateway", mgr.Gateway().String()).Msg("blocking enabled")
	return mgr
}

func envOr(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
