// deskd is the backend daemon of the desktop application. It owns the
// bridge processes, the wallet event bridge, session storage and the
// command surface the UI shell drives over the event bus.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ledgerdesk/deskd/agent"
	"github.com/ledgerdesk/deskd/bridge"
	"github.com/ledgerdesk/deskd/bus"
	"github.com/ledgerdesk/deskd/config"
	"github.com/ledgerdesk/deskd/logging"
	"github.com/ledgerdesk/deskd/mirror"
	"github.com/ledgerdesk/deskd/profile"
	"github.com/ledgerdesk/deskd/session"
	"github.com/ledgerdesk/deskd/wallet"
)

func main() {
	configPath := flag.String("config", "", "path to deskd.toml (defaults to the user config dir)")
	logLevel := flag.String("log-level", "", "override the configured log level")
	flag.Parse()

	if err := run(*configPath, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "deskd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, logLevel string) error {
	if configPath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("locating config dir: %w", err)
		}
		configPath = filepath.Join(dir, "deskd", "deskd.toml")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	snapshot := cfg.Get()

	level := logging.ParseLevel(snapshot.Logging.Level)
	if logLevel != "" {
		level = logging.ParseLevel(logLevel)
	}
	log := logging.New("deskd", level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := bus.New()
	eventBridge := bridge.NewEventBridge(hub, log)
	walletSvc := wallet.New(eventBridge, log)

	agentSvc := agent.NewService(cfg, walletSvc, hub, log)
	defer agentSvc.Close()

	profileSvc := profile.NewService(cfg, hub, log)

	cacheTTL := time.Duration(snapshot.Storage.CacheTTLSecs) * time.Second
	cache := mirror.NewCache(filepath.Join(snapshot.Storage.DataDir, "mirror-cache"), cacheTTL)
	mirrorBr := mirror.NewBridge(snapshot.Bridges.MirrorScript, cache, log)

	dbPath := snapshot.Storage.SessionDB
	if dbPath == "" {
		dbPath = filepath.Join(snapshot.Storage.DataDir, "sessions.db")
	}
	store, err := session.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	defer store.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return store.Init(gctx) })
	g.Go(func() error { return agentSvc.EnsureInitialized(gctx) })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("startup: %w", err)
	}

	registerCommands(hub, &deps{
		cfg:      cfg,
		log:      log,
		agent:    agentSvc,
		profiles: profileSvc,
		mirror:   mirrorBr,
		sessions: store,
		wallet:   walletSvc,
	})

	log.Infof("deskd ready (network=%s, config=%s)", snapshot.Network, configPath)
	<-ctx.Done()
	log.Infof("shutting down")
	return nil
}
