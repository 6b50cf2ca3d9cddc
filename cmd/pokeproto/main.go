// pokeproto - peer-to-peer turn-based battles over UDP.
//
// One process hosts, one joins, and any number may watch. Both players
// compute every turn locally from a shared seed and cross-check the
// results before the turn counts.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/pokeproto/pokeproto/internal/api"
	"github.com/pokeproto/pokeproto/internal/battle"
	"github.com/pokeproto/pokeproto/internal/cli"
	"github.com/pokeproto/pokeproto/internal/config"
	"github.com/pokeproto/pokeproto/internal/db"
	"github.com/pokeproto/pokeproto/internal/events"
	"github.com/pokeproto/pokeproto/internal/health"
	"github.com/pokeproto/pokeproto/internal/network"
	"github.com/pokeproto/pokeproto/internal/pokedex"
	"github.com/pokeproto/pokeproto/internal/scheduler"
	"github.com/pokeproto/pokeproto/internal/session"
	"github.com/pokeproto/pokeproto/internal/telemetry"
	"github.com/pokeproto/pokeproto/internal/util"
)

const (
	AppName    = "pokeproto"
	AppVersion = "1.0.0"
	Banner     = `
                 _                            _
  _ __   ___   | | _____ _ __  _ __ ___ | |_ ___
 | '_ \ / _ \  | |/ / _ \ '_ \| '__/ _ \| __/ _ \
 | |_) | (_) | |   <  __/ |_) | | | (_) | || (_) |
 | .__/ \___/  |_|\_\___| .__/|_|  \___/ \__\___/
 |_|                    |_|  v%s
 P2P turn-based battles over UDP
`
)

func main() {
	configDir := flag.String("config", config.DefaultConfigDir, "configuration directory")
	roleFlag := flag.String("role", "", "override the configured role (host, joiner, spectator)")
	setup := flag.Bool("setup", false, "run the setup wizard before starting")
	flag.Parse()

	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Initialize logger with defaults first (will be reconfigured after config load)
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Msg("starting " + AppName)

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if *roleFlag != "" {
		if _, err := session.ParseRole(*roleFlag); err != nil {
			log.Fatal().Err(err).Msg("invalid -role")
		}
		peerCfg := cfg.GetPeer()
		peerCfg.Role = *roleFlag
		cfg.SetPeer(peerCfg)
	}

	logCfg := util.LogConfig{
		Level:      cfg.Logging.Level,
		Directory:  cfg.Logging.Directory,
		MaxBackups: cfg.Logging.MaxBackups,
		Console:    true,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	repo, err := pokedex.Load(cfg.Pokedex.DataFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load pokedex")
	}

	validation := config.Validate(cfg)
	if *setup || (!validation.IsValid() && cfg.IsFirstRun()) {
		log.Info().Msg("launching setup wizard")
		if err := config.RunSetupWizard(cfg, repo.Names()); err != nil {
			log.Fatal().Err(err).Msg("setup wizard failed")
		}
		validation = config.Validate(cfg)
	}
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	if err := run(cfg, repo); err != nil {
		log.Fatal().Err(err).Msg(AppName + " stopped with an error")
	}
	log.Info().Msg(AppName + " stopped")
}

// run wires every component and blocks until a signal, a quit command or
// a fatal session error.
func run(cfg *config.Config, repo *pokedex.Repository) error {
	peerCfg := cfg.GetPeer()
	role, err := session.ParseRole(peerCfg.Role)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()
	defer eventBus.Stop()

	conn, err := network.Listen(ctx, peerCfg.ListenAddress)
	if err != nil {
		return err
	}
	tc := cfg.GetTransport()
	retry, tick, read := tc.Durations()
	transport := network.NewTransport(conn, network.Options{
		RetryTimeout: retry,
		MaxRetries:   tc.MaxRetries,
		TickInterval: tick,
		Capacity:     tc.Capacity,
		DedupeWindow: tc.DedupeWindow,
		ReadTimeout:  read,
	})
	defer transport.Shutdown()

	peer, err := session.New(session.Config{
		Role:        role,
		Trainer:     peerCfg.Trainer,
		Combatant:   peerCfg.Combatant,
		HostAddress: peerCfg.HostAddress,
		Seed:        peerCfg.Seed,
		Boosts: battle.Boosts{
			SpecialAttackUses:  peerCfg.StatBoosts.SpecialAttackUses,
			SpecialDefenseUses: peerCfg.StatBoosts.SpecialDefenseUses,
		},
	}, transport, repo, eventBus)
	if err != nil {
		return err
	}

	// Optional battle history. Interfaces stay nil when disabled.
	var (
		store     *db.HistoryStore
		apiHist   api.History
		cliHist   cli.History
		pruner    scheduler.Pruner
		histCfg   = cfg.GetHistory()
		mqttCfg   = cfg.GetMQTT()
		apiCfg    = cfg.GetAPI()
		publisher *telemetry.Publisher
	)
	if histCfg.Enabled {
		store, err = db.NewHistoryStore(histCfg.DBPath)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open battle history, recording disabled")
		} else {
			defer store.Close()
			recorder := db.NewRecorder(store)
			recorder.Attach(eventBus)
			defer recorder.Detach(eventBus)
			apiHist, cliHist, pruner = store, store, store
		}
	}

	if mqttCfg.Enabled {
		publisher, err = telemetry.NewPublisher(mqttCfg, role.String(), eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	healthMgr := health.NewManager(cfg, eventBus, peer)
	sched := scheduler.NewScheduler(cfg, pruner)

	cliHandler := cli.NewCLI(eventBus, peer, cliHist, os.Stdin, os.Stdout)
	cliHandler.AttachPrinter()
	defer cliHandler.DetachPrinter()

	quitCh := make(chan struct{})
	var quitOnce sync.Once
	eventBus.Subscribe(events.EventShutdown, "main", func(context.Context, events.Event) error {
		quitOnce.Do(func() { close(quitCh) })
		return nil
	})

	// The session is the only fatal task; everything else logs and carries on.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return peer.Run(gctx)
	})

	if apiCfg.Enabled {
		apiServer := api.NewServer(cfg, eventBus, peer, apiHist, AppVersion)
		g.Go(func() error {
			log.Info().Str("addr", apiCfg.Address).Msg("starting REST API server")
			if err := startWithRetry(gctx, "API server", apiServer.Start, 5); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
			return nil
		})
	}

	if publisher != nil {
		g.Go(func() error {
			log.Info().Msg("starting MQTT telemetry")
			if err := publisher.Start(gctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
			return nil
		})
	}

	g.Go(func() error {
		healthMgr.Start(gctx)
		return nil
	})
	g.Go(func() error {
		sched.Start(gctx)
		return nil
	})

	// The CLI blocks on stdin, so it stays outside the group.
	go cliHandler.Start(gctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-quitCh:
		log.Info().Msg("quit requested")
	case <-gctx.Done():
		log.Error().Msg("session stopped, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")
	peer.Close(ctx)
	cancel()

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("shutdown timed out after 15 seconds, forcing exit")
	}
	return nil
}

// startWithRetry attempts to start a listener/server with retry on bind
// errors. Returns nil on success, or the last error after all retries fail.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return nil
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
