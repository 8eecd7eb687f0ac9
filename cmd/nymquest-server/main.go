package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"nymquest/internal/auditlog"
	"nymquest/internal/authtag"
	"nymquest/internal/config"
	"nymquest/internal/discovery"
	"nymquest/internal/gamestate"
	"nymquest/internal/nethealth"
	"nymquest/internal/persistence"
	"nymquest/internal/rateshape"
	"nymquest/internal/replay"
	"nymquest/internal/retry"
	"nymquest/internal/serverhandlers"
	"nymquest/internal/status"
	"nymquest/internal/transport"
	"nymquest/internal/wire"
)

func main() {
	addr := flag.String("addr", ":8443", "mixnet-simulating listen address")
	statusAddr := flag.String("status-addr", ":8080", "status/metrics HTTP listen address (empty to disable)")
	dbPath := flag.String("audit-db", "nymquest_audit.db", "SQLite audit log path (empty to disable)")
	flag.Parse()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("[nymquest-server] config: %v", err)
	}

	key, err := authtag.NewRandomKey()
	if err != nil {
		log.Fatalf("[nymquest-server] generating auth key: %v", err)
	}

	var audit *auditlog.Log
	if *dbPath != "" {
		audit, err = auditlog.Open(*dbPath)
		if err != nil {
			log.Fatalf("[nymquest-server] auditlog: %v", err)
		}
		defer audit.Close()
	}

	store := persistence.New(cfg.PersistenceDir, cfg.EnablePersistence, sessionID())

	state := gamestate.New(gamestate.Config{
		Bounds:          cfg.Bounds,
		MaxPlayers:      cfg.MaxPlayers,
		CollisionRadius: cfg.PlayerCollisionRadius,
		InitialHealth:   cfg.InitialPlayerHealth,
	})

	if cfg.EnablePersistence {
		if snap, ok, err := store.Load(cfg.Bounds, 0, time.Now()); err != nil {
			log.Printf("[nymquest-server] persistence load: %v", err)
		} else if ok {
			log.Printf("[nymquest-server] loaded %d players from snapshot", len(snap.Players))
		}
	}

	rep := replay.NewTracker(cfg.ReplayWindowSize, cfg.ReplayMinWindow, cfg.ReplayMaxWindow, cfg.ReplayAdaptive, cfg.ReplayAdjustmentCooldown)
	retries := retry.NewTracker(retry.DefaultTimeout(retry.Kind(wire.ServerRegisterAck)))
	shaper := rateshape.New(cfg.MessageRateLimit, cfg.MessageBurstSize)
	if cfg.EnableMessagePacing {
		shaper.EnablePacing(cfg.MessageProcessingInterval, cfg.MessageProcessingJitterPct)
	}
	health := nethealth.NewMonitor()

	tr := transport.NewServerTransport(*addr)

	srv := serverhandlers.New(tr, state, key, rep, retries, shaper, health, store, audit, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[nymquest-server] shutting down...")
		cancel()
	}()

	rec := discovery.Record{Address: tr.Address(), AuthKey: key.Base64()}
	path, err := discovery.Publish(rec)
	if err != nil {
		log.Printf("[nymquest-server] discovery publish: %v", err)
	} else {
		log.Printf("[nymquest-server] published discovery file at %s", path)
	}
	defer discovery.Remove()

	go srv.RunBroadcastLoop(ctx)
	go srv.RunInactivitySweep(ctx)
	go srv.RunHeartbeatLoop(ctx)
	go srv.RunRetrySweep(ctx, time.Second)
	if cfg.EnablePersistence {
		go srv.RunPersistenceLoop(ctx, 30*time.Second)
	}

	go func() {
		if err := srv.Run(ctx); err != nil {
			log.Printf("[nymquest-server] dispatch loop: %v", err)
		}
	}()

	if *statusAddr != "" {
		mon := status.New(srv)
		go mon.Run(ctx, *statusAddr)
		log.Printf("[nymquest-server] status listening on %s", *statusAddr)
	}

	log.Printf("[nymquest-server] listening on %s", *addr)
	if err := tr.Listen(ctx); err != nil {
		log.Fatalf("[nymquest-server] listen: %v", err)
	}
}

func sessionID() string {
	return filepath.Base(os.Args[0]) + "-" + time.Now().Format("20060102150405")
}
