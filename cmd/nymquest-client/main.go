package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"nymquest/internal/authtag"
	"nymquest/internal/clienthandlers"
	"nymquest/internal/config"
	"nymquest/internal/discovery"
	"nymquest/internal/nethealth"
	"nymquest/internal/protocol"
	"nymquest/internal/rateshape"
	"nymquest/internal/replay"
	"nymquest/internal/retry"
	"nymquest/internal/status"
	"nymquest/internal/transport"
	"nymquest/internal/wire"
)

func main() {
	name := flag.String("name", "", "player name to register with")
	faction := flag.String("faction", "", "faction to register with")
	serverAddr := flag.String("server", "", "server address; not usable, since no auth key can be given with it: startup aborts when set")
	statusAddr := flag.String("status-addr", "", "status/metrics HTTP listen address (empty to disable)")
	storageDir := flag.String("storage-dir", "", "ephemeral identity storage directory")
	flag.Parse()

	cfg, err := config.LoadClientConfig()
	if err != nil {
		log.Fatalf("[nymquest-client] config: %v", err)
	}

	addr := *serverAddr
	var authKey authtag.Key
	if addr == "" {
		rec, path, err := discovery.Discover()
		if err != nil {
			log.Fatalf("[nymquest-client] discovery: %v", err)
		}
		log.Printf("[nymquest-client] discovered server at %s (from %s)", rec.Address, path)
		addr = rec.Address
		authKey, err = authtag.KeyFromBase64(rec.AuthKey)
		if err != nil {
			log.Fatalf("[nymquest-client] invalid discovered auth key: %v", err)
		}
	} else {
		log.Fatalf("[nymquest-client] -server requires an out-of-band auth key; use discovery instead")
	}

	dir := *storageDir
	if dir == "" {
		dir, err = os.MkdirTemp("", "nymquest-client-")
		if err != nil {
			log.Fatalf("[nymquest-client] temp storage dir: %v", err)
		}
		defer os.RemoveAll(dir)
	}

	tr := transport.NewClientTransport(dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[nymquest-client] shutting down...")
		cancel()
	}()

	connectCtx, connectCancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer connectCancel()
	if err := tr.Connect(connectCtx, addr); err != nil {
		log.Fatalf("[nymquest-client] connect: %v", err)
	}
	defer tr.Disconnect()

	rep := replay.NewTracker(cfg.ReplayWindowSize, 16, 128, true, 60*time.Second)
	retries := retry.NewTracker(retry.DefaultTimeout(retry.Kind(wire.ClientRegister)))
	shaper := rateshape.New(cfg.MessageRateLimit, cfg.MessageBurstSize)
	if cfg.EnablePacing {
		shaper.EnablePacing(cfg.PacingBaseInterval, cfg.PacingJitterPercent)
	}
	health := nethealth.NewMonitor()

	c := clienthandlers.New(tr, authKey, rep, retries, shaper, health, cfg)

	go func() {
		if err := c.Run(ctx); err != nil {
			log.Printf("[nymquest-client] dispatch loop: %v", err)
		}
	}()
	go c.RunRetryLoop(ctx, 500*time.Millisecond)

	if *statusAddr != "" {
		mon := status.New(c)
		go mon.Run(ctx, *statusAddr)
	}

	if *name != "" {
		f := protocol.Faction(*faction)
		if !protocol.ValidFactions[f] {
			log.Fatalf("[nymquest-client] invalid faction %q", *faction)
		}
		if err := c.Register(ctx, *name, f); err != nil {
			log.Fatalf("[nymquest-client] register: %v", err)
		}
	}

	runREPL(ctx, c)
}

// runREPL drives a minimal line-oriented console: move/attack/chat/whisper
// typed as commands, consuming the response state clienthandlers maintains.
func runREPL(ctx context.Context, c *clienthandlers.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		cmd := fields[0]
		var arg string
		if len(fields) > 1 {
			arg = fields[1]
		}

		var err error
		switch cmd {
		case "move":
			err = c.Move(ctx, protocol.Direction(arg))
		case "attack":
			err = c.Attack(ctx, arg)
		case "chat":
			err = c.Chat(ctx, arg)
		case "whisper":
			parts := strings.SplitN(arg, " ", 2)
			if len(parts) == 2 {
				err = c.Whisper(ctx, parts[0], parts[1])
			}
		case "reply":
			err = c.ReplyToLastWhisper(ctx, arg)
		case "emote":
			err = c.Emote(ctx, protocol.EmoteKind(arg))
		case "quit":
			return
		default:
			fmt.Printf("unknown command: %s\n", cmd)
			continue
		}
		if err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}
