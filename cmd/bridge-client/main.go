// Command bridge-client runs the bridge endpoint in dialing-client
// mode: it connects out to a bridge server and reconnects on failure,
// per spec.md §2 "acting as ... a dialing client". Grounded on gohab's
// cmd/client1 main.go for the wiring shape.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaybridge/wsbridge/auth"
	"github.com/relaybridge/wsbridge/client"
	"github.com/relaybridge/wsbridge/discovery"
	"github.com/relaybridge/wsbridge/encoding"
	"github.com/relaybridge/wsbridge/endpoint"
	"github.com/relaybridge/wsbridge/internal/config"
	"github.com/relaybridge/wsbridge/transport"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON configuration file (spec.md §6 keys)")
	discover := flag.Bool("discover", false, "locate a bridge server over mDNS instead of using host/port")
	flag.Parse()

	setupLogger()

	raw := map[string]any{"host": "localhost", "port": 8090, "security": "none"}
	if *configPath != "" {
		f, err := os.ReadFile(*configPath)
		if err != nil {
			slog.Error("bridge-client: reading config", "path", *configPath, "error", err)
			os.Exit(1)
		}
		if err := json.Unmarshal(f, &raw); err != nil {
			slog.Error("bridge-client: parsing config", "path", *configPath, "error", err)
			os.Exit(1)
		}
	}

	cfg, err := config.Load(raw)
	if err != nil {
		slog.Error("bridge-client: invalid config", "error", err)
		os.Exit(1)
	}

	if *discover {
		found, err := discovery.Find(5 * time.Second)
		if err != nil {
			slog.Error("bridge-client: mDNS discovery failed", "error", err)
			os.Exit(1)
		}
		cfg.Transport.Host = found.Host
		cfg.Transport.Port = found.Port
		slog.Info("bridge-client: discovered server", "host", found.Host, "port", found.Port)
	}

	creds, err := auth.Load(cfg.Auth)
	if err != nil {
		slog.Error("bridge-client: invalid authentication config", "error", err)
		os.Exit(1)
	}
	cfg.Transport.AuthSubprotocol = creds.Subprotocol()

	adapter := transport.NewAdapter()
	if err := adapter.Configure(cfg.Transport); err != nil {
		slog.Error("bridge-client: configuring transport", "error", err)
		os.Exit(1)
	}

	codec := encoding.NewJSONCodec()
	ep := endpoint.New(codec, adapter, endpoint.Options{})
	c := client.New(adapter, ep)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := c.Run(ctx); err != nil {
		slog.Error("bridge-client: stopped with error", "error", err)
	}
}

func setupLogger() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(handler))
}
