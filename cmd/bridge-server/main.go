// Command bridge-server runs the bridge endpoint in accepting-server
// mode: it upgrades incoming WebSocket connections and relays
// publish/subscribe/service traffic between them, per spec.md §2
// "acting as ... an accepting server". Grounded on gohab's cmd/server
// main.go for the dependency-wiring shape.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/relaybridge/wsbridge/admin"
	"github.com/relaybridge/wsbridge/auth"
	"github.com/relaybridge/wsbridge/discovery"
	"github.com/relaybridge/wsbridge/encoding"
	"github.com/relaybridge/wsbridge/endpoint"
	"github.com/relaybridge/wsbridge/internal/config"
	"github.com/relaybridge/wsbridge/registry"
	"github.com/relaybridge/wsbridge/transport"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON configuration file (spec.md §6 keys)")
	adminAddr := flag.String("admin-addr", ":8091", "address for the admin JSON introspection surface")
	flag.Parse()

	setupLogger()

	raw := map[string]any{"host": "0.0.0.0", "port": 8090, "security": "none"}
	if *configPath != "" {
		f, err := os.ReadFile(*configPath)
		if err != nil {
			slog.Error("bridge-server: reading config", "path", *configPath, "error", err)
			os.Exit(1)
		}
		if err := json.Unmarshal(f, &raw); err != nil {
			slog.Error("bridge-server: parsing config", "path", *configPath, "error", err)
			os.Exit(1)
		}
	}

	cfg, err := config.Load(raw)
	if err != nil {
		slog.Error("bridge-server: invalid config", "error", err)
		os.Exit(1)
	}

	creds, err := auth.Load(cfg.Auth)
	if err != nil {
		slog.Error("bridge-server: invalid authentication config", "error", err)
		os.Exit(1)
	}
	cfg.Transport.AuthSubprotocol = creds.Subprotocol()

	adapter := transport.NewAdapter()
	if err := adapter.Configure(cfg.Transport); err != nil {
		slog.Error("bridge-server: configuring transport", "error", err)
		os.Exit(1)
	}

	codec := encoding.NewJSONCodec()
	ep := endpoint.New(codec, adapter, endpoint.Options{})

	reg := registry.New()
	adapter.OnMessage(ep.HandleMessage)
	adapter.OnOpen(func(h transport.Handle) {
		reg.Open(h)
		ep.HandleOpened(h)
	})
	adapter.OnClose(func(h transport.Handle) {
		reg.Close(h)
		ep.HandleClosed(h)
	})
	adapter.OnFail(ep.HandleFailed)

	surface := admin.New(reg, ep)
	adminServer := &http.Server{Addr: *adminAddr, Handler: surface.Router()}

	if cfg.Discovery {
		mdnsServer, err := discovery.Advertise("wsbridge", cfg.Transport.Host, cfg.Transport.Port)
		if err != nil {
			slog.Error("bridge-server: mDNS advertisement failed", "error", err)
		} else {
			defer mdnsServer.Shutdown()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("bridge-server: admin surface listening", "addr", *adminAddr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("bridge-server: admin surface failed", "error", err)
		}
	}()

	if err := adapter.Run(ctx, true); err != nil {
		slog.Error("bridge-server: transport stopped with error", "error", err)
	}
	adminServer.Close()
}

func setupLogger() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(handler))
}
