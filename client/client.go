// Package client drives the dialing side of the bridge: a reconnect
// loop around transport.Adapter that keeps retrying a broken
// connection without tearing down the endpoint's routing state.
//
// Grounded on gohab's client.Client (client/client.go) for the
// identify/ack handshake shape, and on Client.cpp's spin_once for the
// exact debounce timing spec.md §4.4 documents.
package client

import (
	"context"
	"log/slog"
	"time"

	"github.com/relaybridge/wsbridge/endpoint"
	"github.com/relaybridge/wsbridge/transport"
)

// reconnectDebounce is the minimum interval between dial attempts,
// matching Client.cpp's hardcoded 2-second spin_once debounce.
const reconnectDebounce = 2 * time.Second

// spinInterval is how often Run checks whether it's time to retry a
// failed dial, mirroring Client.cpp's spin_once poll cadence.
const spinInterval = 100 * time.Millisecond

// shutdownPollInterval and shutdownPollMax bound how long Stop waits
// for the current connection attempt/session to unwind.
const (
	shutdownPollInterval = 200 * time.Millisecond
	shutdownPollMax      = 10 * time.Second
)

// Client owns one outbound connection to a bridge server, reconnecting
// on failure without resetting the Endpoint it drives.
type Client struct {
	adapter  *transport.Adapter
	endpoint *endpoint.Endpoint

	lastAttempt time.Time
	connected   bool
}

func New(adapter *transport.Adapter, ep *endpoint.Endpoint) *Client {
	return &Client{adapter: adapter, endpoint: ep}
}

// Run dials, then loops: on disconnect it waits out the debounce and
// redials, until ctx is canceled. The Endpoint's routing tables survive
// every reconnect; only the startup-message replay (driven by
// Endpoint.HandleOpened) repeats per spec.md §4.4.
func (c *Client) Run(ctx context.Context) error {
	c.adapter.OnMessage(c.endpoint.HandleMessage)
	c.adapter.OnOpen(func(h transport.Handle) {
		c.connected = true
		c.endpoint.HandleOpened(h)
	})
	c.adapter.OnClose(func(h transport.Handle) {
		c.connected = false
		c.endpoint.HandleClosed(h)
	})
	c.adapter.OnFail(c.endpoint.HandleFailed)

	ticker := time.NewTicker(spinInterval)
	defer ticker.Stop()

	if err := c.tryConnect(ctx); err != nil {
		slog.Warn("client: initial connect failed, will retry", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return c.adapter.Stop()
		case <-ticker.C:
			if c.connected {
				continue
			}
			if time.Since(c.lastAttempt) < reconnectDebounce {
				continue
			}
			if err := c.tryConnect(ctx); err != nil {
				slog.Warn("client: reconnect attempt failed", "error", err)
			}
		}
	}
}

func (c *Client) tryConnect(ctx context.Context) error {
	c.lastAttempt = time.Now()
	_, err := c.adapter.Connect(ctx)
	if err != nil {
		return err
	}
	c.connected = true
	return nil
}

// Stop signals StopPerpetual and polls for quiescence up to
// shutdownPollMax, matching Client.cpp's bounded shutdown wait.
func (c *Client) Stop() error {
	c.adapter.StopPerpetual()
	deadline := time.Now().Add(shutdownPollMax)
	for time.Now().Before(deadline) {
		if !c.connected {
			break
		}
		time.Sleep(shutdownPollInterval)
	}
	return c.adapter.Stop()
}
