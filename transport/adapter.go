// Package transport owns the WebSocket (and optional TLS) plumbing for
// an endpoint: one read goroutine per connection driving its lifecycle,
// and a capability-set Adapter generalizing the client/server and TLS/plain
// split called out in spec.md §9 "Polymorphism over transport" —
// grounded on gohab's Transport interface (server/transport.go) and its
// WSTransport (server/wsTransport.go), routed once at Configure time
// instead of duplicated per security mode.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/relaybridge/wsbridge/auth"
)

// ConnState is the lifecycle state of one connection handle.
type ConnState int

const (
	StateOpening ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handle identifies one connection. It is shared between the Endpoint
// and the Adapter (spec.md §3 Ownership).
type Handle string

// Connection is the send/state object a Handle resolves to.
type Connection interface {
	Send(frame string) error
	State() ConnState
	Close(code int, reason string) error
}

// Callbacks bundles every connection-originated event the Endpoint
// subscribes to. OnSocketInit and OnOpen run on the goroutine that
// called Connect or served the upgrade; OnMessage, OnFail and OnClose
// run on that connection's own read goroutine. Callbacks are not
// serialized across connections: events of different connections may
// run concurrently.
type Callbacks struct {
	OnMessage       func(handle Handle, frame string)
	OnOpen          func(handle Handle)
	OnClose         func(handle Handle)
	OnFail          func(handle Handle, err error)
	OnSocketInit    func(handle Handle)
	SupplyTLSConfig func() *tls.Config
}

// Config carries the recognized configuration keys from spec.md §6.
type Config struct {
	Host             string
	Port             int
	Security         string // "none" disables TLS; anything else enables it
	CertAuthorities  []string
	CAConfigDir      string // search path for relative CA files: config dir, then $HOME
	AuthSubprotocol  string // bearer token attached as a WS subprotocol (see package auth)
}

func (c Config) useTLS() bool {
	return c.Security != "none"
}

func (c Config) uri() string {
	scheme := "ws"
	if c.useTLS() {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}

// Adapter is the capability set an Endpoint drives: connect (client),
// accept (server), send, close, and an I/O loop, parameterized over
// {TCP, TLS} via the Config it receives at Configure time.
type Adapter struct {
	cb  Callbacks
	cfg Config

	mu      sync.RWMutex
	conns   map[Handle]*wsConnection
	closed  bool

	httpServer *http.Server
	dialer     *websocket.Dialer
	upgrader   websocket.Upgrader

	perpetual bool
	wg        sync.WaitGroup
}

func NewAdapter() *Adapter {
	return &Adapter{
		conns:     make(map[Handle]*wsConnection),
		perpetual: true,
	}
}

func (a *Adapter) OnMessage(fn func(Handle, string))    { a.cb.OnMessage = fn }
func (a *Adapter) OnOpen(fn func(Handle))               { a.cb.OnOpen = fn }
func (a *Adapter) OnClose(fn func(Handle))              { a.cb.OnClose = fn }
func (a *Adapter) OnFail(fn func(Handle, error))        { a.cb.OnFail = fn }
func (a *Adapter) OnSocketInit(fn func(Handle))         { a.cb.OnSocketInit = fn }
func (a *Adapter) SupplyTLSConfig(fn func() *tls.Config) { a.cb.SupplyTLSConfig = fn }

// Configure prepares the TLS context (if enabled) and the client
// dialer / server upgrader. Any verification setup error fails the
// whole configure call (spec.md §4.2).
func (a *Adapter) Configure(cfg Config) error {
	if cfg.Port <= 0 {
		return fmt.Errorf("transport: configure: invalid or missing port %d", cfg.Port)
	}
	a.cfg = cfg

	var tlsConfig *tls.Config
	if cfg.useTLS() {
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		for _, caFile := range cfg.CertAuthorities {
			path, err := resolveCAPath(caFile, cfg.CAConfigDir)
			if err != nil {
				return fmt.Errorf("transport: configure: %w", err)
			}
			pem, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("transport: configure: reading CA %q: %w", path, err)
			}
			if !pool.AppendCertsFromPEM(pem) {
				return fmt.Errorf("transport: configure: CA %q contains no usable certificates", path)
			}
		}
		tlsConfig = &tls.Config{
			RootCAs:    pool,
			ServerName: cfg.Host,
			MinVersion: tls.VersionTLS12,
		}
		if a.cb.SupplyTLSConfig != nil {
			if supplied := a.cb.SupplyTLSConfig(); supplied != nil {
				tlsConfig = supplied
			}
		}
	}

	a.dialer = &websocket.Dialer{
		HandshakeTimeout: 45 * time.Second,
		TLSClientConfig:  tlsConfig,
	}
	if cfg.AuthSubprotocol != "" {
		a.dialer.Subprotocols = []string{cfg.AuthSubprotocol}
	}

	a.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	if cfg.AuthSubprotocol != "" {
		a.upgrader.Subprotocols = []string{cfg.AuthSubprotocol}
	}

	return nil
}

// resolveCAPath checks configDir first, then $HOME, mirroring
// Client.cpp's is::core::Search(...).relative_to_config().relative_to_home().
func resolveCAPath(name, configDir string) (string, error) {
	candidates := make([]string, 0, 2)
	if configDir != "" {
		candidates = append(candidates, filepath.Join(configDir, name))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, name))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("certificate authority %q not found (checked %v)", name, candidates)
}

// Run drives the I/O loop. In server mode this means serving HTTP on
// cfg.Host:cfg.Port until ctx is canceled; in client mode there is no
// listener to run, so Run simply blocks until ctx is canceled — the
// dedicated worker gohab's Coordinator.Start(ctx) models, generalized
// with golang.org/x/sync/errgroup so adapter shutdown composes with
// whatever else the host is waiting on.
func (a *Adapter) Run(ctx context.Context, serve bool) error {
	if !serve {
		<-ctx.Done()
		return a.Stop()
	}

	r := chi.NewRouter()
	r.Get("/", a.handleUpgrade)

	a.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.Port),
		Handler: r,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		slog.Info("transport: listening", "addr", a.httpServer.Addr, "tls", a.cfg.useTLS())
		err := a.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		return a.Stop()
	})

	return group.Wait()
}

func (a *Adapter) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if a.cfg.AuthSubprotocol != "" && !acceptsSubprotocol(a.cfg.AuthSubprotocol, r) {
		slog.Warn("transport: rejected upgrade, missing or mismatched auth subprotocol", "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("transport: upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	handle := Handle(uuid.NewString())
	a.register(handle, conn)
}

// acceptsSubprotocol reports whether the request presented want as one
// of its Sec-WebSocket-Protocol values (spec.md §4.5's single static
// bearer token, carried as a subprotocol rather than a frame field).
func acceptsSubprotocol(want string, r *http.Request) bool {
	for _, presented := range websocket.Subprotocols(r) {
		if auth.Accept(auth.Credentials{Token: want}, presented) {
			return true
		}
	}
	return false
}

// Connect dials a remote peer (client mode).
func (a *Adapter) Connect(ctx context.Context) (Handle, error) {
	a.mu.RLock()
	closed := a.closed
	perpetual := a.perpetual
	a.mu.RUnlock()
	if closed {
		return "", fmt.Errorf("transport: adapter stopped")
	}
	if !perpetual {
		return "", fmt.Errorf("transport: adapter no longer accepting new connections")
	}

	header := http.Header{}
	conn, _, err := a.dialer.DialContext(ctx, a.cfg.uri(), header)
	if err != nil {
		return "", fmt.Errorf("transport: connect %s: %w", a.cfg.uri(), err)
	}
	handle := Handle(uuid.NewString())
	a.register(handle, conn)
	return handle, nil
}

func (a *Adapter) register(handle Handle, conn *websocket.Conn) {
	wc := &wsConnection{conn: conn, state: StateOpen}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		conn.Close()
		return
	}
	a.conns[handle] = wc
	a.mu.Unlock()

	if a.cb.OnSocketInit != nil {
		a.cb.OnSocketInit(handle)
	}
	if a.cb.OnOpen != nil {
		a.cb.OnOpen(handle)
	}

	a.wg.Add(1)
	go a.readLoop(handle, wc)
}

func (a *Adapter) readLoop(handle Handle, wc *wsConnection) {
	defer a.wg.Done()
	failed := false
	for {
		_, data, err := wc.conn.ReadMessage()
		if err != nil {
			a.mu.Lock()
			wc.state = StateClosed
			delete(a.conns, handle)
			a.mu.Unlock()

			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				if !failed && a.cb.OnFail != nil {
					a.cb.OnFail(handle, err)
				}
				failed = true
			}
			if a.cb.OnClose != nil {
				a.cb.OnClose(handle)
			}
			return
		}
		failed = false
		if a.cb.OnMessage != nil {
			a.cb.OnMessage(handle, string(data))
		}
	}
}

// GetConnection resolves a handle to its send/state object.
func (a *Adapter) GetConnection(handle Handle) (Connection, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, ok := a.conns[handle]
	return c, ok
}

// Send transmits frame on handle's connection.
func (a *Adapter) Send(handle Handle, frame string) error {
	conn, ok := a.GetConnection(handle)
	if !ok {
		return fmt.Errorf("transport: send: unknown connection %q", handle)
	}
	return conn.Send(frame)
}

// Close closes one connection.
func (a *Adapter) Close(handle Handle, code int, reason string) error {
	conn, ok := a.GetConnection(handle)
	if !ok {
		return nil
	}
	return conn.Close(code, reason)
}

// Stop shuts down the listener (server mode) and every live connection.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	conns := make([]*wsConnection, 0, len(a.conns))
	for _, c := range a.conns {
		conns = append(conns, c)
	}
	a.mu.Unlock()

	for _, c := range conns {
		c.Close(websocket.CloseGoingAway, "shutting down")
	}
	if a.httpServer != nil {
		a.httpServer.Close()
	}
	a.wg.Wait()
	return nil
}

// StopPerpetual stops the adapter from dialing any further connection;
// Connect fails fast once this is called, matching the
// start_perpetual/stop_perpetual pairing in Client.cpp. Client.Stop
// calls this before its bounded shutdown wait so a reconnect loop
// racing with shutdown cannot open a fresh connection.
func (a *Adapter) StopPerpetual() {
	a.mu.Lock()
	a.perpetual = false
	a.mu.Unlock()
}

type wsConnection struct {
	mu    sync.Mutex
	conn  *websocket.Conn
	state ConnState
}

func (c *wsConnection) Send(frame string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

func (c *wsConnection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *wsConnection) Close(code int, reason string) error {
	c.mu.Lock()
	c.state = StateClosing
	c.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	return c.conn.Close()
}
