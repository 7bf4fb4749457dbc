// Package discovery lets a client locate a bridge server over mDNS
// instead of a hardcoded host:port, per SPEC_FULL §4.8 (optional,
// supplementing the distilled spec which assumes a pre-configured
// address). Grounded on gohab's client.DiscoverWebSocketService
// (client/discovery.go).
package discovery

import (
	"fmt"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceType is the mDNS service name bridge servers register under.
const ServiceType = "_wsbridge._tcp"

// Server describes one bridge server found on the local network.
type Server struct {
	Name    string
	Host    string
	Port    int
	TXT     []string
}

// Find blocks until one Server answers or timeout elapses.
func Find(timeout time.Duration) (*Server, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	entries := make(chan *mdns.ServiceEntry, 4)
	go func() {
		defer close(entries)
		params := mdns.DefaultParams(ServiceType)
		params.Entries = entries
		params.Timeout = timeout
		mdns.Query(params)
	}()

	select {
	case entry := <-entries:
		if entry == nil {
			return nil, fmt.Errorf("discovery: no %s service found", ServiceType)
		}
		host := entry.Host
		if entry.AddrV4 != nil {
			host = entry.AddrV4.String()
		} else if entry.AddrV6 != nil {
			host = fmt.Sprintf("[%s]", entry.AddrV6.String())
		}
		return &Server{Name: entry.Name, Host: host, Port: entry.Port, TXT: entry.InfoFields}, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("discovery: timeout after %s", timeout)
	}
}

// Advertise registers this process as a bridge server on port, for the
// lifetime of the returned server's process (the caller is responsible
// for calling Shutdown on it during shutdown). The record carries this
// machine's own hostname and the addresses it resolves to; host is not
// used.
func Advertise(name, host string, port int) (*mdns.Server, error) {
	info, err := mdns.NewMDNSService(name, ServiceType, "", "", port, nil, []string{"wsbridge"})
	if err != nil {
		return nil, fmt.Errorf("discovery: build service info: %w", err)
	}
	srv, err := mdns.NewServer(&mdns.Config{Zone: info})
	if err != nil {
		return nil, fmt.Errorf("discovery: start mdns server: %w", err)
	}
	return srv, nil
}
