// Package config decodes the loosely-typed configuration map spec.md
// §6 defines (host, port, security, cert_authorities, authentication,
// encoding, discovery.service) into the strongly-typed structs the
// transport, auth, and discovery packages expect. Grounded on gohab's
// GohabServerOptions (server/server.go) for the "zero value means
// default" option-struct idiom, using spf13/cast for the same loosely
// typed coercion auth.Load applies to the authentication sub-map.
package config

import (
	"fmt"

	"github.com/spf13/cast"

	"github.com/relaybridge/wsbridge/transport"
)

const (
	keyHost            = "host"
	keyPort            = "port"
	keySecurity        = "security"
	keyCertAuthorities = "cert_authorities"
	keyAuthentication  = "authentication"
	keyEncoding        = "encoding"
	keyDiscovery       = "discovery"
	keyDiscoveryServer = "service"

	defaultHostname = "localhost"
)

// Config is the fully decoded, ready-to-use configuration for one
// bridge endpoint (client or server).
type Config struct {
	Transport  transport.Config
	Auth       map[string]any // raw "authentication" block, passed to auth.Load
	Encoding   string
	Discovery  bool // discovery.service == true enables mDNS advertise/lookup
}

// Error surfaces a malformed configuration value at load time, never
// deferred to first use (spec.md §7).
type Error struct {
	Key    string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

// Load decodes raw (as produced by a YAML or JSON unmarshal into
// map[string]any) into a Config. Missing optional keys take the
// documented defaults (spec.md §6); a present-but-wrongly-typed key is
// an error.
func Load(raw map[string]any) (Config, error) {
	cfg := Config{
		Transport: transport.Config{Host: defaultHostname, Security: "none"},
		Encoding:  "json",
	}

	if v, ok := raw[keyHost]; ok {
		s, err := cast.ToStringE(v)
		if err != nil {
			return cfg, &Error{Key: keyHost, Reason: err.Error()}
		}
		cfg.Transport.Host = s
	}

	if v, ok := raw[keyPort]; ok {
		p, err := cast.ToIntE(v)
		if err != nil {
			return cfg, &Error{Key: keyPort, Reason: err.Error()}
		}
		cfg.Transport.Port = p
	}

	if v, ok := raw[keySecurity]; ok {
		s, err := cast.ToStringE(v)
		if err != nil {
			return cfg, &Error{Key: keySecurity, Reason: err.Error()}
		}
		cfg.Transport.Security = s
	}

	if v, ok := raw[keyCertAuthorities]; ok {
		list, err := cast.ToStringSliceE(v)
		if err != nil {
			return cfg, &Error{Key: keyCertAuthorities, Reason: err.Error()}
		}
		cfg.Transport.CertAuthorities = list
	}

	if v, ok := raw[keyAuthentication]; ok {
		m, err := cast.ToStringMapE(v)
		if err != nil {
			return cfg, &Error{Key: keyAuthentication, Reason: err.Error()}
		}
		cfg.Auth = m
	}

	if v, ok := raw[keyEncoding]; ok {
		s, err := cast.ToStringE(v)
		if err != nil {
			return cfg, &Error{Key: keyEncoding, Reason: err.Error()}
		}
		if s != "json" {
			return cfg, &Error{Key: keyEncoding, Reason: fmt.Sprintf("unsupported encoding %q", s)}
		}
		cfg.Encoding = s
	}

	if v, ok := raw[keyDiscovery]; ok {
		m, err := cast.ToStringMapE(v)
		if err != nil {
			return cfg, &Error{Key: keyDiscovery, Reason: err.Error()}
		}
		if enabled, ok := m[keyDiscoveryServer]; ok {
			b, err := cast.ToBoolE(enabled)
			if err != nil {
				return cfg, &Error{Key: keyDiscovery + "." + keyDiscoveryServer, Reason: err.Error()}
			}
			cfg.Discovery = b
		}
	}

	return cfg, nil
}
