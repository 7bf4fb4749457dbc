// Package auth loads bearer-token credentials from the host's
// configuration map and attaches them to a connection as a WebSocket
// subprotocol, per spec.md §4.5 / §6. Grounded on services.ServiceError
// (services/types.go) for the typed-error shape, and on Client.cpp's
// YamlAuthKey/YamlJwtTokenKey/YamlClientTokenKey constants for the
// recognized configuration keys.
package auth

import (
	"fmt"

	"github.com/spf13/cast"
)

// Configuration keys recognized under the top-level "authentication"
// map (spec.md §6), named after Client.cpp's Yaml*Key constants.
const (
	KeyToken     = "token"
	KeyJwtSecret = "jwt_secret"
)

// Error reports a malformed or missing authentication configuration.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("auth: %s", e.Reason)
}

// Credentials is the bearer token (or JWT) this endpoint presents when
// dialing, or requires from a peer when accepting.
type Credentials struct {
	Token string
}

// Subprotocol is the exact string attached to the WebSocket handshake's
// Sec-WebSocket-Protocol header. The bridge carries auth this way
// rather than in a frame, so a rejected handshake never reaches the
// endpoint's routing tables at all (spec.md §4.5).
func (c Credentials) Subprotocol() string {
	return c.Token
}

// Load reads an "authentication" block from a loosely-typed
// configuration map using spf13/cast, tolerating the map/string/nil
// shapes a YAML or JSON config loader might hand back (spec.md §6).
func Load(raw map[string]any) (Credentials, error) {
	if raw == nil {
		return Credentials{}, nil
	}

	if token, ok := raw[KeyToken]; ok {
		s, err := cast.ToStringE(token)
		if err != nil {
			return Credentials{}, &Error{Reason: fmt.Sprintf("%s must be a string: %v", KeyToken, err)}
		}
		return Credentials{Token: s}, nil
	}

	if secret, ok := raw[KeyJwtSecret]; ok {
		s, err := cast.ToStringE(secret)
		if err != nil {
			return Credentials{}, &Error{Reason: fmt.Sprintf("%s must be a string: %v", KeyJwtSecret, err)}
		}
		return Credentials{Token: s}, nil
	}

	return Credentials{}, nil
}

// Accept reports whether a peer's presented subprotocol matches the
// credentials this side expects. An empty want disables the check
// (authentication was not configured).
func Accept(want Credentials, presented string) bool {
	if want.Token == "" {
		return true
	}
	return want.Token == presented
}
