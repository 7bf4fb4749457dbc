package endpoint

import "fmt"

// ConfigurationError surfaces at configure time; the endpoint is
// unusable until it is resolved (spec.md §7).
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("endpoint: configuration error: %s", e.Reason)
}

// EncodingError wraps an unrepresentable value or malformed frame.
// Callers log it and drop the offending operation; the connection is
// kept (spec.md §7).
type EncodingError struct {
	Op    string
	Cause error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("endpoint: encoding error during %s: %v", e.Op, e.Cause)
}

func (e *EncodingError) Unwrap() error { return e.Cause }

// TransportError wraps a send/connect/close failure.
type TransportError struct {
	Op    string
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("endpoint: transport error during %s: %v", e.Op, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// ProtocolMismatchError records a type-name mismatch on topic
// advertisement or subscription. Never tears down the connection.
type ProtocolMismatchError struct {
	Topic    string
	Expected string
	Got      string
}

func (e *ProtocolMismatchError) Error() string {
	return fmt.Sprintf("endpoint: topic %q: expected type %q, got %q", e.Topic, e.Expected, e.Got)
}

// UnknownRouteError records a service request for an unprovided
// service, a response for an unknown id, or an unsubscribe on an
// untracked topic.
type UnknownRouteError struct {
	Kind  string
	Route string
}

func (e *UnknownRouteError) Error() string {
	return fmt.Sprintf("endpoint: unknown %s route %q", e.Kind, e.Route)
}
