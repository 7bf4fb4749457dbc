// Package wire defines the on-the-wire frame shape shared by every
// connection this endpoint speaks to, and the minimal contracts this
// endpoint expects from the host's dynamic-type system.
package wire

import "encoding/json"

// Op identifies the kind of a frame.
type Op string

const (
	OpAdvertise         Op = "advertise"
	OpUnadvertise       Op = "unadvertise"
	OpPublish           Op = "publish"
	OpSubscribe         Op = "subscribe"
	OpUnsubscribe       Op = "unsubscribe"
	OpAdvertiseService  Op = "advertise_service"
	OpUnadvertiseService Op = "unadvertise_service"
	OpCallService       Op = "call_service"
	OpServiceResponse   Op = "service_response"
)

// Frame is the self-describing JSON object carried by every text frame,
// matching the established bridge-protocol shape (ROS-bridge-style
// gateways) called out in spec.md §6.
type Frame struct {
	Op             Op              `json:"op"`
	Topic          string          `json:"topic,omitempty"`
	Service        string          `json:"service,omitempty"`
	Type           string          `json:"type,omitempty"`
	RequestType    string          `json:"request_type,omitempty"`
	ResponseType   string          `json:"response_type,omitempty"`
	ID             string          `json:"id"`
	Msg            json.RawMessage `json:"msg,omitempty"`
	Args           json.RawMessage `json:"args,omitempty"`
	Values         json.RawMessage `json:"values,omitempty"`
	Configuration  json.RawMessage `json:"configuration,omitempty"`
	Success        *bool           `json:"success,omitempty"`
}

// Type is the minimal contract this endpoint needs from the host's
// dynamic-type system: a name it can compare and encode by. Everything
// else about constructing or introspecting a type is the host's concern
// (spec.md §1 Out of scope).
type Type interface {
	Name() string
}

// Value is the minimal contract for a dynamic value: it knows its own
// type. Conversion to/from JSON is likewise an external collaborator's
// job; encoding.Codec only needs a value's declared type name to route
// and log, and hands the raw bytes on the wire straight through.
type Value interface {
	Type() Type
}

// NamedType is the simplest possible Type implementation, used by tests
// and by callers that only need to carry a type name around without a
// richer dynamic-type system behind it.
type NamedType string

func (n NamedType) Name() string { return string(n) }
