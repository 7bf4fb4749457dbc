// Package encoding serializes and deserializes the wire frames defined
// in package wire, and maintains the registry of type names an endpoint
// has been told about (spec.md §4.1).
package encoding

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/relaybridge/wsbridge/wire"
)

// Receiver is the set of typed handlers Interpret dispatches an incoming
// frame into. endpoint.Endpoint implements this; keeping the interface
// here (rather than importing package endpoint) avoids a dependency
// cycle, matching the dynamic-dispatch shape of gohab's
// Coordinator.Handle switch (server/handlers.go) generalized to the
// bridge protocol's richer op set.
type Receiver interface {
	ReceiveTopicAdvertisement(topic, typeName, id, connHandle string)
	ReceiveTopicUnadvertisement(topic, id, connHandle string)
	ReceivePublication(topic string, raw json.RawMessage, connHandle string)
	ReceiveSubscribeRequest(topic, typeName, id, connHandle string)
	ReceiveUnsubscribeRequest(topic, id, connHandle string)
	ReceiveServiceAdvertisement(service, reqType, replyType, connHandle string)
	ReceiveServiceUnadvertisement(service, connHandle string)
	ReceiveServiceRequest(service string, raw json.RawMessage, id, connHandle string)
	ReceiveServiceResponse(service string, raw json.RawMessage, id, connHandle string)
}

// Codec is the contract package endpoint consumes to turn its internal
// state into wire frames and back. The zero-value-on-refusal convention
// from spec.md §4.1 ("an encoder MUST return an empty string when it
// refuses a value") is replaced per SPEC_FULL §4.1 ("Empty-encoding
// semantics") with an explicit error return; callers still treat any
// error as a silent drop-and-log, so the documented behavior at the
// endpoint level is unchanged.
type Codec interface {
	EncodeAdvertise(topic, typeName, id string, configuration json.RawMessage) (string, error)
	EncodePublication(topic, typeName, id string, value any) (string, error)
	EncodeSubscribe(topic, typeName, id string, configuration json.RawMessage) (string, error)
	EncodeAdvertiseService(service, reqType, replyType, id string, configuration json.RawMessage) (string, error)
	EncodeCallService(service, reqType string, request any, id string, configuration json.RawMessage) (string, error)
	EncodeServiceResponse(service, replyType, id string, response any, success bool) (string, error)
	AddType(name string, typ wire.Type)
	Interpret(frame string, recv Receiver, connHandle string) error
}

// JSONCodec is the default Codec, encoding values with encoding/json.
// This is the one boundary SPEC_FULL §4.1 keeps on the standard
// library: JSON is the host's wire format by contract (spec.md §6
// `encoding: "json"`), and no pack dependency offers a JSON<->dynamic
// value bridge richer than encoding/json itself.
type JSONCodec struct {
	mu    sync.RWMutex
	types map[string]wire.Type
}

func NewJSONCodec() *JSONCodec {
	return &JSONCodec{types: make(map[string]wire.Type)}
}

func (c *JSONCodec) AddType(name string, typ wire.Type) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.types[name] = typ
}

// LookupType returns the registered type for name, if any. Registration
// may happen after decoding has begun (spec.md §5): callers only need
// the name to route and log, so an unregistered name is not an error.
func (c *JSONCodec) LookupType(name string) (wire.Type, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.types[name]
	return t, ok
}

func marshalEnvelope(f wire.Frame) (string, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("encoding: marshal %s frame: %w", f.Op, err)
	}
	return string(b), nil
}

func marshalValue(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

func (c *JSONCodec) EncodeAdvertise(topic, typeName, id string, configuration json.RawMessage) (string, error) {
	return marshalEnvelope(wire.Frame{
		Op: wire.OpAdvertise, Topic: topic, Type: typeName, ID: id, Configuration: configuration,
	})
}

func (c *JSONCodec) EncodePublication(topic, typeName, id string, value any) (string, error) {
	raw, err := marshalValue(value)
	if err != nil {
		return "", fmt.Errorf("encoding: unrepresentable publication value for topic %q: %w", topic, err)
	}
	return marshalEnvelope(wire.Frame{
		Op: wire.OpPublish, Topic: topic, Type: typeName, ID: id, Msg: raw,
	})
}

func (c *JSONCodec) EncodeSubscribe(topic, typeName, id string, configuration json.RawMessage) (string, error) {
	return marshalEnvelope(wire.Frame{
		Op: wire.OpSubscribe, Topic: topic, Type: typeName, ID: id, Configuration: configuration,
	})
}

func (c *JSONCodec) EncodeAdvertiseService(service, reqType, replyType, id string, configuration json.RawMessage) (string, error) {
	return marshalEnvelope(wire.Frame{
		Op: wire.OpAdvertiseService, Service: service, RequestType: reqType, ResponseType: replyType,
		ID: id, Configuration: configuration,
	})
}

func (c *JSONCodec) EncodeCallService(service, reqType string, request any, id string, configuration json.RawMessage) (string, error) {
	raw, err := marshalValue(request)
	if err != nil {
		return "", fmt.Errorf("encoding: unrepresentable request for service %q: %w", service, err)
	}
	return marshalEnvelope(wire.Frame{
		Op: wire.OpCallService, Service: service, RequestType: reqType, ID: id,
		Args: raw, Configuration: configuration,
	})
}

func (c *JSONCodec) EncodeServiceResponse(service, replyType, id string, response any, success bool) (string, error) {
	raw, err := marshalValue(response)
	if err != nil {
		return "", fmt.Errorf("encoding: unrepresentable response for service %q: %w", service, err)
	}
	return marshalEnvelope(wire.Frame{
		Op: wire.OpServiceResponse, Service: service, ResponseType: replyType, ID: id,
		Values: raw, Success: &success,
	})
}

// Interpret parses one frame and dispatches it into recv. Per spec.md
// §4.1, conversion failures are returned as errors without ever tearing
// the connection down; the caller (transport adapter's message
// callback) logs and continues.
func (c *JSONCodec) Interpret(frame string, recv Receiver, connHandle string) error {
	var f wire.Frame
	if err := json.Unmarshal([]byte(frame), &f); err != nil {
		return fmt.Errorf("encoding: malformed frame: %w", err)
	}

	switch f.Op {
	case wire.OpAdvertise:
		recv.ReceiveTopicAdvertisement(f.Topic, f.Type, f.ID, connHandle)
	case wire.OpUnadvertise:
		recv.ReceiveTopicUnadvertisement(f.Topic, f.ID, connHandle)
	case wire.OpPublish:
		recv.ReceivePublication(f.Topic, f.Msg, connHandle)
	case wire.OpSubscribe:
		recv.ReceiveSubscribeRequest(f.Topic, f.Type, f.ID, connHandle)
	case wire.OpUnsubscribe:
		recv.ReceiveUnsubscribeRequest(f.Topic, f.ID, connHandle)
	case wire.OpAdvertiseService:
		recv.ReceiveServiceAdvertisement(f.Service, f.RequestType, f.ResponseType, connHandle)
	case wire.OpUnadvertiseService:
		recv.ReceiveServiceUnadvertisement(f.Service, connHandle)
	case wire.OpCallService:
		recv.ReceiveServiceRequest(f.Service, f.Args, f.ID, connHandle)
	case wire.OpServiceResponse:
		recv.ReceiveServiceResponse(f.Service, f.Values, f.ID, connHandle)
	default:
		return fmt.Errorf("encoding: unrecognized op %q", f.Op)
	}
	return nil
}
