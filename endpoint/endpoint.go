// Package endpoint implements the core routing state machine described
// in spec.md §4.3: the topic/service routing tables, the in-flight
// service-call ledger, the startup-message replay protocol, and the
// lifecycle logic that tolerates reconnects and partial failure.
//
// Grounded on gohab's server.Coordinator/server.Broker/server.DeviceRegistry
// (server/coordinator.go, server/broker.go, server/registery.go) for the
// registration-API and dispatch-by-kind shape, and on Endpoint.cpp for
// the exact per-operation semantics spec.md documents.
package endpoint

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"

	"github.com/relaybridge/wsbridge/encoding"
	"github.com/relaybridge/wsbridge/transport"
	"github.com/relaybridge/wsbridge/wire"
)

// Sender is the minimal contract the Endpoint needs from the transport
// adapter: the ability to push an already-encoded frame onto one
// connection. transport.Adapter satisfies this.
type Sender interface {
	Send(handle transport.Handle, frame string) error
}

// Options configures optional policy knobs (SPEC_FULL §9).
type Options struct {
	// MaxPendingCalls bounds the service-request ledger; 0 (default)
	// means unbounded, preserving the original's documented
	// accumulation risk (spec.md §3, §9).
	MaxPendingCalls int
}

// Endpoint owns every routing table described in spec.md §3. Per
// SPEC_FULL §5 (mandatory redesign), a single mutex guards every read
// and write to that state, whether the caller is a host thread or the
// transport adapter's I/O goroutine.
type Endpoint struct {
	mu sync.Mutex

	codec  encoding.Codec
	sender Sender
	opts   Options

	subscribeInfo map[string]*TopicSubscribeInfo
	publishInfo   map[string]*TopicPublishInfo
	clientProxy   map[string]*ClientProxyInfo
	serviceProvider map[string]*ServiceProviderInfo
	serviceRequest  map[string]*ServiceRequestInfo
	callOrder       []string // insertion order, for MaxPendingCalls eviction

	startupMessages []string
	nextCallID      uint64

	failing map[transport.Handle]bool
}

func New(codec encoding.Codec, sender Sender, opts Options) *Endpoint {
	return &Endpoint{
		codec:           codec,
		sender:          sender,
		opts:            opts,
		subscribeInfo:   make(map[string]*TopicSubscribeInfo),
		publishInfo:     make(map[string]*TopicPublishInfo),
		clientProxy:     make(map[string]*ClientProxyInfo),
		serviceProvider: make(map[string]*ServiceProviderInfo),
		serviceRequest:  make(map[string]*ServiceRequestInfo),
		failing:         make(map[transport.Handle]bool),
	}
}

// IsInternalMessage always returns false; a host embedding this
// endpoint in a multi-hop bridge may use it as an override point
// (SPEC_FULL §9, open question disposition). It is unused internally,
// matching Endpoint.cpp's own "always false" comment.
func (e *Endpoint) IsInternalMessage(transport.Handle) bool { return false }

// ---------------- registration API (host -> endpoint) ----------------

// Subscribe registers interest in topic, appends an advertise-subscribe
// startup message, and stores a TopicSubscribeInfo (spec.md §4.3).
func (e *Endpoint) Subscribe(topic string, messageType wire.Type, callback func(value json.RawMessage, fromConn transport.Handle), configuration json.RawMessage) error {
	typeName := messageType.Name()
	e.codec.AddType(typeName, messageType)

	msg, err := e.codec.EncodeSubscribe(topic, typeName, "", configuration)
	if err != nil {
		return &EncodingError{Op: "subscribe", Cause: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	info, exists := e.subscribeInfo[topic]
	if !exists {
		info = &TopicSubscribeInfo{Blacklist: make(map[transport.Handle]struct{})}
		e.subscribeInfo[topic] = info
	}
	info.TypeName = typeName
	info.Callback = callback

	e.startupMessages = append(e.startupMessages, msg)
	return nil
}

// Advertise registers typeName for topic and returns a Publisher. The
// actual startup_advertisement is deferred until the publisher emits
// its first message (spec.md §4.3).
func (e *Endpoint) Advertise(topic string, messageType wire.Type, configuration json.RawMessage) *Publisher {
	typeName := messageType.Name()
	e.codec.AddType(typeName, messageType)
	return &Publisher{ep: e, topic: topic, typeName: typeName, configuration: configuration}
}

// startupAdvertiseLocked is invoked on first publish; see Publisher.Publish.
// Caller holds e.mu and has already confirmed publishInfo[topic] is
// absent.
func (e *Endpoint) startupAdvertiseLocked(topic, typeName string, configuration json.RawMessage) (*TopicPublishInfo, error) {
	msg, err := e.codec.EncodeAdvertise(topic, typeName, "", configuration)
	if err != nil {
		return nil, &EncodingError{Op: "advertise", Cause: err}
	}
	info := &TopicPublishInfo{TypeName: typeName, Listeners: make(map[transport.Handle]map[string]struct{})}
	e.publishInfo[topic] = info
	e.startupMessages = append(e.startupMessages, msg)
	return info, nil
}

// CreateClientProxy registers that this endpoint will serve calls for
// service. A service-advertisement startup message is appended once a
// reply type is known.
func (e *Endpoint) CreateClientProxy(service string, reqType wire.Type, replyType wire.Type, callback func(request json.RawMessage, handle CallHandle), configuration json.RawMessage) error {
	e.codec.AddType(reqType.Name(), reqType)
	replyTypeName := ""
	if replyType != nil {
		replyTypeName = replyType.Name()
		e.codec.AddType(replyTypeName, replyType)
	}

	e.mu.Lock()
	e.clientProxy[service] = &ClientProxyInfo{
		ReqType: reqType.Name(), ReplyType: replyTypeName, Callback: callback, Configuration: configuration,
	}
	e.mu.Unlock()

	if replyTypeName == "" {
		return nil
	}
	msg, err := e.codec.EncodeAdvertiseService(service, reqType.Name(), replyTypeName, "", configuration)
	if err != nil {
		return &EncodingError{Op: "advertise_service", Cause: err}
	}
	e.mu.Lock()
	e.startupMessages = append(e.startupMessages, msg)
	e.mu.Unlock()
	return nil
}

// CreateServiceProxy registers that this endpoint will call service
// remotely. No startup message is produced (spec.md §4.3). A repeated
// call for the same service overwrites ReqType/ReplyType/Configuration
// but preserves any Connection already recorded by a remote
// advertisement, matching Endpoint.cpp's always-overwrite operator[].
func (e *Endpoint) CreateServiceProxy(service string, reqType wire.Type, replyType wire.Type, configuration json.RawMessage) *ServiceProxy {
	e.codec.AddType(reqType.Name(), reqType)
	replyTypeName := ""
	if replyType != nil {
		replyTypeName = replyType.Name()
		e.codec.AddType(replyTypeName, replyType)
	}

	e.mu.Lock()
	info := &ServiceProviderInfo{ReqType: reqType.Name(), ReplyType: replyTypeName, Configuration: configuration}
	if existing, exists := e.serviceProvider[service]; exists {
		info.Connection = existing.Connection
	}
	e.serviceProvider[service] = info
	e.mu.Unlock()

	return &ServiceProxy{Service: service}
}

// ---------------- publish / call / reply ----------------

func (e *Endpoint) publish(topic, typeName string, configuration json.RawMessage, value any) error {
	e.mu.Lock()
	info, exists := e.publishInfo[topic]
	if !exists {
		var err error
		info, err = e.startupAdvertiseLocked(topic, typeName, configuration)
		if err != nil {
			e.mu.Unlock()
			return err
		}
	}

	if len(info.Listeners) == 0 {
		e.mu.Unlock()
		return nil
	}

	targets := make([]transport.Handle, 0, len(info.Listeners))
	for h := range info.Listeners {
		targets = append(targets, h)
	}
	e.mu.Unlock()

	for _, t := range targets {
		frame, err := e.codec.EncodePublication(topic, typeName, "", value)
		if err != nil {
			slog.Error("endpoint: dropped publication, unrepresentable value", "topic", topic, "error", err)
			continue
		}
		if err := e.sender.Send(t, frame); err != nil {
			slog.Error("endpoint: failed to send publication", "topic", topic, "connection", t, "error", err)
		}
	}
	return nil
}

// CallService allocates a new decimal id, records a ServiceRequestInfo,
// encodes, and sends on the provider's stored connection handle
// (spec.md §4.3). If encoding is empty, the call is silently
// discarded — the ledger entry already exists and becomes garbage only
// if a response never arrives.
func (e *Endpoint) CallService(service string, request any, client ServiceClient, callHandle any) error {
	e.mu.Lock()
	provider, ok := e.serviceProvider[service]
	if !ok {
		e.mu.Unlock()
		return &UnknownRouteError{Kind: "service", Route: service}
	}

	e.nextCallID++
	id := strconv.FormatUint(e.nextCallID, 10)
	e.serviceRequest[id] = &ServiceRequestInfo{Client: client, CallHandle: callHandle, ProviderConn: provider.Connection}
	e.callOrder = append(e.callOrder, id)
	e.evictOldestLocked()
	conn := provider.Connection
	reqType := provider.ReqType
	cfg := provider.Configuration
	e.mu.Unlock()

	frame, err := e.codec.EncodeCallService(service, reqType, request, id, cfg)
	if err != nil {
		slog.Error("endpoint: call_service encoding failed, call silently discarded", "service", service, "id", id, "error", err)
		return nil
	}

	if err := e.sender.Send(conn, frame); err != nil {
		slog.Error("endpoint: call_service send failed", "service", service, "id", id, "error", err)
		return &TransportError{Op: "call_service", Cause: err}
	}
	return nil
}

// evictOldestLocked drops the oldest pending call when
// Options.MaxPendingCalls is set and exceeded. Caller holds e.mu.
func (e *Endpoint) evictOldestLocked() {
	if e.opts.MaxPendingCalls <= 0 {
		return
	}
	for len(e.callOrder) > e.opts.MaxPendingCalls {
		oldest := e.callOrder[0]
		e.callOrder = e.callOrder[1:]
		delete(e.serviceRequest, oldest)
	}
}

// ReceiveResponse sends an encoded service response back on the
// call-handle's connection (spec.md §4.3).
func (e *Endpoint) ReceiveResponse(callHandle CallHandle, response any) error {
	frame, err := e.codec.EncodeServiceResponse(callHandle.Service, callHandle.ReplyType, callHandle.ID, response, true)
	if err != nil {
		return &EncodingError{Op: "service_response", Cause: err}
	}
	if err := e.sender.Send(callHandle.Connection, frame); err != nil {
		return &TransportError{Op: "service_response", Cause: err}
	}
	return nil
}

// ---------------- introspection (SPEC_FULL §4.7) ----------------

// TopicSummary describes one subscribed or advertised topic.
type TopicSummary struct {
	Topic         string
	TypeName      string
	ListenerCount int // only meaningful for advertised topics
}

// ServiceSummary describes one service this endpoint provides to
// remote callers (registered via CreateClientProxy).
type ServiceSummary struct {
	Service   string
	ReqType   string
	ReplyType string
}

// ProxiedServiceSummary describes one service this endpoint calls
// remotely (registered via CreateServiceProxy), and the connection the
// current provider is bound to, if any.
type ProxiedServiceSummary struct {
	Service   string
	ReqType   string
	ReplyType string
	Provider  transport.Handle
}

// RouteSnapshot is a read-only point-in-time view of every routing
// table the Endpoint owns, for the admin introspection surface.
type RouteSnapshot struct {
	SubscribedTopics []TopicSummary
	AdvertisedTopics []TopicSummary
	ProvidedServices []ServiceSummary
	ProxiedServices  []ProxiedServiceSummary
	PendingCalls     int
}

// Snapshot reports the current routing tables, guarded by the same
// mutex every other Endpoint operation uses — grounded on gohab's
// DeviceRegistry.List (server/registery.go), generalized from one
// device list to the endpoint's four routing tables.
func (e *Endpoint) Snapshot() RouteSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := RouteSnapshot{PendingCalls: len(e.serviceRequest)}
	for topic, info := range e.subscribeInfo {
		snap.SubscribedTopics = append(snap.SubscribedTopics, TopicSummary{Topic: topic, TypeName: info.TypeName})
	}
	for topic, info := range e.publishInfo {
		snap.AdvertisedTopics = append(snap.AdvertisedTopics, TopicSummary{
			Topic: topic, TypeName: info.TypeName, ListenerCount: len(info.Listeners),
		})
	}
	for service, info := range e.clientProxy {
		snap.ProvidedServices = append(snap.ProvidedServices, ServiceSummary{
			Service: service, ReqType: info.ReqType, ReplyType: info.ReplyType,
		})
	}
	for service, info := range e.serviceProvider {
		snap.ProxiedServices = append(snap.ProxiedServices, ProxiedServiceSummary{
			Service: service, ReqType: info.ReqType, ReplyType: info.ReplyType, Provider: info.Connection,
		})
	}
	return snap
}
