package endpoint

import (
	"encoding/json"
	"log/slog"

	"github.com/relaybridge/wsbridge/transport"
)

// HandleMessage decodes one incoming frame and dispatches it. It is
// wired as the transport adapter's OnMessage callback.
func (e *Endpoint) HandleMessage(handle transport.Handle, frame string) {
	if err := e.codec.Interpret(frame, e, string(handle)); err != nil {
		slog.Error("endpoint: failed to interpret frame", "connection", handle, "error", err)
	}
}

// ---------------- incoming dispatch (spec.md §4.3) ----------------

func (e *Endpoint) ReceiveTopicAdvertisement(topic, typeName, id, connHandle string) {
	h := transport.Handle(connHandle)

	e.mu.Lock()
	defer e.mu.Unlock()

	info, ok := e.subscribeInfo[topic]
	if !ok {
		slog.Warn("endpoint: advertisement for unsubscribed topic, ignoring", "topic", topic)
		return
	}
	if typeName != info.TypeName {
		info.Blacklist[h] = struct{}{}
		slog.Warn("endpoint: topic advertised with mismatching type, blacklisting connection",
			"topic", topic, "expected", info.TypeName, "got", typeName, "connection", h)
		return
	}
	delete(info.Blacklist, h)
}

func (e *Endpoint) ReceiveTopicUnadvertisement(topic, id, connHandle string) {
	// No-op: connections are cleaned up on close (spec.md §4.3).
}

func (e *Endpoint) ReceivePublication(topic string, raw json.RawMessage, connHandle string) {
	h := transport.Handle(connHandle)

	e.mu.Lock()
	info, ok := e.subscribeInfo[topic]
	if !ok {
		e.mu.Unlock()
		return
	}
	if _, blacklisted := info.Blacklist[h]; blacklisted {
		e.mu.Unlock()
		return
	}
	callback := info.Callback
	e.mu.Unlock()

	if callback != nil {
		callback(raw, h)
	}
}

func (e *Endpoint) ReceiveSubscribeRequest(topic, typeName, id, connHandle string) {
	h := transport.Handle(connHandle)

	e.mu.Lock()
	defer e.mu.Unlock()

	info, existed := e.publishInfo[topic]
	if !existed {
		slog.Warn("endpoint: subscription request for a topic we are not advertising", "topic", topic)
		info = &TopicPublishInfo{TypeName: typeName, Listeners: make(map[transport.Handle]map[string]struct{})}
		e.publishInfo[topic] = info
	} else if typeName != "" && typeName != info.TypeName {
		slog.Error("endpoint: subscription request type mismatch, ignoring",
			"topic", topic, "expected", info.TypeName, "got", typeName)
		return
	}

	if info.Listeners[h] == nil {
		info.Listeners[h] = make(map[string]struct{})
	}
	info.Listeners[h][id] = struct{}{}
}

func (e *Endpoint) ReceiveUnsubscribeRequest(topic, id, connHandle string) {
	h := transport.Handle(connHandle)

	e.mu.Lock()
	defer e.mu.Unlock()

	info, ok := e.publishInfo[topic]
	if !ok {
		slog.Error("endpoint: unsubscribe for a topic we are not advertising", "topic", topic)
		return
	}
	ids, ok := info.Listeners[h]
	if !ok {
		return
	}

	if id == "" {
		delete(info.Listeners, h)
		return
	}
	delete(ids, id)
	if len(ids) == 0 {
		delete(info.Listeners, h)
	}
}

func (e *Endpoint) ReceiveServiceAdvertisement(service, reqType, replyType, connHandle string) {
	h := transport.Handle(connHandle)

	e.mu.Lock()
	defer e.mu.Unlock()

	// Last-writer-wins: overwrites any prior provider for this service
	// name (spec.md §4.3).
	e.serviceProvider[service] = &ServiceProviderInfo{ReqType: reqType, ReplyType: replyType, Connection: h}
}

func (e *Endpoint) ReceiveServiceUnadvertisement(service, connHandle string) {
	h := transport.Handle(connHandle)

	e.mu.Lock()
	defer e.mu.Unlock()

	info, ok := e.serviceProvider[service]
	if !ok || info.Connection != h {
		return
	}
	delete(e.serviceProvider, service)
}

func (e *Endpoint) ReceiveServiceRequest(service string, raw json.RawMessage, id, connHandle string) {
	h := transport.Handle(connHandle)

	e.mu.Lock()
	info, ok := e.clientProxy[service]
	if !ok {
		e.mu.Unlock()
		slog.Error("endpoint: service request for a service we are not providing", "service", service)
		return
	}
	callback := info.Callback
	handle := CallHandle{Service: service, ReqType: info.ReqType, ReplyType: info.ReplyType, ID: id, Connection: h}
	e.mu.Unlock()

	if callback != nil {
		callback(raw, handle)
	}
}

func (e *Endpoint) ReceiveServiceResponse(service string, raw json.RawMessage, id, connHandle string) {
	h := transport.Handle(connHandle)

	e.mu.Lock()
	info, ok := e.serviceRequest[id]
	if !ok {
		e.mu.Unlock()
		slog.Error("endpoint: service response with unrecognized id", "service", service, "id", id)
		return
	}
	// SPEC_FULL §9 disposition of "provider response validation":
	// reject a response arriving on a connection other than the one the
	// ledger entry targeted.
	if info.ProviderConn != "" && info.ProviderConn != h {
		e.mu.Unlock()
		slog.Error("endpoint: service response arrived on an unexpected connection, dropping",
			"service", service, "id", id, "from", h, "expected", info.ProviderConn)
		return
	}
	delete(e.serviceRequest, id)
	e.removeFromCallOrderLocked(id)
	e.mu.Unlock()

	info.Client.ReceiveResponse(info.CallHandle, raw)
}

func (e *Endpoint) removeFromCallOrderLocked(id string) {
	for i, v := range e.callOrder {
		if v == id {
			e.callOrder = append(e.callOrder[:i], e.callOrder[i+1:]...)
			return
		}
	}
}

// ---------------- connection-level events (spec.md §4.3) ----------------

// HandleOpened replays StartupMessages in insertion order to the newly
// opened connection.
func (e *Endpoint) HandleOpened(handle transport.Handle) {
	e.mu.Lock()
	delete(e.failing, handle) // a successful open ends any failure run
	messages := make([]string, len(e.startupMessages))
	copy(messages, e.startupMessages)
	e.mu.Unlock()

	for _, msg := range messages {
		if err := e.sender.Send(handle, msg); err != nil {
			slog.Error("endpoint: failed to replay startup message", "connection", handle, "error", err)
		}
	}
}

// HandleClosed removes handle from every blacklist, listener map, and
// service-provider entry. The in-flight call ledger is intentionally
// left intact (spec.md §4.3).
func (e *Endpoint) HandleClosed(handle transport.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.failing, handle)

	for _, info := range e.subscribeInfo {
		delete(info.Blacklist, handle)
	}
	for _, info := range e.publishInfo {
		delete(info.Listeners, handle)
	}
	for service, info := range e.serviceProvider {
		if info.Connection == handle {
			delete(e.serviceProvider, service)
		}
	}
}

// HandleFailed logs once per contiguous failure run, suppressing
// repeats until a success resets the flag (spec.md §4.3).
func (e *Endpoint) HandleFailed(handle transport.Handle, err error) {
	e.mu.Lock()
	already := e.failing[handle]
	e.failing[handle] = true
	e.mu.Unlock()

	if !already {
		slog.Error("endpoint: connection failed", "connection", handle, "error", err)
	}
}
