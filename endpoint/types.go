package endpoint

import (
	"encoding/json"

	"github.com/relaybridge/wsbridge/transport"
)

// TopicSubscribeInfo tracks one topic this endpoint wants to receive
// (spec.md §3). A connection is in Blacklist iff it most recently
// advertised a mismatching type for this topic.
type TopicSubscribeInfo struct {
	TypeName  string
	Callback  func(value json.RawMessage, fromConn transport.Handle)
	Blacklist map[transport.Handle]struct{}
}

// TopicPublishInfo tracks one topic this endpoint publishes. Listeners
// maps a connection handle to the set of subscription ids that
// connection has requested; an empty set means the entry is removed.
type TopicPublishInfo struct {
	TypeName  string
	Listeners map[transport.Handle]map[string]struct{}
}

// ClientProxyInfo tracks one service this endpoint *provides* to remote
// callers.
type ClientProxyInfo struct {
	ReqType       string
	ReplyType     string
	Callback      func(request json.RawMessage, handle CallHandle)
	Configuration json.RawMessage
}

// ServiceProviderInfo tracks one service this endpoint *calls*
// remotely. At most one active provider per service name; reassignment
// replaces the entry (last-writer-wins, spec.md §4.3).
type ServiceProviderInfo struct {
	ReqType       string
	ReplyType     string
	Connection    transport.Handle
	Configuration json.RawMessage
}

// ServiceClient receives the reply to one outbound call_service.
type ServiceClient interface {
	ReceiveResponse(callHandle any, response json.RawMessage)
}

// ServiceRequestInfo tracks one in-flight outbound call, indexed by its
// decimal string id. ProviderConn is recorded so ReceiveServiceResponse
// can reject a response arriving on the wrong connection (SPEC_FULL §9,
// disposition of the "provider response validation" open question).
type ServiceRequestInfo struct {
	Client       ServiceClient
	CallHandle   any
	ProviderConn transport.Handle
}

// CallHandle is carried with each inbound service request so the host's
// reply can be routed back over the originating connection.
type CallHandle struct {
	Service    string
	ReqType    string
	ReplyType  string
	ID         string
	Connection transport.Handle
}

// Publisher is returned by Advertise. The real startup advertisement is
// deferred until the first Publish call (spec.md §4.3).
type Publisher struct {
	ep            *Endpoint
	topic         string
	typeName      string
	configuration json.RawMessage
}

func (p *Publisher) Publish(value any) error {
	return p.ep.publish(p.topic, p.typeName, p.configuration, value)
}

// ServiceProxy is returned by CreateServiceProxy. It carries no methods
// of its own; calls are issued through Endpoint.CallService.
type ServiceProxy struct {
	Service string
}
