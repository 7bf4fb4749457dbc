package endpoint

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/relaybridge/wsbridge/encoding"
	"github.com/relaybridge/wsbridge/transport"
)

// fakeSender records every frame sent to every handle, mirroring
// gohab's MockClient (server/broker_test.go).
type fakeSender struct {
	mu   sync.Mutex
	sent map[transport.Handle][]string
	fail map[transport.Handle]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(map[transport.Handle][]string), fail: make(map[transport.Handle]bool)}
}

func (f *fakeSender) Send(handle transport.Handle, frame string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[handle] {
		return errSendFailed
	}
	f.sent[handle] = append(f.sent[handle], frame)
	return nil
}

func (f *fakeSender) framesFor(handle transport.Handle) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent[handle]))
	copy(out, f.sent[handle])
	return out
}

var errSendFailed = &TransportError{Op: "test", Cause: nil}

type stringType string

func (s stringType) Name() string { return string(s) }

type fakeServiceClient struct {
	mu        sync.Mutex
	responses []json.RawMessage
}

func (c *fakeServiceClient) ReceiveResponse(callHandle any, response json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, response)
}

func newTestEndpoint() (*Endpoint, *fakeSender) {
	sender := newFakeSender()
	ep := New(encoding.NewJSONCodec(), sender, Options{})
	return ep, sender
}

func TestSubscribe_AppendsStartupAdvertisement(t *testing.T) {
	ep, _ := newTestEndpoint()

	if err := ep.Subscribe("sensors/temp", stringType("float64"), func(json.RawMessage, transport.Handle) {}, nil); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if len(ep.startupMessages) != 1 {
		t.Fatalf("expected 1 startup message, got %d", len(ep.startupMessages))
	}
	if _, ok := ep.subscribeInfo["sensors/temp"]; !ok {
		t.Error("expected subscribeInfo entry to be recorded")
	}
}

func TestPublish_DefersAdvertisementUntilFirstPublish(t *testing.T) {
	ep, sender := newTestEndpoint()

	pub := ep.Advertise("sensors/temp", stringType("float64"), nil)
	if len(ep.startupMessages) != 0 {
		t.Fatal("expected Advertise to defer the startup advertisement")
	}

	if err := pub.Publish(21.5); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(ep.startupMessages) != 1 {
		t.Errorf("expected startup advertisement after first publish, got %d messages", len(ep.startupMessages))
	}

	// No listeners yet: publish is a no-op send-wise.
	if len(sender.framesFor("conn-1")) != 0 {
		t.Error("expected no frames sent with zero listeners")
	}
}

func TestReceiveSubscribeRequest_TypeMismatchRejected(t *testing.T) {
	ep, _ := newTestEndpoint()
	pub := ep.Advertise("sensors/temp", stringType("float64"), nil)
	_ = pub.Publish(1.0) // creates publishInfo with TypeName "float64"

	ep.ReceiveSubscribeRequest("sensors/temp", "string", "sub-1", "conn-1")

	info := ep.publishInfo["sensors/temp"]
	if _, ok := info.Listeners["conn-1"]; ok {
		t.Error("expected mismatched-type subscription to be rejected")
	}
}

func TestReceiveSubscribeRequest_ThenPublishDeliversToListener(t *testing.T) {
	ep, sender := newTestEndpoint()
	pub := ep.Advertise("sensors/temp", stringType("float64"), nil)
	_ = pub.Publish(1.0)

	ep.ReceiveSubscribeRequest("sensors/temp", "float64", "sub-1", "conn-1")
	if err := pub.Publish(2.0); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	frames := sender.framesFor("conn-1")
	if len(frames) != 1 {
		t.Fatalf("expected 1 publication delivered, got %d", len(frames))
	}
}

func TestReceiveTopicAdvertisement_BlacklistsOnTypeMismatch(t *testing.T) {
	ep, _ := newTestEndpoint()
	callback := func(json.RawMessage, transport.Handle) {}
	_ = ep.Subscribe("sensors/temp", stringType("float64"), callback, nil)

	ep.ReceiveTopicAdvertisement("sensors/temp", "string", "", "conn-1")

	info := ep.subscribeInfo["sensors/temp"]
	if _, blacklisted := info.Blacklist["conn-1"]; !blacklisted {
		t.Error("expected connection to be blacklisted after type mismatch")
	}
}

func TestReceivePublication_BlacklistedConnectionIsIgnored(t *testing.T) {
	ep, _ := newTestEndpoint()
	var received []json.RawMessage
	callback := func(v json.RawMessage, _ transport.Handle) { received = append(received, v) }
	_ = ep.Subscribe("sensors/temp", stringType("float64"), callback, nil)
	ep.ReceiveTopicAdvertisement("sensors/temp", "string", "", "conn-1")

	ep.ReceivePublication("sensors/temp", json.RawMessage(`1.0`), "conn-1")

	if len(received) != 0 {
		t.Error("expected publication from a blacklisted connection to be dropped")
	}
}

func TestReceiveUnsubscribeRequest_RemovesEmptyListenerSet(t *testing.T) {
	ep, _ := newTestEndpoint()
	pub := ep.Advertise("sensors/temp", stringType("float64"), nil)
	_ = pub.Publish(1.0)
	ep.ReceiveSubscribeRequest("sensors/temp", "float64", "sub-1", "conn-1")

	ep.ReceiveUnsubscribeRequest("sensors/temp", "sub-1", "conn-1")

	info := ep.publishInfo["sensors/temp"]
	if _, ok := info.Listeners["conn-1"]; ok {
		t.Error("expected listener entry to be removed once its subscriptions are empty")
	}
}

func TestReceiveServiceAdvertisement_LastWriterWins(t *testing.T) {
	ep, _ := newTestEndpoint()

	ep.ReceiveServiceAdvertisement("add", "int", "int", "conn-1")
	ep.ReceiveServiceAdvertisement("add", "int", "int", "conn-2")

	provider := ep.serviceProvider["add"]
	if provider.Connection != "conn-2" {
		t.Errorf("expected last writer conn-2 to win, got %v", provider.Connection)
	}
}

func TestReceiveServiceUnadvertisement_OnlyMatchingConnectionRemoves(t *testing.T) {
	ep, _ := newTestEndpoint()
	ep.ReceiveServiceAdvertisement("add", "int", "int", "conn-1")

	ep.ReceiveServiceUnadvertisement("add", "conn-2")
	if _, ok := ep.serviceProvider["add"]; !ok {
		t.Error("expected unadvertisement from a non-owning connection to be a no-op")
	}

	ep.ReceiveServiceUnadvertisement("add", "conn-1")
	if _, ok := ep.serviceProvider["add"]; ok {
		t.Error("expected unadvertisement from the owning connection to remove the provider")
	}
}

func TestCallService_UnknownServiceReturnsError(t *testing.T) {
	ep, _ := newTestEndpoint()
	client := &fakeServiceClient{}

	err := ep.CallService("nonexistent", 1, client, nil)
	if _, ok := err.(*UnknownRouteError); !ok {
		t.Fatalf("expected UnknownRouteError, got %v", err)
	}
}

func TestCallService_SendsToProviderConnection(t *testing.T) {
	ep, sender := newTestEndpoint()
	ep.ReceiveServiceAdvertisement("add", "int", "int", "conn-1")
	client := &fakeServiceClient{}

	if err := ep.CallService("add", 3, client, nil); err != nil {
		t.Fatalf("CallService: %v", err)
	}

	if len(sender.framesFor("conn-1")) != 1 {
		t.Fatal("expected exactly one call_service frame sent to the provider connection")
	}
	if len(ep.serviceRequest) != 1 {
		t.Errorf("expected 1 in-flight request recorded, got %d", len(ep.serviceRequest))
	}
}

func TestReceiveServiceResponse_RejectsMismatchedConnection(t *testing.T) {
	ep, _ := newTestEndpoint()
	ep.ReceiveServiceAdvertisement("add", "int", "int", "conn-1")
	client := &fakeServiceClient{}
	_ = ep.CallService("add", 3, client, nil)

	var id string
	for k := range ep.serviceRequest {
		id = k
	}

	ep.ReceiveServiceResponse("add", json.RawMessage(`4`), id, "conn-2")

	if len(client.responses) != 0 {
		t.Error("expected a response from an unexpected connection to be dropped")
	}
	if _, ok := ep.serviceRequest[id]; !ok {
		t.Error("expected ledger entry to survive a rejected response")
	}
}

func TestReceiveServiceResponse_DeliversAndClearsLedger(t *testing.T) {
	ep, _ := newTestEndpoint()
	ep.ReceiveServiceAdvertisement("add", "int", "int", "conn-1")
	client := &fakeServiceClient{}
	_ = ep.CallService("add", 3, client, nil)

	var id string
	for k := range ep.serviceRequest {
		id = k
	}

	ep.ReceiveServiceResponse("add", json.RawMessage(`4`), id, "conn-1")

	if len(client.responses) != 1 {
		t.Fatalf("expected 1 response delivered, got %d", len(client.responses))
	}
	if _, ok := ep.serviceRequest[id]; ok {
		t.Error("expected ledger entry to be removed after delivery")
	}
}

func TestCallService_MaxPendingCallsEvictsOldest(t *testing.T) {
	sender := newFakeSender()
	ep := New(encoding.NewJSONCodec(), sender, Options{MaxPendingCalls: 1})
	ep.ReceiveServiceAdvertisement("add", "int", "int", "conn-1")
	client := &fakeServiceClient{}

	_ = ep.CallService("add", 1, client, nil)
	_ = ep.CallService("add", 2, client, nil)

	if len(ep.serviceRequest) != 1 {
		t.Fatalf("expected ledger bounded to 1 entry, got %d", len(ep.serviceRequest))
	}
}

func TestHandleOpened_ReplaysStartupMessagesInOrder(t *testing.T) {
	ep, sender := newTestEndpoint()
	_ = ep.Subscribe("a", stringType("t"), func(json.RawMessage, transport.Handle) {}, nil)
	_ = ep.Subscribe("b", stringType("t"), func(json.RawMessage, transport.Handle) {}, nil)

	ep.HandleOpened("conn-1")

	frames := sender.framesFor("conn-1")
	if len(frames) != 2 {
		t.Fatalf("expected 2 replayed startup messages, got %d", len(frames))
	}
}

func TestHandleClosed_ClearsBlacklistListenersAndProviders_ButNotLedger(t *testing.T) {
	ep, _ := newTestEndpoint()
	_ = ep.Subscribe("sensors/temp", stringType("float64"), func(json.RawMessage, transport.Handle) {}, nil)
	ep.ReceiveTopicAdvertisement("sensors/temp", "string", "", "conn-1")

	pub := ep.Advertise("sensors/other", stringType("float64"), nil)
	_ = pub.Publish(1.0)
	ep.ReceiveSubscribeRequest("sensors/other", "float64", "sub-1", "conn-1")

	ep.ReceiveServiceAdvertisement("add", "int", "int", "conn-1")
	client := &fakeServiceClient{}
	_ = ep.CallService("add", 1, client, nil)

	ep.HandleClosed("conn-1")

	if _, blacklisted := ep.subscribeInfo["sensors/temp"].Blacklist["conn-1"]; blacklisted {
		t.Error("expected blacklist entry to be cleared on close")
	}
	if _, listening := ep.publishInfo["sensors/other"].Listeners["conn-1"]; listening {
		t.Error("expected listener entry to be cleared on close")
	}
	if _, ok := ep.serviceProvider["add"]; ok {
		t.Error("expected service provider to be cleared on close")
	}
	if len(ep.serviceRequest) != 1 {
		t.Error("expected the in-flight call ledger to survive connection close")
	}
}

func TestHandleFailed_LogsOncePerContiguousRun(t *testing.T) {
	ep, _ := newTestEndpoint()

	ep.HandleFailed("conn-1", errSendFailed)
	if !ep.failing["conn-1"] {
		t.Fatal("expected failing flag to be set")
	}

	ep.HandleFailed("conn-1", errSendFailed) // should not panic or double-count; flag stays true
	if !ep.failing["conn-1"] {
		t.Fatal("expected failing flag to remain set")
	}

	ep.HandleClosed("conn-1")
	if ep.failing["conn-1"] {
		t.Error("expected failing flag to be cleared on close")
	}
}

func TestCreateServiceProxy_ReregistrationOverwritesFieldsButKeepsConnection(t *testing.T) {
	ep, _ := newTestEndpoint()
	ep.ReceiveServiceAdvertisement("add", "int", "int", "conn-1")

	ep.CreateServiceProxy("add", stringType("float64"), stringType("float64"), json.RawMessage(`{"k":1}`))

	provider := ep.serviceProvider["add"]
	if provider.Connection != "conn-1" {
		t.Errorf("expected the remote-advertised connection to survive re-registration, got %v", provider.Connection)
	}
	if provider.ReqType != "float64" || provider.ReplyType != "float64" {
		t.Errorf("expected ReqType/ReplyType to be overwritten, got %q/%q", provider.ReqType, provider.ReplyType)
	}
	if string(provider.Configuration) != `{"k":1}` {
		t.Errorf("expected Configuration to be overwritten, got %s", provider.Configuration)
	}
}

func TestSnapshot_ReportsEveryRoutingTable(t *testing.T) {
	ep, _ := newTestEndpoint()
	_ = ep.Subscribe("sensors/temp", stringType("float64"), func(json.RawMessage, transport.Handle) {}, nil)
	pub := ep.Advertise("sensors/other", stringType("float64"), nil)
	_ = pub.Publish(1.0)
	ep.ReceiveSubscribeRequest("sensors/other", "float64", "sub-1", "conn-1")
	_ = ep.CreateClientProxy("greet", stringType("string"), stringType("string"), func(json.RawMessage, CallHandle) {}, nil)
	ep.ReceiveServiceAdvertisement("add", "int", "int", "conn-1")
	client := &fakeServiceClient{}
	_ = ep.CallService("add", 1, client, nil)

	snap := ep.Snapshot()

	if len(snap.SubscribedTopics) != 1 || snap.SubscribedTopics[0].Topic != "sensors/temp" {
		t.Errorf("expected 1 subscribed topic, got %+v", snap.SubscribedTopics)
	}
	if len(snap.AdvertisedTopics) != 1 || snap.AdvertisedTopics[0].ListenerCount != 1 {
		t.Errorf("expected 1 advertised topic with 1 listener, got %+v", snap.AdvertisedTopics)
	}
	if len(snap.ProvidedServices) != 1 || snap.ProvidedServices[0].Service != "greet" {
		t.Errorf("expected 1 provided service, got %+v", snap.ProvidedServices)
	}
	if len(snap.ProxiedServices) != 1 || snap.ProxiedServices[0].Provider != "conn-1" {
		t.Errorf("expected 1 proxied service bound to conn-1, got %+v", snap.ProxiedServices)
	}
	if snap.PendingCalls != 1 {
		t.Errorf("expected 1 pending call, got %d", snap.PendingCalls)
	}
}
