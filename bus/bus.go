// Package bus tracks WebSocket clients, named channels, and pending
// bridge calls, and broadcasts connector mutations to subscribers.
package bus

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/weftworks/weft/connector"
	"github.com/weftworks/weft/core"

	"github.com/oklog/ulid/v2"
)

// DefaultBridgeCallTimeout bounds how long an awaited bridge call may
// stay outstanding.
var DefaultBridgeCallTimeout = 30 * time.Second

// Channel is a named broadcast topic bound to one watched connector.
// Channels are static, derived once from the manifest.
type Channel struct {
	Name      string
	Connector string
	Event     string
}

// Bus is the notification hub.  All client, subscription, and
// pending-call state lives in one Bus instance with an explicit
// lifecycle; there are no package-level registries.
type Bus struct {
	// Timeout overrides DefaultBridgeCallTimeout when positive.
	Timeout time.Duration

	// Allow whitelists bridge APIs: group name to permitted
	// method names ("*" permits the whole group).  A group absent
	// from the map is unauthorized; a method absent from its
	// group's list is unknown.
	Allow map[string][]string

	// Coupling, if set, additionally receives every broadcast.
	// See the MQTT coupling in this package.
	Coupling func(channel Channel, payload interface{})

	Debug bool

	channels   map[string]Channel
	connectors map[string]connector.Connector

	mu      sync.Mutex
	clients map[string]*client
	subs    map[string]map[string]bool
	pending map[string]*pendingCall
	closed  bool
}

type pendingCall struct {
	clientID string
	result   chan callResult
}

type callResult struct {
	value interface{}
	err   error
}

// NewBus makes a Bus over the given channels and the connectors they
// watch.
func NewBus(channels []Channel, connectors map[string]connector.Connector) *Bus {
	chans := make(map[string]Channel, len(channels))
	for _, ch := range channels {
		chans[ch.Name] = ch
	}
	return &Bus{
		channels:   chans,
		connectors: connectors,
		clients:    make(map[string]*client),
		subs:       make(map[string]map[string]bool),
		pending:    make(map[string]*pendingCall),
	}
}

func (b *Bus) logf(format string, args ...interface{}) {
	if b.Debug {
		log.Printf("Bus "+format, args...)
	}
}

func (b *Bus) timeout() time.Duration {
	if b.Timeout > 0 {
		return b.Timeout
	}
	return DefaultBridgeCallTimeout
}

// Subscribe adds the client to the named channel's subscriber set.
// Unknown channels are a no-op, not an error.
func (b *Bus) Subscribe(clientID, channel string) {
	if _, have := b.channels[channel]; !have {
		b.logf("subscribe to unknown channel %q ignored", channel)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	set, have := b.subs[channel]
	if !have {
		set = make(map[string]bool)
		b.subs[channel] = set
	}
	set[clientID] = true
}

// NotifyOnWrite broadcasts the named connector's current value on
// every channel watching it.
//
// The initiator -- the client whose request caused the write -- is
// excluded: it already has the result from its own request/response
// cycle and must not receive a duplicate push.
func (b *Bus) NotifyOnWrite(ctx context.Context, connectorName, initiatorID string) error {
	for _, ch := range b.channels {
		if ch.Connector != connectorName {
			continue
		}

		c, have := b.connectors[connectorName]
		if !have {
			continue
		}
		value, err := c.Read(ctx)
		if err != nil {
			return err
		}

		if b.Coupling != nil {
			b.Coupling(ch, value)
		}

		b.mu.Lock()
		targets := make([]*client, 0, len(b.subs[ch.Name]))
		for id := range b.subs[ch.Name] {
			if id == initiatorID {
				continue
			}
			if cl, have := b.clients[id]; have {
				targets = append(targets, cl)
			}
		}
		b.mu.Unlock()

		for _, cl := range targets {
			cl.deliver(broadcastFrame{Event: ch.Event, Payload: value})
		}
		broadcastsTotal.WithLabelValues(ch.Name).Add(float64(len(targets)))
	}
	return nil
}

// AwaitableBridgeCall sends the call to the target client and blocks
// until that client replies with a matching call id, the client
// disconnects, the timeout fires, or ctx is done.
func (b *Bus) AwaitableBridgeCall(ctx context.Context, clientID string, call core.BridgeCall) (interface{}, error) {
	if err := b.authorize(call.API); err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrShutdown
	}
	cl, have := b.clients[clientID]
	if !have {
		b.mu.Unlock()
		return nil, &ClientGone{clientID}
	}
	callID := ulid.Make().String()
	pc := &pendingCall{
		clientID: clientID,
		result:   make(chan callResult, 1),
	}
	b.pending[callID] = pc
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, callID)
		b.mu.Unlock()
	}()

	cl.deliver(serverFrame{
		Type: "awaitable_bridge_call",
		Payload: &bridgeCallFrame{
			CallID: callID,
			API:    call.API,
			Args:   call.Args,
		},
	})

	select {
	case res := <-pc.result:
		return res.value, res.err
	case <-time.After(b.timeout()):
		bridgeTimeoutsTotal.Inc()
		return nil, &BridgeTimeout{call.API}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// authorize checks the call against the whitelist.
func (b *Bus) authorize(api string) error {
	group, method, ok := strings.Cut(api, ".")
	if !ok {
		return &UnknownAPI{api}
	}
	methods, have := b.Allow[group]
	if !have {
		return &UnauthorizedAPI{api}
	}
	for _, m := range methods {
		if m == "*" || m == method {
			return nil
		}
	}
	return &UnknownAPI{api}
}

// resolve satisfies a pending call with the client's response.  A
// response with an unknown call id (late, or duplicated) is dropped.
func (b *Bus) resolve(callID string, result interface{}) {
	b.mu.Lock()
	pc, have := b.pending[callID]
	if have {
		delete(b.pending, callID)
	}
	b.mu.Unlock()

	if !have {
		b.logf("bridge response for unknown call %q dropped", callID)
		return
	}
	pc.result <- callResult{value: result}
}

func (b *Bus) register(cl *client) {
	b.mu.Lock()
	b.clients[cl.id] = cl
	b.mu.Unlock()
}

// disconnect removes the client from all channel subscriptions and
// rejects its still-pending bridge calls so no caller leaks.
func (b *Bus) disconnect(clientID string) {
	b.mu.Lock()
	delete(b.clients, clientID)
	for _, set := range b.subs {
		delete(set, clientID)
	}
	var orphaned []*pendingCall
	for callID, pc := range b.pending {
		if pc.clientID == clientID {
			orphaned = append(orphaned, pc)
			delete(b.pending, callID)
		}
	}
	b.mu.Unlock()

	for _, pc := range orphaned {
		pc.result <- callResult{err: &ClientGone{clientID}}
	}
}

// Shutdown rejects every pending bridge call and closes all client
// connections.  The Bus accepts nothing afterward.
func (b *Bus) Shutdown(ctx context.Context) {
	b.mu.Lock()
	b.closed = true
	pending := b.pending
	b.pending = make(map[string]*pendingCall)
	clients := make([]*client, 0, len(b.clients))
	for _, cl := range b.clients {
		clients = append(clients, cl)
	}
	b.clients = make(map[string]*client)
	b.subs = make(map[string]map[string]bool)
	b.mu.Unlock()

	for _, pc := range pending {
		pc.result <- callResult{err: ErrShutdown}
	}
	for _, cl := range clients {
		cl.close()
	}
}
