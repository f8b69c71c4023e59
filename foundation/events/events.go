// Package events allows for the registering and receiving of events.
package events

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/taucoin/blockchain/foundation/blockchain/listener"
)

// busID is the subscription name used on the chain event bus.
const busID = "events"

// Events maintains a mapping of unique id and channels so goroutines
// can register and receive events.
type Events struct {
	m  map[string]chan string
	mu sync.RWMutex

	bus *listener.Bus
	wg  sync.WaitGroup
}

// New constructs an events for registering and receiving events.
func New() *Events {
	return &Events{
		m: make(map[string]chan string),
	}
}

// Forward relays every chain event published on the bus to the registered
// channels as a JSON document.
func (evt *Events) Forward(bus *listener.Bus) {
	evt.mu.Lock()
	evt.bus = bus
	evt.mu.Unlock()

	ch := bus.Subscribe(busID)

	evt.wg.Add(1)
	go func() {
		defer evt.wg.Done()
		for ev := range ch {
			evt.Send(Format(ev))
		}
	}()
}

// Shutdown closes and removes all channels that were provided by
// the call to Acquire.
func (evt *Events) Shutdown() {
	evt.mu.Lock()
	bus := evt.bus
	evt.bus = nil
	evt.mu.Unlock()

	if bus != nil {
		bus.Unsubscribe(busID)
		evt.wg.Wait()
	}

	evt.mu.Lock()
	defer evt.mu.Unlock()

	for id, ch := range evt.m {
		delete(evt.m, id)
		close(ch)
	}
}

// Acquire takes a unique id and returns a channel that can be used
// to receive events.
func (evt *Events) Acquire(id string) chan string {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	ch, exists := evt.m[id]
	if exists {
		return ch
	}

	// Since a message will be dropped if the websocket receiver is
	// not ready to receive, this arbitrary buffer should give the receiver
	// enough time to not lose a message. Websocket send could take long.
	const messageBuffer = 100

	evt.m[id] = make(chan string, messageBuffer)
	return evt.m[id]
}

// Release closes and removes the channel that was provided by
// the call to Acquire.
func (evt *Events) Release(id string) error {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	ch, exists := evt.m[id]
	if !exists {
		return fmt.Errorf("id %q does not exist", id)
	}

	delete(evt.m, id)
	close(ch)
	return nil
}

// Send signals a message to ever registered channel. Send will not block
// waiting for a receiver on any given channel.
func (evt *Events) Send(s string) {
	evt.mu.RLock()
	defer evt.mu.RUnlock()

	for _, ch := range evt.m {
		select {
		case ch <- s:
		default:
		}
	}
}

// =============================================================================

type message struct {
	Kind     string `json:"kind"`
	Block    string `json:"block,omitempty"`
	Number   uint64 `json:"number,omitempty"`
	Txs      int    `json:"txs,omitempty"`
	Interval int64  `json:"interval,omitempty"`
	Status   string `json:"status,omitempty"`
	Power    string `json:"power,omitempty"`
	Hit      string `json:"hit,omitempty"`
}

// Format renders a chain event as the JSON document sent to clients.
func Format(ev listener.Event) string {
	msg := message{
		Kind:     ev.Kind.String(),
		Txs:      len(ev.Transactions),
		Interval: ev.Interval,
		Status:   ev.Status,
	}

	if ev.Block != nil {
		msg.Block = ev.Block.HashHex()
		msg.Number = ev.Block.Number
		msg.Txs = len(ev.Block.Transactions)
	}

	if ev.Detail != nil {
		msg.Power = ev.Detail.Power
		msg.Hit = ev.Detail.Hit
		msg.Interval = ev.Detail.Interval
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Sprintf(`{"kind":%q}`, msg.Kind)
	}
	return string(data)
}
