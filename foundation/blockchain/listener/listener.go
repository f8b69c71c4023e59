// Package listener delivers chain events to any number of subscribers. Each
// event is a tagged value sent over a channel so the core never calls into
// its consumers.
package listener

import (
	"fmt"
	"sync"

	"github.com/taucoin/blockchain/foundation/blockchain/database"
)

// Kind identifies the type of an event.
type Kind int

// Set of event kinds published by the chain, the forger and the sync
// manager.
const (
	Block Kind = iota + 1
	BlockConnected
	BlockDisconnected
	SyncDone
	PendingTransactionsReceived
	TransactionExecuted
	ForgingStarted
	ForgingStopped
	BlockForged
	NextBlockForgedInterval
	NextBlockForgedDetail
	ForgingStatus
)

var kindNames = map[Kind]string{
	Block:                       "block",
	BlockConnected:              "block_connected",
	BlockDisconnected:           "block_disconnected",
	SyncDone:                    "sync_done",
	PendingTransactionsReceived: "pending_transactions_received",
	TransactionExecuted:         "transaction_executed",
	ForgingStarted:              "forging_started",
	ForgingStopped:              "forging_stopped",
	BlockForged:                 "block_forged",
	NextBlockForgedInterval:     "next_block_forged_interval",
	NextBlockForgedDetail:       "next_block_forged_detail",
	ForgingStatus:               "forging_status",
}

// String implements the fmt.Stringer interface.
func (k Kind) String() string {
	if n, exists := kindNames[k]; exists {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ForgeDetail describes the next forging round.
type ForgeDetail struct {
	BaseTarget string
	GenSig     []byte
	Power      string
	Hit        string
	Interval   int64
}

// Event is one notification. Only the fields that belong to the kind are
// set.
type Event struct {
	Kind         Kind
	Block        *database.Block
	Transactions []*database.Transaction
	Outcome      any
	Interval     int64
	Detail       *ForgeDetail
	Status       string
}

// =============================================================================

// Bus maintains the subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]chan Event
}

// New constructs a bus without subscribers.
func New() *Bus {
	return &Bus{
		subs: make(map[string]chan Event),
	}
}

// Subscribe returns the channel that receives events for the id. Calling it
// again with the same id returns the same channel.
func (b *Bus) Subscribe(id string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, exists := b.subs[id]; exists {
		return ch
	}

	// Events are dropped for a subscriber that falls this far behind.
	const eventBuffer = 256

	ch := make(chan Event, eventBuffer)
	b.subs[id] = ch

	return ch
}

// Unsubscribe closes and removes the channel for the id.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, exists := b.subs[id]; exists {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish sends the event to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Shutdown closes every subscriber channel.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
