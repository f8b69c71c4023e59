package chainsync

import (
	"sort"
	"sync"

	"github.com/taucoin/blockchain/foundation/blockchain/database"
)

// hashStore is a deque of block hashes still to be downloaded.
type hashStore struct {
	mu     sync.Mutex
	hashes [][]byte
}

func (hs *hashStore) addFirst(hash []byte) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	hs.hashes = append([][]byte{hash}, hs.hashes...)
}

func (hs *hashStore) addFirstBatch(hashes [][]byte) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	front := make([][]byte, 0, len(hashes)+len(hs.hashes))
	front = append(front, hashes...)
	hs.hashes = append(front, hs.hashes...)
}

func (hs *hashStore) addBatch(hashes [][]byte) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	hs.hashes = append(hs.hashes, hashes...)
}

func (hs *hashStore) pollBatch(qty int) [][]byte {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	qty = min(qty, len(hs.hashes))
	batch := make([][]byte, qty)
	copy(batch, hs.hashes[:qty])
	hs.hashes = hs.hashes[qty:]

	return batch
}

// removeAll drops the hashes of blocks that have arrived.
func (hs *hashStore) removeAll(hashes [][]byte) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	drop := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		drop[string(h)] = struct{}{}
	}

	kept := hs.hashes[:0]
	for _, h := range hs.hashes {
		if _, exists := drop[string(h)]; !exists {
			kept = append(kept, h)
		}
	}
	hs.hashes = kept
}

func (hs *hashStore) size() int {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	return len(hs.hashes)
}

func (hs *hashStore) clear() {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	hs.hashes = nil
}

// =============================================================================

// headerStore holds the headers of blocks still to be downloaded.
type headerStore struct {
	mu      sync.Mutex
	headers []database.BlockHeader
}

func (hs *headerStore) addBatch(headers []database.BlockHeader) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	hs.headers = append(hs.headers, headers...)
}

func (hs *headerStore) pollBatch(qty int) []database.BlockHeader {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	qty = min(qty, len(hs.headers))
	batch := make([]database.BlockHeader, qty)
	copy(batch, hs.headers[:qty])
	hs.headers = hs.headers[qty:]

	return batch
}

func (hs *headerStore) size() int {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	return len(hs.headers)
}

func (hs *headerStore) clear() {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	hs.headers = nil
}

// =============================================================================

// numberStore is the ordered set of block numbers still to be downloaded.
type numberStore struct {
	mu      sync.Mutex
	numbers map[uint64]struct{}
}

func newNumberStore() *numberStore {
	return &numberStore{numbers: make(map[uint64]struct{})}
}

func (ns *numberStore) addBatch(numbers []uint64) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	for _, n := range numbers {
		ns.numbers[n] = struct{}{}
	}
}

// pollBatch removes and returns the qty lowest numbers.
func (ns *numberStore) pollBatch(qty int) []uint64 {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	all := make([]uint64, 0, len(ns.numbers))
	for n := range ns.numbers {
		all = append(all, n)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })

	qty = min(qty, len(all))
	batch := all[:qty]
	for _, n := range batch {
		delete(ns.numbers, n)
	}

	return batch
}

func (ns *numberStore) size() int {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	return len(ns.numbers)
}

func (ns *numberStore) clear() {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	ns.numbers = make(map[uint64]struct{})
}
