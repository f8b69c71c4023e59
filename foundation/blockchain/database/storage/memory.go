package storage

import (
	"sort"
	"strings"
	"sync"
)

// Memory represents the implementation for reading and storing the
// blockchain data in memory using a map. This implements the KVStore
// interface and is used by tests and nodes started without a data path.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory constructs a Memory value for use.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Close in this implementation has nothing to do since everything
// is in memory.
func (m *Memory) Close() error {
	return nil
}

// Get returns the value for the key or ErrNotFound.
func (m *Memory) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, exists := m.data[string(key)]
	if !exists {
		return nil, ErrNotFound
	}

	return append([]byte(nil), v...), nil
}

// Has reports whether the key exists.
func (m *Memory) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.data[string(key)]
	return exists, nil
}

// Put stores a copy of the value under the key.
func (m *Memory) Put(key []byte, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[string(key)] = append([]byte(nil), value...)
	return nil
}

// Delete removes the key.
func (m *Memory) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, string(key))
	return nil
}

// Len returns the number of keys held.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.data)
}

// NewBatch constructs a batch that is applied under a single lock.
func (m *Memory) NewBatch() Batch {
	return &memoryBatch{mem: m}
}

// NewIterator takes a snapshot of the keys that start with prefix and walks
// them in ascending order.
func (m *Memory) NewIterator(prefix []byte) Iterator {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p := string(prefix)
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, p) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = append([]byte(nil), m.data[k]...)
	}

	return &memoryIterator{keys: keys, values: values, pos: -1}
}

// =============================================================================

type memoryOp struct {
	key    string
	value  []byte
	delete bool
}

type memoryBatch struct {
	mem *Memory
	ops []memoryOp
}

func (b *memoryBatch) Put(key []byte, value []byte) {
	b.ops = append(b.ops, memoryOp{key: string(key), value: append([]byte(nil), value...)})
}

func (b *memoryBatch) Delete(key []byte) {
	b.ops = append(b.ops, memoryOp{key: string(key), delete: true})
}

func (b *memoryBatch) Len() int {
	return len(b.ops)
}

func (b *memoryBatch) Write() error {
	b.mem.mu.Lock()
	defer b.mem.mu.Unlock()

	for _, op := range b.ops {
		if op.delete {
			delete(b.mem.data, op.key)
			continue
		}
		b.mem.data[op.key] = op.value
	}
	b.ops = nil

	return nil
}

type memoryIterator struct {
	keys   []string
	values [][]byte
	pos    int
}

func (it *memoryIterator) Next() bool {
	it.pos++
	return it.pos < len(it.keys)
}

func (it *memoryIterator) Key() []byte   { return []byte(it.keys[it.pos]) }
func (it *memoryIterator) Value() []byte { return it.values[it.pos] }
func (it *memoryIterator) Error() error  { return nil }
func (it *memoryIterator) Release()      {}
