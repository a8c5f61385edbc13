package state

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"vestvault/core/events"
	"vestvault/storage"
)

// ErrReadOnly is returned when a write is attempted inside Manager.View.
var ErrReadOnly = errors.New("state: read-only transaction")

// Manager serialises custody operations over a key-value database. Every
// Update runs against an overlay that is committed as a single batch, so an
// operation either applies all of its writes and notifications or none.
type Manager struct {
	mu      sync.RWMutex
	db      storage.Database
	emitter events.Emitter
}

// NewManager creates a state manager persisting into db.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the sink receiving events after each commit.
func (m *Manager) SetEmitter(emitter events.Emitter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if emitter == nil {
		m.emitter = events.NoopEmitter{}
		return
	}
	m.emitter = emitter
}

// Update executes fn in a read-write transaction. Writes and buffered events are
// discarded when fn returns an error.
func (m *Manager) Update(fn func(*Txn) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn := newTxn(m.db, false)
	if err := fn(txn); err != nil {
		return err
	}
	if err := txn.commit(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	txn.events.Flush(m.emitter)
	return nil
}

// View executes fn in a read-only transaction.
func (m *Manager) View(fn func(*Txn) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(newTxn(m.db, true))
}

// Txn is the per-operation view of state. Reads see the transaction's own
// pending writes.
type Txn struct {
	db       storage.Database
	readOnly bool
	// pending maps key to value; a nil value marks a deletion.
	pending map[string][]byte
	events  *events.Buffer
}

func newTxn(db storage.Database, readOnly bool) *Txn {
	return &Txn{db: db, readOnly: readOnly, pending: make(map[string][]byte), events: new(events.Buffer)}
}

// Emit buffers an event until the transaction commits.
func (t *Txn) Emit(e events.Event) {
	if t.readOnly {
		return
	}
	t.events.Emit(e)
}

func (t *Txn) get(key []byte) ([]byte, bool, error) {
	if value, ok := t.pending[string(key)]; ok {
		if value == nil {
			return nil, false, nil
		}
		return value, true, nil
	}
	value, err := t.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (t *Txn) put(key, value []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if value == nil {
		value = []byte{}
	}
	t.pending[string(key)] = value
	return nil
}

func (t *Txn) delete(key []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	t.pending[string(key)] = nil
	return nil
}

func (t *Txn) commit() error {
	if len(t.pending) == 0 {
		return nil
	}
	keys := make([]string, 0, len(t.pending))
	for k := range t.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	batch := t.db.NewBatch()
	for _, k := range keys {
		if value := t.pending[k]; value == nil {
			batch.Delete([]byte(k))
		} else {
			batch.Put([]byte(k), value)
		}
	}
	return batch.Write()
}

// PutRecord RLP-encodes value under key.
func (t *Txn) PutRecord(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return t.put(key, encoded)
}

// GetRecord decodes the record stored under key into out. The boolean reports
// whether the record exists.
func (t *Txn) GetRecord(key []byte, out interface{}) (bool, error) {
	data, ok, err := t.get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// HasRecord reports whether key holds a record.
func (t *Txn) HasRecord(key []byte) (bool, error) {
	_, ok, err := t.get(key)
	return ok, err
}

// DeleteRecord removes the record under key.
func (t *Txn) DeleteRecord(key []byte) error {
	return t.delete(key)
}

// IterateRecords visits every record under prefix, merging committed state with
// the transaction's pending writes, in ascending key order.
func (t *Txn) IterateRecords(prefix []byte, fn func(key, value []byte) error) error {
	merged := make(map[string][]byte)
	if err := t.db.Iterate(prefix, func(key, value []byte) error {
		merged[string(key)] = value
		return nil
	}); err != nil {
		return err
	}
	for k, v := range t.pending {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn([]byte(k), merged[k]); err != nil {
			return err
		}
	}
	return nil
}

// RecordPrefix returns the key prefix shared by every record of namespace.
func RecordPrefix(namespace string) []byte {
	return []byte(namespace + "/")
}

// RecordKey hashes id under the namespace prefix. Keys stay iterable per
// namespace while their suffix has a fixed width.
func RecordKey(namespace string, id []byte) []byte {
	prefix := RecordPrefix(namespace)
	buf := make([]byte, 0, len(prefix)+32)
	buf = append(buf, prefix...)
	return append(buf, ethcrypto.Keccak256(id)...)
}

// DecodeRecord decodes a value produced by IterateRecords.
func DecodeRecord(data []byte, out interface{}) error {
	return rlp.DecodeBytes(data, out)
}
