package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"ripple-trading/internal/types"
)

// Memory is an in-process Store. Transactions are serialized behind a
// single mutex and rolled back from a snapshot on error, so the
// isolation guarantees are strictly stronger than the postgres
// backend's. Used by tests and by dev mode when no DB_DSN is set.
type Memory struct {
	mu   sync.RWMutex
	data map[string]map[string]Doc
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string]Doc)}
}

func (m *Memory) Get(ctx context.Context, collection, id string) (Doc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(collection, id)
}

func (m *Memory) Query(ctx context.Context, collection string, filter Filter) ([]Doc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queryLocked(collection, filter)
}

func (m *Memory) Put(ctx context.Context, collection, id string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(collection, id, data)
	return nil
}

func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(collection, id)
}

func (m *Memory) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.clone()
	if err := fn(ctx, &memoryTx{m: m}); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

// memoryTx operates on the already-locked store; reads observe writes
// made earlier in the same transaction.
type memoryTx struct {
	m *Memory
}

func (t *memoryTx) Get(ctx context.Context, collection, id string) (Doc, error) {
	return t.m.getLocked(collection, id)
}

func (t *memoryTx) Query(ctx context.Context, collection string, filter Filter) ([]Doc, error) {
	return t.m.queryLocked(collection, filter)
}

func (t *memoryTx) Put(ctx context.Context, collection, id string, data []byte) error {
	t.m.putLocked(collection, id, data)
	return nil
}

func (t *memoryTx) Delete(ctx context.Context, collection, id string) error {
	return t.m.deleteLocked(collection, id)
}

func (m *Memory) getLocked(collection, id string) (Doc, error) {
	col, ok := m.data[collection]
	if !ok {
		return Doc{}, fmt.Errorf("%s/%s: %w", collection, id, types.ErrNotFound)
	}
	doc, ok := col[id]
	if !ok {
		return Doc{}, fmt.Errorf("%s/%s: %w", collection, id, types.ErrNotFound)
	}
	return copyDoc(doc), nil
}

func (m *Memory) queryLocked(collection string, filter Filter) ([]Doc, error) {
	col := m.data[collection]
	out := make([]Doc, 0, len(col))
	for _, doc := range col {
		ok, err := matchFilter(doc.Data, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, copyDoc(doc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) putLocked(collection, id string, data []byte) {
	col, ok := m.data[collection]
	if !ok {
		col = make(map[string]Doc)
		m.data[collection] = col
	}
	col[id] = Doc{ID: id, Data: append([]byte(nil), data...), UpdatedAt: time.Now().UTC()}
}

func (m *Memory) deleteLocked(collection, id string) error {
	col, ok := m.data[collection]
	if !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, types.ErrNotFound)
	}
	if _, ok := col[id]; !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, types.ErrNotFound)
	}
	delete(col, id)
	return nil
}

func (m *Memory) clone() map[string]map[string]Doc {
	out := make(map[string]map[string]Doc, len(m.data))
	for name, col := range m.data {
		c := make(map[string]Doc, len(col))
		for id, doc := range col {
			c[id] = copyDoc(doc)
		}
		out[name] = c
	}
	return out
}

func copyDoc(d Doc) Doc {
	return Doc{ID: d.ID, Data: append([]byte(nil), d.Data...), UpdatedAt: d.UpdatedAt}
}

func matchFilter(data []byte, filter Filter) (bool, error) {
	if len(filter) == 0 {
		return true, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return false, err
	}
	for key, want := range filter {
		got, ok := fields[key]
		if !ok {
			return false, nil
		}
		wantJSON, err := json.Marshal(want)
		if err != nil {
			return false, err
		}
		if !bytes.Equal(bytes.TrimSpace(got), wantJSON) {
			return false, nil
		}
	}
	return true, nil
}
