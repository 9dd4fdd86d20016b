package mirror

import (
	"context"
	"maps"
	"sort"
	"sync"

	"github.com/stacklok/inventory-mirror/internal/resource"
)

type memoryKey struct {
	scope resource.Scope
	id    string
}

// MemoryStore keeps mirror tables in process memory. It backs dry runs.
type MemoryStore struct {
	mu          sync.RWMutex
	tablePrefix string
	tables      map[string]map[memoryKey]resource.Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := applyOptions(opts)
	return &MemoryStore{
		tablePrefix: o.tablePrefix,
		tables:      make(map[string]map[memoryKey]resource.Record),
	}
}

// EnsureTable implements Store
func (m *MemoryStore) EnsureTable(_ context.Context, kind resource.Kind) error {
	name, err := tableName(m.tablePrefix, kind)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[name]; !ok {
		m.tables[name] = make(map[memoryKey]resource.Record)
	}
	return nil
}

// Upsert implements Store
func (m *MemoryStore) Upsert(_ context.Context, kind resource.Kind, rec *resource.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	table, err := m.table(kind)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := cloneRecord(*rec)
	stored.ObservedAt = rec.ObservedAt.UTC()
	table[memoryKey{scope: rec.Scope, id: rec.ID}] = stored
	return nil
}

// Sweep implements Store
func (m *MemoryStore) Sweep(_ context.Context, kind resource.Kind, scope resource.Scope, seen map[string]struct{}) (int64, error) {
	table, err := m.table(kind)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for key := range table {
		if key.scope != scope {
			continue
		}
		if _, ok := seen[key.id]; ok {
			continue
		}
		delete(table, key)
		deleted++
	}
	return deleted, nil
}

// ListIDs implements Store
func (m *MemoryStore) ListIDs(_ context.Context, kind resource.Kind, scope resource.Scope) ([]string, error) {
	table, err := m.table(kind)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := []string{}
	for key := range table {
		if key.scope == scope {
			ids = append(ids, key.id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Ping implements Store
func (*MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Records returns a copy of the rows mirrored for scope, ordered by id
func (m *MemoryStore) Records(kind resource.Kind, scope resource.Scope) []resource.Record {
	name, err := tableName(m.tablePrefix, kind)
	if err != nil {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []resource.Record
	for key, rec := range m.tables[name] {
		if key.scope == scope {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// table returns the table for kind, creating it on first use
func (m *MemoryStore) table(kind resource.Kind) (map[memoryKey]resource.Record, error) {
	name, err := tableName(m.tablePrefix, kind)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[name]
	if !ok {
		t = make(map[memoryKey]resource.Record)
		m.tables[name] = t
	}
	return t, nil
}

// cloneRecord copies rec so that neither side shares the attribute map or the creation time
func cloneRecord(rec resource.Record) resource.Record {
	rec.Attributes = maps.Clone(rec.Attributes)
	if rec.TimeCreated != nil {
		created := *rec.TimeCreated
		rec.TimeCreated = &created
	}
	return rec
}
