package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nguyentranbao-ct/chat-replica/internal/bus"
	"github.com/nguyentranbao-ct/chat-replica/internal/models"
	"github.com/nguyentranbao-ct/chat-replica/pkg/logger/log"
)

var _ Store = (*Memory)(nil)

type memoryCollection struct {
	schema  models.Schema
	docs    map[string]models.Document
	order   map[string]int64
	pending map[string]int64
}

// Memory is a process local Store.
type Memory struct {
	mu    sync.RWMutex
	colls map[string]*memoryCollection
	seq   int64
	bus   *bus.Bus
}

func NewMemory(b *bus.Bus) *Memory {
	return &Memory{
		colls: make(map[string]*memoryCollection),
		bus:   b,
	}
}

func (m *Memory) CreateCollection(ctx context.Context, name string, schema models.Schema) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.colls[name]; ok {
		c.schema = schema
		return nil
	}
	m.colls[name] = &memoryCollection{
		schema:  schema,
		docs:    make(map[string]models.Document),
		order:   make(map[string]int64),
		pending: make(map[string]int64),
	}
	return nil
}

func (m *Memory) HasCollection(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.colls[name]
	return ok
}

func (m *Memory) collection(name string) (*memoryCollection, error) {
	c, ok := m.colls[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownCollection, name)
	}
	return c, nil
}

func (m *Memory) nextSeq() int64 {
	m.seq++
	return m.seq
}

func (m *Memory) Insert(ctx context.Context, collection string, doc models.Document) error {
	id := doc.ID()
	if id == "" {
		return models.ErrMissingID
	}

	m.mu.Lock()
	c, err := m.collection(collection)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if _, ok := c.docs[id]; ok {
		m.mu.Unlock()
		return fmt.Errorf("insert %s/%s: %w", collection, id, models.ErrAlreadyExists)
	}
	stored := doc.Clone()
	seq := m.nextSeq()
	c.docs[id] = stored
	c.order[id] = seq
	c.pending[id] = seq
	m.mu.Unlock()

	m.publish(ctx, collection, bus.OpInsert, bus.OriginLocal, stored)
	return nil
}

func (m *Memory) Update(ctx context.Context, collection, id string, mut Mutation) (models.Document, error) {
	m.mu.Lock()
	c, err := m.collection(collection)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	current, ok := c.docs[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("update %s/%s: %w", collection, id, models.ErrNotFound)
	}
	updated := current.Clone()
	for k, v := range mut.Set {
		updated[k] = v
	}
	for k, v := range mut.Push {
		updated[k] = appendValue(updated[k], v)
	}
	updated = updated.Clone()
	c.docs[id] = updated
	c.pending[id] = m.nextSeq()
	m.mu.Unlock()

	m.publish(ctx, collection, bus.OpUpdate, bus.OriginLocal, updated)
	return updated.Clone(), nil
}

func appendValue(existing any, v any) []any {
	switch arr := existing.(type) {
	case []any:
		out := make([]any, 0, len(arr)+1)
		out = append(out, arr...)
		return append(out, v)
	case []string:
		out := make([]any, 0, len(arr)+1)
		for _, s := range arr {
			out = append(out, s)
		}
		return append(out, v)
	case nil:
		return []any{v}
	default:
		return []any{arr, v}
	}
}

func (m *Memory) FindOne(ctx context.Context, collection string, q Query) (models.Document, error) {
	q.Limit = 1
	docs, err := m.Find(ctx, collection, q)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, models.ErrNotFound
	}
	return docs[0], nil
}

func (m *Memory) Find(ctx context.Context, collection string, q Query) ([]models.Document, error) {
	m.mu.RLock()
	c, err := m.collection(collection)
	if err != nil {
		m.mu.RUnlock()
		return nil, err
	}

	type row struct {
		doc   models.Document
		order int64
	}
	deleted := c.schema.DeletedField
	if _, ok := q.Selector[deleted]; ok {
		deleted = ""
	}
	rows := make([]row, 0, len(c.docs))
	for id, doc := range c.docs {
		if deleted != "" && doc.Bool(deleted) {
			continue
		}
		if !matches(doc, q.Selector) {
			continue
		}
		rows = append(rows, row{doc: doc.Clone(), order: c.order[id]})
	}
	m.mu.RUnlock()

	sort.SliceStable(rows, func(i, j int) bool {
		for _, s := range q.Sort {
			cmp := compareValues(rows[i].doc[s.Field], rows[j].doc[s.Field])
			if cmp == 0 {
				continue
			}
			if s.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return rows[i].order < rows[j].order
	})

	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	out := make([]models.Document, len(rows))
	for i, r := range rows {
		out[i] = r.doc
	}
	return out, nil
}

func (m *Memory) ApplyCanonical(ctx context.Context, collection string, doc models.Document) (bool, error) {
	id := doc.ID()
	if id == "" {
		return false, models.ErrMissingID
	}

	m.mu.Lock()
	c, err := m.collection(collection)
	if err != nil {
		m.mu.Unlock()
		return false, err
	}
	if _, ok := c.pending[id]; ok {
		m.mu.Unlock()
		return false, nil
	}
	op := bus.OpUpdate
	if _, ok := c.docs[id]; !ok {
		op = bus.OpInsert
		c.order[id] = m.nextSeq()
	}
	stored := doc.Clone()
	c.docs[id] = stored
	m.mu.Unlock()

	m.publish(ctx, collection, op, bus.OriginReplication, stored)
	return true, nil
}

func (m *Memory) Settle(ctx context.Context, collection string, p Pending, doc models.Document) (bool, error) {
	id := p.Document.ID()

	m.mu.Lock()
	c, err := m.collection(collection)
	if err != nil {
		m.mu.Unlock()
		return false, err
	}
	if seq, ok := c.pending[id]; !ok || seq != p.Seq {
		m.mu.Unlock()
		return false, nil
	}
	stored := doc.Clone()
	c.docs[id] = stored
	delete(c.pending, id)
	m.mu.Unlock()

	m.publish(ctx, collection, bus.OpUpdate, bus.OriginReplication, stored)
	return true, nil
}

func (m *Memory) Unsynced(ctx context.Context, collection string, limit int) ([]Pending, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, err := m.collection(collection)
	if err != nil {
		return nil, err
	}

	out := make([]Pending, 0, len(c.pending))
	for id, seq := range c.pending {
		out = append(out, Pending{Document: c.docs[id].Clone(), Seq: seq})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) MarkSynced(ctx context.Context, collection string, pending []Pending) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.collection(collection)
	if err != nil {
		return err
	}
	for _, p := range pending {
		id := p.Document.ID()
		if seq, ok := c.pending[id]; ok && seq == p.Seq {
			delete(c.pending, id)
		}
	}
	return nil
}

func (m *Memory) publish(ctx context.Context, collection string, op bus.Operation, origin bus.Origin, doc models.Document) {
	if m.bus == nil {
		return
	}
	err := m.bus.Publish(ctx, bus.ChangeEvent{
		Collection: collection,
		Operation:  op,
		Origin:     origin,
		Document:   doc.Clone(),
	})
	if err != nil {
		log.Warnw(ctx, "Failed to publish change event", "collection", collection, "id", doc.ID(), "error", err)
	}
}
