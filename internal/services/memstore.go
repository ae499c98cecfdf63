package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memServerTimestamp struct{}

type memDoc struct {
	fields map[string]any
	seq    int64
}

type memListener struct {
	*listener
	coll       string
	orderField string
	dir        Direction
	notify     chan struct{}
}

// MemoryStore is an in-process DocumentStore. Its server clock is strictly
// increasing, so timestamp ordering never ties.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]map[string]*memDoc
	listeners   map[*memListener]struct{}
	clock       time.Time
	seq         int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]*memDoc),
		listeners:   make(map[*memListener]struct{}),
	}
}

func (ms *MemoryStore) Close() error {
	ms.mu.Lock()
	listeners := make([]*memListener, 0, len(ms.listeners))
	for l := range ms.listeners {
		listeners = append(listeners, l)
	}
	ms.mu.Unlock()

	for _, l := range listeners {
		l.stop()
	}
	return nil
}

// now must be called with mu held.
func (ms *MemoryStore) now() time.Time {
	t := time.Now().UTC()
	if !t.After(ms.clock) {
		t = ms.clock.Add(time.Microsecond)
	}
	ms.clock = t
	return t
}

// resolveFields copies fields, replacing timestamp sentinels with ts.
func resolveFields(fields map[string]any, ts time.Time) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if _, ok := v.(memServerTimestamp); ok {
			out[k] = ts
			continue
		}
		out[k] = v
	}
	return out
}

func (ms *MemoryStore) AddDocument(ctx context.Context, p CollectionPath, data map[string]any) (WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return WriteResult{}, remoteErr("add document", err)
	}

	ms.mu.Lock()
	ts := ms.now()
	ms.seq++
	id := uuid.NewString()
	key := p.String()
	if ms.collections[key] == nil {
		ms.collections[key] = make(map[string]*memDoc)
	}
	ms.collections[key][id] = &memDoc{fields: resolveFields(data, ts), seq: ms.seq}
	ms.notifyLocked(key)
	ms.mu.Unlock()

	return WriteResult{ID: id, UpdateTime: ts}, nil
}

func (ms *MemoryStore) GetDocuments(ctx context.Context, p CollectionPath, orderField string, dir Direction) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, remoteErr("list documents", err)
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.queryLocked(p.String(), orderField, dir), nil
}

func (ms *MemoryStore) queryLocked(coll, orderField string, dir Direction) []Document {
	type entry struct {
		id  string
		doc *memDoc
	}

	var entries []entry
	for id, doc := range ms.collections[coll] {
		if _, ok := doc.fields[orderField]; !ok {
			continue
		}
		entries = append(entries, entry{id, doc})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		c := compareValues(entries[i].doc.fields[orderField], entries[j].doc.fields[orderField])
		if c == 0 {
			c = compareValues(entries[i].doc.seq, entries[j].doc.seq)
		}
		if dir == Desc {
			return c > 0
		}
		return c < 0
	})

	docs := make([]Document, 0, len(entries))
	for _, e := range entries {
		fields := make(map[string]any, len(e.doc.fields))
		for k, v := range e.doc.fields {
			fields[k] = v
		}
		docs = append(docs, Document{ID: e.id, Fields: fields})
	}
	return docs
}

func (ms *MemoryStore) Subscribe(ctx context.Context, p CollectionPath, orderField string, dir Direction, onChange SnapshotFunc, onError ErrorFunc) func() {
	base, ctx := newListener(ctx, onChange, onError)
	l := &memListener{
		listener:   base,
		coll:       p.String(),
		orderField: orderField,
		dir:        dir,
		notify:     make(chan struct{}, 1),
	}
	l.notify <- struct{}{}

	ms.mu.Lock()
	ms.listeners[l] = struct{}{}
	ms.mu.Unlock()

	go func() {
		defer func() {
			ms.mu.Lock()
			delete(ms.listeners, l)
			ms.mu.Unlock()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-l.notify:
				ms.mu.Lock()
				docs := ms.queryLocked(l.coll, l.orderField, l.dir)
				ms.mu.Unlock()
				l.snapshot(docs)
			}
		}
	}()

	return l.stop
}

func (ms *MemoryStore) notifyLocked(coll string) {
	for l := range ms.listeners {
		if l.coll != coll {
			continue
		}
		select {
		case l.notify <- struct{}{}:
		default:
		}
	}
}

// failListeners breaks every open channel with err, the way a dropped
// connection surfaces on a real listener.
func (ms *MemoryStore) failListeners(err error) {
	ms.mu.Lock()
	listeners := make([]*memListener, 0, len(ms.listeners))
	for l := range ms.listeners {
		listeners = append(listeners, l)
	}
	ms.mu.Unlock()

	for _, l := range listeners {
		l.fail(fmt.Errorf("%w: %w", ErrSubscriptionChannel, err))
	}
}

func (ms *MemoryStore) UpdateDocument(ctx context.Context, ref DocumentRef, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return remoteErr("update document", err)
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	key := ref.Parent.String()
	doc, ok := ms.collections[key][ref.ID]
	if !ok {
		return fmt.Errorf("failed to update document %s: %w", ref, ErrDocumentNotFound)
	}

	ts := ms.now()
	for k, v := range resolveFields(fields, ts) {
		doc.fields[k] = v
	}
	ms.notifyLocked(key)
	return nil
}

func (ms *MemoryStore) DeleteDocument(ctx context.Context, ref DocumentRef) error {
	if err := ctx.Err(); err != nil {
		return remoteErr("delete document", err)
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	key := ref.Parent.String()
	if _, ok := ms.collections[key][ref.ID]; !ok {
		log.Printf("memstore: delete of missing document %s", ref)
		return nil
	}
	delete(ms.collections[key], ref.ID)
	ms.notifyLocked(key)
	return nil
}

func (ms *MemoryStore) ServerTimestamp() any {
	return memServerTimestamp{}
}

func compareValues(a, b any) int {
	switch x := a.(type) {
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	case string:
		if y, ok := b.(string); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	case int64:
		if y, ok := b.(int64); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			}
			return 1
		}
	}
	return 0
}
