// Package kb is the in-memory knowledge base of tracked objects. It keeps
// every ingested record, the per-category sinks and the latest-per-object
// index, and notifies subscribers when the contents change.
package kb

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/orbit-tracker/internal/storage"
	"github.com/signalsfoundry/orbit-tracker/model"
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	// EventIngested is emitted after InsertMany commits.
	EventIngested EventType = iota
	// EventWiped is emitted after DeleteAll clears the store.
	EventWiped
)

func (t EventType) String() string {
	switch t {
	case EventIngested:
		return "ingested"
	case EventWiped:
		return "wiped"
	default:
		return "unknown"
	}
}

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type    EventType
	Records []model.Record
}

// recordKey identifies a stored record. Two inserts with the same key are
// the same observation and the later one wins.
type recordKey struct {
	name  string
	epoch int64 // unix nanoseconds
}

func keyOf(set model.ElementSet) recordKey {
	return recordKey{name: set.Identity(), epoch: set.Epoch.UnixNano()}
}

// KnowledgeBase is an in-memory, thread-safe implementation of
// storage.Store.
type KnowledgeBase struct {
	mu sync.RWMutex

	seq     uint64
	records map[recordKey]model.Record
	latest  map[string]recordKey
	newest  recordKey
	sinks   map[model.Category]map[recordKey]struct{}

	now func() time.Time

	subs   map[int]func(Event)
	nextID int
}

var _ storage.Store = (*KnowledgeBase)(nil)

// Option customises a KnowledgeBase.
type Option func(*KnowledgeBase)

// WithClock overrides the ingestion timestamp source.
func WithClock(now func() time.Time) Option {
	return func(kb *KnowledgeBase) { kb.now = now }
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase(opts ...Option) *KnowledgeBase {
	kb := &KnowledgeBase{
		records: make(map[recordKey]model.Record),
		latest:  make(map[string]recordKey),
		sinks:   newSinks(),
		now:     time.Now,
		subs:    make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(kb)
	}
	return kb
}

func newSinks() map[model.Category]map[recordKey]struct{} {
	sinks := make(map[model.Category]map[recordKey]struct{}, len(model.Categories()))
	for _, c := range model.Categories() {
		sinks[c] = make(map[recordKey]struct{})
	}
	return sinks
}

// InsertMany stores objs as one atomic step and returns the stored records
// with their sequence numbers. Nothing is stored if any object is invalid.
func (kb *KnowledgeBase) InsertMany(ctx context.Context, objs []model.TrackedObject) ([]model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.Wrap("insert", err)
	}
	for _, obj := range objs {
		if err := storage.Validate(obj); err != nil {
			return nil, storage.Wrap("insert", err)
		}
	}

	kb.mu.Lock()
	now := kb.now().UTC()
	out := make([]model.Record, 0, len(objs))
	for _, obj := range objs {
		kb.seq++
		rec := model.Record{TrackedObject: obj, Seq: kb.seq, IngestedAt: now}
		key := keyOf(obj.ElementSet)

		if prev, ok := kb.records[key]; ok {
			delete(kb.sinks[prev.Category], key)
		}
		kb.records[key] = rec
		kb.sinks[rec.Category][key] = struct{}{}
		kb.newest = key

		if cur, ok := kb.latest[key.name]; !ok || rec.Newer(kb.records[cur]) || cur == key {
			kb.latest[key.name] = key
		}
		out = append(out, rec)
	}
	event := Event{Type: EventIngested, Records: append([]model.Record(nil), out...)}
	subs := kb.subscribers()
	kb.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	for _, sub := range subs {
		sub(event)
	}
	return out, nil
}

// LatestPerObject returns one record per identity, the one with the
// greatest (epoch, sequence), ordered by epoch descending.
func (kb *KnowledgeBase) LatestPerObject(ctx context.Context) ([]model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.Wrap("latest per object", err)
	}
	kb.mu.RLock()
	res := make([]model.Record, 0, len(kb.latest))
	for _, key := range kb.latest {
		res = append(res, kb.records[key])
	}
	kb.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool { return res[i].Newer(res[j]) })
	return res, nil
}

// LatestOverall returns the most recently ingested record.
func (kb *KnowledgeBase) LatestOverall(ctx context.Context) (model.Record, error) {
	if err := ctx.Err(); err != nil {
		return model.Record{}, storage.Wrap("latest overall", err)
	}
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	rec, ok := kb.records[kb.newest]
	if !ok {
		return model.Record{}, storage.ErrNotFound
	}
	return rec, nil
}

// LatestByName returns the latest record for one identity.
func (kb *KnowledgeBase) LatestByName(ctx context.Context, name string) (model.Record, error) {
	if err := ctx.Err(); err != nil {
		return model.Record{}, storage.Wrap("latest by name", err)
	}
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	key, ok := kb.latest[name]
	if !ok {
		return model.Record{}, storage.ErrNotFound
	}
	return kb.records[key], nil
}

// AllByCategory returns every stored record of category, oldest sequence
// first.
func (kb *KnowledgeBase) AllByCategory(ctx context.Context, category model.Category) ([]model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.Wrap("all by category", err)
	}
	kb.mu.RLock()
	sink, ok := kb.sinks[category]
	if !ok {
		kb.mu.RUnlock()
		return nil, storage.Wrap("all by category", model.ErrInvalidCategory)
	}
	res := make([]model.Record, 0, len(sink))
	for key := range sink {
		res = append(res, kb.records[key])
	}
	kb.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool { return res[i].Seq < res[j].Seq })
	return res, nil
}

// DeleteAll clears the category sinks in model.Categories order and then
// the base records, under one write lock so readers see either the full
// store or an empty one.
func (kb *KnowledgeBase) DeleteAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return storage.Wrap("delete all", err)
	}
	kb.mu.Lock()
	for _, c := range model.Categories() {
		kb.sinks[c] = make(map[recordKey]struct{})
	}
	kb.records = make(map[recordKey]model.Record)
	kb.latest = make(map[string]recordKey)
	kb.newest = recordKey{}
	subs := kb.subscribers()
	kb.mu.Unlock()

	for _, sub := range subs {
		sub(Event{Type: EventWiped})
	}
	return nil
}

// Len returns the number of stored records.
func (kb *KnowledgeBase) Len() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.records)
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextID
	kb.nextID++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

// subscribers must be called with kb.mu held.
func (kb *KnowledgeBase) subscribers() []func(Event) {
	ids := make([]int, 0, len(kb.subs))
	for id := range kb.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, kb.subs[id])
	}
	return subs
}
