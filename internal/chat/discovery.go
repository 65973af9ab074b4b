package chat

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"studiodesk/internal/models"
	"studiodesk/internal/storage"
)

// Upsert replaces the thread with t's id (or adds it) and returns the list
// ordered by last activity, newest first. Threads without messages sort last.
// The result does not depend on the order in which upserts arrive.
func Upsert(threads []models.Thread, t models.Thread) []models.Thread {
	out := make([]models.Thread, 0, len(threads)+1)
	for _, existing := range threads {
		if existing.ID != t.ID {
			out = append(out, existing)
		}
	}
	out = append(out, t)
	slices.SortStableFunc(out, func(a, b models.Thread) int {
		if c := b.LastActivity().Compare(a.LastActivity()); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Aggregator discovers the threads an identity participates in.
//
// The store cannot OR across fields, so every record kind is watched with two
// queries, one for records the identity created and one for records assigned
// to it. Each discovered thread gets its own subscription on its latest message.
type Aggregator struct {
	identity string
	kinds    []models.RequestKind
	store    DocumentStore
	log      *slog.Logger
	onChange func([]models.Thread)
	teardown Teardown

	// emitMu serializes onChange calls in mutation order.
	emitMu sync.Mutex

	mu      sync.Mutex
	seen    map[string]struct{}
	stubs   map[string]models.Thread
	threads []models.Thread
	closed  bool
}

func NewAggregator(store DocumentStore, identity string, kinds []models.RequestKind, onChange func([]models.Thread), logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if len(kinds) == 0 {
		kinds = []models.RequestKind{models.RequestKindDesign}
	}
	return &Aggregator{
		identity: identity,
		kinds:    kinds,
		store:    store,
		log:      logger.With("component", "discovery", "user_id", identity),
		onChange: onChange,
		seen:     make(map[string]struct{}),
		stubs:    make(map[string]models.Thread),
	}
}

// Start opens the top-level queries, two per record kind.
func (a *Aggregator) Start() {
	for _, kind := range a.kinds {
		for _, field := range []string{"createdBy", "executedBy"} {
			q := storage.Query{
				Collection: kind.Collection(),
				Filters: []storage.Filter{
					storage.Where("status", storage.OpNotEqual, string(models.RequestStatusPending)),
					storage.Where(field, storage.OpEqual, a.identity),
				},
			}
			unsub := a.store.Subscribe(q, func(docs []storage.Document) {
				a.onRecords(kind, docs)
			}, func(err error) {
				a.log.Error("thread query failed", "collection", kind.Collection(), "field", field, "error", err)
			})
			a.teardown.Add(unsub)
		}
	}
}

func (a *Aggregator) onRecords(kind models.RequestKind, docs []storage.Document) {
	var fresh []models.Thread

	a.emitMu.Lock()
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		a.emitMu.Unlock()
		return
	}
	changed := false
	for _, doc := range docs {
		stub := threadStub(kind, doc)
		a.stubs[stub.ID] = stub
		if _, ok := a.seen[stub.ID]; !ok {
			a.seen[stub.ID] = struct{}{}
			fresh = append(fresh, stub)
			continue
		}
		// Record changed after discovery, e.g. an assignee was set.
		if i := slices.IndexFunc(a.threads, func(t models.Thread) bool { return t.ID == stub.ID }); i >= 0 {
			stub.LastMessage = a.threads[i].LastMessage
			if stub.Name != a.threads[i].Name || !slices.Equal(stub.Participants, a.threads[i].Participants) {
				a.threads = Upsert(a.threads, stub)
				changed = true
			}
		}
	}
	threads := slices.Clone(a.threads)
	a.mu.Unlock()
	if changed && a.onChange != nil {
		a.onChange(threads)
	}
	a.emitMu.Unlock()

	for _, t := range fresh {
		a.watch(t)
	}
}

func (a *Aggregator) watch(stub models.Thread) {
	q := storage.Query{
		Collection: models.MessagesCollection(stub.Collection, stub.ID),
		OrderBy:    "sendAt",
		Descending: true,
		Limit:      1,
	}
	unsub := a.store.Subscribe(q, func(docs []storage.Document) {
		a.onLastMessage(stub.ID, docs)
	}, func(err error) {
		a.log.Error("last message query failed", "chat_id", stub.ID, "error", err)
	})
	a.teardown.Add(unsub)
}

func (a *Aggregator) onLastMessage(threadID string, docs []storage.Document) {
	var last *models.Message
	if len(docs) > 0 {
		sender := resolveProfile(context.Background(), a.store, a.log, docs[0].String("sendBy"))
		m := toMessage(threadID, docs[0], sender)
		last = &m
	}

	a.emitMu.Lock()
	defer a.emitMu.Unlock()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	thread := a.stubs[threadID]
	thread.LastMessage = last
	a.threads = Upsert(a.threads, thread)
	threads := slices.Clone(a.threads)
	a.mu.Unlock()

	if a.onChange != nil {
		a.onChange(threads)
	}
}

// Threads returns the current aggregate list.
func (a *Aggregator) Threads() []models.Thread {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.threads)
}

// Lookup returns the live data of a listed thread.
func (a *Aggregator) Lookup(id string) (models.Thread, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := slices.IndexFunc(a.threads, func(t models.Thread) bool { return t.ID == id })
	if i < 0 {
		return models.Thread{}, false
	}
	return a.threads[i], true
}

// Close cancels every subscription the aggregator opened and returns how many were released.
func (a *Aggregator) Close() int {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return a.teardown.Release()
}

func threadStub(kind models.RequestKind, doc storage.Document) models.Thread {
	participants := []string{}
	if by := doc.String("createdBy"); by != "" {
		participants = append(participants, by)
	}
	if by := doc.String("executedBy"); by != "" && !slices.Contains(participants, by) {
		participants = append(participants, by)
	}
	return models.Thread{
		ID:           doc.ID,
		Collection:   kind.Collection(),
		Name:         doc.String(kind.DisplayField()),
		Participants: participants,
	}
}
