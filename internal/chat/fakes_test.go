package chat

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"studiodesk/internal/models"
	"studiodesk/internal/storage"
)

type fakeSub struct {
	q          storage.Query
	onSnapshot func([]storage.Document)
	onError    func(error)
}

// fakeStore delivers snapshots synchronously, on Subscribe and on every write.
type fakeStore struct {
	mu        sync.Mutex
	docs      map[string][]storage.Document
	users     map[string]storage.Document
	subs      map[int]*fakeSub
	nextID    int
	cancelled int
	lookups   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:  make(map[string][]storage.Document),
		users: make(map[string]storage.Document),
		subs:  make(map[int]*fakeSub),
	}
}

func (f *fakeStore) Get(_ context.Context, path string) (storage.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++

	uid, ok := strings.CutPrefix(path, "users/")
	if !ok {
		return storage.Document{}, fmt.Errorf("%s: %w", path, models.ErrNotFound)
	}
	doc, ok := f.users[uid]
	if !ok {
		return storage.Document{}, fmt.Errorf("%s: %w", path, models.ErrNotFound)
	}
	return doc, nil
}

func (f *fakeStore) Subscribe(q storage.Query, onSnapshot func([]storage.Document), onError func(error)) storage.Unsubscribe {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.subs[id] = &fakeSub{q: q, onSnapshot: onSnapshot, onError: onError}
	docs := q.Apply(slices.Clone(f.docs[q.Collection]))
	f.mu.Unlock()

	onSnapshot(docs)

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs, id)
			f.cancelled++
		})
	}
}

func (f *fakeStore) addUser(id, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id] = storage.Document{ID: id, Path: "users/" + id, Data: map[string]any{"name": name, "photo": name + ".png"}}
}

// put inserts or replaces a document and notifies matching subscriptions.
func (f *fakeStore) put(collection, id string, data map[string]any) {
	f.mu.Lock()
	doc := storage.Document{ID: id, Path: collection + "/" + id, Data: data}
	docs := f.docs[collection]
	if i := slices.IndexFunc(docs, func(d storage.Document) bool { return d.ID == id }); i >= 0 {
		docs[i] = doc
	} else {
		docs = append(docs, doc)
	}
	f.docs[collection] = docs
	snapshot := slices.Clone(docs)
	subs := f.subsOf(collection)
	f.mu.Unlock()

	for _, sub := range subs {
		sub.onSnapshot(sub.q.Apply(slices.Clone(snapshot)))
	}
}

// deliverRaw hands docs to every subscription of collection exactly as given.
func (f *fakeStore) deliverRaw(collection string, docs []storage.Document) {
	f.mu.Lock()
	subs := f.subsOf(collection)
	f.mu.Unlock()
	for _, sub := range subs {
		sub.onSnapshot(docs)
	}
}

func (f *fakeStore) fail(collection string, err error) {
	f.mu.Lock()
	subs := f.subsOf(collection)
	f.mu.Unlock()
	for _, sub := range subs {
		if sub.onError != nil {
			sub.onError(err)
		}
	}
}

func (f *fakeStore) subsOf(collection string) []*fakeSub {
	var out []*fakeSub
	for _, sub := range f.subs {
		if sub.q.Collection == collection {
			out = append(out, sub)
		}
	}
	return out
}

func (f *fakeStore) active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeStore) cancelledCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

func at(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func design(name, createdBy, executedBy string, status models.RequestStatus) map[string]any {
	data := map[string]any{"name": name, "createdBy": createdBy, "status": string(status)}
	if executedBy != "" {
		data["executedBy"] = executedBy
	}
	return data
}

func message(sender, body string, sendAt time.Time) map[string]any {
	return map[string]any{"sendBy": sender, "content": body, "sendAt": sendAt, "read": false}
}

// fakeSender writes messages straight into the fake store.
type fakeSender struct {
	store *fakeStore
	clock int64
	reads []string
}

func (s *fakeSender) SendMessage(_ context.Context, kind models.RequestKind, id, senderID, body string) (models.Message, error) {
	s.clock++
	msgID := fmt.Sprintf("m%d", s.clock)
	s.store.put(models.MessagesCollection(kind.Collection(), id), msgID, message(senderID, body, at(1000+s.clock)))
	return models.Message{ID: msgID, ThreadID: id, SenderID: senderID, Content: body}, nil
}

func (s *fakeSender) MarkRead(_ context.Context, _ models.RequestKind, id, readerID string) (int, error) {
	s.reads = append(s.reads, id+":"+readerID)
	return 0, nil
}

type frameRecorder struct {
	mu     sync.Mutex
	frames []models.ServerMessage
}

func (r *frameRecorder) emit(m models.ServerMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, m)
}

// last returns the most recent frame of the given type.
func (r *frameRecorder) last(typ models.ServerMessageType) (models.ServerMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.frames) - 1; i >= 0; i-- {
		if r.frames[i].Type == typ {
			return r.frames[i], true
		}
	}
	return models.ServerMessage{}, false
}

func (r *frameRecorder) count(typ models.ServerMessageType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, f := range r.frames {
		if f.Type == typ {
			n++
		}
	}
	return n
}

func threadIDs(threads []models.Thread) []string {
	ids := make([]string, 0, len(threads))
	for _, t := range threads {
		ids = append(ids, t.ID)
	}
	return ids
}
