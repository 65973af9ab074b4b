package storage

import (
	"context"
	"sync"
)

// Unsubscribe cancels a live query. It is safe to call more than once.
type Unsubscribe func()

type subscription struct {
	id         uint64
	query      Query
	onSnapshot func([]Document)
	onError    func(error)

	// pending holds at most one wakeup, so bursts of writes coalesce into one delivery.
	pending chan struct{}
	done    chan struct{}
	once    sync.Once
}

func (sub *subscription) wake() {
	select {
	case sub.pending <- struct{}{}:
	default:
	}
}

func (sub *subscription) stop() {
	sub.once.Do(func() { close(sub.done) })
}

type liveQueries struct {
	mu           sync.Mutex
	nextID       uint64
	byCollection map[string]map[uint64]*subscription
	count        int
}

func newLiveQueries() *liveQueries {
	return &liveQueries{byCollection: make(map[string]map[uint64]*subscription)}
}

func (l *liveQueries) add(sub *subscription) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	sub.id = l.nextID
	subs, ok := l.byCollection[sub.query.Collection]
	if !ok {
		subs = make(map[uint64]*subscription)
		l.byCollection[sub.query.Collection] = subs
	}
	subs[sub.id] = sub
	l.count++
}

func (l *liveQueries) remove(sub *subscription) {
	l.mu.Lock()
	defer l.mu.Unlock()

	subs := l.byCollection[sub.query.Collection]
	if _, ok := subs[sub.id]; !ok {
		return
	}
	delete(subs, sub.id)
	if len(subs) == 0 {
		delete(l.byCollection, sub.query.Collection)
	}
	l.count--
}

func (l *liveQueries) notify(collection string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, sub := range l.byCollection[collection] {
		sub.wake()
	}
}

func (l *liveQueries) active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

func (l *liveQueries) closeAll() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for collection, subs := range l.byCollection {
		for _, sub := range subs {
			sub.stop()
		}
		delete(l.byCollection, collection)
	}
	l.count = 0
}

// Subscribe starts a live query. onSnapshot receives the full result set once
// immediately and again after every write to the queried collection.
// Deliveries for one subscription never overlap.
func (s *BboltStorage) Subscribe(q Query, onSnapshot func([]Document), onError func(error)) Unsubscribe {
	sub := &subscription{
		query:      q,
		onSnapshot: onSnapshot,
		onError:    onError,
		pending:    make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	s.live.add(sub)
	sub.wake()

	s.wg.Go(func() {
		s.deliver(sub)
	})

	return func() {
		s.live.remove(sub)
		sub.stop()
	}
}

// ActiveSubscriptions returns the number of live queries not yet cancelled.
func (s *BboltStorage) ActiveSubscriptions() int {
	return s.live.active()
}

func (s *BboltStorage) deliver(sub *subscription) {
	for {
		select {
		case <-sub.done:
			return
		case <-sub.pending:
		}

		select {
		case <-sub.done:
			return
		default:
		}

		docs, err := s.Query(context.Background(), sub.query)
		if err != nil {
			if sub.onError != nil {
				sub.onError(err)
			}
			continue
		}
		sub.onSnapshot(docs)
	}
}
