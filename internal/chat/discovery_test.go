package chat

import (
	"errors"
	"slices"
	"sync"
	"testing"

	"studiodesk/internal/models"

	"github.com/stretchr/testify/require"
)

func TestUpsert(t *testing.T) {
	withLast := func(id string, sec int64) models.Thread {
		th := models.Thread{ID: id}
		if sec > 0 {
			th.LastMessage = &models.Message{ID: id + "-m", SendAt: at(sec)}
		}
		return th
	}

	t.Run("SortsByLastActivity", func(t *testing.T) {
		var threads []models.Thread
		for _, th := range []models.Thread{withLast("five", 5), withLast("three", 3), withLast("nine", 9), withLast("none", 0)} {
			threads = Upsert(threads, th)
		}
		require.Equal(t, []string{"nine", "five", "three", "none"}, threadIDs(threads))
	})

	t.Run("ReplacesByID", func(t *testing.T) {
		threads := Upsert(nil, withLast("a", 1))
		threads = Upsert(threads, withLast("b", 2))
		threads = Upsert(threads, withLast("a", 3))
		threads = Upsert(threads, withLast("a", 3))
		require.Equal(t, []string{"a", "b"}, threadIDs(threads))
		require.Equal(t, at(3), threads[0].LastActivity())
	})

	t.Run("ArrivalOrderDoesNotMatter", func(t *testing.T) {
		input := []models.Thread{withLast("x", 0), withLast("y", 4), withLast("z", 0), withLast("w", 4), withLast("y", 4)}
		var want []string
		// Rotate through every starting position.
		for shift := range input {
			var threads []models.Thread
			for i := range input {
				threads = Upsert(threads, input[(i+shift)%len(input)])
			}
			got := threadIDs(threads)
			if want == nil {
				want = got
			}
			require.Equal(t, want, got)
			require.Len(t, got, 4)
		}
	})
}

type threadSink struct {
	mu    sync.Mutex
	calls int
	last  []models.Thread
}

func (s *threadSink) onChange(threads []models.Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.last = threads
}

func (s *threadSink) snapshot() ([]models.Thread, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.calls
}

func TestAggregator_Discovery(t *testing.T) {
	store := newFakeStore()
	store.addUser("u2", "Budi")

	store.put("designs", "d1", design("Logo", "u1", "", models.RequestStatusAccepted))
	store.put("designs", "d2", design("Banner", "u2", "u1", models.RequestStatusAccepted))
	store.put("designs", "d3", design("Draft", "u1", "", models.RequestStatusPending))
	store.put("designs", "d4", design("Other", "u2", "u3", models.RequestStatusAccepted))
	store.put("designs/d2/chats", "m1", message("u2", "hello", at(100)))

	sink := &threadSink{}
	agg := NewAggregator(store, "u1", nil, sink.onChange, nil)
	agg.Start()

	threads := agg.Threads()
	require.Equal(t, []string{"d2", "d1"}, threadIDs(threads))

	d2 := threads[0]
	require.Equal(t, "Banner", d2.Name)
	require.Equal(t, []string{"u2", "u1"}, d2.Participants)
	require.NotNil(t, d2.LastMessage)
	require.Equal(t, "hello", d2.LastMessage.Content)
	require.NotNil(t, d2.LastMessage.SendBy)
	require.Equal(t, "Budi", d2.LastMessage.SendBy.Name)
	require.True(t, d2.Unread())

	// A thread without messages is listed without preview or badge.
	d1 := threads[1]
	require.Nil(t, d1.LastMessage)
	require.False(t, d1.Unread())

	last, _ := sink.snapshot()
	require.Equal(t, threadIDs(threads), threadIDs(last))

	_, ok := agg.Lookup("d3")
	require.False(t, ok, "pending records have no thread")
}

func TestAggregator_DedupAcrossQueries(t *testing.T) {
	store := newFakeStore()
	// Matches both the creator and the assignee query.
	store.put("designs", "self", design("Self", "u1", "u1", models.RequestStatusAccepted))

	agg := NewAggregator(store, "u1", nil, nil, nil)
	agg.Start()

	store.put("designs/self/chats", "m1", message("u1", "note", at(5)))
	store.put("designs", "self", design("Self renamed", "u1", "u1", models.RequestStatusComplete))

	threads := agg.Threads()
	require.Equal(t, []string{"self"}, threadIDs(threads))
	require.Equal(t, "Self renamed", threads[0].Name)
	require.Equal(t, []string{"u1"}, threads[0].Participants)
	// Two top-level queries plus one thread subscription.
	require.Equal(t, 3, store.active())
}

func TestAggregator_LiveUpdates(t *testing.T) {
	store := newFakeStore()
	store.put("designs", "a", design("A", "u1", "", models.RequestStatusAccepted))
	store.put("designs", "b", design("B", "u1", "", models.RequestStatusAccepted))
	store.put("designs/a/chats", "m1", message("u1", "first", at(10)))

	agg := NewAggregator(store, "u1", nil, nil, nil)
	agg.Start()
	require.Equal(t, []string{"a", "b"}, threadIDs(agg.Threads()))

	store.put("designs/b/chats", "m2", message("u1", "newer", at(20)))
	require.Equal(t, []string{"b", "a"}, threadIDs(agg.Threads()))

	// Assignee set after discovery refreshes participants but keeps the preview.
	store.put("designs", "b", design("B", "u1", "u9", models.RequestStatusAccepted))
	b, ok := agg.Lookup("b")
	require.True(t, ok)
	require.Equal(t, []string{"u1", "u9"}, b.Participants)
	require.Equal(t, "newer", b.LastMessage.Content)

	// Records leaving pending are discovered late.
	store.put("designs", "c", design("C", "u1", "", models.RequestStatusPending))
	require.Len(t, agg.Threads(), 2)
	store.put("designs", "c", design("C", "u1", "", models.RequestStatusAccepted))
	require.Equal(t, []string{"b", "a", "c"}, threadIDs(agg.Threads()))
}

func TestAggregator_MultipleKinds(t *testing.T) {
	store := newFakeStore()
	store.put("designs", "d1", design("Logo", "u1", "", models.RequestStatusAccepted))
	store.put("productions", "p1", map[string]any{"title": "Mugs", "createdBy": "u1", "status": "complete"})

	agg := NewAggregator(store, "u1", []models.RequestKind{models.RequestKindDesign, models.RequestKindProduction}, nil, nil)
	agg.Start()

	p1, ok := agg.Lookup("p1")
	require.True(t, ok)
	require.Equal(t, "Mugs", p1.Name)
	require.Equal(t, "productions", p1.Collection)
	require.Equal(t, 6, store.active())
}

func TestAggregator_TeardownReleasesSubscriptions(t *testing.T) {
	store := newFakeStore()
	const n = 4
	for i := range n {
		id := string(rune('a' + i))
		store.put("designs", id, design(id, "u1", "", models.RequestStatusAccepted))
	}

	sink := &threadSink{}
	agg := NewAggregator(store, "u1", nil, sink.onChange, nil)
	agg.Start()
	require.Len(t, agg.Threads(), n)
	require.Equal(t, n+2, store.active())

	released := agg.Close()
	require.Equal(t, n+2, released)
	require.Equal(t, n+2, store.cancelledCount())
	require.Zero(t, store.active())

	_, calls := sink.snapshot()
	store.put("designs/a/chats", "late", message("u1", "late", at(99)))
	_, after := sink.snapshot()
	require.Equal(t, calls, after, "no updates after teardown")
	require.Zero(t, agg.Close(), "second close releases nothing")
}

func TestAggregator_KeepsStateOnError(t *testing.T) {
	store := newFakeStore()
	store.put("designs", "a", design("A", "u1", "", models.RequestStatusAccepted))

	agg := NewAggregator(store, "u1", nil, nil, nil)
	agg.Start()
	before := agg.Threads()

	store.fail("designs", errors.New("network blip"))
	store.fail("designs/a/chats", errors.New("network blip"))

	require.Equal(t, before, agg.Threads())
}

func TestAggregator_ConcurrentSnapshots(t *testing.T) {
	store := newFakeStore()
	for _, id := range []string{"a", "b", "c"} {
		store.put("designs", id, design(id, "u1", "", models.RequestStatusAccepted))
	}
	agg := NewAggregator(store, "u1", nil, nil, nil)
	agg.Start()

	var wg sync.WaitGroup
	for i, id := range []string{"a", "b", "c", "a", "b", "c"} {
		wg.Go(func() {
			store.put("designs/"+id+"/chats", id, message("u1", id, at(int64(i+1))))
		})
	}
	wg.Wait()

	ids := threadIDs(agg.Threads())
	slices.Sort(ids)
	require.Equal(t, []string{"a", "b", "c"}, ids)
}
