package chat

import "sync"

// Teardown collects release functions of acquired subscriptions and runs
// each of them exactly once on Release.
type Teardown struct {
	mu       sync.Mutex
	fns      []func()
	released bool
}

// Add registers fn. After Release, fn runs immediately instead and Add reports false.
func (t *Teardown) Add(fn func()) bool {
	t.mu.Lock()
	if t.released {
		t.mu.Unlock()
		fn()
		return false
	}
	t.fns = append(t.fns, fn)
	t.mu.Unlock()
	return true
}

// Release runs every registered function and returns how many ran.
func (t *Teardown) Release() int {
	t.mu.Lock()
	fns := t.fns
	t.fns = nil
	t.released = true
	t.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

func (t *Teardown) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.fns)
}
