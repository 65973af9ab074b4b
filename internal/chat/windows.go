package chat

import (
	"slices"
	"sync"

	"studiodesk/internal/models"
)

// ThreadLookup resolves live thread data by id.
type ThreadLookup interface {
	Lookup(id string) (models.Thread, bool)
}

// WindowManager holds the ordered set of opened chat windows.
// Window state is keyed by thread id; thread data is looked up when rendering.
type WindowManager struct {
	lookup ThreadLookup
	notify func(notice string)

	mu       sync.Mutex
	order    []string
	expanded map[string]bool
}

func NewWindowManager(lookup ThreadLookup, notify func(string)) *WindowManager {
	return &WindowManager{
		lookup:   lookup,
		notify:   notify,
		expanded: make(map[string]bool),
	}
}

// Open opens the window of a known thread, or reactivates it when already
// open: it is expanded and moved to the end. It reports whether a new window was created.
func (w *WindowManager) Open(id string) (bool, error) {
	if _, ok := w.lookup.Lookup(id); !ok {
		if w.notify != nil {
			w.notify(NoticeChatNotFound)
		}
		return false, ErrChatNotFound
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.activate(id), nil
}

func (w *WindowManager) activate(id string) bool {
	_, exists := w.expanded[id]
	if exists {
		w.order = slices.DeleteFunc(w.order, func(open string) bool { return open == id })
	}
	w.order = append(w.order, id)
	w.expanded[id] = true
	return !exists
}

// Close removes the window. It reports whether one was open.
func (w *WindowManager) Close(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.expanded[id]; !ok {
		return false
	}
	w.order = slices.DeleteFunc(w.order, func(open string) bool { return open == id })
	delete(w.expanded, id)
	return true
}

func (w *WindowManager) Minimize(id string) bool {
	return w.setExpanded(id, false)
}

func (w *WindowManager) Maximize(id string) bool {
	return w.setExpanded(id, true)
}

func (w *WindowManager) setExpanded(id string, expand bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.expanded[id]; !ok {
		return false
	}
	w.expanded[id] = expand
	return true
}

// Reorder applies a full permutation of the open ids, keeping each window's state.
func (w *WindowManager) Reorder(order []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(order) != len(w.order) {
		return ErrInvalidOrder
	}
	seen := make(map[string]struct{}, len(order))
	for _, id := range order {
		if _, ok := w.expanded[id]; !ok {
			return ErrInvalidOrder
		}
		if _, dup := seen[id]; dup {
			return ErrInvalidOrder
		}
		seen[id] = struct{}{}
	}
	w.order = slices.Clone(order)
	return nil
}

// IsOpen reports whether id has an opened window.
func (w *WindowManager) IsOpen(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.expanded[id]
	return ok
}

// IDs returns the open thread ids in display order.
func (w *WindowManager) IDs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.order)
}

// Thread returns the current data of an open window's thread.
func (w *WindowManager) Thread(id string) (models.Thread, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.expanded[id]; !ok {
		return models.Thread{}, false
	}
	return w.threadLocked(id), true
}

// Windows renders the opened windows with live thread data.
func (w *WindowManager) Windows() []models.ChatWindow {
	w.mu.Lock()
	defer w.mu.Unlock()

	windows := make([]models.ChatWindow, 0, len(w.order))
	for _, id := range w.order {
		windows = append(windows, models.ChatWindow{
			Chat:   w.threadLocked(id),
			Expand: w.expanded[id],
		})
	}
	return windows
}

func (w *WindowManager) threadLocked(id string) models.Thread {
	if t, ok := w.lookup.Lookup(id); ok {
		return t
	}
	return models.Thread{ID: id}
}
