package display

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxItems bounds the retained canvas state.
const maxItems = 200

// Item is one rendered entry on the canvas.
type Item struct {
	ID          string    `json:"id"`
	ContentType string    `json:"content_type"`
	Content     string    `json:"content"`
	Title       string    `json:"title,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Listener receives each applied item. Used by the canvas transport to
// push update frames to connected viewers.
type Listener func(Item)

// State is the in-memory canvas document: items keyed by id, ordered
// newest-first, bounded. Safe for concurrent use.
type State struct {
	mu        sync.RWMutex
	items     []Item // index 0 is newest
	listeners []Listener
	now       func() time.Time
}

// NewState creates an empty canvas state.
func NewState() *State {
	return &State{now: time.Now}
}

// Subscribe registers a listener for applied items.
func (s *State) Subscribe(fn Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Apply upserts an envelope into the state and notifies listeners
// exactly once. An envelope whose id matches an existing item replaces
// that item in place, keeping its position; otherwise the item is
// prepended and the oldest entries beyond the cap are dropped. A
// missing id gets a generated one.
func (s *State) Apply(env Envelope) Item {
	item := Item{
		ID:          env.ID,
		ContentType: env.ContentType,
		Content:     env.Content,
		Title:       env.Title,
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}

	s.mu.Lock()
	item.UpdatedAt = s.now()

	replaced := false
	for i := range s.items {
		if s.items[i].ID == item.ID {
			s.items[i] = item
			replaced = true
			break
		}
	}
	if !replaced {
		s.items = append([]Item{item}, s.items...)
		if len(s.items) > maxItems {
			s.items = s.items[:maxItems]
		}
	}
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(item)
	}
	return item
}

// Items returns a newest-first snapshot.
func (s *State) Items() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Item(nil), s.items...)
}

// Len returns the current item count.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
