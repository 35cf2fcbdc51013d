package component

import "sync"

// slot holds the active instance of one contract slot.
//
// activateMu serialises activations of the slot and is held across
// dispose, construct, publish and notify. mu guards the published state and
// is only held for short reads and writes, so listeners can read the slot
// while an activation is notifying them.
type slot struct {
	ref SlotRef

	activateMu sync.Mutex

	mu        sync.RWMutex
	active    Component
	impl      *Implementation
	settings  any
	listeners []slotListener
	nextID    uint64
}

type slotListener struct {
	id uint64
	fn func(Component)
}

func newSlot(ref SlotRef) *slot {
	return &slot{ref: ref}
}

// snapshot returns the published state.
func (s *slot) snapshot() (Component, *Implementation, any) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active, s.impl, s.settings
}

// publish replaces the published state.
func (s *slot) publish(active Component, impl *Implementation, settings any) {
	s.mu.Lock()
	s.active = active
	s.impl = impl
	s.settings = settings
	s.mu.Unlock()
}

// take clears the published state and returns the instance that was active.
func (s *slot) take() Component {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.active
	s.active = nil
	s.impl = nil
	s.settings = nil
	return old
}

func (s *slot) subscribe(fn func(Component)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, slotListener{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, l := range s.listeners {
				if l.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// listenersSnapshot copies the listener list so callbacks run unlocked.
func (s *slot) listenersSnapshot() []slotListener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]slotListener, len(s.listeners))
	copy(out, s.listeners)
	return out
}
