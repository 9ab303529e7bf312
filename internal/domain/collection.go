package domain

import (
	"sync"
	"time"
)

const DefaultEchoWindow = 10 * time.Second

// CollectionOptions configures a SyncedCollection.
type CollectionOptions[T any] struct {
	// Key returns the identity of a record.
	Key func(T) string
	// Before reports whether a sorts before b. New records are inserted
	// before the first element they sort before.
	Before func(a, b T) bool
	// Correlate reports whether remote is the server echo of the local
	// record. Used when the local entry has no server identity yet.
	Correlate func(local, remote T) bool
	// EchoWindow bounds how long after a local apply an echo is matched.
	EchoWindow time.Duration
	Now        func() time.Time
}

// Entry is one row of a collection snapshot.
type Entry[T any] struct {
	Value   T
	Pending bool
}

// UpsertResult describes how a remote record was merged.
type UpsertResult int

const (
	UpsertInserted UpsertResult = iota + 1
	UpsertUpdated
	UpsertEchoMerged
)

type slot[T any] struct {
	key     string
	value   T
	pending bool
	// prev is the last confirmed value of an entry under a pending update.
	prev *T
	// tempIDs are the unresolved mutations of the entry, oldest first.
	tempIDs   []string
	appliedAt time.Time
	// awaitingEcho marks a locally created entry whose server identity is
	// not known yet.
	awaitingEcho bool
}

// SyncedCollection is an ordered, id-keyed read model merging an
// authoritative snapshot, live events and pending local mutations.
type SyncedCollection[T any] struct {
	opts CollectionOptions[T]

	mu      sync.RWMutex
	order   []*slot[T]
	index   map[string]*slot[T]
	temps   map[string]*slot[T]
	changes chan struct{}
}

func NewSyncedCollection[T any](opts CollectionOptions[T]) *SyncedCollection[T] {
	if opts.Key == nil {
		panic("domain: collection key func is required")
	}
	if opts.Before == nil {
		opts.Before = func(T, T) bool { return false }
	}
	if opts.EchoWindow <= 0 {
		opts.EchoWindow = DefaultEchoWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &SyncedCollection[T]{
		opts:    opts,
		index:   make(map[string]*slot[T]),
		temps:   make(map[string]*slot[T]),
		changes: make(chan struct{}, 1),
	}
}

// Load merges an authoritative snapshot.
func (c *SyncedCollection[T]) Load(items []T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, item := range items {
		c.upsertLocked(item)
	}
	c.notify()
}

// Upsert merges one live insert or update event.
func (c *SyncedCollection[T]) Upsert(v T) UpsertResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := c.upsertLocked(v)
	c.notify()

	return res
}

// Remove drops an entry after a live delete. A later confirm or rollback
// of that entry is a no-op.
func (c *SyncedCollection[T]) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.index[key]
	if !ok {
		return false
	}
	c.removeSlotLocked(s)
	c.notify()

	return true
}

func (c *SyncedCollection[T]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = nil
	c.index = make(map[string]*slot[T])
	c.temps = make(map[string]*slot[T])
	c.notify()
}

// ApplyPending inserts or overwrites an entry tagged pending. Several
// mutations may be pending on one entry; it stays pending until the last
// of them resolves.
func (c *SyncedCollection[T]) ApplyPending(tempID string, v T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := c.opts.Key(v)
	if s, ok := c.index[key]; ok {
		if !s.pending {
			prev := s.value
			s.prev = &prev
		}
		s.value = v
		s.pending = true
		s.tempIDs = append(s.tempIDs, tempID)
		c.temps[tempID] = s
		c.reposition(s)
		c.notify()

		return
	}

	s := &slot[T]{
		key:          key,
		value:        v,
		pending:      true,
		tempIDs:      []string{tempID},
		appliedAt:    c.opts.Now(),
		awaitingEcho: true,
	}
	c.insertLocked(s)
	c.temps[tempID] = s
	c.notify()
}

// ConfirmPending replaces the pending entry with the server record,
// substituting its identity in place. It reports false when the entry no
// longer exists.
func (c *SyncedCollection[T]) ConfirmPending(tempID string, v T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.temps[tempID]
	if !ok {
		return false
	}
	c.forgetTempLocked(s, tempID)
	if _, live := c.index[s.key]; !live {
		return false
	}

	newKey := c.opts.Key(v)
	if newKey == s.key && len(s.tempIDs) > 0 {
		// A newer mutation is still shown; v becomes its rollback base.
		base := v
		s.prev = &base

		return true
	}
	if newKey != s.key {
		if other, exists := c.index[newKey]; exists && other != s {
			// The echo landed as its own row before confirmation.
			c.removeSlotLocked(s)
			other.value = v
			other.pending = false
			other.prev = nil
			c.reposition(other)
			c.notify()

			return true
		}
		delete(c.index, s.key)
		s.key = newKey
		c.index[newKey] = s
	}
	s.value = v
	s.pending = false
	s.prev = nil
	if newKey != tempID {
		s.awaitingEcho = false
	}
	c.reposition(s)
	c.notify()

	return true
}

// RollbackPending reverts a pending entry: inserts are removed, updates
// get their last confirmed value back.
func (c *SyncedCollection[T]) RollbackPending(tempID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.temps[tempID]
	if !ok {
		return false
	}
	c.forgetTempLocked(s, tempID)
	if _, live := c.index[s.key]; !live {
		return false
	}
	if s.prev != nil && len(s.tempIDs) > 0 {
		// A newer mutation is still shown and resolves on its own.
		return true
	}
	if s.prev != nil {
		s.value = *s.prev
		s.prev = nil
		s.pending = false
		c.reposition(s)
	} else {
		c.removeSlotLocked(s)
	}
	c.notify()

	return true
}

func (c *SyncedCollection[T]) Items() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, 0, len(c.order))
	for _, s := range c.order {
		out = append(out, s.value)
	}

	return out
}

func (c *SyncedCollection[T]) Entries() []Entry[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry[T], 0, len(c.order))
	for _, s := range c.order {
		out = append(out, Entry[T]{Value: s.value, Pending: s.pending})
	}

	return out
}

func (c *SyncedCollection[T]) Get(key string) (Entry[T], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.index[key]
	if !ok {
		return Entry[T]{}, false
	}

	return Entry[T]{Value: s.value, Pending: s.pending}, true
}

func (c *SyncedCollection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.order)
}

// Changes signals after every mutation. Signals are coalesced.
func (c *SyncedCollection[T]) Changes() <-chan struct{} {
	return c.changes
}

func (c *SyncedCollection[T]) upsertLocked(v T) UpsertResult {
	key := c.opts.Key(v)
	if s, ok := c.index[key]; ok {
		if s.pending {
			// Keep showing the local change; the remote value becomes the
			// rollback base.
			base := v
			s.prev = &base

			return UpsertUpdated
		}
		s.value = v
		s.awaitingEcho = false
		c.reposition(s)

		return UpsertUpdated
	}

	if s := c.findEchoLocked(v); s != nil {
		// The server already holds the record, so a later confirm or
		// reject for it is a no-op.
		c.dropTempsLocked(s)
		delete(c.index, s.key)
		s.key = key
		c.index[key] = s
		s.value = v
		s.pending = false
		s.prev = nil
		s.awaitingEcho = false
		c.reposition(s)

		return UpsertEchoMerged
	}

	c.insertLocked(&slot[T]{key: key, value: v})

	return UpsertInserted
}

func (c *SyncedCollection[T]) findEchoLocked(remote T) *slot[T] {
	if c.opts.Correlate == nil {
		return nil
	}
	now := c.opts.Now()
	for _, s := range c.order {
		if !s.awaitingEcho {
			continue
		}
		if now.Sub(s.appliedAt) > c.opts.EchoWindow {
			continue
		}
		if c.opts.Correlate(s.value, remote) {
			return s
		}
	}

	return nil
}

func (c *SyncedCollection[T]) insertLocked(s *slot[T]) {
	pos := len(c.order)
	for i, existing := range c.order {
		if c.opts.Before(s.value, existing.value) {
			pos = i
			break
		}
	}
	c.order = append(c.order, nil)
	copy(c.order[pos+1:], c.order[pos:])
	c.order[pos] = s
	c.index[s.key] = s
}

func (c *SyncedCollection[T]) removeSlotLocked(s *slot[T]) {
	delete(c.index, s.key)
	c.dropTempsLocked(s)
	if i := c.position(s); i >= 0 {
		c.order = append(c.order[:i], c.order[i+1:]...)
	}
}

func (c *SyncedCollection[T]) forgetTempLocked(s *slot[T], tempID string) {
	delete(c.temps, tempID)
	for i, id := range s.tempIDs {
		if id == tempID {
			s.tempIDs = append(s.tempIDs[:i], s.tempIDs[i+1:]...)

			break
		}
	}
}

func (c *SyncedCollection[T]) dropTempsLocked(s *slot[T]) {
	for _, id := range s.tempIDs {
		if c.temps[id] == s {
			delete(c.temps, id)
		}
	}
	s.tempIDs = nil
}

// reposition keeps s where it is unless that breaks the ordering rule with
// a neighbour.
func (c *SyncedCollection[T]) reposition(s *slot[T]) {
	i := c.position(s)
	if i < 0 {
		return
	}
	inOrder := (i == 0 || !c.opts.Before(s.value, c.order[i-1].value)) &&
		(i == len(c.order)-1 || !c.opts.Before(c.order[i+1].value, s.value))
	if inOrder {
		return
	}
	c.order = append(c.order[:i], c.order[i+1:]...)
	c.insertLocked(s)
}

func (c *SyncedCollection[T]) position(s *slot[T]) int {
	for i, existing := range c.order {
		if existing == s {
			return i
		}
	}

	return -1
}

func (c *SyncedCollection[T]) notify() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}
