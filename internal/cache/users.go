// Package cache holds the process-wide user identity cache.
//
// A small LRU with per-entry max age sits in front of the users table so that
// authenticated requests resolve their user without a Postgres round trip.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/MGallo-Code/mangatracker/internal/store"
)

const (
	DefaultCapacity = 50
	DefaultMaxAge   = 24 * time.Hour
)

// Users is an LRU of store.CachedUser keyed by user id.
// Get refreshes an entry's age; entries older than MaxAge are dropped on access.
// Safe for concurrent use.
type Users struct {
	mu     sync.Mutex
	cap    int
	maxAge time.Duration
	ll     *list.List              // front = most-recently used
	items  map[int64]*list.Element // user id -> element
	now    func() time.Time
}

type userEntry struct {
	id      int64
	user    store.CachedUser
	expires time.Time
}

// Config groups constructor options. Zero values fall back to defaults.
type Config struct {
	Capacity int
	MaxAge   time.Duration
	Now      func() time.Time // injectable clock for tests
}

// NewUsers creates an empty cache.
func NewUsers(cfg Config) *Users {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Users{
		cap:    cfg.Capacity,
		maxAge: cfg.MaxAge,
		ll:     list.New(),
		items:  make(map[int64]*list.Element, cfg.Capacity),
		now:    cfg.Now,
	}
}

// Get returns the cached user and refreshes its age and recency.
func (c *Users) Get(id int64) (store.CachedUser, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[id]
	if !ok {
		return store.CachedUser{}, false
	}
	ent := el.Value.(*userEntry)
	now := c.now()
	if !now.Before(ent.expires) {
		c.remove(el)
		return store.CachedUser{}, false
	}
	ent.expires = now.Add(c.maxAge)
	c.ll.MoveToFront(el)
	return ent.user, true
}

// Set inserts or overwrites the entry for id and resets its age.
// Evicts the least-recently-used entry when over capacity.
func (c *Users) Set(id int64, u store.CachedUser) {
	c.mu.Lock()
	defer c.mu.Unlock()

	exp := c.now().Add(c.maxAge)
	if el, ok := c.items[id]; ok {
		ent := el.Value.(*userEntry)
		ent.user = u
		ent.expires = exp
		c.ll.MoveToFront(el)
		return
	}

	c.items[id] = c.ll.PushFront(&userEntry{id: id, user: u, expires: exp})
	for c.ll.Len() > c.cap {
		c.remove(c.ll.Back())
	}
}

// UserPatch lists the cached fields a settings change may overwrite.
// nil fields are left untouched.
type UserPatch struct {
	Username *string
	Theme    *int16
	Admin    *bool
}

// Patch merges p into the entry for id. Does nothing and returns false when id
// is not cached (or has expired); patching never inserts.
func (c *Users) Patch(id int64, p UserPatch) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[id]
	if !ok {
		return false
	}
	ent := el.Value.(*userEntry)
	now := c.now()
	if !now.Before(ent.expires) {
		c.remove(el)
		return false
	}
	if p.Username != nil {
		ent.user.Username = *p.Username
	}
	if p.Theme != nil {
		ent.user.Theme = *p.Theme
	}
	if p.Admin != nil {
		ent.user.Admin = *p.Admin
	}
	ent.expires = now.Add(c.maxAge)
	c.ll.MoveToFront(el)
	return true
}

// Delete drops the entry for id if present.
func (c *Users) Delete(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[id]; ok {
		c.remove(el)
	}
}

// Clear drops every entry.
func (c *Users) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	clear(c.items)
}

// Len returns the number of entries, expired ones included until next touched.
func (c *Users) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// remove unlinks el; caller holds mu.
func (c *Users) remove(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*userEntry).id)
}
