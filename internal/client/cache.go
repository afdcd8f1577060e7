package client

import (
	"sync"

	"github.com/spec-kit/ticket-desk/internal/api/dto"
)

type listEntry struct {
	page  ListPage
	stale bool
	// stamp is the request token or write sequence of the last write.
	stamp uint64
}

type detailEntry struct {
	ticket dto.Ticket
	stale  bool
	stamp  uint64
}

// Snapshot holds the exact prior value of every entry a patch touched.
type Snapshot struct {
	id        string
	lists     map[string]listEntry
	detail    detailEntry
	hasDetail bool
}

// Empty reports whether the patch touched nothing.
func (s Snapshot) Empty() bool {
	return len(s.lists) == 0 && !s.hasDetail
}

// applyPatch applies fn to every cached copy of ticket id. It does not modify
// its inputs: patched holds new values for the touched list entries only,
// patchedDetail is nil when detail is nil, and the snapshot holds the prior
// values needed to undo the patch.
func applyPatch(lists map[string]listEntry, detail *detailEntry, id string, fn func(dto.Ticket) dto.Ticket) (map[string]listEntry, *detailEntry, Snapshot) {
	snap := Snapshot{id: id, lists: map[string]listEntry{}}
	patched := map[string]listEntry{}

	for key, entry := range lists {
		idx := -1
		for i, item := range entry.page.Items {
			if item.ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}
		snap.lists[key] = entry
		next := entry
		next.page = entry.page.clone()
		next.page.Items[idx] = fn(cloneTicket(entry.page.Items[idx]))
		patched[key] = next
	}

	var patchedDetail *detailEntry
	if detail != nil {
		snap.detail = *detail
		snap.hasDetail = true
		next := *detail
		next.ticket = fn(cloneTicket(detail.ticket))
		patchedDetail = &next
	}
	return patched, patchedDetail, snap
}

// Cache holds list pages keyed by ListParams.Key and ticket details keyed by
// id. It is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	lists   map[string]listEntry
	details map[string]detailEntry
	seq     uint64
	// Fetches begun before the last Clear are dropped.
	clearedAt uint64
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		lists:   make(map[string]listEntry),
		details: make(map[string]detailEntry),
	}
}

// BeginFetch returns the identity token for a request about to be sent.
// Tokens are strictly increasing and share a sequence with cache writes.
func (c *Cache) BeginFetch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next()
}

func (c *Cache) next() uint64 {
	c.seq++
	return c.seq
}

// List returns a copy of the cached page for key.
func (c *Cache) List(key string) (page ListPage, stale bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.lists[key]
	if !ok {
		return ListPage{}, false, false
	}
	return entry.page.clone(), entry.stale, true
}

// Detail returns a copy of the cached ticket id.
func (c *Cache) Detail(id string) (ticket dto.Ticket, stale bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.details[id]
	if !ok {
		return dto.Ticket{}, false, false
	}
	return cloneTicket(entry.ticket), entry.stale, true
}

// Find returns the freshest cached copy of ticket id, preferring the detail
// entry over list pages.
func (c *Cache) Find(id string) (dto.Ticket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.details[id]; ok {
		return cloneTicket(entry.ticket), true
	}
	for _, entry := range c.lists {
		for _, item := range entry.page.Items {
			if item.ID == id {
				return cloneTicket(item), true
			}
		}
	}
	return dto.Ticket{}, false
}

// StoreList saves the result of the fetch identified by token. It reports
// false and keeps the cached entry when a newer write already landed.
func (c *Cache) StoreList(key string, page ListPage, token uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if token <= c.clearedAt {
		return false
	}
	if existing, ok := c.lists[key]; ok && existing.stamp > token {
		return false
	}
	c.lists[key] = listEntry{page: page.clone(), stamp: token}
	return true
}

// StoreDetail is StoreList for a ticket detail.
func (c *Cache) StoreDetail(id string, ticket dto.Ticket, token uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if token <= c.clearedAt {
		return false
	}
	if existing, ok := c.details[id]; ok && existing.stamp > token {
		return false
	}
	c.details[id] = detailEntry{ticket: cloneTicket(ticket), stamp: token}
	return true
}

// Patch applies fn to every cached copy of ticket id and returns the undo
// snapshot. Patched entries keep their stale flag.
func (c *Cache) Patch(id string, fn func(dto.Ticket) dto.Ticket) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	var detail *detailEntry
	if entry, ok := c.details[id]; ok {
		detail = &entry
	}
	patched, patchedDetail, snap := applyPatch(c.lists, detail, id, fn)
	if len(patched) == 0 && patchedDetail == nil {
		return snap
	}
	stamp := c.next()
	for key, entry := range patched {
		entry.stamp = stamp
		c.lists[key] = entry
	}
	if patchedDetail != nil {
		patchedDetail.stamp = stamp
		c.details[id] = *patchedDetail
	}
	return snap
}

// Restore puts back the values captured by snap. Only the entries the patch
// touched are written; entries removed since then are not recreated.
func (c *Cache) Restore(snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if snap.Empty() {
		return
	}
	stamp := c.next()
	for key, prior := range snap.lists {
		if _, ok := c.lists[key]; !ok {
			continue
		}
		prior.stamp = stamp
		c.lists[key] = prior
	}
	if snap.hasDetail {
		if _, ok := c.details[snap.id]; ok {
			prior := snap.detail
			prior.stamp = stamp
			c.details[snap.id] = prior
		}
	}
}

// Invalidate marks every entry stale.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.lists {
		entry.stale = true
		c.lists[key] = entry
	}
	for id, entry := range c.details {
		entry.stale = true
		c.details[id] = entry
	}
}

// InvalidateLists marks every list entry stale.
func (c *Cache) InvalidateLists() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.lists {
		entry.stale = true
		c.lists[key] = entry
	}
}

// Clear drops every entry. Results of fetches begun before Clear are ignored.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists = make(map[string]listEntry)
	c.details = make(map[string]detailEntry)
	c.clearedAt = c.next()
}
