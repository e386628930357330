package store

import (
	"sort"
	"sync"
)

// Contact is a directory entry for a chat participant.
type Contact struct {
	ID          string
	DisplayName string
	Role        string
	AvatarRef   string
}

// Contacts is the in-session contact registry, populated from the directory
// fetch and updated incrementally. Contacts are never deleted during a
// session.
type Contacts struct {
	mu   sync.RWMutex
	byID map[string]Contact
}

// NewContacts creates an empty contact registry.
func NewContacts() *Contacts {
	return &Contacts{byID: make(map[string]Contact)}
}

// Upsert adds or replaces contacts by ID.
func (c *Contacts) Upsert(contacts ...Contact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ct := range contacts {
		if ct.ID == "" {
			continue
		}
		c.byID[ct.ID] = ct
	}
}

// Get returns the contact with the given ID.
func (c *Contacts) Get(id string) (Contact, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ct, ok := c.byID[id]
	return ct, ok
}

// DisplayName returns the contact's display name, or the raw ID for
// contacts not (yet) in the directory.
func (c *Contacts) DisplayName(id string) string {
	if ct, ok := c.Get(id); ok && ct.DisplayName != "" {
		return ct.DisplayName
	}
	return id
}

// All returns all contacts sorted by display name.
func (c *Contacts) All() []Contact {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Contact, 0, len(c.byID))
	for _, ct := range c.byID {
		out = append(out, ct)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName == out[j].DisplayName {
			return out[i].ID < out[j].ID
		}
		return out[i].DisplayName < out[j].DisplayName
	})
	return out
}

// IDs returns all known contact IDs.
func (c *Contacts) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.byID))
	for id := range c.byID {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
