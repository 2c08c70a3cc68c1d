// ABOUTME: Conversation Registry for the active app's conversation list and selection
// ABOUTME: The list is replaced wholesale on every re-list so apps never mix

package chat

import (
	"sync"

	"github.com/2389/parley/internal/store"
)

// Registry holds the conversation summaries of the active app and the
// selected conversation ID. It is safe for concurrent use.
type Registry struct {
	mu            sync.RWMutex
	appID         string
	conversations []*store.Conversation
	activeID      string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Reset empties the list for appID and clears the selection.
func (r *Registry) Reset(appID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appID = appID
	r.conversations = nil
	r.activeID = ""
}

// Replace installs a freshly listed set of conversations for appID.
// It reports false, and changes nothing, when appID is no longer the
// registry's app (a late result for an app the user switched away from).
func (r *Registry) Replace(appID string, convs []*store.Conversation) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if appID != r.appID {
		return false
	}
	r.conversations = make([]*store.Conversation, 0, len(convs))
	for _, c := range convs {
		cc := *c
		r.conversations = append(r.conversations, &cc)
	}
	return true
}

// List returns a copy of the conversation list in display order.
func (r *Registry) List() []*store.Conversation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*store.Conversation, len(r.conversations))
	for i, c := range r.conversations {
		cc := *c
		out[i] = &cc
	}
	return out
}

// Get returns a copy of the conversation with id.
func (r *Registry) Get(id string) (*store.Conversation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.conversations {
		if c.ID == id {
			cc := *c
			return &cc, true
		}
	}
	return nil, false
}

// Prepend adds conv to the top of the list unless it is already present.
func (r *Registry) Prepend(conv *store.Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conv.AppID != "" && conv.AppID != r.appID {
		return
	}
	for _, c := range r.conversations {
		if c.ID == conv.ID {
			return
		}
	}
	cc := *conv
	r.conversations = append([]*store.Conversation{&cc}, r.conversations...)
}

// Remove drops the conversation with id and reports whether it was selected.
// A removed selected conversation is also deselected.
func (r *Registry) Remove(id string) (wasActive bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.conversations[:0]
	for _, c := range r.conversations {
		if c.ID != id {
			out = append(out, c)
		}
	}
	r.conversations = out
	if r.activeID == id {
		r.activeID = ""
		return true
	}
	return false
}

// Rename sets the title of a listed conversation. Unknown IDs are ignored.
func (r *Registry) Rename(id, title string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conversations {
		if c.ID == id {
			c.Title = title
			return true
		}
	}
	return false
}

// Select sets the active conversation; "" deselects.
func (r *Registry) Select(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeID = id
}

// SelectIfNone selects id only when nothing is selected and appID is still
// the registry's app. It reports whether the selection was made.
func (r *Registry) SelectIfNone(appID, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appID != appID || r.activeID != "" {
		return false
	}
	r.activeID = id
	return true
}

// Active returns the selected conversation ID, or "".
func (r *Registry) Active() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeID
}
