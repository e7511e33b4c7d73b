// Package homeassistant maintains a near-real-time read model of Home
// Assistant entities and executes commands against them. A WebSocket
// subscription keeps a TTL-bounded state cache warm; REST fills cache
// misses and carries all writes.
package homeassistant

import (
	"strings"
	"time"
)

// Entity is the cached view of one Home Assistant entity. FetchedAt
// records when this snapshot was taken: the event time for
// event-sourced updates, the fetch time for REST reads.
type Entity struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	LastChanged string         `json:"last_changed,omitempty"`
	LastUpdated string         `json:"last_updated,omitempty"`
	FetchedAt   time.Time      `json:"fetched_at"`
}

// Domain returns the entity_id prefix before the dot (light, switch,
// sensor, ...), or "" when the id has no dot.
func (e *Entity) Domain() string {
	if i := strings.IndexByte(e.EntityID, '.'); i > 0 {
		return e.EntityID[:i]
	}
	return ""
}

// FriendlyName returns the friendly_name attribute, falling back to
// the entity_id.
func (e *Entity) FriendlyName() string {
	if v, ok := e.Attributes["friendly_name"].(string); ok && v != "" {
		return v
	}
	return e.EntityID
}
