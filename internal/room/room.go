// Package room implements the per-room fan-out registry that delivers
// live edits to every session viewing a document.
package room

import (
	"encoding/json"
	"sync"
)

// Mode selects whether a room message echoes back to its origin.
const (
	ModeEmit      = "emit"      // deliver to every subscriber, origin included
	ModeBroadcast = "broadcast" // deliver to everyone except the origin
)

// Message is the envelope published into a room. The broadcaster
// treats it as opaque; origin filtering happens in the subscriber's
// deliver callback.
type Message struct {
	Origin      string          `json:"origin"`
	Mode        string          `json:"mode"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Acknowledge string          `json:"acknowledge,omitempty"`
}

// DeliverFunc receives a published message. Delivery is synchronous
// within Publish, so callbacks must not block.
type DeliverFunc func(msg Message)

// Broadcaster keeps one delivery callback per subscriber id per room.
type Broadcaster struct {
	mu    sync.RWMutex
	rooms map[string]map[string]DeliverFunc
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{rooms: make(map[string]map[string]DeliverFunc)}
}

// Subscribe registers deliver for (room, id). Re-subscribing the same
// id silently replaces the previous callback.
func (b *Broadcaster) Subscribe(room, id string, deliver DeliverFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.rooms[room]
	if !ok {
		subs = make(map[string]DeliverFunc)
		b.rooms[room] = subs
	}
	subs[id] = deliver
}

// Unsubscribe removes (room, id). The room entry is discarded once its
// last subscriber leaves.
func (b *Broadcaster) Unsubscribe(room, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.rooms[room]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(b.rooms, room)
	}
}

// Publish synchronously invokes every subscriber of room with msg.
// Publishing to an empty room is a no-op.
func (b *Broadcaster) Publish(room string, msg Message) {
	b.mu.RLock()
	subs := b.rooms[room]
	delivers := make([]DeliverFunc, 0, len(subs))
	for _, d := range subs {
		delivers = append(delivers, d)
	}
	b.mu.RUnlock()

	for _, deliver := range delivers {
		deliver(msg)
	}
}

// Subscribers reports the number of subscribers currently in room.
func (b *Broadcaster) Subscribers(room string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[room])
}
