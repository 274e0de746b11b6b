// broadcast/broadcast.go
package broadcast

import (
	"sync"
)

// Sink is a subscriber's outbound queue. Enqueue must never block; it reports
// false when the frame could not be queued.
type Sink interface {
	GetID() string
	Enqueue(frame []byte) bool
	Kick(reason string)
}

// Hub fans frames out to the subscribers of one room. Publish is called from
// the room goroutine only, so every subscriber sees frames in publish order.
// Subscribe and Unsubscribe may be called from anywhere.
type Hub struct {
	mutex sync.Mutex
	subs  map[string]Sink

	// OnDrop, if set, is called after a subscriber was dropped for falling
	// behind.
	OnDrop func(id string)
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]Sink)}
}

// Subscribe queues the initial frames (normally a snapshot) and then
// registers the sink. A sink that cannot take its initial frames is not
// registered and is kicked.
func (h *Hub) Subscribe(sink Sink, initial ...[]byte) bool {
	for _, frame := range initial {
		if !sink.Enqueue(frame) {
			sink.Kick("send queue full")
			return false
		}
	}

	h.mutex.Lock()
	h.subs[sink.GetID()] = sink
	h.mutex.Unlock()
	return true
}

func (h *Hub) Unsubscribe(id string) {
	h.mutex.Lock()
	delete(h.subs, id)
	h.mutex.Unlock()
}

// Publish queues frame to every subscriber. Subscribers whose queue is full
// are removed and disconnected; they resync from a snapshot on reconnect.
// It returns the number of subscribers dropped.
func (h *Hub) Publish(frame []byte) int {
	h.mutex.Lock()
	sinks := make([]Sink, 0, len(h.subs))
	for _, s := range h.subs {
		sinks = append(sinks, s)
	}
	h.mutex.Unlock()

	dropped := 0
	for _, s := range sinks {
		if s.Enqueue(frame) {
			continue
		}
		h.Unsubscribe(s.GetID())
		s.Kick("send queue full")
		dropped++
		if h.OnDrop != nil {
			h.OnDrop(s.GetID())
		}
	}
	return dropped
}

func (h *Hub) Len() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.subs)
}

// Close drops every subscriber without kicking them.
func (h *Hub) Close() {
	h.mutex.Lock()
	h.subs = make(map[string]Sink)
	h.mutex.Unlock()
}

// 基于房间的广播器
type RoomBroadcaster struct {
	hubs   map[string]*Hub
	mutex  sync.RWMutex
	onDrop func(roomID, id string)
}

func NewRoomBroadcaster(onDrop func(roomID, id string)) *RoomBroadcaster {
	return &RoomBroadcaster{
		hubs:   make(map[string]*Hub),
		onDrop: onDrop,
	}
}

// Hub returns the hub for roomID, creating it on first use.
func (b *RoomBroadcaster) Hub(roomID string) *Hub {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	h, ok := b.hubs[roomID]
	if !ok {
		h = NewHub()
		if b.onDrop != nil {
			h.OnDrop = func(id string) { b.onDrop(roomID, id) }
		}
		b.hubs[roomID] = h
	}
	return h
}

func (b *RoomBroadcaster) Remove(roomID string) {
	b.mutex.Lock()
	h, ok := b.hubs[roomID]
	delete(b.hubs, roomID)
	b.mutex.Unlock()

	if ok {
		h.Close()
	}
}
