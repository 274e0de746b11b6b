package room

import (
	"github.com/samclaus/games/broadcast"
	"github.com/samclaus/games/models"
)

// Publisher is the room's view of its broadcast hub. *broadcast.Hub
// implements it.
type Publisher interface {
	Publish(frame []byte) int
	Subscribe(sink broadcast.Sink, initial ...[]byte) bool
	Unsubscribe(id string)
	Len() int
	Close()
}

// LogSink receives committed log entries and room records for persistence.
// Implementations must not block. *persistence.Writer implements it.
type LogSink interface {
	Append(roomID string, entries []models.LogEntry) bool
	SaveRoom(rec models.RoomRecord) bool
}
