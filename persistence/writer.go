package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/samclaus/games/logger"
	"github.com/samclaus/games/models"
)

type writeJob struct {
	roomID  string
	entries []models.LogEntry
	room    *models.RoomRecord
}

// Writer persists log entries and room records off the caller's goroutine.
// Appends are batched per room and flushed every flushEvery or once
// maxBatch entries are pending. A room record is only written after the
// entries queued before it.
type Writer struct {
	store      LogStore
	jobs       chan writeJob
	maxBatch   int
	flushEvery time.Duration
	timeout    time.Duration

	// OnDrop, if set, is called when the queue was full and a job was
	// discarded.
	OnDrop func(roomID string)

	closeOnce sync.Once
	done      chan struct{}
}

func NewWriter(store LogStore, queueSize, maxBatch int, flushEvery time.Duration) *Writer {
	if maxBatch <= 0 {
		maxBatch = 100
	}
	if flushEvery <= 0 {
		flushEvery = 500 * time.Millisecond
	}
	w := &Writer{
		store:      store,
		jobs:       make(chan writeJob, queueSize),
		maxBatch:   maxBatch,
		flushEvery: flushEvery,
		timeout:    5 * time.Second,
		done:       make(chan struct{}),
	}
	go w.run()
	return w
}

// Append queues entries for roomID. It never blocks; false means the queue
// was full and the entries were not persisted.
func (w *Writer) Append(roomID string, entries []models.LogEntry) bool {
	if len(entries) == 0 {
		return true
	}
	return w.enqueue(writeJob{roomID: roomID, entries: append([]models.LogEntry(nil), entries...)})
}

// SaveRoom queues a room record.
func (w *Writer) SaveRoom(rec models.RoomRecord) bool {
	return w.enqueue(writeJob{roomID: rec.RoomID, room: &rec})
}

func (w *Writer) enqueue(job writeJob) bool {
	select {
	case w.jobs <- job:
		return true
	default:
		logger.Log.Warnw("persistence queue full, dropping write", "room", job.roomID, "entries", len(job.entries))
		if w.OnDrop != nil {
			w.OnDrop(job.roomID)
		}
		return false
	}
}

// Close flushes everything queued and waits for the writer to finish. No
// Append or SaveRoom may be called afterwards.
func (w *Writer) Close() {
	w.closeOnce.Do(func() { close(w.jobs) })
	<-w.done
}

func (w *Writer) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.flushEvery)
	defer ticker.Stop()

	var (
		pending = make(map[string][]models.LogEntry)
		order   []string
		count   int
	)

	flush := func() {
		for _, roomID := range order {
			w.appendEntries(roomID, pending[roomID])
		}
		pending = make(map[string][]models.LogEntry)
		order = order[:0]
		count = 0
	}

	for {
		select {
		case job, ok := <-w.jobs:
			if !ok {
				flush()
				return
			}
			if job.room != nil {
				if entries, has := pending[job.roomID]; has {
					w.appendEntries(job.roomID, entries)
					delete(pending, job.roomID)
					order = without(order, job.roomID)
					count -= len(entries)
				}
				w.saveRoom(*job.room)
				continue
			}
			if _, has := pending[job.roomID]; !has {
				order = append(order, job.roomID)
			}
			pending[job.roomID] = append(pending[job.roomID], job.entries...)
			count += len(job.entries)
			if count >= w.maxBatch {
				flush()
			}
		case <-ticker.C:
			if count > 0 {
				flush()
			}
		}
	}
}

func (w *Writer) appendEntries(roomID string, entries []models.LogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	if err := w.store.AppendEntries(ctx, roomID, entries); err != nil {
		logger.Log.Errorw("failed to persist log entries", "room", roomID, "entries", len(entries), "error", err)
	}
}

func (w *Writer) saveRoom(rec models.RoomRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	if err := w.store.SaveRoom(ctx, rec); err != nil {
		logger.Log.Errorw("failed to persist room", "room", rec.RoomID, "error", err)
	}
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
