package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/logger"
	"github.com/mailsweep/mailsweep/internal/models"
)

const (
	pollInterval      = 150 * time.Millisecond
	keepaliveInterval = 5 * time.Second
	maxStreamDuration = time.Hour
)

// Envelope is one progress event as delivered to a stream consumer. ID is the
// durable log id when the event came from the database and zero for events
// delivered straight from the in-process queue.
type Envelope struct {
	ID    uint64
	Event string
	Data  map[string]interface{}
	TS    time.Time
}

// Bus fans progress events out to live stream consumers. Runs executed inside
// the server process publish into a per-session in-memory queue; runs executed
// by sibling worker processes reach consumers through the durable event log,
// which Stream polls when no in-memory queue exists for the session.
type Bus struct {
	log             logger.Logger
	eventRepository interfaces.EventRepository

	mu     sync.Mutex
	queues map[string][]Envelope
}

func NewBus(log logger.Logger, eventRepository interfaces.EventRepository) *Bus {
	return &Bus{
		log:             log,
		eventRepository: eventRepository,
		queues:          make(map[string][]Envelope),
	}
}

// Register opens the in-memory queue for a session. Call it before launching
// an in-process run so Stream prefers the queue over durable polling.
func (b *Bus) Register(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[sessionID]; !ok {
		b.queues[sessionID] = nil
	}
}

// Forget drops the session's queue. Safe to call for unknown sessions.
func (b *Bus) Forget(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.queues, sessionID)
}

// Publish appends one event to the session's queue. Events for sessions that
// were never registered are dropped; their durable copies still reach
// consumers through the log.
func (b *Bus) Publish(sessionID, event string, data map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[sessionID]; !ok {
		return
	}
	b.queues[sessionID] = append(b.queues[sessionID], Envelope{
		Event: event,
		Data:  data,
		TS:    time.Now().UTC(),
	})
}

// Emitter binds Publish to one session.
func (b *Bus) Emitter(sessionID string) interfaces.EventEmitter {
	return func(event string, data map[string]interface{}) {
		b.Publish(sessionID, event, data)
	}
}

func (b *Bus) registered(sessionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.queues[sessionID]
	return ok
}

// pending returns a copy of the session's queued events past offset. The
// queue itself stays intact so every stream replays it from the beginning.
func (b *Bus) pending(sessionID string, offset int) []Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	queue := b.queues[sessionID]
	if offset >= len(queue) {
		return nil
	}
	return append([]Envelope(nil), queue[offset:]...)
}

// Stream delivers a session's events to send until a done event arrives, the
// context is cancelled or the one-hour cap expires. afterID resumes durable
// delivery past an already-seen log id; the in-memory path instead replays the
// whole queue on every connection, so a reconnecting client sees the run's
// earlier events again. A keepalive envelope is sent after five quiet seconds
// so proxies do not cut the connection.
func (b *Bus) Stream(ctx context.Context, sessionID string, afterID uint64, send func(Envelope) error) error {
	deadline := time.Now().Add(maxStreamDuration)
	cursor := afterID
	offset := 0
	lastSent := time.Now()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	useQueue := b.registered(sessionID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if time.Now().After(deadline) {
			return nil
		}

		var batch []Envelope
		if useQueue {
			batch = b.pending(sessionID, offset)
			offset += len(batch)
		} else {
			rows, err := b.eventRepository.ListAfter(ctx, sessionID, cursor, 200)
			if err != nil {
				b.log.Warnf("event log poll failed for session %s: %v", sessionID, err)
				continue
			}
			for _, row := range rows {
				cursor = row.ID
				batch = append(batch, envelopeFromRow(row))
			}
		}

		done := false
		for _, env := range batch {
			if err := send(env); err != nil {
				return err
			}
			lastSent = time.Now()
			if env.Event == models.EventDone {
				done = true
			}
		}
		if done {
			b.Forget(sessionID)
			return nil
		}

		if time.Since(lastSent) >= keepaliveInterval {
			if err := send(Envelope{Event: "keepalive", TS: time.Now().UTC()}); err != nil {
				return err
			}
			lastSent = time.Now()
		}
	}
}

func envelopeFromRow(row models.JobEvent) Envelope {
	data := map[string]interface{}{}
	if err := json.Unmarshal([]byte(row.Data), &data); err != nil {
		data = map[string]interface{}{"raw": row.Data}
	}
	return Envelope{
		ID:    row.ID,
		Event: row.Event,
		Data:  data,
		TS:    row.CreatedAt,
	}
}
