// Package audit implements the Audit Logging Service: it subscribes to the
// Node Service's event bus and appends an immutable per-stream history,
// streamId = node uuid, per spec.md §4.7.
package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kindalus/antbox-sub000/core/auth"
	"github.com/kindalus/antbox-sub000/core/event"
	antboxerrors "github.com/kindalus/antbox-sub000/platform/errors"
	"github.com/kindalus/antbox-sub000/platform/logging"
)

// EventType mirrors the node event kind as it appears in the audit stream.
type EventType string

const (
	EventTypeCreated EventType = "NodeCreated"
	EventTypeUpdated EventType = "NodeUpdated"
	EventTypeDeleted EventType = "NodeDeleted"
)

// Entry is one appended audit record.
type Entry struct {
	EventID    string
	EventType  EventType
	OccurredOn time.Time
	UserEmail  string
	Tenant     string
	Payload    map[string]any
	Sequence   int
}

// Deleted is the shape returned by GetDeleted: a summary of a deleted node.
type Deleted struct {
	UUID      string
	Title     string
	DeletedAt time.Time
	DeletedBy string
}

// stream is the per-(uuid, mimetype) append-only sequence.
type stream struct {
	mimetype string
	entries  []Entry
}

// Log is the Audit Logging Service. Reading is admin-only.
type Log struct {
	mu      sync.RWMutex
	streams map[string]*stream // keyed by uuid
	logger  *logging.Logger
}

// New builds a Log and subscribes it to bus's three node event kinds.
func New(bus *event.Bus, logger *logging.Logger) *Log {
	l := &Log{streams: make(map[string]*stream), logger: logger}
	bus.Subscribe(event.NodeCreated, "audit-log", l.handle(EventTypeCreated))
	bus.Subscribe(event.NodeUpdated, "audit-log", l.handle(EventTypeUpdated))
	bus.Subscribe(event.NodeDeleted, "audit-log", l.handle(EventTypeDeleted))
	return l
}

func (l *Log) handle(kind EventType) event.Handler {
	return func(ctx context.Context, evt event.Event) error {
		payload := map[string]any{
			"uuid":      evt.UUID,
			"oldValues": evt.OldValues,
			"newValues": evt.NewValues,
		}
		mimetype, _ := mimetypeOf(evt)
		l.append(evt.UUID, mimetype, Entry{
			EventID:    evt.ID,
			EventType:  kind,
			OccurredOn: evt.OccurredOn,
			UserEmail:  evt.UserEmail,
			Tenant:     evt.Tenant,
			Payload:    payload,
		})
		if l.logger != nil {
			l.logger.LogAudit(ctx, string(kind), "node", evt.UUID, evt.UserEmail)
		}
		return nil
	}
}

func mimetypeOf(evt event.Event) (string, bool) {
	if evt.NewValues != nil {
		if m, ok := evt.NewValues["mimetype"].(string); ok {
			return m, true
		}
	}
	if evt.OldValues != nil {
		if m, ok := evt.OldValues["mimetype"].(string); ok {
			return m, true
		}
	}
	return "", false
}

// append adds entry to uuid's stream, assigning the next sequence number;
// appends are serialized per streamId per spec.md §5.
func (l *Log) append(uuid, mimetype string, entry Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.streams[uuid]
	if !ok {
		s = &stream{mimetype: mimetype}
		l.streams[uuid] = s
	}
	entry.Sequence = len(s.entries) + 1
	s.entries = append(s.entries, entry)
}

// Stream returns uuid's full audit history in append order. Admin-only.
func (l *Log) Stream(ctx context.Context, uuid string) ([]Entry, error) {
	ac := auth.FromContext(ctx)
	if !ac.Principal.IsAdmin() {
		return nil, antboxerrors.Forbidden("admin privileges required")
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.streams[uuid]
	if !ok {
		return nil, nil
	}
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

// GetDeleted aggregates deletion events for streams whose mimetype matches,
// returning {uuid, title, deletedAt, deletedBy}. Admin-only.
func (l *Log) GetDeleted(ctx context.Context, mimetype string) ([]Deleted, error) {
	ac := auth.FromContext(ctx)
	if !ac.Principal.IsAdmin() {
		return nil, antboxerrors.Forbidden("admin privileges required")
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Deleted
	for uuid, s := range l.streams {
		if s.mimetype != mimetype {
			continue
		}
		for _, e := range s.entries {
			if e.EventType != EventTypeDeleted {
				continue
			}
			var title string
			if old, ok := e.Payload["oldValues"].(map[string]any); ok {
				title, _ = old["title"].(string)
			}
			out = append(out, Deleted{
				UUID:      uuid,
				Title:     title,
				DeletedAt: e.OccurredOn,
				DeletedBy: e.UserEmail,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeletedAt.Before(out[j].DeletedAt) })
	return out, nil
}
