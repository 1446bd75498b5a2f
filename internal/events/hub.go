// Package events fans out pipeline lifecycle notifications to live
// subscribers such as the /events stream and the watch TUI.
package events

import (
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Event types.
const (
	TypeBatchStarted     = "batch.started"
	TypeBatchSucceeded   = "batch.succeeded"
	TypeBatchFailed      = "batch.failed"
	TypeDownloadRedeemed = "download.redeemed"
	TypeCapabilityReaped = "capability.reaped"
	TypeWorkspacesSwept  = "workspace.swept"
)

// BatchStarted is the payload of TypeBatchStarted.
type BatchStarted struct {
	BatchID   string `json:"batch_id"`
	Operation string `json:"operation"`
	Inputs    int    `json:"inputs"`
	Channel   string `json:"channel"`
}

// BatchFinished is the payload of TypeBatchSucceeded and TypeBatchFailed.
type BatchFinished struct {
	BatchID    string `json:"batch_id"`
	Operation  string `json:"operation"`
	DurationMS int64  `json:"duration_ms"`
	Artifact   string `json:"artifact,omitempty"`
	Size       int64  `json:"size,omitempty"`
	Delivery   string `json:"delivery,omitempty"`
	Error      string `json:"error,omitempty"`
	Code       string `json:"code,omitempty"`
	ExitCode   *int   `json:"exit_code,omitempty"`
}

// DownloadRedeemed is the payload of TypeDownloadRedeemed.
type DownloadRedeemed struct {
	WorkspaceID string `json:"workspace_id"`
	DisplayName string `json:"display_name"`
	Size        int64  `json:"size"`
}

// CapabilityReaped is the payload of TypeCapabilityReaped.
type CapabilityReaped struct {
	Count int `json:"count"`
}

// WorkspacesSwept is the payload of TypeWorkspacesSwept.
type WorkspacesSwept struct {
	Deleted  int `json:"deleted"`
	Retained int `json:"retained"`
}

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Publisher accepts events.
type Publisher interface {
	Publish(eventType string, data any)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(string, any) {}

// DefaultBacklog is the number of events kept for replay when NewHub is
// given a non-positive size.
const DefaultBacklog = 256

const subscriberBuffer = 128

// Subscription receives every event published after Subscribe returned.
// Events are dropped, never queued without bound, when C is not drained.
type Subscription struct {
	C <-chan Event

	ch      chan Event
	hub     *Hub
	id      int
	dropped atomic.Int64
	once    sync.Once
}

// Dropped reports how many events this subscriber has missed.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close unregisters the subscription and closes C. It is idempotent.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s.id)
		s.hub.mu.Unlock()
		close(s.ch)
	})
}

// Hub fans events out to subscribers and keeps a bounded, ID-ordered
// backlog so reconnecting clients can replay what they missed.
type Hub struct {
	mu      sync.Mutex
	lastID  int64
	backlog []Event
	limit   int
	subs    map[int]*Subscription
	nextSub int
	now     func() time.Time
}

var _ Publisher = (*Hub)(nil)

func NewHub(backlog int) *Hub {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return &Hub{
		backlog: make([]Event, 0, backlog),
		limit:   backlog,
		subs:    make(map[int]*Subscription),
		now:     time.Now,
	}
}

// Publish records an event and offers it to every subscriber. data is
// marshalled to JSON; a nil or unmarshalable payload becomes {}.
func (h *Hub) Publish(eventType string, data any) {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// IDs are assigned under the lock so the backlog stays sorted.
	h.lastID++
	ev := Event{ID: h.lastID, Type: eventType, At: h.now().UTC(), Data: payload}

	if len(h.backlog) == h.limit {
		copy(h.backlog, h.backlog[1:])
		h.backlog = h.backlog[:h.limit-1]
	}
	h.backlog = append(h.backlog, ev)

	for _, sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Subscribe registers a live subscriber. Call Close when done.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	sub := &Subscription{C: ch, ch: ch, hub: h, id: h.nextSub}
	h.nextSub++
	h.subs[sub.id] = sub
	return sub
}

// SnapshotSince returns backlog events with ID > lastID, oldest first.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	i := sort.Search(len(h.backlog), func(i int) bool { return h.backlog[i].ID > lastID })
	out := make([]Event, len(h.backlog)-i)
	copy(out, h.backlog[i:])
	return out
}

// LastID is the ID of the most recent event, or 0.
func (h *Hub) LastID() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastID
}
