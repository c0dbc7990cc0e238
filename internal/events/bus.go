// Package events is the CloudEvents envelope and in-process pub/sub bus
// the breakpoint manager's observer fan-out is actually built on: every
// execution_paused/execution_resumed/call_completed notification is
// wrapped as a CloudEvent and published through a Bus, which the
// websocket hub and the notification sinks in internal/notify both
// subscribe to.
package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Event type names a breakpoint manager dispatches. Kept here rather than
// in internal/breakpoint so a subscriber can filter Subscribe(...) by
// type without importing the manager package.
const (
	TypeExecutionPaused  = "execution_paused"
	TypeExecutionResumed = "execution_resumed"
	TypeCallCompleted    = "call_completed"
)

// CloudEvent is the CloudEvents 1.0 envelope used for every breakpoint
// manager notification, so a websocket or webhook sink can forward it
// with no reshaping.
type CloudEvent struct {
	SpecVersion string                 `json:"specversion"`
	Type        string                 `json:"type"`
	Source      string                 `json:"source"`
	ID          string                 `json:"id"`
	Time        time.Time              `json:"time"`
	Subject     string                 `json:"subject,omitempty"`
	Data        map[string]interface{} `json:"data"`
}

// NewCloudEvent builds a CloudEvent. subject is typically a pause_id or
// call_id — whichever the event's data is keyed on.
func NewCloudEvent(eventType, source, subject string, data map[string]interface{}) *CloudEvent {
	return &CloudEvent{
		SpecVersion: "1.0",
		Type:        eventType,
		Source:      source,
		ID:          fmt.Sprintf("ce-%d", time.Now().UnixNano()),
		Time:        time.Now(),
		Subject:     subject,
		Data:        data,
	}
}

// JSON serializes the event as CloudEvents structured-mode JSON.
func (ce *CloudEvent) JSON() ([]byte, error) {
	return json.Marshal(ce)
}

// SSEFormat renders the event as a Server-Sent Events frame.
func (ce *CloudEvent) SSEFormat() ([]byte, error) {
	data, err := json.Marshal(ce)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\nid: %s\n\n", ce.Type, data, ce.ID)), nil
}

// Bus is an in-process CloudEvents pub/sub bus. Subscribers each get
// their own buffered channel; a slow subscriber drops events rather than
// blocking Publish.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan *CloudEvent // event type -> channels
	allSubs     []chan *CloudEvent            // subscribers to every type
	bufferSize  int
}

// NewBus returns a Bus with a 100-event subscriber buffer.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string][]chan *CloudEvent),
		bufferSize:  100,
	}
}

// Subscribe returns a channel receiving events of the given types, or
// every type if none are given.
func (b *Bus) Subscribe(eventTypes ...string) chan *CloudEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *CloudEvent, b.bufferSize)
	if len(eventTypes) == 0 {
		b.allSubs = append(b.allSubs, ch)
	} else {
		for _, et := range eventTypes {
			b.subscribers[et] = append(b.subscribers[et], ch)
		}
	}
	return ch
}

// Unsubscribe removes and closes ch.
func (b *Bus) Unsubscribe(ch chan *CloudEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for et, subs := range b.subscribers {
		b.subscribers[et] = removeChan(subs, ch)
	}
	b.allSubs = removeChan(b.allSubs, ch)
	close(ch)
}

func removeChan(subs []chan *CloudEvent, target chan *CloudEvent) []chan *CloudEvent {
	filtered := make([]chan *CloudEvent, 0, len(subs))
	for _, s := range subs {
		if s != target {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

// Publish fans event out to every subscriber whose filter matches.
func (b *Bus) Publish(event *CloudEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[event.Type] {
		select {
		case ch <- event:
		default:
		}
	}
	for _, ch := range b.allSubs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Emit builds and publishes a CloudEvent in one call.
func (b *Bus) Emit(eventType, source, subject string, data map[string]interface{}) *CloudEvent {
	event := NewCloudEvent(eventType, source, subject, data)
	b.Publish(event)
	return event
}

// SubjectOf derives a CloudEvent subject from a breakpoint manager
// event's data: its pause_id if present, else its call_id, else "".
func SubjectOf(data map[string]interface{}) string {
	if v, ok := data["pause_id"].(string); ok {
		return v
	}
	if v, ok := data["call_id"].(string); ok {
		return v
	}
	return ""
}

// SubscriberCount returns the total number of active subscriber channels.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := len(b.allSubs)
	for _, subs := range b.subscribers {
		count += len(subs)
	}
	return count
}
