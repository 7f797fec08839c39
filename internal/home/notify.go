package home

import (
	"sync"
	"time"
)

// Level is the severity of a notification.
type Level string

const (
	LevelLoading Level = "loading"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is a transient, user-visible message.
type Notification struct {
	// Topic groups notifications that replace one another, e.g. a loading
	// message followed by its outcome.
	Topic   string    `json:"topic,omitempty"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Offline bool      `json:"offline,omitempty"`
	At      time.Time `json:"at"`
}

// Notifier receives notifications.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

// Notify implements Notifier.
func (f NotifierFunc) Notify(n Notification) { f(n) }

// DefaultInboxSize is the number of notifications an Inbox keeps.
const DefaultInboxSize = 16

// Inbox buffers notifications until the client drains them. A notification
// replaces a pending one with the same topic. When full, the oldest is dropped.
type Inbox struct {
	mu    sync.Mutex
	items []Notification
	max   int
}

// NewInbox creates an Inbox holding at most max notifications.
func NewInbox(max int) *Inbox {
	if max <= 0 {
		max = DefaultInboxSize
	}
	return &Inbox{max: max}
}

// Notify implements Notifier.
func (b *Inbox) Notify(n Notification) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if n.Topic != "" {
		for i := range b.items {
			if b.items[i].Topic == n.Topic {
				b.items[i] = n
				return
			}
		}
	}
	if len(b.items) == b.max {
		b.items = b.items[1:]
	}
	b.items = append(b.items, n)
}

// Drain returns and clears the pending notifications.
func (b *Inbox) Drain() []Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.items
	b.items = nil
	if items == nil {
		return []Notification{}
	}
	return items
}
