// Package eventbus implements a topic-based pub/sub substrate for task
// lifecycle and runtime events. Topics are dot-separated strings; a
// subscription may be a literal topic, a single wildcard segment
// ("task.*"), or the global wildcard ("*").
package eventbus

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Event is one emitted occurrence on the bus.
type Event struct {
	Name      string
	Data      map[string]any
	Timestamp time.Time
}

// Handler observes matching events. Handlers must not panic; if they do,
// Emit recovers and continues dispatching to later handlers.
type Handler func(event Event)

// DefaultMaxHistory is the default size of the bounded event ring buffer.
const DefaultMaxHistory = 1000

type subscription struct {
	id      uint64
	pattern string
	handler Handler
}

// Bus is a thread-safe topic event bus with bounded history.
type Bus struct {
	mu         sync.RWMutex
	subs       []subscription
	nextID     uint64
	history    []Event
	historyPos int
	maxHistory int
	logger     *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithMaxHistory overrides the default ring buffer size.
func WithMaxHistory(n int) Option {
	return func(b *Bus) { b.maxHistory = n }
}

// WithLogger overrides the default logger used to report handler panics.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) { b.logger = logger }
}

// New creates a Bus with the given options.
func New(opts ...Option) *Bus {
	b := &Bus{
		maxHistory: DefaultMaxHistory,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.history = make([]Event, 0, b.maxHistory)
	return b
}

// Subscription is an opaque handle returned by Subscribe, usable with Unsubscribe.
type Subscription struct {
	id uint64
}

// Subscribe registers handler against pattern. pattern may be a literal
// topic, "prefix.*" (matches exactly one more segment), or "*" (matches
// everything).
func (b *Bus) Subscribe(pattern string, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, pattern: pattern, handler: handler})
	return Subscription{id: id}
}

// Unsubscribe fully detaches a subscription; the bus holds no further
// reference to its handler afterward.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == sub.id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Emit dispatches name/data to every matching subscriber synchronously, in
// subscription order. A panicking handler is recovered and logged; later
// handlers still run.
func (b *Bus) Emit(name string, data map[string]any) {
	event := Event{Name: name, Data: data, Timestamp: time.Now()}

	b.mu.Lock()
	b.recordLocked(event)
	matching := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if topicMatches(s.pattern, name) {
			matching = append(matching, s.handler)
		}
	}
	b.mu.Unlock()

	for _, h := range matching {
		b.invoke(h, event)
	}
}

func (b *Bus) invoke(h Handler, event Event) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("eventbus handler panicked", "event", event.Name, "panic", rec)
		}
	}()
	h(event)
}

func (b *Bus) recordLocked(event Event) {
	if b.maxHistory <= 0 {
		return
	}
	if len(b.history) < b.maxHistory {
		b.history = append(b.history, event)
		return
	}
	b.history[b.historyPos] = event
	b.historyPos = (b.historyPos + 1) % b.maxHistory
}

// History returns up to limit most recent events matching filter (a topic
// pattern; empty matches everything), oldest first. limit<=0 means no cap.
func (b *Bus) History(filter string, limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ordered := make([]Event, 0, len(b.history))
	if len(b.history) < b.maxHistory || b.maxHistory == 0 {
		ordered = append(ordered, b.history...)
	} else {
		ordered = append(ordered, b.history[b.historyPos:]...)
		ordered = append(ordered, b.history[:b.historyPos]...)
	}

	if filter != "" {
		filtered := ordered[:0:0]
		for _, e := range ordered {
			if topicMatches(filter, e.Name) {
				filtered = append(filtered, e)
			}
		}
		ordered = filtered
	}

	if limit > 0 && len(ordered) > limit {
		ordered = ordered[len(ordered)-limit:]
	}
	return ordered
}

// SubscriberCount returns the number of subscriptions, optionally filtered
// to those whose pattern matches the given topic name.
func (b *Bus) SubscriberCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if name == "" {
		return len(b.subs)
	}
	count := 0
	for _, s := range b.subs {
		if topicMatches(s.pattern, name) {
			count++
		}
	}
	return count
}

// ClearAll removes every subscription. Used by tests and on shutdown.
func (b *Bus) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = nil
}

// topicMatches reports whether a topic name satisfies a subscription
// pattern: "*" matches anything; "a.b.*" matches "a.b.<anything-one-segment>";
// otherwise the pattern must equal the name exactly.
func topicMatches(pattern, name string) bool {
	if pattern == "*" {
		return true
	}
	if pattern == name {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, "*")
		rest := strings.TrimPrefix(name, prefix)
		if rest == name {
			return false // name didn't start with prefix
		}
		return rest != "" && !strings.Contains(rest, ".")
	}
	return false
}
