package eventlog

import (
	"sync"
	"time"

	"commodrails/internal/escrow"
)

const defaultCapacity = 1024

// Entry is an event as retained by the feed.
type Entry struct {
	Seq        uint64            `json:"seq"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt time.Time         `json:"recordedAt"`
}

// Feed keeps the most recent events in memory for polling consumers.
// Sequence numbers start at 1 and are never reused; once capacity is
// reached the oldest entries are overwritten in place.
type Feed struct {
	mu       sync.RWMutex
	capacity int
	entries  []Entry
	head     int
	seq      uint64
	now      func() time.Time
}

func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Feed{
		capacity: capacity,
		entries:  make([]Entry, 0, capacity),
		now:      time.Now,
	}
}

func (f *Feed) Emit(evt escrow.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	e := Entry{
		Seq:        f.seq,
		Type:       evt.EventType(),
		Attributes: evt.Attributes(),
		RecordedAt: f.now().UTC(),
	}
	if len(f.entries) < f.capacity {
		f.entries = append(f.entries, e)
		return
	}
	f.entries[f.head] = e
	f.head = (f.head + 1) % f.capacity
}

// Since returns up to limit entries with a sequence number above after.
func (f *Feed) Since(after uint64, limit int) []Entry {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Entry, 0)
	n := len(f.entries)
	for i := 0; i < n; i++ {
		e := f.entries[(f.head+i)%n]
		if e.Seq <= after {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Last returns the highest sequence number issued so far.
func (f *Feed) Last() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.seq
}
