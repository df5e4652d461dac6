// Package updatelog holds the per-session activity feed: an append-only,
// deduplicating store of timestamped status notifications that the TUI
// renders in insertion order.
package updatelog

import (
	"strings"
	"time"
)

// Status classifies a notification line.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Note is the identity of a notification: a status line attributed to a
// named processing agent. Two notes with equal fields are the same event
// regardless of when they were observed.
type Note struct {
	Agent   string
	Status  Status
	Message string
}

func (n Note) normalized() Note {
	n.Agent = strings.TrimSpace(n.Agent)
	n.Message = strings.TrimSpace(n.Message)
	return n
}

// Notification is a note stamped with the time the log accepted it.
// Immutable once created.
type Notification struct {
	Note
	Timestamp time.Time
}

// Log is the append-only notification store. It expects a single writer
// (the session controller) and never evicts.
type Log struct {
	entries []Notification
	seen    map[Note]struct{}
	clock   func() time.Time
}

// Option customizes Log construction.
type Option func(*Log)

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(l *Log) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// New creates an empty log.
func New(opts ...Option) *Log {
	l := &Log{
		seen:  map[Note]struct{}{},
		clock: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Append records a note stamped with the log's clock. It returns true when
// the entry was newly added and false when the same note was already
// present, in which case the duplicate is dropped silently.
func (l *Log) Append(note Note) bool {
	if l == nil {
		return false
	}
	note = note.normalized()
	if _, ok := l.seen[note]; ok {
		return false
	}
	l.seen[note] = struct{}{}
	l.entries = append(l.entries, Notification{Note: note, Timestamp: l.clock()})
	return true
}

// Entries returns the notifications in insertion order, which is also
// display order. The returned slice is a copy.
func (l *Log) Entries() []Notification {
	if l == nil || len(l.entries) == 0 {
		return nil
	}
	dup := make([]Notification, len(l.entries))
	copy(dup, l.entries)
	return dup
}

// Len reports how many notifications have been accepted.
func (l *Log) Len() int {
	if l == nil {
		return 0
	}
	return len(l.entries)
}

// Last returns the most recent notification, if any.
func (l *Log) Last() (Notification, bool) {
	if l == nil || len(l.entries) == 0 {
		return Notification{}, false
	}
	return l.entries[len(l.entries)-1], true
}
