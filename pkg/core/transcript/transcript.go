// Package transcript keeps the bounded, ordered log of what was said during a
// live session.
package transcript

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Pr4shant/Deduction-Engine/pkg/core/types"
)

// DefaultCapacity is the number of entries kept before the oldest is evicted.
const DefaultCapacity = 250

var markupTag = regexp.MustCompile(`<[^>]*>`)

// Clean strips markup control tokens and surrounding whitespace from text.
func Clean(text string) string {
	return strings.TrimSpace(markupTag.ReplaceAllString(text, ""))
}

// Options configures a Log.
type Options struct {
	Capacity int
	Now      func() time.Time
	NewID    func() string
}

// Log is a fixed-capacity ring of transcript entries, oldest first.
type Log struct {
	mu    sync.RWMutex
	buf   []types.TranscriptEntry
	start int
	size  int

	now   func() time.Time
	newID func() string

	subMu   sync.Mutex
	subs    map[int]func(types.TranscriptEntry)
	nextSub int
}

// New creates an empty Log.
func New(opts Options) *Log {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Log{
		buf:   make([]types.TranscriptEntry, opts.Capacity),
		now:   opts.Now,
		newID: opts.NewID,
		subs:  make(map[int]func(types.TranscriptEntry)),
	}
}

// Capacity returns the maximum number of retained entries.
func (l *Log) Capacity() int {
	return len(l.buf)
}

// Append cleans text and stores it. Fragments that are empty after cleaning
// are dropped and reported with ok=false.
func (l *Log) Append(role types.Role, text string) (types.TranscriptEntry, bool) {
	text = Clean(text)
	if text == "" {
		return types.TranscriptEntry{}, false
	}
	l.mu.Lock()
	e := types.TranscriptEntry{ID: l.newID(), Role: role, Text: text, Timestamp: l.now()}
	l.pushLocked(e)
	l.mu.Unlock()

	l.notify(e)
	return e, true
}

func (l *Log) pushLocked(e types.TranscriptEntry) {
	if l.size < len(l.buf) {
		l.buf[(l.start+l.size)%len(l.buf)] = e
		l.size++
		return
	}
	l.buf[l.start] = e
	l.start = (l.start + 1) % len(l.buf)
}

// Recent returns up to n of the newest entries, oldest first.
func (l *Log) Recent(n int) []types.TranscriptEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n > l.size {
		n = l.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]types.TranscriptEntry, n)
	skip := l.size - n
	for i := range out {
		out[i] = l.buf[(l.start+skip+i)%len(l.buf)]
	}
	return out
}

// All returns every retained entry, oldest first.
func (l *Log) All() []types.TranscriptEntry {
	return l.Recent(l.Len())
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Reset drops every entry.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.buf)
	l.start, l.size = 0, 0
}

// Restore replaces the log with persisted entries, oldest first. Only the
// newest Capacity entries are kept.
func (l *Log) Restore(entries []types.TranscriptEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.buf)
	l.start, l.size = 0, 0
	if over := len(entries) - len(l.buf); over > 0 {
		entries = entries[over:]
	}
	for _, e := range entries {
		if e.Text == "" {
			continue
		}
		l.pushLocked(e)
	}
}

// Subscribe registers fn for every appended entry. The returned func
// unsubscribes.
func (l *Log) Subscribe(fn func(types.TranscriptEntry)) func() {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = fn
	return func() {
		l.subMu.Lock()
		defer l.subMu.Unlock()
		delete(l.subs, id)
	}
}

func (l *Log) notify(e types.TranscriptEntry) {
	l.subMu.Lock()
	fns := make([]func(types.TranscriptEntry), 0, len(l.subs))
	for _, fn := range l.subs {
		fns = append(fns, fn)
	}
	l.subMu.Unlock()
	for _, fn := range fns {
		fn(e)
	}
}
