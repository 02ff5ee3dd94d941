// Package spamtrack keeps the in-memory, per-(guild,user) spam signals: a
// sliding window of message timestamps for frequency detection and a
// last-message counter for repetition detection. State is ephemeral and lost
// on restart; the durable source of truth for moderation is the store.
package spamtrack

import (
	"strings"
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type repeatState struct {
	content string
	count   int
}

type Tracker struct {
	mu        sync.Mutex
	clock     Clock
	window    time.Duration
	countMax  int
	repeatMax int
	windows   map[string][]time.Time
	repeats   map[string]*repeatState
}

func New(window time.Duration, countThreshold, repetitionThreshold int) *Tracker {
	return &Tracker{
		clock:     realClock{},
		window:    window,
		countMax:  countThreshold,
		repeatMax: repetitionThreshold,
		windows:   make(map[string][]time.Time),
		repeats:   make(map[string]*repeatState),
	}
}

func (t *Tracker) WithClock(clock Clock) {
	t.clock = clock
}

// RecordAndCheckFrequency appends the current timestamp to the user's window,
// prunes entries older than the window, and reports whether the count reached
// the threshold. On a violation the window is cleared so the very next
// message does not re-trigger.
func (t *Tracker) RecordAndCheckFrequency(guildID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := guildID + ":" + userID
	now := t.clock.Now()
	cutoff := now.Add(-t.window)

	hits := t.windows[key]
	idx := 0
	for _, hit := range hits {
		if hit.After(cutoff) {
			break
		}
		idx++
	}
	hits = append(hits[idx:], now)

	if len(hits) >= t.countMax {
		t.windows[key] = nil
		return true
	}
	t.windows[key] = hits
	return false
}

// RecordAndCheckRepetition compares the normalized content against the user's
// previous message. The N-th consecutive identical non-empty message violates
// and resets the counter; anything else restarts the tracker at count 1.
func (t *Tracker) RecordAndCheckRepetition(guildID, userID, content string) bool {
	normalized := Normalize(content)

	t.mu.Lock()
	defer t.mu.Unlock()

	key := guildID + ":" + userID
	state := t.repeats[key]
	if state == nil {
		state = &repeatState{}
		t.repeats[key] = state
	}

	if normalized != "" && normalized == state.content {
		state.count++
		if state.count >= t.repeatMax {
			state.count = 0
			return true
		}
		return false
	}

	state.content = normalized
	state.count = 1
	return false
}

func Normalize(content string) string {
	return strings.ToLower(strings.TrimSpace(content))
}
