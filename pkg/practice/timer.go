// Package practice tracks how long the metronome has been running:
// the current session, the accumulated total, and a per-session log.
package practice

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionRecord is one finished practice session.
type SessionRecord struct {
	ID            string  `json:"id"`
	Duration      float64 `json:"duration"`
	BPM           int     `json:"bpm"`
	TimeSignature int     `json:"time_signature"`
	EndedAt       string  `json:"ended_at"`
}

// Status is the practice fragment of the status API. Total includes the
// running session, so the number keeps climbing while practicing.
type Status struct {
	CurrentSession float64 `json:"current_session"`
	Total          float64 `json:"total"`
	SessionCount   int     `json:"session_count"`
}

// History is the full practice log.
type History struct {
	Sessions []SessionRecord `json:"sessions"`
	Total    float64         `json:"total"`
}

// Timer accumulates practice time across metronome start/stop cycles.
// Safe for concurrent use.
type Timer struct {
	mu           sync.Mutex
	running      bool
	sessionStart time.Time
	totalSeconds float64
	sessions     []SessionRecord

	now func() time.Time
}

// NewTimer creates an empty practice timer.
func NewTimer() *Timer {
	return &Timer{now: time.Now}
}

// StartSession marks the beginning of a practice session. Starting an
// already running session keeps the original start time.
func (t *Timer) StartSession() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	t.running = true
	t.sessionStart = t.now()
}

// StopSession ends the running session, folds its duration into the
// total, and logs it with the metronome settings it was played at.
func (t *Timer) StopSession(bpm, timeSignature int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	dur := t.now().Sub(t.sessionStart).Seconds()
	t.totalSeconds += dur
	t.sessions = append(t.sessions, SessionRecord{
		ID:            uuid.NewString(),
		Duration:      round1(dur),
		BPM:           bpm,
		TimeSignature: timeSignature,
		EndedAt:       t.now().Format(time.RFC3339),
	})
	t.running = false
}

// Reset wipes the accumulated total and the session log. A running
// session keeps running but its clock restarts.
func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalSeconds = 0
	t.sessions = nil
	if t.running {
		t.sessionStart = t.now()
	}
}

// GetStatus returns the live practice numbers.
func (t *Timer) GetStatus() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	var current float64
	if t.running {
		current = t.now().Sub(t.sessionStart).Seconds()
	}
	return Status{
		CurrentSession: round1(current),
		Total:          round1(t.totalSeconds + current),
		SessionCount:   len(t.sessions) + btoi(t.running),
	}
}

// GetHistory returns the finished sessions and the accumulated total.
// The running session is not included until it stops.
func (t *Timer) GetHistory() History {
	t.mu.Lock()
	defer t.mu.Unlock()

	sessions := make([]SessionRecord, len(t.sessions))
	copy(sessions, t.sessions)
	return History{
		Sessions: sessions,
		Total:    round1(t.totalSeconds),
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}
