// Package metronome provides drift-free beat scheduling and click synthesis.
package metronome

import (
	"math"
	"sync"
	"time"
)

// BPM and time-signature limits. Out-of-range requests are clamped, never
// rejected.
const (
	MinBPM = 40
	MaxBPM = 208

	MinBeatsPerBar = 2
	MaxBeatsPerBar = 8

	DefaultBPM         = 120
	DefaultBeatsPerBar = 4
)

// BeatEvent is emitted when a beat fires.
type BeatEvent struct {
	Beat     int  // 1..beatsPerBar
	Downbeat bool // beat 1 of the bar
}

// Status is a point-in-time snapshot for the API layer.
type Status struct {
	BPM         int  `json:"bpm"`
	BeatsPerBar int  `json:"time_signature"`
	CurrentBeat int  `json:"current_beat"`
	Running     bool `json:"running"`
}

// Scheduler keeps absolute beat timestamps. Each fired beat advances the
// schedule by exactly one interval from the previous scheduled time, never
// from the observed tick time, so loop jitter cannot accumulate into drift.
type Scheduler struct {
	mu sync.Mutex

	bpm         int
	beatsPerBar int

	running     bool
	currentBeat int // next beat to fire
	displayBeat int // last beat that fired
	startTime   time.Time
	nextBeat    time.Time
}

// NewScheduler creates a stopped scheduler with the given settings,
// clamped to valid ranges.
func NewScheduler(bpm, beatsPerBar int) *Scheduler {
	return &Scheduler{
		bpm:         clampInt(bpm, MinBPM, MaxBPM),
		beatsPerBar: clampInt(beatsPerBar, MinBeatsPerBar, MaxBeatsPerBar),
		currentBeat: 1,
		displayBeat: 1,
	}
}

// Start begins the beat schedule at now. The first beat fires on the next
// tick at or after now.
func (s *Scheduler) Start(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.startTime = now
	s.nextBeat = now
	s.currentBeat = 1
	s.displayBeat = 1
}

// Stop halts the schedule and resets the beat position.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.currentBeat = 1
	s.displayBeat = 1
}

// Running reports whether the schedule is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Tick fires at most one beat. It returns the event for the beat that
// sounded, if any.
func (s *Scheduler) Tick(now time.Time) (BeatEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || now.Before(s.nextBeat) {
		return BeatEvent{}, false
	}

	ev := BeatEvent{
		Beat:     s.currentBeat,
		Downbeat: s.currentBeat == 1,
	}
	s.displayBeat = s.currentBeat
	s.currentBeat = (s.currentBeat % s.beatsPerBar) + 1

	// Additive advance: the anti-drift invariant. The next beat is one
	// interval after the scheduled time, not after now.
	s.nextBeat = s.nextBeat.Add(s.interval())

	return ev, true
}

// SetBPM clamps v to [MinBPM, MaxBPM] and returns the applied value.
// Takes effect on the next beat; the already-scheduled beat time is left
// untouched.
func (s *Scheduler) SetBPM(v int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bpm = clampInt(v, MinBPM, MaxBPM)
	return s.bpm
}

// BPM returns the current tempo.
func (s *Scheduler) BPM() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bpm
}

// SetBeatsPerBar clamps n to [MinBeatsPerBar, MaxBeatsPerBar] and resets
// the visible beat position to 1. Timing continues uninterrupted.
func (s *Scheduler) SetBeatsPerBar(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beatsPerBar = clampInt(n, MinBeatsPerBar, MaxBeatsPerBar)
	s.currentBeat = 1
	s.displayBeat = 1
	return s.beatsPerBar
}

// AntennaPhase returns the continuous antenna sweep phase in [0,1).
// The sweep period is two beats, so a full left-right-left cycle spans one
// half note. Returns 0 when stopped.
func (s *Scheduler) AntennaPhase(now time.Time) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0
	}
	elapsed := now.Sub(s.startTime).Seconds()
	phase := math.Mod(elapsed*float64(s.bpm)/120.0, 1.0)
	if phase < 0 {
		phase = 0
	}
	return phase
}

// GetStatus returns a snapshot for the API layer.
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		BPM:         s.bpm,
		BeatsPerBar: s.beatsPerBar,
		CurrentBeat: s.displayBeat,
		Running:     s.running,
	}
}

// interval is the current beat duration. Callers must hold s.mu.
func (s *Scheduler) interval() time.Duration {
	return time.Duration(60.0 / float64(s.bpm) * float64(time.Second))
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
