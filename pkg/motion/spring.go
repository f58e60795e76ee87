// Package motion synthesizes robot body and head movement from discrete
// trigger events and fuses all motion sources into one target pose per tick.
package motion

import (
	"math"
	"sync"
)

// Spring-damper tuning. Values ported from the tuned hardware behavior.
const (
	MaxBodySwayDeg = 20.0 // default sway range, live-tunable 5..40
	MaxNodDeg      = 12.0
	SpringFactor   = 12.0 // spring rate toward target, per second
	HeadYawRatio   = 0.3  // head yaw follows body sway at this ratio

	DefaultDecayRate = 4.0 // exponential decay per second, live-tunable 1..10

	// Head pitch nod: the impulse decays fast and is zeroed below a small
	// threshold to stop oscillation; after that the head relaxes to neutral.
	pitchImpulseDecay = 8.0
	pitchReleaseRate  = 6.0
	pitchImpulseFloor = 0.3

	// Pitch-dependent scaling: low notes drive the body, high notes the head.
	lowNoteMax  = 48 // C3 and below
	highNoteMin = 72 // C5 and above
)

// Live-tunable parameter ranges.
const (
	MinAmplitudeMult = 0.0
	MaxAmplitudeMult = 2.0
	MinSwayDeg       = 5.0
	MaxSwayDeg       = 40.0
	MinDecayRate     = 1.0
	MaxDecayRate     = 10.0
)

// SpringState is a read-only snapshot for the status API.
type SpringState struct {
	BodyYaw       float64 `json:"body_yaw"`
	HeadYaw       float64 `json:"head_yaw"`
	HeadPitch     float64 `json:"head_pitch"`
	AmplitudeMult float64 `json:"amplitude"`
}

// SpringEngine converts note triggers into continuous body sway and head
// nod motion using a spring-damper model. Triggers arrive asynchronously
// from the MIDI listener goroutine while Update runs on the control loop,
// so every state mutation happens under one mutex.
type SpringEngine struct {
	mu sync.Mutex

	bodyTarget       float64 // target body yaw (deg)
	bodyPos          float64 // current body yaw (deg)
	headPitchImpulse float64 // pending nod impulse (deg)
	headPitchPos     float64 // current head pitch (deg)
	headYawPos       float64 // current head yaw (deg)
	swayDirection    float64 // alternates +1 / -1

	amplitudeMult float64
	maxSway       float64
	decayRate     float64
}

// NewSpringEngine creates an engine at rest with default tuning.
func NewSpringEngine() *SpringEngine {
	return &SpringEngine{
		swayDirection: 1,
		amplitudeMult: 1.0,
		maxSway:       MaxBodySwayDeg,
		decayRate:     DefaultDecayRate,
	}
}

// Trigger registers a note hit. velocity is normalized to [0,1]; note is
// the MIDI note number used for pitch-dependent scaling. Sway direction
// alternates on every call. Safe to call from any goroutine.
func (e *SpringEngine) Trigger(velocity float64, note int) {
	velocity = clamp(velocity, 0, 1)

	bodyScale := 1.0
	headScale := 1.0
	switch {
	case note <= lowNoteMax:
		bodyScale = 1.3
		headScale = 0.7
	case note >= highNoteMin:
		bodyScale = 0.7
		headScale = 1.3
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	direction := e.swayDirection
	e.swayDirection = -e.swayDirection

	e.bodyTarget = direction * velocity * e.maxSway * e.amplitudeMult * bodyScale
	e.headPitchImpulse = velocity * MaxNodDeg * headScale * e.amplitudeMult
}

// Update advances the spring-damper model by dt seconds and returns the
// current (bodyYaw, headYaw, headPitch) in degrees. Must be called at a
// stable small dt (~10 ms) from the control loop.
func (e *SpringEngine) Update(dt float64) (bodyYaw, headYaw, headPitch float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Body sway: spring toward the target while the target itself decays
	// to zero, so one impulse rises then relaxes. The position is damped
	// by the same factor, which guarantees convergence with no residual
	// offset after repeated triggers.
	e.bodyPos += (e.bodyTarget - e.bodyPos) * SpringFactor * dt
	decay := math.Exp(-e.decayRate * dt)
	e.bodyTarget *= decay
	e.bodyPos *= decay

	// Head yaw is coupled to body sway, not independently sprung.
	e.headYawPos = e.bodyPos * HeadYawRatio

	if e.headPitchImpulse > 0 {
		// Quick down-press at double spring rate while the impulse lives.
		e.headPitchPos += (e.headPitchImpulse - e.headPitchPos) * SpringFactor * 2.0 * dt
		e.headPitchImpulse *= math.Exp(-pitchImpulseDecay * dt)
		if e.headPitchImpulse < pitchImpulseFloor {
			e.headPitchImpulse = 0
		}
	} else {
		// Elastic return to neutral.
		e.headPitchPos *= math.Exp(-pitchReleaseRate * dt)
	}

	return e.bodyPos, e.headYawPos, e.headPitchPos
}

// Reset zeroes all motion state. Called when the MIDI source closes so
// disabling the source has an immediate, deterministic effect.
func (e *SpringEngine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bodyTarget = 0
	e.bodyPos = 0
	e.headPitchImpulse = 0
	e.headPitchPos = 0
	e.headYawPos = 0
	e.swayDirection = 1
}

// SetAmplitude sets the amplitude multiplier, clamped to [0,2].
func (e *SpringEngine) SetAmplitude(v float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.amplitudeMult = clamp(v, MinAmplitudeMult, MaxAmplitudeMult)
	return e.amplitudeMult
}

// SetMaxSway sets the sway range in degrees, clamped to [5,40].
func (e *SpringEngine) SetMaxSway(deg float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maxSway = clamp(deg, MinSwayDeg, MaxSwayDeg)
	return e.maxSway
}

// SetDecayRate sets the decay rate per second, clamped to [1,10].
func (e *SpringEngine) SetDecayRate(rate float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.decayRate = clamp(rate, MinDecayRate, MaxDecayRate)
	return e.decayRate
}

// Amplitude returns the current amplitude multiplier.
func (e *SpringEngine) Amplitude() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.amplitudeMult
}

// State returns a snapshot of the current output channels.
func (e *SpringEngine) State() SpringState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return SpringState{
		BodyYaw:       e.bodyPos,
		HeadYaw:       e.headYawPos,
		HeadPitch:     e.headPitchPos,
		AmplitudeMult: e.amplitudeMult,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
