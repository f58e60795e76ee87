package motion

import "math"

// AntennaAmplitudeDeg is the peak antenna sweep angle.
const AntennaAmplitudeDeg = 35.0

// Sources carries the per-tick inputs to arbitration.
type Sources struct {
	MetronomeRunning bool
	AntennaPhase     float64 // [0,1), two-beat sweep period

	TrackingEnabled bool
	TrackYaw        float64 // deg
	TrackPitch      float64 // deg

	MIDIEnabled bool
	BodyYaw     float64 // deg, from the spring engine
	HeadYaw     float64 // deg
	HeadPitch   float64 // deg
}

// Head is a yaw/pitch head target in degrees.
type Head struct {
	Yaw   float64
	Pitch float64
}

// Targets is the fused partial pose for one tick. Nil channels have no
// owner this tick and must not be sent, so an unowned channel is never
// fought over.
type Targets struct {
	Antennas *[2]float64 // deg: left, right (mirrored)
	Head     *Head
	BodyYaw  *float64 // deg
}

// Arbiter resolves channel ownership between the beat scheduler, the
// spring engine, and hand tracking.
//
// Ownership policy: antennas belong to the metronome; the head belongs to
// tracking whenever tracking is enabled, otherwise to the spring engine
// while MIDI is enabled; body yaw belongs to the spring engine while MIDI
// is enabled. When a source is disabled its channel is reset to neutral
// once, immediately, rather than left to decay.
type Arbiter struct {
	prevMetronome bool
	prevTracking  bool
	prevMIDI      bool
}

// NewArbiter returns an arbiter with all sources considered off.
func NewArbiter() *Arbiter {
	return &Arbiter{}
}

// Compose produces the fused targets for one tick and records source
// states for next tick's disable detection.
func (a *Arbiter) Compose(src Sources) Targets {
	var t Targets

	if src.MetronomeRunning {
		right := AntennaAmplitudeDeg * math.Sin(2*math.Pi*src.AntennaPhase)
		t.Antennas = &[2]float64{-right, right}
	} else if a.prevMetronome {
		t.Antennas = &[2]float64{0, 0}
	}

	switch {
	case src.TrackingEnabled:
		t.Head = &Head{Yaw: src.TrackYaw, Pitch: src.TrackPitch}
	case src.MIDIEnabled:
		t.Head = &Head{Yaw: src.HeadYaw, Pitch: src.HeadPitch}
	case a.prevTracking || a.prevMIDI:
		t.Head = &Head{}
	}

	if src.MIDIEnabled {
		body := src.BodyYaw
		t.BodyYaw = &body
	} else if a.prevMIDI {
		zero := 0.0
		t.BodyYaw = &zero
	}

	a.prevMetronome = src.MetronomeRunning
	a.prevTracking = src.TrackingEnabled
	a.prevMIDI = src.MIDIEnabled

	return t
}
