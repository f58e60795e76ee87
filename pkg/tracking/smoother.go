// Package tracking converts detected wrist positions into smoothed head
// and body angles so the robot follows the player's hands.
package tracking

import "sync"

// Angle mapping ranges (degrees). A wrist at the image edge maps to the
// full range; image left maps to positive yaw (the robot looks left).
const (
	MaxYawDeg     = 35.0
	MaxPitchDeg   = 25.0
	MaxBodyYawDeg = 30.0
)

// Smoothing factors. The head factor is live-tunable; the body factor is
// fixed and heavier so the base never jitters.
const (
	DefaultSmoothing = 0.35
	MinSmoothing     = 0.05
	MaxSmoothing     = 1.0
	BodySmoothing    = 0.10
)

// Keypoint is one detected point in pixel coordinates with its confidence.
type Keypoint struct {
	X    float64
	Y    float64
	Conf float64
}

// State is a read-only snapshot for the status API.
type State struct {
	HandsDetected bool    `json:"hands_detected"`
	NumWrists     int     `json:"num_wrists"`
	Yaw           float64 `json:"yaw"`
	Pitch         float64 `json:"pitch"`
	Smoothing     float64 `json:"smoothing"`
}

// Smoother turns raw wrist keypoints into exponentially smoothed head
// yaw/pitch and body yaw targets. Process is called from the detection
// goroutine while the control loop reads Head, so state is mutex-guarded.
type Smoother struct {
	mu sync.Mutex

	yaw     float64 // deg
	pitch   float64 // deg
	bodyYaw float64 // deg

	handsDetected bool
	numWrists     int

	smoothing float64
}

// NewSmoother returns a smoother at neutral with default smoothing.
func NewSmoother() *Smoother {
	return &Smoother{smoothing: DefaultSmoothing}
}

// Process folds one detection result into the smoothed pose. kps holds the
// visible wrist keypoints in pixel coordinates of a width x height frame.
// An empty detection holds the last pose rather than snapping to neutral,
// so a single missed frame never causes a visible twitch.
func (s *Smoother) Process(kps []Keypoint, width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(kps) == 0 || width <= 0 || height <= 0 {
		s.handsDetected = false
		s.numWrists = 0
		return
	}

	s.handsDetected = true
	s.numWrists = len(kps)

	var sumX, sumY float64
	for _, kp := range kps {
		sumX += kp.X
		sumY += kp.Y
	}
	avgX := sumX / float64(len(kps))
	avgY := sumY / float64(len(kps))

	// Normalize to [-1, 1] around the frame center.
	normX := (avgX/float64(width) - 0.5) * 2
	normY := (avgY/float64(height) - 0.5) * 2

	// Image left (normX < 0) turns the robot left (positive yaw); image
	// bottom (normY > 0) tilts the head down (positive pitch).
	rawYaw := -normX * MaxYawDeg
	rawPitch := normY * MaxPitchDeg
	rawBodyYaw := -normX * MaxBodyYawDeg

	s.yaw += s.smoothing * (rawYaw - s.yaw)
	s.pitch += s.smoothing * (rawPitch - s.pitch)
	s.bodyYaw += BodySmoothing * (rawBodyYaw - s.bodyYaw)
}

// Head returns the current smoothed head yaw and pitch in degrees.
func (s *Smoother) Head() (yaw, pitch float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.yaw, s.pitch
}

// BodyYaw returns the current smoothed body yaw in degrees.
func (s *Smoother) BodyYaw() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bodyYaw
}

// Reset returns the smoothed pose to neutral and clears detection info.
func (s *Smoother) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.yaw = 0
	s.pitch = 0
	s.bodyYaw = 0
	s.handsDetected = false
	s.numWrists = 0
}

// SetSmoothing sets the head smoothing factor, clamped to [0.05, 1.0],
// and returns the applied value. 1.0 disables smoothing entirely.
func (s *Smoother) SetSmoothing(v float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v < MinSmoothing {
		v = MinSmoothing
	}
	if v > MaxSmoothing {
		v = MaxSmoothing
	}
	s.smoothing = v
	return s.smoothing
}

// Smoothing returns the current head smoothing factor.
func (s *Smoother) Smoothing() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.smoothing
}

// State returns a snapshot of the tracker output.
func (s *Smoother) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		HandsDetected: s.handsDetected,
		NumWrists:     s.numWrists,
		Yaw:           s.yaw,
		Pitch:         s.pitch,
		Smoothing:     s.smoothing,
	}
}
