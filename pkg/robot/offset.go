package robot

import "math"

// Physical limits (radians). Safety clamps to prevent sending impossible
// commands to the daemon.
const (
	MaxHeadRoll  = 0.35 // ±20° (conservative)
	MaxHeadPitch = 0.52 // ±30°
	MaxHeadYaw   = 0.70 // ±40°
	MaxBodyYaw   = 2.8  // ~±160°
	MaxAntenna   = 1.0  // ~±57°
)

// clamp restricts v to the range [min, max].
func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// DegToRad converts degrees to radians.
func DegToRad(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// Offset represents a head orientation (roll, pitch, yaw in radians).
type Offset struct {
	Roll, Pitch, Yaw float64
}

// Clamp returns a new Offset with values clamped to physical head limits.
func (o Offset) Clamp() Offset {
	return Offset{
		Roll:  clamp(o.Roll, -MaxHeadRoll, MaxHeadRoll),
		Pitch: clamp(o.Pitch, -MaxHeadPitch, MaxHeadPitch),
		Yaw:   clamp(o.Yaw, -MaxHeadYaw, MaxHeadYaw),
	}
}

// Add returns a new Offset that is the sum of o and other.
func (o Offset) Add(other Offset) Offset {
	return Offset{
		Roll:  o.Roll + other.Roll,
		Pitch: o.Pitch + other.Pitch,
		Yaw:   o.Yaw + other.Yaw,
	}
}

// ClampBodyYaw restricts a body rotation to the physical range.
func ClampBodyYaw(yaw float64) float64 {
	return clamp(yaw, -MaxBodyYaw, MaxBodyYaw)
}

// ClampAntenna restricts an antenna angle to the physical range.
func ClampAntenna(angle float64) float64 {
	return clamp(angle, -MaxAntenna, MaxAntenna)
}
