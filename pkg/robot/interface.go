// Package robot provides interfaces and implementations for Reachy Mini
// robot control.
//
// Interfaces are small and focused so consumers depend only on the
// surface they actually use.
package robot

// PoseController provides batched pose control (head + antennas + body).
// Nil fields are left untouched by the daemon, so a caller may update any
// subset of channels in one call. Use this for rate-limited control loops
// to prevent daemon flooding.
type PoseController interface {
	SetPose(head *Offset, antennas *[2]float64, bodyYaw *float64) error
}

// StatusController provides robot status queries.
type StatusController interface {
	GetDaemonStatus() (string, error)
}

var (
	_ PoseController   = (*HTTPController)(nil)
	_ StatusController = (*HTTPController)(nil)
)
