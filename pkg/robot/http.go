package robot

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/teslashibe/reachy-metronome/internal/httpc"
)

// httpClient is a short-timeout client shared by all HTTPController
// instances. Pose commands must never block the control loop.
var httpClient = httpc.NewClient(2 * time.Second)

// HTTPController talks to the robot daemon's HTTP API.
type HTTPController struct {
	BaseURL string
}

// NewHTTPController creates a new HTTP-based robot controller.
func NewHTTPController(robotIP string) *HTTPController {
	return &HTTPController{
		BaseURL: fmt.Sprintf("http://%s:8000", robotIP),
	}
}

// SetPose sends a batched pose command. Nil channels are omitted so the
// daemon leaves them unchanged.
func (r *HTTPController) SetPose(head *Offset, antennas *[2]float64, bodyYaw *float64) error {
	payload := map[string]interface{}{
		"target_head_pose": nil,
		"target_antennas":  nil,
		"target_body_yaw":  nil,
		"duration":         0.1,
	}
	if head != nil {
		payload["target_head_pose"] = map[string]float64{
			"roll":  head.Roll,
			"pitch": head.Pitch,
			"yaw":   head.Yaw,
		}
	}
	if antennas != nil {
		payload["target_antennas"] = []float64{antennas[0], antennas[1]}
	}
	if bodyYaw != nil {
		payload["target_body_yaw"] = *bodyYaw
	}
	return r.postMove(payload)
}

// GetDaemonStatus returns the robot daemon status.
func (r *HTTPController) GetDaemonStatus() (string, error) {
	resp, err := httpClient.Get(r.BaseURL + "/api/daemon/status")
	if err != nil {
		return "", fmt.Errorf("daemon status request failed: %w", err)
	}
	defer resp.Body.Close()

	var status struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return "", fmt.Errorf("failed to decode daemon status: %w", err)
	}

	return status.State, nil
}

// postMove sends a movement command to the robot API.
func (r *HTTPController) postMove(payload map[string]interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal move payload: %w", err)
	}

	resp, err := httpClient.Post(
		r.BaseURL+"/api/move/set_target",
		"application/json",
		strings.NewReader(string(data)),
	)
	if err != nil {
		return fmt.Errorf("move request failed: %w", err)
	}
	resp.Body.Close()

	return nil
}
