// Package detection runs YOLOv8 pose inference on camera frames and
// extracts wrist keypoints for hand tracking.
package detection

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/reachy-metronome/pkg/tracking"
)

// COCO pose keypoint indices.
const (
	LeftWrist  = 9
	RightWrist = 10
)

// numKeypoints is the COCO pose skeleton size.
const numKeypoints = 17

// PoseConfig holds pose detector configuration.
type PoseConfig struct {
	ModelPath        string
	ConfidenceThresh float32 // person box confidence
	KeypointThresh   float32 // per-keypoint confidence
	NMSThresh        float32
	InputWidth       int
	InputHeight      int
}

// DefaultPoseConfig returns production defaults for YOLOv8n-pose.
func DefaultPoseConfig() PoseConfig {
	return PoseConfig{
		ModelPath:        "models/yolov8n-pose.onnx",
		ConfidenceThresh: 0.5,
		KeypointThresh:   0.5,
		NMSThresh:        0.45,
		InputWidth:       640,
		InputHeight:      640,
	}
}

// PoseDetector runs YOLOv8n-pose and returns wrist keypoints.
type PoseDetector struct {
	net       gocv.Net
	config    PoseConfig
	mu        sync.Mutex
	inputSize image.Point
}

// NewPose loads the ONNX pose model.
func NewPose(cfg PoseConfig) (*PoseDetector, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load pose model from %s", cfg.ModelPath)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &PoseDetector{
		net:       net,
		config:    cfg,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
	}, nil
}

// Detect finds confident wrist keypoints in the JPEG frame. Keypoints are
// returned in pixel coordinates of the decoded frame, across all detected
// persons, along with the frame dimensions.
func (d *PoseDetector) Detect(jpeg []byte) ([]tracking.Keypoint, int, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	img, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode image: %w", err)
	}
	defer img.Close()

	if img.Empty() {
		return nil, 0, 0, fmt.Errorf("empty image")
	}

	imgW := img.Cols()
	imgH := img.Rows()

	blob := gocv.BlobFromImage(img, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	wrists := d.parsePoseOutput(output, float32(imgW), float32(imgH))
	return wrists, imgW, imgH, nil
}

// parsePoseOutput parses the YOLOv8-pose output tensor.
// Output shape: [1, 56, 8400] - 56 = 4 bbox + 1 person score + 17 keypoints x (x, y, conf).
func (d *PoseDetector) parsePoseOutput(output gocv.Mat, imgW, imgH float32) []tracking.Keypoint {
	rows := output.Cols() // 8400 anchors
	cols := output.Rows() // 56

	if cols < 5+numKeypoints*3 {
		return nil
	}

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil
	}

	scaleX := imgW / float32(d.config.InputWidth)
	scaleY := imgH / float32(d.config.InputHeight)

	var boxes []image.Rectangle
	var confidences []float32
	var anchorIdx []int

	for i := 0; i < rows; i++ {
		score := data[4*rows+i]
		if score < d.config.ConfidenceThresh {
			continue
		}

		cx := data[0*rows+i]
		cy := data[1*rows+i]
		w := data[2*rows+i]
		h := data[3*rows+i]

		x1 := int((cx - w/2) * scaleX)
		y1 := int((cy - h/2) * scaleY)
		x2 := int((cx + w/2) * scaleX)
		y2 := int((cy + h/2) * scaleY)

		boxes = append(boxes, image.Rect(x1, y1, x2, y2))
		confidences = append(confidences, score)
		anchorIdx = append(anchorIdx, i)
	}

	if len(boxes) == 0 {
		return nil
	}

	indices := gocv.NMSBoxes(boxes, confidences, d.config.ConfidenceThresh, d.config.NMSThresh)

	var wrists []tracking.Keypoint
	for _, idx := range indices {
		i := anchorIdx[idx]
		for _, kp := range []int{LeftWrist, RightWrist} {
			base := (5 + kp*3) * rows
			conf := data[base+2*rows+i]
			if conf < d.config.KeypointThresh {
				continue
			}
			wrists = append(wrists, tracking.Keypoint{
				X:    float64(data[base+i] * scaleX),
				Y:    float64(data[base+rows+i] * scaleY),
				Conf: float64(conf),
			})
		}
	}

	return wrists
}

// Close releases the detector resources.
func (d *PoseDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.net.Close()
	return nil
}
