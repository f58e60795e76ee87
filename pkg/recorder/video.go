package recorder

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// VideoSink writes JPEG frames into a video container. Implementations
// must tolerate Write calls only between a successful Open and Close.
type VideoSink interface {
	// Open creates the container, probing frame dimensions from
	// firstFrame, and writes it as frame one.
	Open(path string, fps float64, firstFrame []byte) error

	// Write appends one frame.
	Write(jpeg []byte) error

	// Close finalizes the container.
	Close() error
}

// MJPGSink writes an MJPG-encoded AVI. MJPG keeps per-frame encode cost
// low enough for the 24 FPS capture loop; the finisher transcodes to
// H264 afterward.
type MJPGSink struct {
	mu     sync.Mutex
	writer *gocv.VideoWriter
	width  int
	height int
}

// NewMJPGSink returns an unopened sink.
func NewMJPGSink() *MJPGSink {
	return &MJPGSink{}
}

// Open decodes firstFrame for dimensions, creates the AVI writer, and
// writes the frame.
func (s *MJPGSink) Open(path string, fps float64, firstFrame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	img, err := gocv.IMDecode(firstFrame, gocv.IMReadColor)
	if err != nil {
		return fmt.Errorf("decode first frame: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return fmt.Errorf("empty first frame")
	}

	s.width = img.Cols()
	s.height = img.Rows()

	writer, err := gocv.VideoWriterFile(path, "MJPG", fps, s.width, s.height, true)
	if err != nil {
		return fmt.Errorf("open video writer: %w", err)
	}
	if !writer.IsOpened() {
		writer.Close()
		return fmt.Errorf("video writer failed to open %s", path)
	}
	s.writer = writer

	return s.writeLocked(img)
}

// Write appends one JPEG frame. Frames whose dimensions drift from the
// first frame are dropped; the writer cannot resize mid-file.
func (s *MJPGSink) Write(jpeg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer == nil {
		return fmt.Errorf("video sink not open")
	}

	img, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	defer img.Close()
	if img.Empty() || img.Cols() != s.width || img.Rows() != s.height {
		return nil
	}
	return s.writeLocked(img)
}

func (s *MJPGSink) writeLocked(img gocv.Mat) error {
	if err := s.writer.Write(img); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close finalizes the AVI.
func (s *MJPGSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer == nil {
		return nil
	}
	err := s.writer.Close()
	s.writer = nil
	return err
}
