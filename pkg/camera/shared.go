// Package camera receives the robot's WebRTC video stream and publishes
// JPEG frames to the tracking and recording pipelines.
package camera

import (
	"sync"
	"time"
)

// SharedFrame is the single latest-frame buffer shared by the stream
// receiver (writer), the tracking loop, and the recorder (readers).
// Readers on real-time paths use TryFrame so lock contention costs them
// one frame instead of a stalled tick.
type SharedFrame struct {
	mu      sync.Mutex
	jpeg    []byte
	seq     uint64
	updated time.Time
}

// NewSharedFrame returns an empty buffer.
func NewSharedFrame() *SharedFrame {
	return &SharedFrame{}
}

// Store publishes a new frame. The buffer keeps its own copy so the
// caller may reuse its slice.
func (s *SharedFrame) Store(jpeg []byte) {
	if len(jpeg) == 0 {
		return
	}
	buf := make([]byte, len(jpeg))
	copy(buf, jpeg)

	s.mu.Lock()
	s.jpeg = buf
	s.seq++
	s.updated = time.Now()
	s.mu.Unlock()
}

// TryFrame returns a copy of the latest frame without blocking. ok is
// false when no frame exists yet or the lock is held by a writer.
func (s *SharedFrame) TryFrame() ([]byte, bool) {
	if !s.mu.TryLock() {
		return nil, false
	}
	defer s.mu.Unlock()

	if s.jpeg == nil {
		return nil, false
	}
	frame := make([]byte, len(s.jpeg))
	copy(frame, s.jpeg)
	return frame, true
}

// Frame returns a copy of the latest frame, blocking on the lock. ok is
// false only when no frame has arrived yet.
func (s *SharedFrame) Frame() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.jpeg == nil {
		return nil, false
	}
	frame := make([]byte, len(s.jpeg))
	copy(frame, s.jpeg)
	return frame, true
}

// Seq returns the frame sequence number, incremented on every Store.
func (s *SharedFrame) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Age returns how long ago the latest frame arrived, or a negative
// duration when no frame has arrived yet.
func (s *SharedFrame) Age() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updated.IsZero() {
		return -1
	}
	return time.Since(s.updated)
}
