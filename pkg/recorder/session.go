// Package recorder captures practice sessions: camera frames to video,
// microphone audio to WAV, merged into an MP4 in the background.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/reachy-metronome/pkg/audioio"
)

// CaptureFPS is the target video capture rate. The real rate is measured
// and passed to the muxer so playback speed stays correct.
const CaptureFPS = 24.0

// stopJoinTimeout bounds how long Stop waits for the capture goroutine.
// A wedged video write must not hang Stop; finalize proceeds with the
// frames already on disk.
const stopJoinTimeout = 10 * time.Second

const (
	filePrefix = "practice_"
	tempPrefix = "_tmp_"
)

// State is the recording lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateSaving    State = "saving"
)

// FrameProvider supplies camera frames. TryFrame is used on the capture
// path so lock contention drops a frame instead of stalling the loop.
type FrameProvider interface {
	TryFrame() ([]byte, bool)
	Frame() ([]byte, bool)
}

// RecordingInfo describes one saved recording.
type RecordingInfo struct {
	Filename string  `json:"filename"`
	SizeMB   float64 `json:"size_mb"`
}

// Status is a snapshot of the recorder for the status API.
type Status struct {
	State    State   `json:"state"`
	Elapsed  float64 `json:"elapsed"`
	LastFile string  `json:"last_file,omitempty"`
}

// Session records camera + microphone to MP4. One recording at a time:
// Start transitions Idle to Recording, Stop to Saving, and the background
// finisher back to Idle.
type Session struct {
	outputDir  string
	frames     FrameProvider
	newSource  func() (audioio.Source, error)
	video       VideoSink
	mux         Muxer
	captureFPS  float64
	joinTimeout time.Duration
	logger      *slog.Logger

	mu         sync.Mutex
	state      State
	startTime  time.Time
	elapsed    float64
	lastFile   string
	frameCount int
	tempVideo  string
	ts         string

	stopCh    chan struct{}
	captureWG sync.WaitGroup
	audioWG   sync.WaitGroup
	saveWG    sync.WaitGroup

	audioMu     sync.Mutex
	audioChunks []audioio.AudioChunk
	sampleRate  int
	channels    int
	audioSrc    audioio.Source
	audioCancel context.CancelFunc
}

// Option configures a Session.
type Option func(*Session)

// WithVideoSink replaces the default MJPG sink.
func WithVideoSink(v VideoSink) Option {
	return func(s *Session) { s.video = v }
}

// WithMuxer replaces the default ffmpeg muxer.
func WithMuxer(m Muxer) Option {
	return func(s *Session) { s.mux = m }
}

// WithAudioSourceFactory replaces how the microphone source is created.
func WithAudioSourceFactory(f func() (audioio.Source, error)) Option {
	return func(s *Session) { s.newSource = f }
}

// WithCaptureFPS overrides the capture rate.
func WithCaptureFPS(fps float64) Option {
	return func(s *Session) { s.captureFPS = fps }
}

// NewSession creates a recorder writing into outputDir. Orphaned temp
// files from a crashed previous run are removed.
func NewSession(outputDir string, frames FrameProvider, logger *slog.Logger, opts ...Option) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create recordings dir: %w", err)
	}

	s := &Session{
		outputDir:   outputDir,
		frames:      frames,
		video:       NewMJPGSink(),
		mux:         FFmpegMuxer{},
		captureFPS:  CaptureFPS,
		joinTimeout: stopJoinTimeout,
		logger:      logger,
		state:       StateIdle,
	}
	// Capture at the microphone's native format; the WAV header carries
	// whatever rate the device delivered.
	s.newSource = func() (audioio.Source, error) {
		return audioio.NewSource(audioio.CaptureConfig(), logger)
	}
	for _, opt := range opts {
		opt(s)
	}

	s.cleanupTempFiles()
	return s, nil
}

// cleanupTempFiles removes temp artifacts left by a crashed session.
func (s *Session) cleanupTempFiles() {
	entries, err := os.ReadDir(s.outputDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), tempPrefix) {
			if err := os.Remove(filepath.Join(s.outputDir, e.Name())); err == nil {
				s.logger.Info("removed orphaned temp file", "file", e.Name())
			}
		}
	}
}

// Start begins a new recording. Fails when a recording is already in
// progress, still saving, or no camera frame is available.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return fmt.Errorf("recorder busy: state %s", s.state)
	}

	frame, ok := s.frames.Frame()
	if !ok {
		return fmt.Errorf("no camera frame available")
	}

	ts := time.Now().Format("20060102_150405")
	tempVideo := filepath.Join(s.outputDir, tempPrefix+ts+".avi")

	if err := s.video.Open(tempVideo, s.captureFPS, frame); err != nil {
		return fmt.Errorf("open video: %w", err)
	}
	s.frameCount = 1
	s.tempVideo = tempVideo
	s.ts = ts

	s.startAudio()

	s.state = StateRecording
	s.startTime = time.Now()
	s.elapsed = 0
	s.stopCh = make(chan struct{})

	s.captureWG.Add(1)
	go s.captureLoop()

	s.logger.Info("recording started", "temp_video", filepath.Base(tempVideo))
	return nil
}

// startAudio opens the microphone. Failure degrades to video-only rather
// than failing the recording.
func (s *Session) startAudio() {
	s.audioMu.Lock()
	s.audioChunks = nil
	s.audioMu.Unlock()

	src, err := s.newSource()
	if err != nil {
		s.logger.Warn("microphone unavailable, recording video only", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := src.Start(ctx); err != nil {
		s.logger.Warn("audio capture failed to start, recording video only", "error", err)
		cancel()
		src.Close()
		return
	}

	s.audioSrc = src
	s.audioCancel = cancel
	s.sampleRate = src.Config().SampleRate
	s.channels = src.Config().Channels

	s.audioWG.Add(1)
	go func() {
		defer s.audioWG.Done()
		for chunk := range src.Stream() {
			s.audioMu.Lock()
			s.audioChunks = append(s.audioChunks, chunk)
			s.audioMu.Unlock()
		}
	}()
}

func (s *Session) captureLoop() {
	defer s.captureWG.Done()

	interval := time.Duration(float64(time.Second) / s.captureFPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.elapsed = time.Since(s.startTime).Seconds()
			s.mu.Unlock()

			frame, ok := s.frames.TryFrame()
			if !ok {
				continue // contention or no frame: skip this tick
			}
			if err := s.video.Write(frame); err != nil {
				s.logger.Debug("frame write failed", "error", err)
				continue
			}
			s.mu.Lock()
			s.frameCount++
			s.mu.Unlock()
		}
	}
}

// Stop ends the recording and kicks off the background merge. Returns
// immediately; the state goes Saving until the merge finishes.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state != StateRecording {
		s.mu.Unlock()
		return
	}
	s.state = StateSaving
	close(s.stopCh)
	s.mu.Unlock()

	if !waitTimeout(&s.captureWG, s.joinTimeout) {
		s.logger.Warn("capture loop did not stop in time, finalizing anyway",
			"timeout", s.joinTimeout)
	}
	if err := s.video.Close(); err != nil {
		s.logger.Warn("video close failed", "error", err)
	}

	if s.audioSrc != nil {
		s.audioSrc.Stop()
		s.audioWG.Wait()
		s.audioSrc.Close()
		s.audioCancel()
		s.audioSrc = nil
		s.audioCancel = nil
	}

	s.mu.Lock()
	duration := time.Since(s.startTime).Seconds()
	actualFPS := s.captureFPS
	if duration > 0 {
		actualFPS = float64(s.frameCount) / duration
	}
	tempVideo := s.tempVideo
	ts := s.ts
	frameCount := s.frameCount
	s.mu.Unlock()

	s.audioMu.Lock()
	chunks := s.audioChunks
	s.audioChunks = nil
	s.audioMu.Unlock()

	s.logger.Info("recording stopped",
		"frames", frameCount,
		"duration_s", fmt.Sprintf("%.1f", duration),
		"actual_fps", fmt.Sprintf("%.1f", actualFPS),
	)

	s.saveWG.Add(1)
	go s.backgroundSave(tempVideo, ts, chunks, actualFPS)
}

func (s *Session) backgroundSave(tempVideo, ts string, chunks []audioio.AudioChunk, fps float64) {
	defer s.saveWG.Done()

	name := s.merge(tempVideo, ts, chunks, fps)

	s.mu.Lock()
	s.lastFile = name
	s.state = StateIdle
	s.mu.Unlock()

	if name != "" {
		s.logger.Info("recording saved", "file", name)
	} else {
		s.logger.Warn("recording could not be saved")
	}
}

// merge produces the final file and returns its basename, or "" when
// everything failed. A failed or unavailable mux falls back to renaming
// the raw AVI so the capture is never lost.
func (s *Session) merge(tempVideo, ts string, chunks []audioio.AudioChunk, fps float64) string {
	var audioPath string
	if len(chunks) > 0 {
		audioPath = filepath.Join(s.outputDir, tempPrefix+ts+".wav")
		if err := writeWAV(audioPath, chunks, s.sampleRate, s.channels); err != nil {
			s.logger.Warn("audio write failed, merging video only", "error", err)
			audioPath = ""
		}
	}
	defer func() {
		if audioPath != "" {
			os.Remove(audioPath)
		}
	}()

	output := filepath.Join(s.outputDir, filePrefix+ts+".mp4")

	if !s.mux.Available() {
		return s.fallbackRename(tempVideo, output)
	}

	if err := s.mux.Mux(tempVideo, audioPath, output, fps); err != nil {
		s.logger.Warn("mux failed, keeping raw video", "error", err)
		return s.fallbackRename(tempVideo, output)
	}

	os.Remove(tempVideo)
	return filepath.Base(output)
}

// waitTimeout waits for the group up to d. Returns false on timeout.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

func (s *Session) fallbackRename(tempVideo, output string) string {
	fallback := strings.TrimSuffix(output, ".mp4") + ".avi"
	if err := os.Rename(tempVideo, fallback); err != nil {
		s.logger.Warn("fallback rename failed", "error", err)
		return ""
	}
	return filepath.Base(fallback)
}

// GetStatus returns a snapshot of the recorder state.
func (s *Session) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:    s.state,
		Elapsed:  s.elapsed,
		LastFile: s.lastFile,
	}
}

// List returns the saved recordings sorted by filename, which is
// chronological given the timestamp naming.
func (s *Session) List() ([]RecordingInfo, error) {
	entries, err := os.ReadDir(s.outputDir)
	if err != nil {
		return nil, fmt.Errorf("read recordings dir: %w", err)
	}

	var out []RecordingInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), filePrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, RecordingInfo{
			Filename: e.Name(),
			SizeMB:   math.Round(float64(info.Size())/(1024*1024)*10) / 10,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

// FilePath resolves a recording filename to its absolute path. Only
// recording files are addressable; path components are rejected.
func (s *Session) FilePath(filename string) (string, bool) {
	if filepath.Base(filename) != filename || !strings.HasPrefix(filename, filePrefix) {
		return "", false
	}
	path := filepath.Join(s.outputDir, filename)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}
	return path, true
}

// Delete removes a saved recording.
func (s *Session) Delete(filename string) bool {
	path, ok := s.FilePath(filename)
	if !ok {
		return false
	}
	return os.Remove(path) == nil
}
