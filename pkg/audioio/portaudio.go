package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

// PortAudio initialization is process-wide and cheap to keep alive, so it
// is done once and never terminated.
var (
	paInit    sync.Once
	paInitErr error
)

func ensurePortAudio() error {
	paInit.Do(func() {
		paInitErr = portaudio.Initialize()
	})
	if paInitErr != nil {
		return fmt.Errorf("portaudio init: %w", paInitErr)
	}
	return nil
}

// PortAudioSource captures from the system default input device.
type PortAudioSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	stream   *portaudio.Stream
	buf      []int16
	streamCh chan AudioChunk
	wg       sync.WaitGroup

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

// NewPortAudioSource creates a source for the default input device.
// Zero sample rate or channels resolve to the device's native format.
func NewPortAudioSource(cfg Config, logger *slog.Logger) (*PortAudioSource, error) {
	if err := ensurePortAudio(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.SampleRate == 0 || cfg.Channels == 0 {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("default input device: %w", err)
		}
		if cfg.SampleRate == 0 {
			cfg.SampleRate = int(dev.DefaultSampleRate)
		}
		if cfg.Channels == 0 {
			cfg.Channels = capChannels(dev.MaxInputChannels)
		}
		logger.Info("capture using device native format",
			"device", dev.Name,
			"sample_rate", cfg.SampleRate,
			"channels", cfg.Channels,
		)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &PortAudioSource{
		cfg:      cfg,
		logger:   logger,
		streamCh: make(chan AudioChunk, 10),
	}, nil
}

// capChannels limits a device channel count to stereo. WAV finalize and
// the muxer only ever need mono or stereo.
func capChannels(n int) int {
	if n > 2 {
		return 2
	}
	if n < 1 {
		return 1
	}
	return n
}

// Start opens the default input stream and begins capture.
func (s *PortAudioSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	s.buf = make([]int16, s.cfg.BufferSize()*s.cfg.Channels)
	stream, err := portaudio.OpenDefaultStream(
		s.cfg.Channels, 0, float64(s.cfg.SampleRate), s.cfg.BufferSize(), s.buf)
	if err != nil {
		return fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("start input stream: %w", err)
	}

	s.stream = stream
	s.running = true
	s.streamCh = make(chan AudioChunk, 10)

	s.wg.Add(1)
	go s.captureLoop(stream, s.streamCh)

	s.logger.Info("audio capture started",
		"backend", "portaudio",
		"sample_rate", s.cfg.SampleRate,
		"channels", s.cfg.Channels,
	)
	return nil
}

// recordStream is the part of a portaudio stream the capture loop uses.
type recordStream interface {
	Read() error
}

// captureLoop owns the stream handle for its lifetime. Stop clears
// s.stream concurrently, so the loop must never read the field.
func (s *PortAudioSource) captureLoop(stream recordStream, out chan<- AudioChunk) {
	defer s.wg.Done()
	defer close(out)

	for {
		if err := stream.Read(); err != nil {
			// Read fails when the stream is aborted by Stop.
			s.mu.Lock()
			running := s.running
			s.mu.Unlock()
			if running {
				s.logger.Warn("audio read failed", "error", err)
			}
			return
		}

		samples := make([]int16, len(s.buf))
		copy(samples, s.buf)

		chunk := AudioChunk{
			Samples:    samples,
			SampleRate: s.cfg.SampleRate,
			Channels:   s.cfg.Channels,
		}

		select {
		case out <- chunk:
			s.chunksRead.Add(1)
			s.samplesRead.Add(int64(len(samples)))
		default:
			s.overruns.Add(1)
		}
	}
}

// Stop halts capture. Safe to call multiple times.
func (s *PortAudioSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	// Abort interrupts the blocking Read in captureLoop.
	stream.Abort()
	s.wg.Wait()
	stream.Close()
	return nil
}

// Read reads the next audio chunk.
func (s *PortAudioSource) Read(ctx context.Context) (AudioChunk, error) {
	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-s.streamCh:
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Stream returns the audio chunk channel.
func (s *PortAudioSource) Stream() <-chan AudioChunk { return s.streamCh }

// Config returns the audio configuration.
func (s *PortAudioSource) Config() Config { return s.cfg }

// Name returns "portaudio".
func (s *PortAudioSource) Name() string { return "portaudio" }

// Close releases resources.
func (s *PortAudioSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.Stop()
}

// Stats returns source statistics.
func (s *PortAudioSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SourceStats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     "portaudio",
	}
}

var _ SourceWithStats = (*PortAudioSource)(nil)

// PortAudioSink plays to the system default output device. Queued samples
// are drained by a playback goroutine; silence is written when the queue
// is empty so the stream never starves.
type PortAudioSink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	stream  *portaudio.Stream
	out     []int16
	pending []int16
	stopCh  chan struct{}
	wg      sync.WaitGroup

	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
	underruns      atomic.Int64
}

// NewPortAudioSink creates a sink for the default output device.
// Zero sample rate or channels resolve to the device's native format.
func NewPortAudioSink(cfg Config, logger *slog.Logger) (*PortAudioSink, error) {
	if err := ensurePortAudio(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.SampleRate == 0 || cfg.Channels == 0 {
		dev, err := portaudio.DefaultOutputDevice()
		if err != nil {
			return nil, fmt.Errorf("default output device: %w", err)
		}
		if cfg.SampleRate == 0 {
			cfg.SampleRate = int(dev.DefaultSampleRate)
		}
		if cfg.Channels == 0 {
			cfg.Channels = capChannels(dev.MaxOutputChannels)
		}
		logger.Info("playback using device native format",
			"device", dev.Name,
			"sample_rate", cfg.SampleRate,
			"channels", cfg.Channels,
		)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &PortAudioSink{cfg: cfg, logger: logger}, nil
}

// Start opens the default output stream and begins playback.
func (s *PortAudioSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	s.out = make([]int16, s.cfg.BufferSize()*s.cfg.Channels)
	stream, err := portaudio.OpenDefaultStream(
		0, s.cfg.Channels, float64(s.cfg.SampleRate), s.cfg.BufferSize(), &s.out)
	if err != nil {
		return fmt.Errorf("open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("start output stream: %w", err)
	}

	s.stream = stream
	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go s.playLoop(stream, s.stopCh)

	s.logger.Info("audio playback started",
		"backend", "portaudio",
		"sample_rate", s.cfg.SampleRate,
		"channels", s.cfg.Channels,
	)
	return nil
}

// playStream is the part of a portaudio stream the playback loop uses.
type playStream interface {
	Write() error
}

// playLoop owns the stream handle for its lifetime. Stop clears
// s.stream concurrently, so the loop must never read the field.
func (s *PortAudioSink) playLoop(stream playStream, stopCh <-chan struct{}) {
	defer s.wg.Done()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		s.mu.Lock()
		n := copy(s.out, s.pending)
		s.pending = s.pending[n:]
		s.mu.Unlock()

		// Pad with silence so the write cadence stays constant.
		for i := n; i < len(s.out); i++ {
			s.out[i] = 0
		}

		if err := stream.Write(); err != nil {
			s.mu.Lock()
			running := s.running
			s.mu.Unlock()
			if running {
				s.underruns.Add(1)
			} else {
				return
			}
		}
	}
}

// Write queues an audio chunk for playback.
func (s *PortAudioSink) Write(ctx context.Context, chunk AudioChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.running {
		return io.ErrClosedPipe
	}

	s.pending = append(s.pending, chunk.Samples...)
	s.chunksWritten.Add(1)
	s.samplesWritten.Add(int64(len(chunk.Samples)))
	return nil
}

// Flush waits until the queue has drained.
func (s *PortAudioSink) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		s.mu.Lock()
		remaining := len(s.pending)
		running := s.running
		s.mu.Unlock()

		if remaining == 0 || !running {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Clear discards all queued audio.
func (s *PortAudioSink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	return nil
}

// Config returns the audio configuration.
func (s *PortAudioSink) Config() Config { return s.cfg }

// Name returns "portaudio".
func (s *PortAudioSink) Name() string { return "portaudio" }

// Stop halts playback. Safe to call multiple times.
func (s *PortAudioSink) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	stream := s.stream
	s.stream = nil
	s.pending = nil
	s.mu.Unlock()

	stream.Abort()
	s.wg.Wait()
	stream.Close()
	return nil
}

// Close releases resources.
func (s *PortAudioSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.Stop()
}

// Stats returns sink statistics.
func (s *PortAudioSink) Stats() SinkStats {
	s.mu.Lock()
	running := s.running
	buffered := int64(len(s.pending))
	s.mu.Unlock()

	return SinkStats{
		ChunksWritten:   s.chunksWritten.Load(),
		SamplesWritten:  s.samplesWritten.Load(),
		Underruns:       s.underruns.Load(),
		Running:         running,
		Backend:         "portaudio",
		BufferedSamples: buffered,
	}
}

var _ SinkWithStats = (*PortAudioSink)(nil)
