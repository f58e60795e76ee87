package audioio

import (
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRecordStream reads successfully until aborted, then fails the way
// an aborted portaudio stream does.
type fakeRecordStream struct {
	mu      sync.Mutex
	aborted bool
}

func (f *fakeRecordStream) Read() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.aborted {
		return errors.New("stream aborted")
	}
	return nil
}

func (f *fakeRecordStream) abort() {
	f.mu.Lock()
	f.aborted = true
	f.mu.Unlock()
}

type fakePlayStream struct {
	mu      sync.Mutex
	aborted bool
}

func (f *fakePlayStream) Write() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.aborted {
		return errors.New("stream aborted")
	}
	return nil
}

func (f *fakePlayStream) abort() {
	f.mu.Lock()
	f.aborted = true
	f.mu.Unlock()
}

// The capture goroutine holds its own stream reference, so clearing the
// source's stream field mid-capture must not crash it.
func TestPortAudioSource_CaptureLoopSurvivesStop(t *testing.T) {
	cfg := testConfig()
	s := &PortAudioSource{
		cfg:      cfg,
		logger:   slog.Default(),
		running:  true,
		buf:      make([]int16, cfg.BufferSize()*cfg.Channels),
		streamCh: make(chan AudioChunk, 10),
	}

	stream := &fakeRecordStream{}
	s.wg.Add(1)
	go s.captureLoop(stream, s.streamCh)

	// Wait for the loop to be mid-capture.
	chunk := <-s.streamCh
	require.Len(t, chunk.Samples, cfg.BufferSize())

	// Interleave teardown exactly as Stop does.
	s.mu.Lock()
	s.running = false
	s.stream = nil
	s.mu.Unlock()
	stream.abort()
	s.wg.Wait()

	// Loop exit closes the stream channel.
	for {
		if _, ok := <-s.streamCh; !ok {
			break
		}
	}
}

func TestPortAudioSink_PlayLoopSurvivesStop(t *testing.T) {
	cfg := testConfig()
	s := &PortAudioSink{
		cfg:     cfg,
		logger:  slog.Default(),
		running: true,
		out:     make([]int16, cfg.BufferSize()*cfg.Channels),
		stopCh:  make(chan struct{}),
	}

	stream := &fakePlayStream{}
	s.wg.Add(1)
	go s.playLoop(stream, s.stopCh)

	s.mu.Lock()
	s.pending = append(s.pending, make([]int16, 100)...)
	s.mu.Unlock()

	// Interleave teardown exactly as Stop does.
	s.mu.Lock()
	s.running = false
	s.stream = nil
	s.pending = nil
	s.mu.Unlock()
	close(s.stopCh)
	stream.abort()

	// Returning proves the loop exited without touching the cleared field.
	s.wg.Wait()
}

func TestCapChannels(t *testing.T) {
	assert.Equal(t, 1, capChannels(0))
	assert.Equal(t, 1, capChannels(1))
	assert.Equal(t, 2, capChannels(2))
	assert.Equal(t, 2, capChannels(8))
}
