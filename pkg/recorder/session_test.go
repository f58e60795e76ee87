package recorder

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/reachy-metronome/pkg/audioio"
)

type stubFrames struct {
	frame []byte
}

func (f *stubFrames) TryFrame() ([]byte, bool) {
	if f.frame == nil {
		return nil, false
	}
	return f.frame, true
}

func (f *stubFrames) Frame() ([]byte, bool) { return f.TryFrame() }

type stubSink struct {
	mu     sync.Mutex
	path   string
	opened bool
	writes int
	closed bool
}

func (s *stubSink) Open(path string, fps float64, firstFrame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.path = path
	s.opened = true
	s.writes = 1
	return os.WriteFile(path, []byte("avi"), 0o644)
}

func (s *stubSink) Write(jpeg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	return nil
}

func (s *stubSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

type stubMuxer struct {
	mu          sync.Mutex
	available   bool
	err         error
	audioPath   string
	audioExists bool
	fps         float64
	called      bool
}

func (m *stubMuxer) Available() bool { return m.available }

func (m *stubMuxer) Mux(videoPath, audioPath, outputPath string, fps float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.called = true
	m.audioPath = audioPath
	m.fps = fps
	if audioPath != "" {
		_, err := os.Stat(audioPath)
		m.audioExists = err == nil
	}
	if m.err != nil {
		return m.err
	}
	return os.WriteFile(outputPath, []byte("mp4"), 0o644)
}

func mockAudioFactory() (audioio.Source, error) {
	cfg := audioio.Config{
		Backend:        audioio.BackendMock,
		SampleRate:     48000,
		Channels:       1,
		BufferDuration: 5 * time.Millisecond,
	}
	return audioio.NewMockSource(cfg, nil, audioio.WithSineWave(440, 0.5)), nil
}

func newTestSession(t *testing.T, opts ...Option) (*Session, *stubSink, *stubMuxer, string) {
	t.Helper()
	dir := t.TempDir()
	sink := &stubSink{}
	mux := &stubMuxer{available: true}

	base := []Option{
		WithVideoSink(sink),
		WithMuxer(mux),
		WithAudioSourceFactory(mockAudioFactory),
		WithCaptureFPS(100), // fast ticks so short tests capture frames
	}
	s, err := NewSession(dir, &stubFrames{frame: []byte{0xff, 0xd8}}, nil, append(base, opts...)...)
	require.NoError(t, err)
	return s, sink, mux, dir
}

func waitIdle(t *testing.T, s *Session) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.GetStatus().State == StateIdle
	}, 5*time.Second, 5*time.Millisecond)
}

func TestSession_StartRequiresFrame(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSession(dir, &stubFrames{}, nil, WithVideoSink(&stubSink{}))
	require.NoError(t, err)

	assert.Error(t, s.Start())
	assert.Equal(t, StateIdle, s.GetStatus().State)
}

func TestSession_FullLifecycle(t *testing.T) {
	s, sink, mux, dir := newTestSession(t)

	require.NoError(t, s.Start())
	assert.Equal(t, StateRecording, s.GetStatus().State)
	assert.Error(t, s.Start(), "only one recording at a time")

	time.Sleep(100 * time.Millisecond)
	s.Stop()
	waitIdle(t, s)

	st := s.GetStatus()
	assert.True(t, len(st.LastFile) > 0)
	assert.Contains(t, st.LastFile, "practice_")
	assert.Contains(t, st.LastFile, ".mp4")

	assert.Greater(t, sink.writeCount(), 1, "capture loop wrote frames")
	assert.True(t, sink.closed)

	mux.mu.Lock()
	assert.True(t, mux.called)
	assert.NotEmpty(t, mux.audioPath, "captured audio reaches the muxer")
	assert.True(t, mux.audioExists, "the WAV exists while muxing")
	assert.Positive(t, mux.fps)
	mux.mu.Unlock()

	// Temp artifacts are gone, the final file remains.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, st.LastFile, entries[0].Name())

	// Idle again: a new recording can start.
	require.NoError(t, s.Start())
	s.Stop()
	waitIdle(t, s)
}

func TestSession_FallbackWhenMuxerUnavailable(t *testing.T) {
	s, _, mux, dir := newTestSession(t)
	mux.available = false

	require.NoError(t, s.Start())
	time.Sleep(50 * time.Millisecond)
	s.Stop()
	waitIdle(t, s)

	st := s.GetStatus()
	assert.Contains(t, st.LastFile, ".avi", "raw AVI kept when ffmpeg is missing")

	_, err := os.Stat(filepath.Join(dir, st.LastFile))
	assert.NoError(t, err)
}

func TestSession_FallbackWhenMuxFails(t *testing.T) {
	s, _, mux, _ := newTestSession(t)
	mux.err = errors.New("codec exploded")

	require.NoError(t, s.Start())
	time.Sleep(50 * time.Millisecond)
	s.Stop()
	waitIdle(t, s)

	assert.Contains(t, s.GetStatus().LastFile, ".avi")
}

func TestSession_VideoOnlyWhenMicUnavailable(t *testing.T) {
	s, _, mux, _ := newTestSession(t, WithAudioSourceFactory(func() (audioio.Source, error) {
		return nil, errors.New("no mic")
	}))

	require.NoError(t, s.Start())
	time.Sleep(50 * time.Millisecond)
	s.Stop()
	waitIdle(t, s)

	st := s.GetStatus()
	assert.Contains(t, st.LastFile, ".mp4", "recording still succeeds without audio")

	mux.mu.Lock()
	assert.Empty(t, mux.audioPath)
	mux.mu.Unlock()
}

func TestSession_CleansOrphanedTempFiles(t *testing.T) {
	dir := t.TempDir()
	orphan := filepath.Join(dir, "_tmp_20250101_120000.avi")
	keeper := filepath.Join(dir, "practice_20250101_120000.mp4")
	require.NoError(t, os.WriteFile(orphan, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(keeper, []byte("x"), 0o644))

	_, err := NewSession(dir, &stubFrames{}, nil, WithVideoSink(&stubSink{}))
	require.NoError(t, err)

	_, err = os.Stat(orphan)
	assert.True(t, os.IsNotExist(err), "orphaned temp file removed")
	_, err = os.Stat(keeper)
	assert.NoError(t, err, "finished recordings untouched")
}

func TestSession_ElapsedAdvances(t *testing.T) {
	s, _, _, _ := newTestSession(t)
	require.NoError(t, s.Start())

	time.Sleep(100 * time.Millisecond)
	assert.Greater(t, s.GetStatus().Elapsed, 0.05)

	s.Stop()
	waitIdle(t, s)
}

// blockingSink wedges the capture loop inside a frame write.
type blockingSink struct {
	stubSink
	release chan struct{}
	blocked chan struct{}
	once    sync.Once
}

func (b *blockingSink) Write(jpeg []byte) error {
	b.once.Do(func() { close(b.blocked) })
	<-b.release
	return nil
}

func TestSession_StopProceedsWhenCaptureWedged(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{}), blocked: make(chan struct{})}
	t.Cleanup(func() { close(sink.release) })

	s, _, _, _ := newTestSession(t, WithVideoSink(sink))
	s.joinTimeout = 50 * time.Millisecond

	require.NoError(t, s.Start())
	<-sink.blocked

	start := time.Now()
	s.Stop()
	assert.Less(t, time.Since(start), 2*time.Second, "stop does not wait forever on a wedged write")

	waitIdle(t, s)
	assert.NotEmpty(t, s.GetStatus().LastFile, "capture still finalized")
}

func TestSession_StopWhenIdleIsNoop(t *testing.T) {
	s, _, _, _ := newTestSession(t)
	s.Stop()
	assert.Equal(t, StateIdle, s.GetStatus().State)
}

func TestSession_ListAndDelete(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "practice_a.mp4"), make([]byte, 2*1024*1024), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "practice_b.avi"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	s, err := NewSession(dir, &stubFrames{}, nil, WithVideoSink(&stubSink{}))
	require.NoError(t, err)

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 2, "only recording files are listed")
	assert.Equal(t, "practice_a.mp4", list[0].Filename)
	assert.InDelta(t, 2.0, list[0].SizeMB, 0.1)

	assert.True(t, s.Delete("practice_b.avi"))
	assert.False(t, s.Delete("practice_b.avi"), "already gone")
	assert.False(t, s.Delete("notes.txt"), "non-recordings are not deletable")

	list, _ = s.List()
	assert.Len(t, list, 1)
}

func TestSession_FilePathRejectsTraversal(t *testing.T) {
	s, _, _, dir := newTestSession(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "practice_x.mp4"), []byte("x"), 0o644))

	path, ok := s.FilePath("practice_x.mp4")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "practice_x.mp4"), path)

	_, ok = s.FilePath("../practice_x.mp4")
	assert.False(t, ok)
	_, ok = s.FilePath("notes.txt")
	assert.False(t, ok)
}
