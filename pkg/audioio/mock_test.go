package audioio

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Backend:        BackendMock,
		SampleRate:     48000,
		Channels:       1,
		BufferDuration: 20 * time.Millisecond,
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := testConfig()
	assert.NoError(t, cfg.Validate())

	bad := cfg
	bad.SampleRate = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Channels = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.BufferDuration = 0
	assert.Error(t, bad.Validate())
}

func TestConfig_BufferSize(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, 960, cfg.BufferSize(), "20ms at 48kHz")
	assert.Equal(t, 1920, cfg.BufferBytes())
}

func TestAudioChunk_Duration(t *testing.T) {
	chunk := AudioChunk{
		Samples:    make([]int16, 48000),
		SampleRate: 48000,
		Channels:   1,
	}
	assert.InDelta(t, 1.0, chunk.Duration(), 1e-9)

	chunk.Channels = 2
	assert.InDelta(t, 0.5, chunk.Duration(), 1e-9)
}

func TestAudioChunk_BytesRoundTrip(t *testing.T) {
	chunk := AudioChunk{
		Samples:    []int16{0, 1, -1, 32767, -32768},
		SampleRate: 48000,
		Channels:   1,
	}

	var back AudioChunk
	back.FromBytes(chunk.Bytes(), 48000, 1)
	assert.Equal(t, chunk.Samples, back.Samples)
}

func TestMockSource_GeneratesChunks(t *testing.T) {
	cfg := testConfig()
	cfg.BufferDuration = 5 * time.Millisecond
	src := NewMockSource(cfg, nil, WithSineWave(440, 0.5))

	ctx := context.Background()
	require.NoError(t, src.Start(ctx))
	defer src.Close()

	chunk, err := src.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, cfg.SampleRate, chunk.SampleRate)
	assert.Len(t, chunk.Samples, cfg.BufferSize())

	// A sine wave has non-zero samples.
	var nonZero int
	for _, s := range chunk.Samples {
		if s != 0 {
			nonZero++
		}
	}
	assert.Greater(t, nonZero, len(chunk.Samples)/2)
}

func TestMockSource_StopClosesStream(t *testing.T) {
	src := NewMockSource(testConfig(), nil)
	ctx := context.Background()
	require.NoError(t, src.Start(ctx))
	require.NoError(t, src.Stop())

	_, err := src.Read(ctx)
	assert.ErrorIs(t, err, io.EOF)

	stats := src.Stats()
	assert.False(t, stats.Running)
	assert.Equal(t, "mock", stats.Backend)
}

func TestMockSource_RapidStartStopCycles(t *testing.T) {
	cfg := testConfig()
	cfg.BufferDuration = 10 * time.Microsecond

	src := NewMockSource(cfg, nil, WithSineWave(440, 0.5))
	defer src.Close()

	// Stop must not close the channel the generator is sending on.
	ctx := context.Background()
	for i := 0; i < 200; i++ {
		require.NoError(t, src.Start(ctx))
		time.Sleep(50 * time.Microsecond)
		require.NoError(t, src.Stop())
	}

	_, err := src.Read(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestMockSource_ClosedCannotRestart(t *testing.T) {
	src := NewMockSource(testConfig(), nil)
	require.NoError(t, src.Close())
	assert.ErrorIs(t, src.Start(context.Background()), io.ErrClosedPipe)
}

func TestMockSink_WriteAndFlush(t *testing.T) {
	sink := NewMockSink(testConfig(), nil)
	ctx := context.Background()
	require.NoError(t, sink.Start(ctx))
	defer sink.Close()

	chunk := AudioChunk{Samples: make([]int16, 960), SampleRate: 48000, Channels: 1}
	require.NoError(t, sink.Write(ctx, chunk))
	require.NoError(t, sink.Write(ctx, chunk))

	stats := sink.Stats()
	assert.Equal(t, int64(2), stats.ChunksWritten)
	assert.Equal(t, int64(1920), stats.BufferedSamples)

	require.NoError(t, sink.Flush(ctx))
	assert.Zero(t, sink.Stats().BufferedSamples)
}

func TestMockSink_Clear(t *testing.T) {
	sink := NewMockSink(testConfig(), nil)
	ctx := context.Background()
	require.NoError(t, sink.Start(ctx))

	chunk := AudioChunk{Samples: make([]int16, 960), SampleRate: 48000, Channels: 1}
	require.NoError(t, sink.Write(ctx, chunk))
	require.NoError(t, sink.Clear())
	assert.Zero(t, sink.Stats().BufferedSamples)
}

func TestMockSink_WriteWhenStoppedFails(t *testing.T) {
	sink := NewMockSink(testConfig(), nil)
	chunk := AudioChunk{Samples: []int16{1}, SampleRate: 48000, Channels: 1}
	assert.ErrorIs(t, sink.Write(context.Background(), chunk), io.ErrClosedPipe)
}

func TestFactory_MockBackend(t *testing.T) {
	cfg := testConfig()

	src, err := NewSource(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "mock", src.Name())
	src.Close()

	sink, err := NewSink(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "mock", sink.Name())
	sink.Close()
}

func TestFactory_RejectsInvalidConfig(t *testing.T) {
	bad := Config{Backend: BackendMock, SampleRate: -1, Channels: 1}
	_, err := NewSource(bad, nil)
	assert.Error(t, err)
	_, err = NewSink(bad, nil)
	assert.Error(t, err)
}

func TestCaptureConfig_ResolvesNativeFormat(t *testing.T) {
	cfg := CaptureConfig()
	assert.Zero(t, cfg.SampleRate, "native rate is resolved by the backend")
	assert.Zero(t, cfg.Channels)

	cfg.Backend = BackendMock
	src, err := NewSource(cfg, nil)
	require.NoError(t, err)
	defer src.Close()

	got := src.Config()
	assert.Equal(t, 48000, got.SampleRate)
	assert.Equal(t, 1, got.Channels)
}
