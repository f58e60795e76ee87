package recorder

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/teslashibe/reachy-metronome/pkg/audioio"
)

// writeWAV concatenates the captured chunks into a PCM16 WAV file.
func writeWAV(path string, chunks []audioio.AudioChunk, sampleRate, channels int) error {
	var total int
	for _, c := range chunks {
		total += len(c.Samples)
	}
	if total == 0 {
		return fmt.Errorf("no audio samples")
	}

	data := make([]int, 0, total)
	for _, c := range chunks {
		for _, s := range c.Samples {
			data = append(data, int(s))
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		SourceBitDepth: 16,
		Data:           data,
	}

	if err := enc.Write(buf); err != nil {
		enc.Close()
		f.Close()
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalize wav: %w", err)
	}
	return f.Close()
}
