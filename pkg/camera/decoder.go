package camera

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"os/exec"
	"sync"
	"time"
)

// Decoder turns H264 Annex-B NAL data into JPEG frames using short-lived
// ffmpeg processes over pipes. Decodes are rate limited so a fast RTP
// stream cannot spawn unbounded subprocesses.
type Decoder struct {
	mu          sync.Mutex
	lastDecode  time.Time
	minInterval time.Duration
	timeout     time.Duration
}

// NewDecoder creates a decoder. decodeInterval bounds the decode rate,
// e.g. 100ms caps frame extraction at 10 FPS.
func NewDecoder(decodeInterval time.Duration) *Decoder {
	return &Decoder{
		minInterval: decodeInterval,
		timeout:     200 * time.Millisecond,
	}
}

// Decode extracts one JPEG frame from the NAL data. Returns (nil, nil)
// when rate limited, when the data holds no decodable frame, or when the
// result looks like a gray partial frame.
func (d *Decoder) Decode(nalData []byte) ([]byte, error) {
	if len(nalData) < 100 {
		return nil, nil
	}

	d.mu.Lock()
	if time.Since(d.lastDecode) < d.minInterval {
		d.mu.Unlock()
		return nil, nil
	}
	d.lastDecode = time.Now()
	d.mu.Unlock()

	cmd := exec.Command("ffmpeg",
		"-f", "h264",
		"-i", "pipe:0",
		"-vframes", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "3",
		"pipe:1",
	)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	go func() {
		stdin.Write(nalData)
		stdin.Close()
	}()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			// Not enough data for a full frame yet; wait for more NALs.
			return nil, nil
		}
	case <-time.After(d.timeout):
		cmd.Process.Kill()
		<-done
		return nil, nil
	}

	frame := stdout.Bytes()
	if len(frame) < 1000 || isGrayJPEG(frame) {
		return nil, nil
	}
	return frame, nil
}

// isGrayJPEG rejects frames decoded from an incomplete GOP, which come
// out as uniform gray.
func isGrayJPEG(data []byte) bool {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return true
	}

	bounds := img.Bounds()
	if bounds.Dx() < 100 || bounds.Dy() < 100 {
		return true
	}

	var rSum, gSum, bSum, samples int
	for y := bounds.Min.Y; y < bounds.Max.Y; y += bounds.Dy() / 10 {
		for x := bounds.Min.X; x < bounds.Max.X; x += bounds.Dx() / 10 {
			r, g, b, _ := img.At(x, y).RGBA()
			rSum += int(r >> 8)
			gSum += int(g >> 8)
			bSum += int(b >> 8)
			samples++
		}
	}
	if samples == 0 {
		return true
	}

	avgR := rSum / samples
	avgG := gSum / samples
	avgB := bSum / samples

	if avgR < 30 && avgG < 30 && avgB < 30 {
		return true
	}
	colorDiff := absInt(avgR-avgG) + absInt(avgG-avgB) + absInt(avgR-avgB)
	return colorDiff < 15 && avgR > 100 && avgR < 150
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
