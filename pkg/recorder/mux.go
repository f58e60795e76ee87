package recorder

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// Muxer merges the temp video and optional audio into the final file.
type Muxer interface {
	// Available reports whether the muxer can run on this system.
	Available() bool

	// Mux transcodes videoPath (with audioPath mixed in when non-empty)
	// into outputPath at the given frame rate.
	Mux(videoPath, audioPath, outputPath string, fps float64) error
}

// muxTimeout bounds a single ffmpeg run; long practice takes transcode
// in well under this on the target hardware.
const muxTimeout = 120 * time.Second

// FFmpegMuxer shells out to ffmpeg for the H264/AAC merge.
type FFmpegMuxer struct{}

// Available reports whether ffmpeg is on PATH.
func (FFmpegMuxer) Available() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

// Mux runs ffmpeg. The input frame rate is forced to the measured capture
// rate so playback speed matches real time regardless of dropped frames.
func (FFmpegMuxer) Mux(videoPath, audioPath, outputPath string, fps float64) error {
	ctx, cancel := context.WithTimeout(context.Background(), muxTimeout)
	defer cancel()

	args := []string{
		"-y",
		"-r", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", videoPath,
	}
	if audioPath != "" {
		args = append(args, "-i", audioPath)
	}
	args = append(args,
		"-c:v", "libx264", "-preset", "fast", "-crf", "23",
	)
	if audioPath != "" {
		args = append(args, "-c:a", "aac", "-b:a", "128k", "-shortest")
	} else {
		args = append(args, "-an")
	}
	args = append(args, "-movflags", "+faststart", outputPath)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("ffmpeg timed out after %s", muxTimeout)
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, tail(out, 300))
	}
	return nil
}

func tail(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[len(b)-n:])
}
