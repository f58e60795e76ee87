// Reachy Mini practice metronome: drift-free beats with antenna motion,
// MIDI-driven body groove, hand tracking, and practice recording.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/reachy-metronome/internal/config"
	"github.com/teslashibe/reachy-metronome/internal/log"
	"github.com/teslashibe/reachy-metronome/pkg/app"
)

func main() {
	cfg := parseFlags()
	log.Init(config.LogLevel())

	a, err := app.New(cfg, log.L())
	if err != nil {
		log.Error("configuration error", "error", err)
		os.Exit(1)
	}

	if err := a.Init(); err != nil {
		log.Error("initialization failed", "error", err)
		os.Exit(1)
	}
	defer a.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.Run(ctx); err != nil {
		log.Error("runtime error", "error", err)
		os.Exit(1)
	}
}

// parseFlags merges flags over environment defaults.
func parseFlags() app.Config {
	cfg := app.DefaultConfig()

	robotIP := flag.String("robot-ip", "", "Robot IP address (overrides ROBOT_IP env var)")
	apiPort := flag.String("port", cfg.APIPort, "HTTP API port")
	modelPath := flag.String("model", cfg.ModelPath, "YOLOv8 pose model path")
	recordingsDir := flag.String("recordings", cfg.RecordingsDir, "Directory for saved recordings")
	audioBackend := flag.String("audio", cfg.AudioBackend, "Audio backend: auto, portaudio, mock")
	noCamera := flag.Bool("no-camera", false, "Disable camera (no tracking or recording)")
	noAudio := flag.Bool("no-audio", false, "Disable click playback")
	flag.Parse()

	cfg.APIPort = *apiPort
	cfg.ModelPath = *modelPath
	cfg.RecordingsDir = *recordingsDir
	cfg.AudioBackend = *audioBackend
	cfg.NoCamera = *noCamera
	cfg.NoAudio = *noAudio

	if *robotIP != "" {
		cfg.RobotIP = *robotIP
	} else {
		cfg.RobotIP = config.RobotIPRequired()
	}
	return cfg
}
