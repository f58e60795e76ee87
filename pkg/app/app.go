// Package app wires the metronome subsystems together: robot control,
// camera, audio, motion loop, MIDI, recorder, and the HTTP API.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/teslashibe/reachy-metronome/internal/config"
	"github.com/teslashibe/reachy-metronome/pkg/audioio"
	"github.com/teslashibe/reachy-metronome/pkg/camera"
	"github.com/teslashibe/reachy-metronome/pkg/metronome"
	"github.com/teslashibe/reachy-metronome/pkg/midi"
	"github.com/teslashibe/reachy-metronome/pkg/motion"
	"github.com/teslashibe/reachy-metronome/pkg/practice"
	"github.com/teslashibe/reachy-metronome/pkg/recorder"
	"github.com/teslashibe/reachy-metronome/pkg/robot"
	"github.com/teslashibe/reachy-metronome/pkg/tracking"
	"github.com/teslashibe/reachy-metronome/pkg/tracking/detection"
	"github.com/teslashibe/reachy-metronome/pkg/web"
)

// Config holds everything the app needs to start.
type Config struct {
	RobotIP       string
	APIPort       string
	RecordingsDir string
	ModelPath     string
	AudioBackend  string
	NoCamera      bool
	NoAudio       bool
}

// DefaultConfig builds a config from environment defaults. RobotIP is
// left empty and must be filled by the caller.
func DefaultConfig() Config {
	return Config{
		APIPort:       config.APIPort(),
		RecordingsDir: config.RecordingsDir(),
		ModelPath:     detection.DefaultPoseConfig().ModelPath,
		AudioBackend:  string(audioio.BackendAuto),
	}
}

// App owns the subsystems and their lifecycles.
type App struct {
	cfg    Config
	logger *slog.Logger

	scheduler *metronome.Scheduler
	spring    *motion.SpringEngine
	smoother  *tracking.Smoother
	loop      *motion.Loop

	frames   *camera.SharedFrame
	cam      *camera.Client
	detector *detection.PoseDetector

	audioSink audioio.Sink
	player    *metronome.Player

	practice *practice.Timer
	recorder *recorder.Session
	midiIn   *midi.Input
	server   *web.Server
}

// New validates the config and creates the app shell.
func New(cfg Config, logger *slog.Logger) (*App, error) {
	if cfg.RobotIP == "" {
		return nil, fmt.Errorf("robot IP is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &App{cfg: cfg, logger: logger}, nil
}

// Init builds all subsystems. Optional hardware (camera, pose model,
// audio out, MIDI) degrades to disabled rather than failing startup.
func (a *App) Init() error {
	a.scheduler = metronome.NewScheduler(metronome.DefaultBPM, metronome.DefaultBeatsPerBar)
	a.spring = motion.NewSpringEngine()
	a.smoother = tracking.NewSmoother()

	sink := robot.NewHTTPController(a.cfg.RobotIP)
	if status, err := sink.GetDaemonStatus(); err != nil {
		a.logger.Warn("robot daemon unreachable, poses will retry", "error", err)
	} else {
		a.logger.Info("robot daemon connected", "status", status)
	}

	a.loop = motion.NewLoop(a.scheduler, a.spring, a.smoother, sink, a.logger)

	a.frames = camera.NewSharedFrame()
	if !a.cfg.NoCamera {
		a.cam = camera.NewClient(a.cfg.RobotIP, a.frames, a.logger)
		a.loop.SetFrameSource(a.frames)

		det, err := detection.NewPose(detection.PoseConfig{ModelPath: a.cfg.ModelPath})
		if err != nil {
			a.logger.Warn("pose model unavailable, hand tracking disabled", "error", err)
		} else {
			a.detector = det
			a.loop.SetDetector(det)
		}
	}

	if !a.cfg.NoAudio {
		cfg := audioio.DefaultConfig()
		cfg.Backend = audioio.Backend(a.cfg.AudioBackend)
		sink, err := audioio.NewSink(cfg, a.logger)
		if err != nil {
			a.logger.Warn("audio output unavailable, metronome runs silent", "error", err)
		} else {
			a.audioSink = sink
			a.player = metronome.NewPlayer(sink, a.logger)
			a.loop.SetClicker(a.player)
		}
	}

	rec, err := recorder.NewSession(a.cfg.RecordingsDir, a.frames, a.logger)
	if err != nil {
		return fmt.Errorf("init recorder: %w", err)
	}
	a.recorder = rec

	in, err := midi.NewInput(a.spring, a.logger)
	if err != nil {
		a.logger.Warn("midi unavailable", "error", err)
	} else {
		a.midiIn = in
		// A yanked cable must not leave the robot swaying.
		in.OnDisconnect = func() { a.loop.SetMIDI(false) }
	}

	a.practice = practice.NewTimer()
	a.server = web.NewServer(a.cfg.APIPort, web.Deps{
		Scheduler: a.scheduler,
		Loop:      a.loop,
		Spring:    a.spring,
		Smoother:  a.smoother,
		Practice:  a.practice,
		Recorder:  a.recorder,
		MIDI:      a.midiIn,
	}, a.logger)
	a.loop.OnBeat = a.server.HandleBeat

	return nil
}

// Run starts the control loop, camera, audio, and API server, then
// blocks until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a.audioSink != nil {
		if err := a.audioSink.Start(ctx); err != nil {
			a.logger.Warn("audio start failed, metronome runs silent", "error", err)
			a.audioSink = nil
			a.loop.SetClicker(nil)
		} else {
			a.player.Start()
		}
	}

	if a.cam != nil {
		go func() {
			if err := a.cam.Connect(); err != nil {
				a.logger.Warn("camera connect failed, tracking and recording need frames", "error", err)
			}
		}()
	}

	go a.loop.Run()
	a.server.StartAsync()

	a.logger.Info("metronome ready",
		"robot_ip", a.cfg.RobotIP,
		"api_port", a.cfg.APIPort,
		"recordings_dir", a.cfg.RecordingsDir,
	)

	<-ctx.Done()
	return nil
}

// Shutdown stops everything in reverse dependency order. A running
// practice session is folded into the total before exit.
func (a *App) Shutdown() {
	if a.server != nil {
		a.server.Shutdown()
	}
	if a.practice != nil && a.scheduler != nil {
		st := a.scheduler.GetStatus()
		if st.Running {
			a.practice.StopSession(st.BPM, st.BeatsPerBar)
		}
	}
	if a.loop != nil {
		a.loop.Stop()
	}
	if a.recorder != nil {
		a.recorder.Stop()
	}
	if a.midiIn != nil {
		a.midiIn.Shutdown()
	}
	if a.player != nil {
		a.player.Close()
	}
	if a.audioSink != nil {
		a.audioSink.Close()
	}
	if a.cam != nil {
		a.cam.Close()
	}
	if a.detector != nil {
		a.detector.Close()
	}
	a.logger.Info("shutdown complete")
}
