// Package web exposes the metronome control API: tempo and transport,
// practice history, hand tracking, MIDI, and recordings, plus a
// websocket feed of beat and status events.
package web

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/reachy-metronome/pkg/hub"
	"github.com/teslashibe/reachy-metronome/pkg/metronome"
	"github.com/teslashibe/reachy-metronome/pkg/midi"
	"github.com/teslashibe/reachy-metronome/pkg/motion"
	"github.com/teslashibe/reachy-metronome/pkg/practice"
	"github.com/teslashibe/reachy-metronome/pkg/recorder"
	"github.com/teslashibe/reachy-metronome/pkg/tracking"
)

// Deps are the subsystems the API drives. MIDI may be nil when no MIDI
// driver is available; the MIDI endpoints then report unavailable.
type Deps struct {
	Scheduler *metronome.Scheduler
	Loop      *motion.Loop
	Spring    *motion.SpringEngine
	Smoother  *tracking.Smoother
	Practice  *practice.Timer
	Recorder  *recorder.Session
	MIDI      *midi.Input
}

// statusInterval is the heartbeat cadence for websocket clients between
// beats.
const statusInterval = 2 * time.Second

// Server is the HTTP control surface.
type Server struct {
	app    *fiber.App
	port   string
	logger *slog.Logger

	deps Deps

	statusHub *hub.Hub
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewServer builds the API server and its routes.
func NewServer(port string, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		port:      port,
		logger:    logger,
		deps:      deps,
		statusHub: hub.New("status", logger),
		stop:      make(chan struct{}),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Reachy Metronome",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	// Metronome
	app.Post("/bpm", s.handleSetBPM)
	app.Post("/time_signature", s.handleSetTimeSignature)
	app.Post("/start", s.handleStart)
	app.Post("/stop", s.handleStop)
	app.Get("/status", s.handleStatus)

	// Practice timer
	app.Post("/practice/reset", s.handlePracticeReset)
	app.Get("/practice/history", s.handlePracticeHistory)

	// Hand tracking
	app.Post("/tracking/start", s.handleTrackingStart)
	app.Post("/tracking/stop", s.handleTrackingStop)
	app.Post("/tracking/smoothing", s.handleTrackingSmoothing)

	// MIDI
	app.Get("/midi/ports", s.handleMIDIPorts)
	app.Post("/midi/start", s.handleMIDIStart)
	app.Post("/midi/stop", s.handleMIDIStop)
	app.Get("/midi/status", s.handleMIDIStatus)
	app.Post("/midi/amplitude", s.handleMIDIAmplitude)

	// Recordings
	app.Post("/recording/start", s.handleRecordingStart)
	app.Post("/recording/stop", s.handleRecordingStop)
	app.Get("/recording/list", s.handleRecordingList)
	app.Get("/recording/download/:filename", s.handleRecordingDownload)
	app.Delete("/recording/:filename", s.handleRecordingDelete)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	s.app = app
	return s
}

// Start runs the hub, the status heartbeat, and the listener. Blocks
// until shutdown.
func (s *Server) Start() error {
	go s.statusHub.Run()
	go s.heartbeatLoop()
	s.logger.Info("api listening", "port", s.port)
	return s.app.Listen(":" + s.port)
}

// StartAsync runs the server in its own goroutine.
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("api server stopped", "error", err)
		}
	}()
}

// Shutdown stops the heartbeat and the HTTP listener gracefully.
func (s *Server) Shutdown() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return s.app.Shutdown()
}

// HandleBeat pushes the fired beat and a fresh status document to
// websocket clients. Wire it to the control loop's OnBeat callback;
// hub broadcasts queue and drop, so this never blocks the motion tick.
func (s *Server) HandleBeat(ev metronome.BeatEvent) {
	s.statusHub.BroadcastJSON(beatEvent{
		Type:     "beat",
		Beat:     ev.Beat,
		Downbeat: ev.Downbeat,
	})
	s.broadcastStatus()
}

// heartbeatLoop keeps idle clients current between beats. Skipped when
// nobody is connected.
func (s *Server) heartbeatLoop() {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if s.statusHub.ClientCount() > 0 {
				s.broadcastStatus()
			}
		}
	}
}

func (s *Server) broadcastStatus() {
	s.statusHub.BroadcastJSON(statusMessage{
		Type:           "status",
		statusResponse: s.statusSnapshot(),
	})
}

type beatEvent struct {
	Type     string `json:"type"`
	Beat     int    `json:"beat"`
	Downbeat bool   `json:"downbeat"`
}

type statusMessage struct {
	Type string `json:"type"`
	statusResponse
}

// handleStatusWS serves the live status feed. Each client gets a status
// snapshot on connect, then the broadcast stream.
func (s *Server) handleStatusWS(c *websocket.Conn) {
	client := hub.NewClient(s.statusHub, c)
	c.WriteJSON(statusMessage{Type: "status", statusResponse: s.statusSnapshot()})
	client.Run()
}
