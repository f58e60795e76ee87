package web

import (
	"math"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/reachy-metronome/pkg/midi"
	"github.com/teslashibe/reachy-metronome/pkg/practice"
	"github.com/teslashibe/reachy-metronome/pkg/recorder"
	"github.com/teslashibe/reachy-metronome/pkg/tracking"
)

type bpmRequest struct {
	BPM int `json:"bpm"`
}

type timeSignatureRequest struct {
	Beats int `json:"beats"`
}

type smoothingRequest struct {
	Value float64 `json:"value"`
}

type midiPortRequest struct {
	PortName string `json:"port_name"`
}

type amplitudeRequest struct {
	Value float64 `json:"value"`
}

// statusResponse is the composite /status payload.
type statusResponse struct {
	BPM           int             `json:"bpm"`
	TimeSignature int             `json:"time_signature"`
	CurrentBeat   int             `json:"current_beat"`
	Running       bool            `json:"running"`
	Practice      practice.Status `json:"practice"`
	Tracking      trackingStatus  `json:"tracking"`
	Recording     recorder.Status `json:"recording"`
	MIDI          midiStatus      `json:"midi"`
}

type trackingStatus struct {
	Enabled bool `json:"enabled"`
	tracking.State
}

type midiStatus struct {
	Enabled bool `json:"enabled"`
	midi.Status
	BodyYaw   float64 `json:"body_yaw"`
	HeadPitch float64 `json:"head_pitch"`
	Amplitude float64 `json:"amplitude"`
}

func (s *Server) statusSnapshot() statusResponse {
	m := s.deps.Scheduler.GetStatus()
	return statusResponse{
		BPM:           m.BPM,
		TimeSignature: m.BeatsPerBar,
		CurrentBeat:   m.CurrentBeat,
		Running:       m.Running,
		Practice:      s.deps.Practice.GetStatus(),
		Tracking: trackingStatus{
			Enabled: s.deps.Loop.TrackingEnabled(),
			State:   s.deps.Smoother.State(),
		},
		Recording: s.deps.Recorder.GetStatus(),
		MIDI:      s.midiSnapshot(),
	}
}

func (s *Server) midiSnapshot() midiStatus {
	st := midiStatus{Enabled: s.deps.Loop.MIDIEnabled()}
	if s.deps.MIDI != nil {
		st.Status = s.deps.MIDI.GetStatus()
	}
	spring := s.deps.Spring.State()
	st.BodyYaw = round1(spring.BodyYaw)
	st.HeadPitch = round1(spring.HeadPitch)
	st.Amplitude = round2(spring.AmplitudeMult)
	return st
}

// ---------------------------------------------------------------------
// Metronome
// ---------------------------------------------------------------------

func (s *Server) handleSetBPM(c *fiber.Ctx) error {
	var req bpmRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	applied := s.deps.Scheduler.SetBPM(req.BPM)
	return c.JSON(fiber.Map{"bpm": applied})
}

func (s *Server) handleSetTimeSignature(c *fiber.Ctx) error {
	var req timeSignatureRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	applied := s.deps.Scheduler.SetBeatsPerBar(req.Beats)
	return c.JSON(fiber.Map{"time_signature": applied})
}

func (s *Server) handleStart(c *fiber.Ctx) error {
	s.deps.Scheduler.Start(nowFn())
	s.deps.Practice.StartSession()
	return c.JSON(fiber.Map{"running": true})
}

func (s *Server) handleStop(c *fiber.Ctx) error {
	m := s.deps.Scheduler.GetStatus()
	if m.Running {
		s.deps.Practice.StopSession(m.BPM, m.BeatsPerBar)
	}
	s.deps.Scheduler.Stop()
	return c.JSON(fiber.Map{"running": false})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.statusSnapshot())
}

// ---------------------------------------------------------------------
// Practice timer
// ---------------------------------------------------------------------

func (s *Server) handlePracticeReset(c *fiber.Ctx) error {
	s.deps.Practice.Reset()
	return c.JSON(fiber.Map{"reset": true})
}

func (s *Server) handlePracticeHistory(c *fiber.Ctx) error {
	return c.JSON(s.deps.Practice.GetHistory())
}

// ---------------------------------------------------------------------
// Hand tracking
// ---------------------------------------------------------------------

func (s *Server) handleTrackingStart(c *fiber.Ctx) error {
	s.deps.Loop.SetTracking(true)
	return c.JSON(fiber.Map{"tracking": true})
}

func (s *Server) handleTrackingStop(c *fiber.Ctx) error {
	s.deps.Loop.SetTracking(false)
	return c.JSON(fiber.Map{"tracking": false})
}

func (s *Server) handleTrackingSmoothing(c *fiber.Ctx) error {
	var req smoothingRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	applied := s.deps.Smoother.SetSmoothing(req.Value)
	return c.JSON(fiber.Map{"smoothing": applied})
}

// ---------------------------------------------------------------------
// MIDI
// ---------------------------------------------------------------------

func (s *Server) handleMIDIPorts(c *fiber.Ctx) error {
	if s.deps.MIDI == nil {
		return midiUnavailable(c)
	}
	ports, err := s.deps.MIDI.ListPorts()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"ports": ports})
}

func (s *Server) handleMIDIStart(c *fiber.Ctx) error {
	if s.deps.MIDI == nil {
		return midiUnavailable(c)
	}
	var req midiPortRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}

	if err := s.deps.MIDI.Open(req.PortName); err != nil {
		s.logger.Warn("midi open failed", "port", req.PortName, "error", err)
		return c.JSON(fiber.Map{"enabled": false, "port": "", "error": err.Error()})
	}
	s.deps.Loop.SetMIDI(true)
	return c.JSON(fiber.Map{"enabled": true, "port": req.PortName})
}

func (s *Server) handleMIDIStop(c *fiber.Ctx) error {
	if s.deps.MIDI != nil {
		s.deps.MIDI.Close()
	}
	s.deps.Loop.SetMIDI(false)
	return c.JSON(fiber.Map{"enabled": false})
}

func (s *Server) handleMIDIStatus(c *fiber.Ctx) error {
	return c.JSON(s.midiSnapshot())
}

func (s *Server) handleMIDIAmplitude(c *fiber.Ctx) error {
	var req amplitudeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	applied := s.deps.Spring.SetAmplitude(req.Value)
	return c.JSON(fiber.Map{"amplitude": round2(applied)})
}

// ---------------------------------------------------------------------
// Recordings
// ---------------------------------------------------------------------

func (s *Server) handleRecordingStart(c *fiber.Ctx) error {
	err := s.deps.Recorder.Start()
	if err != nil {
		s.logger.Warn("recording start failed", "error", err)
	}
	return c.JSON(fiber.Map{
		"recording": err == nil,
		"state":     s.deps.Recorder.GetStatus().State,
	})
}

func (s *Server) handleRecordingStop(c *fiber.Ctx) error {
	s.deps.Recorder.Stop()
	return c.JSON(fiber.Map{"state": s.deps.Recorder.GetStatus().State})
}

func (s *Server) handleRecordingList(c *fiber.Ctx) error {
	files, err := s.deps.Recorder.List()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if files == nil {
		files = []recorder.RecordingInfo{}
	}
	return c.JSON(fiber.Map{"files": files})
}

func (s *Server) handleRecordingDownload(c *fiber.Ctx) error {
	filename := c.Params("filename")
	path, ok := s.deps.Recorder.FilePath(filename)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	}
	return c.Download(path, filename)
}

func (s *Server) handleRecordingDelete(c *fiber.Ctx) error {
	ok := s.deps.Recorder.Delete(c.Params("filename"))
	return c.JSON(fiber.Map{"deleted": ok})
}

// ---------------------------------------------------------------------

var nowFn = time.Now

func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
}

func midiUnavailable(c *fiber.Ctx) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "midi unavailable"})
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func round2(v float64) float64 { return math.Round(v*100) / 100 }
