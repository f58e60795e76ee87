package midi

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// Controller assignments. Mod wheel scales overall motion, volume sets
// the sway range, expression sets how fast motion dies out.
const (
	ccModWheel   = 1  // amplitude multiplier 0..2
	ccVolume     = 7  // max sway 5..40 deg
	ccExpression = 11 // decay rate 1..10
)

// MotionSink receives the converted MIDI events. Implemented by the
// spring engine.
type MotionSink interface {
	Trigger(velocity float64, note int)
	SetAmplitude(v float64) float64
	SetMaxSway(deg float64) float64
	SetDecayRate(rate float64) float64
}

// Status is a snapshot of the MIDI connection for the status API.
type Status struct {
	Connected            bool    `json:"connected"`
	PortName             string  `json:"port_name"`
	LastNote             int     `json:"last_note"`
	LastNoteName         string  `json:"last_note_name"`
	LastVelocity         int     `json:"last_velocity"`
	NotesCount           int     `json:"notes_count"`
	SecondsSinceLastNote float64 `json:"seconds_since_last_note"`
}

// Input owns the MIDI driver and at most one open input port. Incoming
// messages arrive on the driver's listener goroutine and are forwarded
// to the motion sink, which does its own locking.
type Input struct {
	drv    *rtmididrv.Driver
	sink   MotionSink
	logger *slog.Logger

	// OnDisconnect is invoked from a fresh goroutine when the open port
	// errors out, after the port has been closed.
	OnDisconnect func()

	mu           sync.Mutex
	port         drivers.In
	portName     string
	stopFn       func()
	lastNote     int
	lastVelocity int
	notesCount   int
	lastNoteTime time.Time
}

// NewInput creates the MIDI subsystem. Fails when no MIDI driver is
// available on the system.
func NewInput(sink MotionSink, logger *slog.Logger) (*Input, error) {
	if logger == nil {
		logger = slog.Default()
	}
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("midi driver: %w", err)
	}
	return &Input{
		drv:    drv,
		sink:   sink,
		logger: logger,
	}, nil
}

// ListPorts returns the available MIDI input port names.
func (in *Input) ListPorts() ([]string, error) {
	ins, err := in.drv.Ins()
	if err != nil {
		return nil, fmt.Errorf("list midi inputs: %w", err)
	}
	names := make([]string, 0, len(ins))
	for _, p := range ins {
		names = append(names, p.String())
	}
	return names, nil
}

// Open connects to the named input port and starts listening. An already
// open port is closed first.
func (in *Input) Open(portName string) error {
	in.Close()

	ins, err := in.drv.Ins()
	if err != nil {
		return fmt.Errorf("list midi inputs: %w", err)
	}

	var found drivers.In
	for _, p := range ins {
		if p.String() == portName {
			found = p
			break
		}
	}
	if found == nil {
		return fmt.Errorf("midi input %q not found", portName)
	}

	if err := found.Open(); err != nil {
		return fmt.Errorf("open midi port %q: %w", portName, err)
	}

	stop, err := midi.ListenTo(found, func(msg midi.Message, timestampms int32) {
		in.onMessage(msg)
	}, midi.HandleError(func(listenErr error) {
		in.logger.Warn("midi listener error, device likely disconnected",
			"port", portName, "error", listenErr)
		// Close must not run on the listener goroutine itself.
		go func() {
			in.mu.Lock()
			connected := in.portName == portName
			in.mu.Unlock()
			if connected {
				in.Close()
				if in.OnDisconnect != nil {
					in.OnDisconnect()
				}
			}
		}()
	}))
	if err != nil {
		found.Close()
		return fmt.Errorf("start midi listener: %w", err)
	}

	in.mu.Lock()
	in.port = found
	in.portName = portName
	in.stopFn = stop
	in.mu.Unlock()

	in.logger.Info("midi input connected", "port", portName)
	return nil
}

// Close stops listening and closes the port. Safe to call when nothing
// is open.
func (in *Input) Close() {
	in.mu.Lock()
	stop := in.stopFn
	port := in.port
	name := in.portName
	in.stopFn = nil
	in.port = nil
	in.portName = ""
	in.mu.Unlock()

	if stop != nil {
		stop()
	}
	if port != nil {
		port.Close()
		in.logger.Info("midi input closed", "port", name)
	}
}

// Shutdown closes the port and releases the driver. The Input cannot be
// used afterward.
func (in *Input) Shutdown() {
	in.Close()
	in.drv.Close()
}

// Connected reports whether a port is open.
func (in *Input) Connected() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.port != nil
}

// GetStatus returns a snapshot of the MIDI connection and note activity.
func (in *Input) GetStatus() Status {
	in.mu.Lock()
	defer in.mu.Unlock()

	var since float64
	if !in.lastNoteTime.IsZero() {
		since = time.Since(in.lastNoteTime).Seconds()
	}
	return Status{
		Connected:            in.port != nil,
		PortName:             in.portName,
		LastNote:             in.lastNote,
		LastNoteName:         NoteName(in.lastNote),
		LastVelocity:         in.lastVelocity,
		NotesCount:           in.notesCount,
		SecondsSinceLastNote: since,
	}
}

// onMessage converts one MIDI message into motion commands. Note-ons with
// velocity zero arrive as note-ends and are ignored.
func (in *Input) onMessage(msg midi.Message) {
	var ch, key, vel uint8
	if msg.GetNoteStart(&ch, &key, &vel) {
		in.sink.Trigger(float64(vel)/127.0, int(key))

		in.mu.Lock()
		in.lastNote = int(key)
		in.lastVelocity = int(vel)
		in.notesCount++
		in.lastNoteTime = time.Now()
		in.mu.Unlock()

		in.logger.Debug("note on", "note", NoteName(int(key)), "velocity", vel)
		return
	}

	var cc, val uint8
	if msg.GetControlChange(&ch, &cc, &val) {
		norm := float64(val) / 127.0
		switch cc {
		case ccModWheel:
			in.sink.SetAmplitude(norm * 2.0)
		case ccVolume:
			in.sink.SetMaxSway(5.0 + norm*35.0)
		case ccExpression:
			in.sink.SetDecayRate(1.0 + norm*9.0)
		}
	}
}
