package motion

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/reachy-metronome/pkg/metronome"
	"github.com/teslashibe/reachy-metronome/pkg/robot"
	"github.com/teslashibe/reachy-metronome/pkg/tracking"
)

// Control loop cadences. The motion tick must be short and stable; the
// tracking tick runs slower because detection costs tens of milliseconds.
const (
	DefaultRate      = 10 * time.Millisecond
	DefaultTrackRate = 50 * time.Millisecond
)

// Dead-zone thresholds (radians). Skip sending a pose that hasn't changed
// enough; this cuts daemon traffic sharply when idle.
const (
	deadZoneHeadRad    = 0.005 // ~0.3 degrees
	deadZoneAntennaRad = 0.009 // ~0.5 degrees
	deadZoneBodyRad    = 0.009 // ~0.5 degrees
)

// FrameSource supplies camera frames. TryFrame must not block on lock
// contention: callers tolerate a missed frame by skipping the tick.
type FrameSource interface {
	TryFrame() (jpeg []byte, ok bool)
}

// Detector finds hand keypoints in a JPEG frame. Possibly slow (tens of
// milliseconds); the loop never calls it on the motion tick path.
type Detector interface {
	Detect(jpeg []byte) (kps []tracking.Keypoint, width, height int, err error)
}

// Clicker plays the metronome click. Must not block.
type Clicker interface {
	Play(downbeat bool)
}

// Loop is the fixed-interval driver that ticks the beat scheduler, the
// spring engine, and hand tracking, and pushes one arbitrated pose per
// tick to the robot.
type Loop struct {
	scheduler *metronome.Scheduler
	spring    *SpringEngine
	smoother  *tracking.Smoother
	arbiter   *Arbiter
	sink      robot.PoseController

	frames   FrameSource
	detector Detector
	clicker  Clicker

	// OnBeat is invoked from the control goroutine on every fired beat.
	// Handlers must be fast or hand off to their own goroutine.
	OnBeat func(metronome.BeatEvent)

	rate      time.Duration
	trackRate time.Duration
	stop      chan struct{}
	stopOnce  sync.Once

	mu              sync.RWMutex
	trackingEnabled bool
	midiEnabled     bool

	lastTrack  time.Time
	detectBusy atomic.Bool

	// Dead-zone state
	lastSentHead     robot.Offset
	lastSentAntennas [2]float64
	lastSentBodyYaw  float64

	// Diagnostics
	tickCount    uint64
	skippedTicks uint64
	errorCount   uint64
	lastErrorLog time.Time

	logger *slog.Logger
}

// NewLoop wires the control loop. frames, detector, and clicker may be nil
// when the corresponding feature is unavailable.
func NewLoop(sched *metronome.Scheduler, spring *SpringEngine, smoother *tracking.Smoother,
	sink robot.PoseController, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		scheduler: sched,
		spring:    spring,
		smoother:  smoother,
		arbiter:   NewArbiter(),
		sink:      sink,
		rate:      DefaultRate,
		trackRate: DefaultTrackRate,
		stop:      make(chan struct{}),
		logger:    logger,
	}
}

// SetFrameSource sets the camera frame source used for tracking.
func (l *Loop) SetFrameSource(f FrameSource) { l.frames = f }

// SetDetector sets the hand keypoint detector.
func (l *Loop) SetDetector(d Detector) { l.detector = d }

// SetClicker sets the click player.
func (l *Loop) SetClicker(c Clicker) { l.clicker = c }

// SetTracking enables or disables hand tracking. Enabling resets the
// smoother so no stale pose carries over; disabling returns the head to
// neutral on the next tick.
func (l *Loop) SetTracking(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if enabled && !l.trackingEnabled {
		l.smoother.Reset()
	}
	l.trackingEnabled = enabled
}

// TrackingEnabled reports whether hand tracking drives the head.
func (l *Loop) TrackingEnabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.trackingEnabled
}

// SetMIDI enables or disables MIDI-driven motion. Disabling resets the
// spring engine and returns body and head to neutral on the next tick.
func (l *Loop) SetMIDI(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !enabled && l.midiEnabled {
		l.spring.Reset()
	}
	l.midiEnabled = enabled
}

// MIDIEnabled reports whether MIDI motion is active.
func (l *Loop) MIDIEnabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.midiEnabled
}

// Run starts the control loop. Blocks until Stop is called.
func (l *Loop) Run() {
	ticker := time.NewTicker(l.rate)
	defer ticker.Stop()

	l.logger.Info("control loop started",
		"rate_ms", l.rate.Milliseconds(),
		"track_rate_ms", l.trackRate.Milliseconds(),
	)

	for {
		select {
		case <-l.stop:
			l.logger.Info("control loop stopped",
				"ticks", l.tickCount, "skipped", l.skippedTicks, "errors", l.errorCount)
			return
		case <-ticker.C:
			l.tick(time.Now())
		}
	}
}

// Stop halts the control loop. Safe to call more than once.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// tick executes one control cycle.
func (l *Loop) tick(now time.Time) {
	l.tickCount++

	if ev, fired := l.scheduler.Tick(now); fired {
		if l.clicker != nil {
			l.clicker.Play(ev.Downbeat)
		}
		if l.OnBeat != nil {
			l.OnBeat(ev)
		}
	}

	midiOn := l.MIDIEnabled()
	trackOn := l.TrackingEnabled()

	var bodyYaw, headYaw, headPitch float64
	if midiOn {
		// Fixed dt keeps the physics deterministic under loop jitter.
		bodyYaw, headYaw, headPitch = l.spring.Update(l.rate.Seconds())
	}

	if trackOn && l.frames != nil && l.detector != nil && now.Sub(l.lastTrack) >= l.trackRate {
		l.lastTrack = now
		l.dispatchTracking()
	}

	trackYaw, trackPitch := l.smoother.Head()

	targets := l.arbiter.Compose(Sources{
		MetronomeRunning: l.scheduler.Running(),
		AntennaPhase:     l.scheduler.AntennaPhase(now),
		TrackingEnabled:  trackOn,
		TrackYaw:         trackYaw,
		TrackPitch:       trackPitch,
		MIDIEnabled:      midiOn,
		BodyYaw:          bodyYaw,
		HeadYaw:          headYaw,
		HeadPitch:        headPitch,
	})

	l.send(targets)
}

// dispatchTracking runs one detect cycle off the control goroutine.
// At most one detection is in flight; extra ticks are skipped rather than
// queued so a slow model can never stall motion.
func (l *Loop) dispatchTracking() {
	if !l.detectBusy.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer l.detectBusy.Store(false)

		frame, ok := l.frames.TryFrame()
		if !ok {
			return // transient: no frame or lock contention, skip this tick
		}
		kps, w, h, err := l.detector.Detect(frame)
		if err != nil {
			l.logger.Debug("detection failed", "error", err)
			return
		}
		l.smoother.Process(kps, w, h)
	}()
}

// send converts the fused targets to radians, applies the dead-zone
// filter, and issues a single batched pose command.
func (l *Loop) send(t Targets) {
	if t.Antennas == nil && t.Head == nil && t.BodyYaw == nil {
		return // no channel has an owner this tick
	}

	var head *robot.Offset
	var antennas *[2]float64
	var bodyYaw *float64

	changed := false

	if t.Head != nil {
		h := robot.Offset{
			Pitch: robot.DegToRad(t.Head.Pitch),
			Yaw:   robot.DegToRad(t.Head.Yaw),
		}.Clamp()
		diff := max3(abs(h.Roll-l.lastSentHead.Roll),
			abs(h.Pitch-l.lastSentHead.Pitch),
			abs(h.Yaw-l.lastSentHead.Yaw))
		if diff >= deadZoneHeadRad {
			head = &h
			changed = true
		}
	}

	if t.Antennas != nil {
		a := [2]float64{
			robot.ClampAntenna(robot.DegToRad(t.Antennas[0])),
			robot.ClampAntenna(robot.DegToRad(t.Antennas[1])),
		}
		diff := max2(abs(a[0]-l.lastSentAntennas[0]), abs(a[1]-l.lastSentAntennas[1]))
		if diff >= deadZoneAntennaRad {
			antennas = &a
			changed = true
		}
	}

	if t.BodyYaw != nil {
		b := robot.ClampBodyYaw(robot.DegToRad(*t.BodyYaw))
		if abs(b-l.lastSentBodyYaw) >= deadZoneBodyRad {
			bodyYaw = &b
			changed = true
		}
	}

	if !changed {
		l.skippedTicks++
		return
	}

	if l.sink == nil {
		return
	}

	if err := l.sink.SetPose(head, antennas, bodyYaw); err != nil {
		l.errorCount++
		if l.lastErrorLog.IsZero() || time.Since(l.lastErrorLog) > 5*time.Second {
			l.logger.Warn("pose send failed", "error", err, "total_errors", l.errorCount)
			l.lastErrorLog = time.Now()
		}
		return
	}

	if head != nil {
		l.lastSentHead = *head
	}
	if antennas != nil {
		l.lastSentAntennas = *antennas
	}
	if bodyYaw != nil {
		l.lastSentBodyYaw = *bodyYaw
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func max2(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func max3(a, b, c float64) float64 {
	return max2(max2(a, b), c)
}
