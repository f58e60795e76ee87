package metronome

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_BeatsFireOnSchedule(t *testing.T) {
	s := NewScheduler(120, 4)
	t0 := time.Unix(1000, 0)
	s.Start(t0)

	// 120 bpm, 4/4: beats at 0.0, 0.5, 1.0, 1.5... cycling 1,2,3,4,1...
	wantTimes := []float64{0.0, 0.5, 1.0, 1.5, 2.0, 2.5, 3.0, 3.5}
	wantBeats := []int{1, 2, 3, 4, 1, 2, 3, 4}

	var gotTimes []float64
	var gotBeats []int
	tick := 10 * time.Millisecond
	for now := t0; now.Before(t0.Add(4 * time.Second)); now = now.Add(tick) {
		if ev, ok := s.Tick(now); ok {
			gotTimes = append(gotTimes, now.Sub(t0).Seconds())
			gotBeats = append(gotBeats, ev.Beat)
			assert.Equal(t, ev.Beat == 1, ev.Downbeat)
		}
	}

	require.Len(t, gotBeats, len(wantBeats))
	assert.Equal(t, wantBeats, gotBeats)
	for i, want := range wantTimes {
		// Fire time can lag the scheduled time by at most one tick.
		assert.InDelta(t, want, gotTimes[i], tick.Seconds()+1e-9,
			"beat %d fired off schedule", i)
	}
}

func TestScheduler_NoDriftUnderJitter(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for _, bpm := range []int{40, 97, 120, 208} {
		s := NewScheduler(bpm, 4)
		t0 := time.Unix(0, 0)
		s.Start(t0)

		interval := 60.0 / float64(bpm)
		const beats = 200

		now := t0
		fired := 0
		for fired < beats {
			// Jittered loop: 10ms nominal tick with up to 8ms of lag.
			step := 10*time.Millisecond + time.Duration(rng.Intn(8))*time.Millisecond
			now = now.Add(step)
			if _, ok := s.Tick(now); ok {
				want := float64(fired) * interval
				got := now.Sub(t0).Seconds()
				// Anti-drift property: the k-th beat fires within one tick of
				// start + k*60/bpm, no matter how much the loop jittered.
				if math.Abs(got-want) > 0.020 {
					t.Fatalf("bpm=%d beat=%d fired at %.4fs want %.4fs", bpm, fired, got, want)
				}
				fired++
			}
		}
	}
}

func TestScheduler_AtMostOneBeatPerTick(t *testing.T) {
	s := NewScheduler(120, 4)
	t0 := time.Unix(0, 0)
	s.Start(t0)

	// Jump far ahead: only one beat may fire per tick even after a stall.
	_, ok := s.Tick(t0.Add(5 * time.Second))
	require.True(t, ok)
	ev, ok := s.Tick(t0.Add(5 * time.Second))
	require.True(t, ok)
	assert.Equal(t, 2, ev.Beat)
}

func TestScheduler_SetBPMClamps(t *testing.T) {
	s := NewScheduler(120, 4)
	assert.Equal(t, MinBPM, s.SetBPM(1))
	assert.Equal(t, MaxBPM, s.SetBPM(999))
	assert.Equal(t, 100, s.SetBPM(100))
}

func TestScheduler_SetBPMTakesEffectNextBeat(t *testing.T) {
	s := NewScheduler(60, 4)
	t0 := time.Unix(0, 0)
	s.Start(t0)

	_, ok := s.Tick(t0) // beat 1 at 0.0s, next scheduled at 1.0s
	require.True(t, ok)

	s.SetBPM(120)

	// The already-scheduled beat time is untouched: nothing before 1.0s.
	_, ok = s.Tick(t0.Add(600 * time.Millisecond))
	assert.False(t, ok)

	_, ok = s.Tick(t0.Add(1 * time.Second))
	require.True(t, ok)

	// From here the new 0.5s interval applies.
	_, ok = s.Tick(t0.Add(1500 * time.Millisecond))
	assert.True(t, ok)
}

func TestScheduler_SetBeatsPerBarResetsBeat(t *testing.T) {
	s := NewScheduler(120, 4)
	t0 := time.Unix(0, 0)
	s.Start(t0)

	s.Tick(t0)
	s.Tick(t0.Add(500 * time.Millisecond)) // beat 2 sounded

	assert.Equal(t, 3, s.SetBeatsPerBar(3))
	ev, ok := s.Tick(t0.Add(1 * time.Second))
	require.True(t, ok)
	assert.Equal(t, 1, ev.Beat, "beat position restarts after signature change")

	assert.Equal(t, MinBeatsPerBar, s.SetBeatsPerBar(0))
	assert.Equal(t, MaxBeatsPerBar, s.SetBeatsPerBar(99))
}

func TestScheduler_AntennaPhase(t *testing.T) {
	s := NewScheduler(120, 4)
	t0 := time.Unix(0, 0)

	assert.Zero(t, s.AntennaPhase(t0), "phase is 0 while stopped")

	s.Start(t0)
	// At 120 bpm the sweep period is two beats = 1s.
	assert.InDelta(t, 0.0, s.AntennaPhase(t0), 1e-9)
	assert.InDelta(t, 0.25, s.AntennaPhase(t0.Add(250*time.Millisecond)), 1e-9)
	assert.InDelta(t, 0.5, s.AntennaPhase(t0.Add(500*time.Millisecond)), 1e-9)
	assert.InDelta(t, 0.25, s.AntennaPhase(t0.Add(1250*time.Millisecond)), 1e-9)
}

func TestScheduler_StopResetsPosition(t *testing.T) {
	s := NewScheduler(120, 4)
	t0 := time.Unix(0, 0)
	s.Start(t0)
	s.Tick(t0)
	s.Tick(t0.Add(500 * time.Millisecond))

	s.Stop()
	assert.False(t, s.Running())
	st := s.GetStatus()
	assert.Equal(t, 1, st.CurrentBeat)

	_, ok := s.Tick(t0.Add(1 * time.Second))
	assert.False(t, ok, "no beats while stopped")
}

func TestGenerateClick(t *testing.T) {
	click := GenerateClick(800, 30, 0.5, 48000)
	require.Len(t, click, 48000*30/1000)

	// Envelope starts and ends near silence.
	assert.Zero(t, click[0])
	last := click[len(click)-1]
	assert.Less(t, math.Abs(float64(last)), 200.0)

	// Peak stays within the requested amplitude.
	var peak int16
	for _, v := range click {
		if v > peak {
			peak = v
		}
	}
	assert.LessOrEqual(t, peak, int16(0.5*32767)+1)
	assert.Greater(t, peak, int16(0.3*32767), "click should actually be audible")
}

func TestClickSet_For(t *testing.T) {
	cs := NewClickSet(48000)
	assert.Equal(t, cs.Accent, cs.For(true))
	assert.Equal(t, cs.Normal, cs.For(false))
	assert.Greater(t, len(cs.Accent), len(cs.Normal), "accent click is longer")
}
