package motion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dt = 0.01

func TestSpringEngine_AtRestProducesNoMotion(t *testing.T) {
	e := NewSpringEngine()
	for i := 0; i < 100; i++ {
		body, headYaw, headPitch := e.Update(dt)
		assert.Zero(t, body)
		assert.Zero(t, headYaw)
		assert.Zero(t, headPitch)
	}
}

func TestSpringEngine_TriggerRisesThenDecays(t *testing.T) {
	e := NewSpringEngine()
	e.Trigger(1.0, 60)

	var peak float64
	var last float64
	for i := 0; i < 500; i++ { // 5 seconds
		body, _, _ := e.Update(dt)
		if body > peak {
			peak = body
		}
		last = body
	}

	assert.Greater(t, peak, 5.0, "a full-velocity hit should sway visibly")
	assert.LessOrEqual(t, peak, MaxBodySwayDeg+1e-9)
	assert.InDelta(t, 0.0, last, 0.05, "motion decays back to rest")
}

func TestSpringEngine_SwayDirectionAlternates(t *testing.T) {
	e := NewSpringEngine()

	sway := func() float64 {
		e.Trigger(1.0, 60)
		var peak float64
		for i := 0; i < 30; i++ {
			body, _, _ := e.Update(dt)
			if abs(body) > abs(peak) {
				peak = body
			}
		}
		// Let it settle before the next hit.
		for i := 0; i < 300; i++ {
			e.Update(dt)
		}
		return peak
	}

	first := sway()
	second := sway()
	third := sway()

	assert.Positive(t, first)
	assert.Negative(t, second)
	assert.Positive(t, third)
}

func TestSpringEngine_HeadYawFollowsBody(t *testing.T) {
	e := NewSpringEngine()
	e.Trigger(1.0, 60)

	for i := 0; i < 50; i++ {
		body, headYaw, _ := e.Update(dt)
		assert.InDelta(t, body*HeadYawRatio, headYaw, 1e-9)
	}
}

func TestSpringEngine_PitchScaling(t *testing.T) {
	peakBody := func(note int) float64 {
		e := NewSpringEngine()
		e.Trigger(1.0, note)
		var peak float64
		for i := 0; i < 200; i++ {
			body, _, _ := e.Update(dt)
			if body > peak {
				peak = body
			}
		}
		return peak
	}
	peakNod := func(note int) float64 {
		e := NewSpringEngine()
		e.Trigger(1.0, note)
		var peak float64
		for i := 0; i < 200; i++ {
			_, _, nod := e.Update(dt)
			if nod > peak {
				peak = nod
			}
		}
		return peak
	}

	// Low notes drive the body harder, high notes drive the head harder.
	assert.Greater(t, peakBody(40), peakBody(60))
	assert.Greater(t, peakBody(60), peakBody(80))
	assert.Greater(t, peakNod(80), peakNod(60))
	assert.Greater(t, peakNod(60), peakNod(40))
}

func TestSpringEngine_NodReturnsToNeutral(t *testing.T) {
	e := NewSpringEngine()
	e.Trigger(1.0, 60)

	var peak, last float64
	for i := 0; i < 500; i++ {
		_, _, nod := e.Update(dt)
		if nod > peak {
			peak = nod
		}
		last = nod
	}

	require.Greater(t, peak, 3.0, "the head should visibly nod")
	assert.InDelta(t, 0.0, last, 0.05, "the head relaxes back to neutral")
}

func TestSpringEngine_RepeatedTriggersStayBounded(t *testing.T) {
	e := NewSpringEngine()

	// Hammer triggers every 50ms for 10 seconds.
	for i := 0; i < 1000; i++ {
		if i%5 == 0 {
			e.Trigger(1.0, 60)
		}
		body, _, nod := e.Update(dt)
		require.LessOrEqual(t, abs(body), MaxBodySwayDeg+1e-9)
		require.LessOrEqual(t, nod, MaxNodDeg+1e-9)
	}
}

func TestSpringEngine_VelocityScalesMotion(t *testing.T) {
	peak := func(vel float64) float64 {
		e := NewSpringEngine()
		e.Trigger(vel, 60)
		var p float64
		for i := 0; i < 200; i++ {
			body, _, _ := e.Update(dt)
			if body > p {
				p = body
			}
		}
		return p
	}

	assert.Greater(t, peak(1.0), peak(0.5))
	assert.Greater(t, peak(0.5), peak(0.1))
	assert.Zero(t, peak(0))
}

func TestSpringEngine_Setters(t *testing.T) {
	e := NewSpringEngine()

	assert.Equal(t, MinAmplitudeMult, e.SetAmplitude(-1))
	assert.Equal(t, MaxAmplitudeMult, e.SetAmplitude(9))
	assert.Equal(t, 1.5, e.SetAmplitude(1.5))
	assert.Equal(t, 1.5, e.Amplitude())

	assert.Equal(t, MinSwayDeg, e.SetMaxSway(0))
	assert.Equal(t, MaxSwayDeg, e.SetMaxSway(100))
	assert.Equal(t, 25.0, e.SetMaxSway(25))

	assert.Equal(t, MinDecayRate, e.SetDecayRate(0))
	assert.Equal(t, MaxDecayRate, e.SetDecayRate(50))
	assert.Equal(t, 7.0, e.SetDecayRate(7))
}

func TestSpringEngine_AmplitudeZeroSilencesMotion(t *testing.T) {
	e := NewSpringEngine()
	e.SetAmplitude(0)
	e.Trigger(1.0, 60)

	for i := 0; i < 100; i++ {
		body, _, nod := e.Update(dt)
		assert.Zero(t, body)
		assert.Zero(t, nod)
	}
}

func TestSpringEngine_Reset(t *testing.T) {
	e := NewSpringEngine()
	e.Trigger(1.0, 60)
	e.Update(dt)

	e.Reset()

	body, headYaw, nod := e.Update(dt)
	assert.Zero(t, body)
	assert.Zero(t, headYaw)
	assert.Zero(t, nod)

	st := e.State()
	assert.Zero(t, st.BodyYaw)
	assert.Zero(t, st.HeadPitch)
}
