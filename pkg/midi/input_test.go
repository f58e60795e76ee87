package midi

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"gitlab.com/gomidi/midi/v2"
)

type sinkCall struct {
	method string
	value  float64
	note   int
}

type mockSink struct {
	calls []sinkCall
}

func (m *mockSink) Trigger(velocity float64, note int) {
	m.calls = append(m.calls, sinkCall{method: "trigger", value: velocity, note: note})
}

func (m *mockSink) SetAmplitude(v float64) float64 {
	m.calls = append(m.calls, sinkCall{method: "amplitude", value: v})
	return v
}

func (m *mockSink) SetMaxSway(deg float64) float64 {
	m.calls = append(m.calls, sinkCall{method: "sway", value: deg})
	return deg
}

func (m *mockSink) SetDecayRate(rate float64) float64 {
	m.calls = append(m.calls, sinkCall{method: "decay", value: rate})
	return rate
}

// newTestInput builds an Input without touching the system MIDI driver.
func newTestInput(sink MotionSink) *Input {
	return &Input{sink: sink, logger: slog.Default()}
}

func TestNoteName(t *testing.T) {
	assert.Equal(t, "C4", NoteName(60))
	assert.Equal(t, "A4", NoteName(69))
	assert.Equal(t, "C-1", NoteName(0))
	assert.Equal(t, "G9", NoteName(127))
	assert.Equal(t, "?-5", NoteName(-5))
	assert.Equal(t, "?200", NoteName(200))
}

func TestInput_NoteOnTriggersMotion(t *testing.T) {
	sink := &mockSink{}
	in := newTestInput(sink)

	in.onMessage(midi.NoteOn(0, 60, 127))

	if assert.Len(t, sink.calls, 1) {
		assert.Equal(t, "trigger", sink.calls[0].method)
		assert.InDelta(t, 1.0, sink.calls[0].value, 1e-9)
		assert.Equal(t, 60, sink.calls[0].note)
	}

	st := in.GetStatus()
	assert.Equal(t, 60, st.LastNote)
	assert.Equal(t, "C4", st.LastNoteName)
	assert.Equal(t, 127, st.LastVelocity)
	assert.Equal(t, 1, st.NotesCount)
}

func TestInput_VelocityZeroIgnored(t *testing.T) {
	sink := &mockSink{}
	in := newTestInput(sink)

	// A note-on with velocity zero is a note-end and must not trigger.
	in.onMessage(midi.NoteOn(0, 60, 0))
	in.onMessage(midi.NoteOff(0, 60))

	assert.Empty(t, sink.calls)
	assert.Zero(t, in.GetStatus().NotesCount)
}

func TestInput_VelocityNormalization(t *testing.T) {
	sink := &mockSink{}
	in := newTestInput(sink)

	in.onMessage(midi.NoteOn(0, 60, 64))

	assert.InDelta(t, 64.0/127.0, sink.calls[0].value, 1e-9)
}

func TestInput_ControlChangeMappings(t *testing.T) {
	sink := &mockSink{}
	in := newTestInput(sink)

	// Mod wheel full: amplitude 2.0.
	in.onMessage(midi.ControlChange(0, ccModWheel, 127))
	// Volume zero: sway floor 5 deg.
	in.onMessage(midi.ControlChange(0, ccVolume, 0))
	// Expression full: decay ceiling 10.
	in.onMessage(midi.ControlChange(0, ccExpression, 127))
	// Unmapped controller: ignored.
	in.onMessage(midi.ControlChange(0, 64, 127))

	if assert.Len(t, sink.calls, 3) {
		assert.Equal(t, "amplitude", sink.calls[0].method)
		assert.InDelta(t, 2.0, sink.calls[0].value, 1e-9)

		assert.Equal(t, "sway", sink.calls[1].method)
		assert.InDelta(t, 5.0, sink.calls[1].value, 1e-9)

		assert.Equal(t, "decay", sink.calls[2].method)
		assert.InDelta(t, 10.0, sink.calls[2].value, 1e-9)
	}
}

func TestInput_ControlChangeMidpoints(t *testing.T) {
	sink := &mockSink{}
	in := newTestInput(sink)

	in.onMessage(midi.ControlChange(0, ccVolume, 127))
	assert.InDelta(t, 40.0, sink.calls[0].value, 1e-9, "volume full maps to 40 deg sway")

	in.onMessage(midi.ControlChange(0, ccExpression, 0))
	assert.InDelta(t, 1.0, sink.calls[1].value, 1e-9, "expression zero maps to decay 1")
}

func TestInput_StatusWhenDisconnected(t *testing.T) {
	in := newTestInput(&mockSink{})
	st := in.GetStatus()
	assert.False(t, st.Connected)
	assert.Empty(t, st.PortName)
	assert.Zero(t, st.SecondsSinceLastNote, "no note yet reports zero")
}
