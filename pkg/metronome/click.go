package metronome

import "math"

// Click sound parameters. The accent click (downbeat) is higher-pitched,
// longer, and louder than the normal click.
const (
	NormalFrequency = 800.0
	NormalDuration  = 30 // ms
	NormalAmplitude = 0.5

	AccentFrequency = 1200.0
	AccentDuration  = 40 // ms
	AccentAmplitude = 0.8

	attackFraction = 0.1 // 10% attack, 90% decay
)

// GenerateClick synthesizes a short sine click as PCM16 samples with a
// linear attack/decay envelope for a clean transient.
func GenerateClick(frequency float64, durationMS int, amplitude float64, sampleRate int) []int16 {
	n := sampleRate * durationMS / 1000
	if n <= 0 {
		return nil
	}
	attack := int(float64(n) * attackFraction)

	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(sampleRate)
		v := amplitude * math.Sin(2*math.Pi*frequency*t)

		var env float64
		switch {
		case attack > 0 && i < attack:
			env = float64(i) / float64(attack)
		case n-attack > 0:
			env = 1.0 - float64(i-attack)/float64(n-attack)
		default:
			env = 1.0
		}

		samples[i] = int16(v * env * 32767.0)
	}
	return samples
}

// ClickSet holds the pre-generated click sounds for one sample rate.
// Clicks are synthesized once at startup for low-latency playback.
type ClickSet struct {
	SampleRate int
	Normal     []int16
	Accent     []int16
}

// NewClickSet pre-generates the normal and accent clicks.
func NewClickSet(sampleRate int) *ClickSet {
	return &ClickSet{
		SampleRate: sampleRate,
		Normal:     GenerateClick(NormalFrequency, NormalDuration, NormalAmplitude, sampleRate),
		Accent:     GenerateClick(AccentFrequency, AccentDuration, AccentAmplitude, sampleRate),
	}
}

// For returns the click for the given beat.
func (c *ClickSet) For(downbeat bool) []int16 {
	if downbeat {
		return c.Accent
	}
	return c.Normal
}
