package device

import (
	"math"
	"time"
)

// ToneSampleRate is the rate tones are synthesised at.
const ToneSampleRate = 44100

// fadeDuration softens the tone edges so onset clicks are not heard as
// a separate stimulus.
const fadeDuration = 10 * time.Millisecond

// ToneSamples generates a unit-amplitude sine wave. Volume is applied by
// the output so the same samples serve every step of a hearing search.
func ToneSamples(freqHz float64, d time.Duration, sampleRate int) []float32 {
	n := int(d.Seconds() * float64(sampleRate))
	if n <= 0 {
		return nil
	}
	fade := int(fadeDuration.Seconds() * float64(sampleRate))
	if fade*2 > n {
		fade = n / 2
	}
	samples := make([]float32, n)
	for i := range samples {
		t := float64(i) / float64(sampleRate)
		v := math.Sin(2 * math.Pi * freqHz * t)
		switch {
		case i < fade:
			v *= float64(i) / float64(fade)
		case i >= n-fade:
			v *= float64(n-1-i) / float64(fade)
		}
		samples[i] = float32(v)
	}
	return samples
}
