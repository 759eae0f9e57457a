package device

import "math"

const (
	// levelWindow is the number of most recent samples analysed per poll.
	levelWindow = 256
	minDecibels = -100.0
	maxDecibels = -30.0
)

// Level maps the most recent samples onto a [0,1] meter value: the
// average of the windowed magnitude spectrum, with each bin scaled from
// [minDecibels, maxDecibels].
func Level(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	if len(samples) > levelWindow {
		samples = samples[len(samples)-levelWindow:]
	}
	n := levelWindow
	re := make([]float64, n)
	im := make([]float64, n)
	for i, s := range samples {
		re[i] = float64(s) * blackman(i, n)
	}
	fft(re, im)

	bins := n / 2
	var sum float64
	for k := 0; k < bins; k++ {
		mag := math.Hypot(re[k], im[k]) / float64(n)
		db := minDecibels
		if mag > 0 {
			db = 20 * math.Log10(mag)
		}
		v := (db - minDecibels) / (maxDecibels - minDecibels)
		sum += max(0, min(1, v))
	}
	return sum / float64(bins)
}

func blackman(i, n int) float64 {
	const a = 0.16
	x := 2 * math.Pi * float64(i) / float64(n-1)
	return (1-a)/2 - 0.5*math.Cos(x) + a/2*math.Cos(2*x)
}

// fft performs an in-place radix-2 Cooley-Tukey FFT.
// re and im must have the same power-of-2 length.
func fft(re, im []float64) {
	n := len(re)
	if n <= 1 {
		return
	}

	j := 0
	for i := 0; i < n-1; i++ {
		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
		k := n >> 1
		for k <= j {
			j -= k
			k >>= 1
		}
		j += k
	}

	for size := 2; size <= n; size <<= 1 {
		half := size >> 1
		angle := -2.0 * math.Pi / float64(size)
		wR, wI := math.Cos(angle), math.Sin(angle)
		for start := 0; start < n; start += size {
			tR, tI := 1.0, 0.0
			for k := 0; k < half; k++ {
				u := start + k
				v := u + half
				xR := tR*re[v] - tI*im[v]
				xI := tR*im[v] + tI*re[v]
				re[v] = re[u] - xR
				im[v] = im[u] - xI
				re[u] += xR
				im[u] += xI
				tR, tI = tR*wR-tI*wI, tR*wI+tI*wR
			}
		}
	}
}
