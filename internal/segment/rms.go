package segment

import "math"

// RMS returns the root-mean-square amplitude of the samples. For normalized
// float32 audio the result lies in [0, 1]: silence is 0, a full-scale square
// wave is 1, and a sine of amplitude a comes out near a/sqrt(2).
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
