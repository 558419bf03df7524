package segment_test

import (
	"math"
	"testing"
	"time"

	"github.com/tapscribe/tapscribe/internal/segment"
	"github.com/tapscribe/tapscribe/pkg/audio/synth"
)

func TestRMS_EmptyAndSilence(t *testing.T) {
	if got := segment.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	if got := segment.RMS(make([]float32, 480)); got != 0 {
		t.Errorf("RMS(silence) = %v, want 0", got)
	}
}

func TestRMS_FullScaleSquareWave(t *testing.T) {
	samples := make([]float32, 480)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 1
		} else {
			samples[i] = -1
		}
	}
	if got := segment.RMS(samples); got != 1 {
		t.Errorf("RMS(square) = %v, want 1", got)
	}
}

func TestRMS_SineAmplitude(t *testing.T) {
	samples := synth.Tone(440, 0.5, time.Second, 16000)
	want := 0.5 / math.Sqrt2
	if got := segment.RMS(samples); math.Abs(got-want) > 1e-3 {
		t.Errorf("RMS(0.5 sine) = %v, want ~%v", got, want)
	}
}
