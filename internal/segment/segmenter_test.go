package segment_test

import (
	"testing"
	"time"

	"github.com/tapscribe/tapscribe/internal/segment"
	"github.com/tapscribe/tapscribe/pkg/audio"
	"github.com/tapscribe/tapscribe/pkg/audio/synth"
)

const testRate = 16000

// chop renders the script into samples and slices them into 20ms frames, the
// shape the capture layer delivers.
func chop(steps ...synth.Step) []audio.Frame {
	var samples []float32
	for _, st := range steps {
		samples = append(samples, st.Samples(testRate)...)
	}
	const frameSamples = testRate / 50
	var frames []audio.Frame
	for off := 0; off+frameSamples <= len(samples); off += frameSamples {
		frames = append(frames, audio.Frame{
			Samples:    samples[off : off+frameSamples],
			SampleRate: testRate,
			Timestamp:  time.Duration(off) * time.Second / testRate,
		})
	}
	return frames
}

// feed pushes every frame through the segmenter and collects emissions.
func feed(s *segment.Segmenter, frames []audio.Frame) []*audio.Segment {
	var out []*audio.Segment
	for _, f := range frames {
		if seg := s.Process(f); seg != nil {
			out = append(out, seg)
		}
	}
	return out
}

func TestProcess_SyntheticStream_EmitsTwoSegments(t *testing.T) {
	s := segment.New(
		segment.WithSilenceToCut(2*time.Second),
		segment.WithMinSegmentDuration(500*time.Millisecond),
	)

	frames := chop(
		synth.Pause(200*time.Millisecond),
		synth.Speech(1*time.Second),
		synth.Pause(2500*time.Millisecond),
		synth.Speech(1*time.Second),
		synth.Pause(200*time.Millisecond),
	)

	emitted := feed(s, frames)
	if len(emitted) != 1 {
		t.Fatalf("got %d segments before flush, want 1", len(emitted))
	}
	first := emitted[0]
	if first.Sequence != 1 {
		t.Errorf("first segment sequence = %d, want 1", first.Sequence)
	}
	if first.Duration != time.Second {
		t.Errorf("first segment duration = %v, want 1s (trailing silence trimmed)", first.Duration)
	}

	last := s.Flush()
	if last == nil {
		t.Fatal("flush returned nil, want the second tone as a final segment")
	}
	if last.Sequence != 2 {
		t.Errorf("final segment sequence = %d, want 2", last.Sequence)
	}
	if last.Duration != time.Second {
		t.Errorf("final segment duration = %v, want 1s", last.Duration)
	}
}

func TestProcess_AllSilence_EmitsNothing(t *testing.T) {
	s := segment.New()

	emitted := feed(s, chop(synth.Pause(3*time.Second)))
	if len(emitted) != 0 {
		t.Fatalf("got %d segments from silence, want 0", len(emitted))
	}
	if seg := s.Flush(); seg != nil {
		t.Fatalf("flush of an idle segmenter returned %+v, want nil", seg)
	}
	if n := s.Emitted(); n != 0 {
		t.Errorf("Emitted() = %d, want 0", n)
	}
}

func TestProcess_ShortBlip_DiscardedWithoutSequenceNumber(t *testing.T) {
	s := segment.New(
		segment.WithSilenceToCut(2*time.Second),
		segment.WithMinSegmentDuration(500*time.Millisecond),
	)

	frames := chop(
		synth.Speech(300*time.Millisecond),
		synth.Pause(2500*time.Millisecond),
		synth.Speech(1*time.Second),
		synth.Pause(2500*time.Millisecond),
	)

	emitted := feed(s, frames)
	if len(emitted) != 1 {
		t.Fatalf("got %d segments, want 1 (the blip must be discarded)", len(emitted))
	}
	if emitted[0].Sequence != 1 {
		t.Errorf("sequence = %d, want 1 (discarded blips consume no number)", emitted[0].Sequence)
	}
	if emitted[0].Duration != time.Second {
		t.Errorf("duration = %v, want 1s", emitted[0].Duration)
	}
}

func TestProcess_MicroPauseInsideSpeech_Kept(t *testing.T) {
	s := segment.New(segment.WithSilenceToCut(2 * time.Second))

	frames := chop(
		synth.Speech(400*time.Millisecond),
		synth.Pause(300*time.Millisecond),
		synth.Speech(400*time.Millisecond),
		synth.Pause(2500*time.Millisecond),
	)

	emitted := feed(s, frames)
	if len(emitted) != 1 {
		t.Fatalf("got %d segments, want 1", len(emitted))
	}
	want := 1100 * time.Millisecond
	if emitted[0].Duration != want {
		t.Errorf("duration = %v, want %v (micro-pause must stay inside the segment)", emitted[0].Duration, want)
	}
}

func TestFlush_MidSpeech_EmitsPartial(t *testing.T) {
	s := segment.New()

	if emitted := feed(s, chop(synth.Speech(800*time.Millisecond))); len(emitted) != 0 {
		t.Fatalf("got %d segments before flush, want 0", len(emitted))
	}

	seg := s.Flush()
	if seg == nil {
		t.Fatal("flush returned nil, want the partial segment")
	}
	if seg.Duration != 800*time.Millisecond {
		t.Errorf("duration = %v, want 800ms", seg.Duration)
	}
	if seg.Sequence != 1 {
		t.Errorf("sequence = %d, want 1", seg.Sequence)
	}
}

func TestFlush_BelowMinimumDuration_Discarded(t *testing.T) {
	s := segment.New(segment.WithMinSegmentDuration(500 * time.Millisecond))

	feed(s, chop(synth.Speech(300*time.Millisecond)))
	if seg := s.Flush(); seg != nil {
		t.Fatalf("flush returned %+v, want nil for a sub-minimum partial", seg)
	}
	if n := s.Emitted(); n != 0 {
		t.Errorf("Emitted() = %d, want 0", n)
	}
}

func TestFlush_TrimsTrailingSilence(t *testing.T) {
	s := segment.New(segment.WithSilenceToCut(2 * time.Second))

	feed(s, chop(
		synth.Speech(1*time.Second),
		synth.Pause(500*time.Millisecond),
	))

	seg := s.Flush()
	if seg == nil {
		t.Fatal("flush returned nil")
	}
	if seg.Duration != time.Second {
		t.Errorf("duration = %v, want 1s (trailing sub-threshold audio trimmed)", seg.Duration)
	}
}

func TestProcess_MaxDuration_ForcesCut(t *testing.T) {
	s := segment.New(
		segment.WithMaxSegmentDuration(1*time.Second),
		segment.WithMinSegmentDuration(500*time.Millisecond),
	)

	emitted := feed(s, chop(synth.Speech(2500*time.Millisecond)))
	if len(emitted) != 2 {
		t.Fatalf("got %d segments, want 2 forced cuts from continuous speech", len(emitted))
	}
	for i, seg := range emitted {
		if seg.Sequence != i+1 {
			t.Errorf("segment %d sequence = %d, want %d", i, seg.Sequence, i+1)
		}
		if seg.Duration != time.Second {
			t.Errorf("segment %d duration = %v, want 1s", i, seg.Duration)
		}
	}

	last := s.Flush()
	if last == nil {
		t.Fatal("flush returned nil, want the 500ms remainder")
	}
	if last.Duration != 500*time.Millisecond {
		t.Errorf("remainder duration = %v, want 500ms", last.Duration)
	}
	if last.Sequence != 3 {
		t.Errorf("remainder sequence = %d, want 3", last.Sequence)
	}
}
