package audio

import "time"

// Frame is a single block of captured audio flowing through the pipeline.
// Frames are the atomic unit of transport: produced by a capture [Source],
// buffered by a [Queue], and consumed by the segmenter. A Frame is never
// mutated after creation.
type Frame struct {
	// Samples holds mono float32 samples in the range [-1, 1].
	Samples []float32

	// SampleRate in Hz (16000 for speech recognition input).
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	// Timestamps are strictly increasing within one capture stream.
	Timestamp time.Duration
}

// Duration returns the playback duration of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// Segment is a bounded span of contiguous speech cut from the capture stream
// at a detected pause boundary (or at an explicit flush on session stop).
// Segments within one session carry strictly increasing Sequence values and
// never overlap in source time.
type Segment struct {
	// Sequence is the per-session segment counter, starting at 1.
	Sequence int

	// Samples is the concatenated mono audio of the segment.
	Samples []float32

	// SampleRate in Hz of Samples.
	SampleRate int

	// Duration is the playback duration of Samples.
	Duration time.Duration

	// CreatedAt is the wall-clock time the segment was closed.
	CreatedAt time.Time
}
