package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tapscribe/tapscribe/internal/dispatch"
	"github.com/tapscribe/tapscribe/pkg/audio"
	"github.com/tapscribe/tapscribe/pkg/provider/stt"
	sttmock "github.com/tapscribe/tapscribe/pkg/provider/stt/mock"
)

// makeSeg builds a short dummy segment with the given sequence number.
func makeSeg(seq int) audio.Segment {
	return audio.Segment{
		Sequence:   seq,
		Samples:    make([]float32, 1600),
		SampleRate: 16000,
		Duration:   100 * time.Millisecond,
		CreatedAt:  time.Now(),
	}
}

// submitAll submits segments with sequences 1..n and fails the test on error.
func submitAll(t *testing.T, d *dispatch.Dispatcher, n int) {
	t.Helper()
	for seq := 1; seq <= n; seq++ {
		if err := d.Submit(makeSeg(seq)); err != nil {
			t.Fatalf("Submit(%d): %v", seq, err)
		}
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestDrainAndJoin_SerialWorker_JoinsInOrder(t *testing.T) {
	p := &sttmock.Provider{
		TranscribeFn: func(_ context.Context, seg audio.Segment) (string, error) {
			return fmt.Sprintf("part%d", seg.Sequence), nil
		},
	}
	d := dispatch.New(context.Background(), p)

	submitAll(t, d, 3)

	text, err := d.DrainAndJoin(context.Background())
	if err != nil {
		t.Fatalf("DrainAndJoin: %v", err)
	}
	if want := "part1 part2 part3"; text != want {
		t.Errorf("transcript = %q, want %q", text, want)
	}
	if got := p.CallCount(); got != 3 {
		t.Errorf("provider calls = %d, want 3", got)
	}
}

func TestDrainAndJoin_ReverseCompletionOrder_ForwardOutput(t *testing.T) {
	// Three workers run all three segments concurrently; the chained channels
	// force completion in the order 3, 2, 1.
	done := map[int]chan struct{}{
		1: make(chan struct{}),
		2: make(chan struct{}),
		3: make(chan struct{}),
	}
	p := &sttmock.Provider{
		TranscribeFn: func(_ context.Context, seg audio.Segment) (string, error) {
			switch seg.Sequence {
			case 2:
				<-done[3]
			case 1:
				<-done[2]
			}
			defer close(done[seg.Sequence])
			return fmt.Sprintf("part%d", seg.Sequence), nil
		},
	}
	d := dispatch.New(context.Background(), p, dispatch.WithWorkers(3))

	submitAll(t, d, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	text, err := d.DrainAndJoin(ctx)
	if err != nil {
		t.Fatalf("DrainAndJoin: %v", err)
	}
	if want := "part1 part2 part3"; text != want {
		t.Errorf("transcript = %q, want %q (order must follow sequence, not completion)", text, want)
	}
}

func TestDrainAndJoin_AllFailures_EmptyTranscript(t *testing.T) {
	p := &sttmock.Provider{Err: errors.New("recognizer exploded")}
	d := dispatch.New(context.Background(), p)

	submitAll(t, d, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	text, err := d.DrainAndJoin(ctx)
	if err != nil {
		t.Fatalf("DrainAndJoin must not fail when every segment fails locally: %v", err)
	}
	if text != "" {
		t.Errorf("transcript = %q, want empty string", text)
	}
}

func TestDrainAndJoin_FailedSegmentMarker(t *testing.T) {
	p := &sttmock.Provider{
		TranscribeFn: func(_ context.Context, seg audio.Segment) (string, error) {
			if seg.Sequence == 2 {
				return "", errors.New("garbled")
			}
			return fmt.Sprintf("part%d", seg.Sequence), nil
		},
	}
	d := dispatch.New(context.Background(), p,
		dispatch.WithFailedSegmentMarker("[inaudible]"))

	submitAll(t, d, 3)

	text, err := d.DrainAndJoin(context.Background())
	if err != nil {
		t.Fatalf("DrainAndJoin: %v", err)
	}
	if want := "part1 [inaudible] part3"; text != want {
		t.Errorf("transcript = %q, want %q", text, want)
	}
}

func TestRecognitionTimeout_ResolvesWithTimeoutError(t *testing.T) {
	p := &sttmock.Provider{
		TranscribeFn: func(ctx context.Context, _ audio.Segment) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	d := dispatch.New(context.Background(), p,
		dispatch.WithRecognitionTimeout(30*time.Millisecond))

	submitAll(t, d, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	text, err := d.DrainAndJoin(ctx)
	if err != nil {
		t.Fatalf("DrainAndJoin: %v", err)
	}
	if text != "" {
		t.Errorf("transcript = %q, want empty", text)
	}

	resolved := d.Resolved()
	if len(resolved) != 1 {
		t.Fatalf("resolved %d results, want 1", len(resolved))
	}
	if !errors.Is(resolved[0].Err, stt.ErrTimeout) {
		t.Errorf("result error = %v, want wrapping stt.ErrTimeout", resolved[0].Err)
	}
}

func TestDrainAndJoin_BudgetExhausted_ReportsUnresolved(t *testing.T) {
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	p := &sttmock.Provider{
		TranscribeFn: func(ctx context.Context, seg audio.Segment) (string, error) {
			if seg.Sequence == 1 {
				return "first", nil
			}
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	d := dispatch.New(baseCtx, p, dispatch.WithRecognitionTimeout(0))

	submitAll(t, d, 2)

	// Let segment 1 resolve before starting the clock on the drain budget.
	waitFor(t, 2*time.Second, func() bool {
		_, resolved := d.Counts()
		return resolved == 1
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	text, err := d.DrainAndJoin(ctx)
	if err == nil {
		t.Fatal("expected drain budget error, got nil")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want wrapping context.DeadlineExceeded", err)
	}
	if text != "first" {
		t.Errorf("partial transcript = %q, want %q", text, "first")
	}
}

func TestSubmit_AfterDrain_ReturnsErrClosed(t *testing.T) {
	d := dispatch.New(context.Background(), &sttmock.Provider{Result: "ok"})

	if _, err := d.DrainAndJoin(context.Background()); err != nil {
		t.Fatalf("DrainAndJoin: %v", err)
	}
	if err := d.Submit(makeSeg(1)); !errors.Is(err, dispatch.ErrClosed) {
		t.Errorf("Submit after drain = %v, want ErrClosed", err)
	}
}

func TestResolved_StallsAtFirstUnresolved(t *testing.T) {
	release := make(chan struct{})
	p := &sttmock.Provider{
		TranscribeFn: func(ctx context.Context, seg audio.Segment) (string, error) {
			if seg.Sequence == 1 {
				select {
				case <-release:
				case <-ctx.Done():
					return "", ctx.Err()
				}
			}
			return fmt.Sprintf("part%d", seg.Sequence), nil
		},
	}
	d := dispatch.New(context.Background(), p, dispatch.WithWorkers(2))

	submitAll(t, d, 2)

	// Segment 2 resolves while segment 1 is stuck; the prefix must stay empty.
	waitFor(t, 2*time.Second, func() bool {
		_, resolved := d.Counts()
		return resolved == 1
	})
	if got := d.Resolved(); len(got) != 0 {
		t.Fatalf("Resolved() = %d results while segment 1 in flight, want 0", len(got))
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := d.DrainAndJoin(ctx); err != nil {
		t.Fatalf("DrainAndJoin: %v", err)
	}

	got := d.Resolved()
	if len(got) != 2 {
		t.Fatalf("Resolved() = %d results after drain, want 2", len(got))
	}
	for i, r := range got {
		if r.Sequence != i+1 {
			t.Errorf("Resolved()[%d].Sequence = %d, want %d", i, r.Sequence, i+1)
		}
	}
}
