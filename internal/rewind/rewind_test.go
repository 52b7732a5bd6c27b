package rewind

import (
	"bytes"
	"testing"
)

type fakeRestorer struct {
	state []byte
}

func (f *fakeRestorer) SaveState() []byte { return f.state }
func (f *fakeRestorer) LoadState(data []byte) error {
	f.state = append([]byte(nil), data...)
	return nil
}

func TestNew_ClampsDegenerateArgsToOne(t *testing.T) {
	r := New(0, 0, 0)
	if r.Capacity() != 1 {
		t.Fatalf("capacity got %d want 1", r.Capacity())
	}
}

func TestCapture_CountNeverExceedsCapacity(t *testing.T) {
	r := New(10, 4, 1)
	for i := 0; i < 25; i++ {
		frame := bytes.Repeat([]byte{byte(i)}, 64)
		if err := r.Capture(frame); err != nil {
			t.Fatalf("Capture: %v", err)
		}
	}
	if r.Count() > r.Capacity() {
		t.Fatalf("count %d exceeds capacity %d", r.Count(), r.Capacity())
	}
}

func TestCapture_FrameStepThrottlesRecording(t *testing.T) {
	r := New(100, 4, 3)
	for i := 0; i < 9; i++ {
		_ = r.Capture(bytes.Repeat([]byte{byte(i)}, 16))
	}
	if got := r.Count(); got != 3 {
		t.Fatalf("count got %d want 3 (every 3rd of 9 captures)", got)
	}
}

// TestStepBackThenForward_ReturnsToExactPriorState grounds spec.md §8
// scenario 6: run for N frames (snapshotting every frame), step back M
// frames then forward M frames, and land on the byte-exact original state.
func TestStepBackThenForward_ReturnsToExactPriorState(t *testing.T) {
	r := New(500, 16, 1)
	const nFrames = 300
	frames := make([][]byte, nFrames)
	for i := 0; i < nFrames; i++ {
		frames[i] = make([]byte, 128)
		for j := range frames[i] {
			frames[i][j] = byte(i*31 + j*7)
		}
		if err := r.Capture(frames[i]); err != nil {
			t.Fatalf("Capture %d: %v", i, err)
		}
	}

	const step = 100
	if _, err := r.StepBack(step); err != nil {
		t.Fatalf("StepBack: %v", err)
	}
	got, err := r.StepForward(step)
	if err != nil {
		t.Fatalf("StepForward: %v", err)
	}
	want := frames[nFrames-1]
	if !bytes.Equal(got, want) {
		t.Fatalf("state after step back %d then forward %d did not match the pre-rewind state", step, step)
	}
}

func TestStepBack_ReconstructsAnArbitraryEarlierFrame(t *testing.T) {
	r := New(500, 10, 1)
	frames := make([][]byte, 50)
	for i := range frames {
		frames[i] = bytes.Repeat([]byte{byte(i)}, 32)
		_ = r.Capture(frames[i])
	}
	got, err := r.StepBack(20)
	if err != nil {
		t.Fatalf("StepBack: %v", err)
	}
	want := frames[len(frames)-1-20]
	if !bytes.Equal(got, want) {
		t.Fatalf("reconstructed frame did not match frame captured 20 frames back")
	}
}

func TestStepBack_OutOfRangeErrors(t *testing.T) {
	r := New(10, 4, 1)
	_ = r.Capture([]byte{1, 2, 3})
	if _, err := r.StepBack(5); err != ErrOutOfRange {
		t.Fatalf("StepBack past the oldest frame: got %v want ErrOutOfRange", err)
	}
}

func TestCurrent_EmptyRecorderErrors(t *testing.T) {
	r := New(10, 4, 1)
	if _, err := r.Current(); err != ErrEmpty {
		t.Fatalf("Current on an empty recorder: got %v want ErrEmpty", err)
	}
}

func TestCapture_ResumingAfterRewindDiscardsTheOldFuture(t *testing.T) {
	r := New(100, 8, 1)
	for i := 0; i < 10; i++ {
		_ = r.Capture(bytes.Repeat([]byte{byte(i)}, 16))
	}
	if _, err := r.StepBack(5); err != nil {
		t.Fatalf("StepBack: %v", err)
	}
	newFrame := bytes.Repeat([]byte{0xAA}, 16)
	if err := r.Capture(newFrame); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if r.CanStepForward() != 0 {
		t.Fatalf("expected no forward history after branching with a new capture, got %d", r.CanStepForward())
	}
	got, err := r.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if !bytes.Equal(got, newFrame) {
		t.Fatalf("current frame after branch-capture did not match the newly captured frame")
	}
}

func TestRestore_LoadsReconstructedStateIntoTarget(t *testing.T) {
	r := New(50, 8, 1)
	frames := make([][]byte, 20)
	for i := range frames {
		frames[i] = bytes.Repeat([]byte{byte(i)}, 8)
		_ = r.Capture(frames[i])
	}
	if _, err := r.StepBack(5); err != nil {
		t.Fatalf("StepBack: %v", err)
	}
	dst := &fakeRestorer{}
	if err := r.Restore(dst); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if !bytes.Equal(dst.state, frames[len(frames)-1-5]) {
		t.Fatalf("Restore did not load the frame 5 steps back")
	}
}

func TestReset_ClearsHistory(t *testing.T) {
	r := New(10, 4, 1)
	_ = r.Capture([]byte{1, 2, 3})
	_ = r.Capture([]byte{4, 5, 6})
	r.Reset()
	if r.Count() != 0 {
		t.Fatalf("count got %d want 0 after Reset", r.Count())
	}
	if _, err := r.Current(); err != ErrEmpty {
		t.Fatalf("Current after Reset: got %v want ErrEmpty", err)
	}
}
