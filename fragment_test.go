package mdoc

import (
	"bytes"
	"testing"
)

// reassemble feeds every frame from Frame back through a fresh Fragmenter's
// Accept, returning the reassembled message, mirroring spec §8's
// "reassemble(frame(m, mtu)) == m" invariant.
func reassemble(t *testing.T, mtu int, message []byte) []byte {
	t.Helper()
	sender := NewFragmenter(mtu, 1<<20)
	receiver := NewFragmenter(mtu, 1<<20)

	frames := sender.Frame(message)
	var out []byte
	for i, f := range frames {
		msg, complete, isTerminate, err := receiver.Accept(f)
		if err != nil {
			t.Fatalf("frame %d: unexpected error: %v", i, err)
		}
		if isTerminate {
			t.Fatalf("frame %d: unexpected terminate signal", i)
		}
		if complete {
			out = msg
		}
	}
	return out
}

func TestFragmentRoundTripMTU23(t *testing.T) {
	message := make([]byte, 1024)
	for i := range message {
		message[i] = byte(i)
	}
	got := reassemble(t, 23, message)
	if !bytes.Equal(got, message) {
		t.Fatal("reassembled message did not match original at MTU 23")
	}
}

func TestFragmentRoundTripMTU517(t *testing.T) {
	message := make([]byte, 1024)
	for i := range message {
		message[i] = byte(i * 3)
	}
	got := reassemble(t, 517, message)
	if !bytes.Equal(got, message) {
		t.Fatal("reassembled message did not match original at MTU 517")
	}
}

func TestFragmentCountAtMTU23(t *testing.T) {
	message := make([]byte, 1024)
	f := NewFragmenter(23, 1<<20)
	frames := f.Frame(message)
	wantFrames := 47 // ceil(1024/22)
	if len(frames) != wantFrames {
		t.Fatalf("got %d frames, want %d", len(frames), wantFrames)
	}
	for i, frame := range frames {
		last := i == len(frames)-1
		if last && frame[0] != frameLast {
			t.Fatalf("last frame should be prefixed 0x00, got %#x", frame[0])
		}
		if !last && frame[0] != frameMore {
			t.Fatalf("frame %d should be prefixed 0x01, got %#x", i, frame[0])
		}
	}
}

func TestFragmentEmptyMessage(t *testing.T) {
	got := reassemble(t, 23, nil)
	if len(got) != 0 {
		t.Fatalf("expected empty message round trip, got %d bytes", len(got))
	}
}

func TestFragmentOversizeMessage(t *testing.T) {
	f := NewFragmenter(517, 10)
	frames := f.Frame(make([]byte, 11))
	r := NewFragmenter(517, 10)
	var lastErr error
	for _, frame := range frames {
		_, _, _, err := r.Accept(frame)
		if err != nil {
			lastErr = err
		}
	}
	if lastErr == nil {
		t.Fatal("expected OversizeMessage error for message exceeding maxMessageBytes")
	}
	if Classify(lastErr) != Terminal {
		t.Fatal("oversize message must classify as terminal")
	}
}

func TestFragmentMalformedFrame(t *testing.T) {
	f := NewFragmenter(23, 1<<20)
	_, _, _, err := f.Accept(nil)
	if err == nil {
		t.Fatal("expected MalformedFrame for a zero-length frame")
	}
}

func TestFragmentTerminateSignal(t *testing.T) {
	f := NewFragmenter(23, 1<<20)
	_, complete, isTerminate, err := f.Accept(TerminateFrame())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !isTerminate {
		t.Fatal("expected isTerminate true for a 0x02 frame")
	}
	if complete {
		t.Fatal("terminate signal must not also report complete")
	}
}

func TestFragmentMaxMessageBytesBoundary(t *testing.T) {
	f := NewFragmenter(517, 10)
	frames := f.Frame(make([]byte, 10))
	r := NewFragmenter(517, 10)
	var gotErr error
	for _, frame := range frames {
		_, _, _, err := r.Accept(frame)
		if err != nil {
			gotErr = err
		}
	}
	if gotErr != nil {
		t.Fatalf("message exactly at maxMessageBytes must not error: %v", gotErr)
	}
}
