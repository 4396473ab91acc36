package mdoc

// Frame continuation flags (spec §3/§6): 0x00 last fragment, 0x01 more
// fragments follow, 0x02 single-byte session-termination frame.
const (
	frameLast      byte = 0x00
	frameMore      byte = 0x01
	frameTerminate byte = 0x02
)

// Fragmenter splits outgoing application messages into characteristic-sized
// frames and reassembles incoming frames back into messages (spec §4.B). A
// Fragmenter is not safe for concurrent use by multiple goroutines; each
// TransportEndpoint owns exactly one, consistent with the single-owner
// actor model of spec §5.
type Fragmenter struct {
	maxFragmentPayload int
	maxMessageBytes    int

	buf []byte
}

// NewFragmenter builds a Fragmenter for the given negotiated MTU and
// message size cap. maxFragmentPayload is negotiatedMtu-1, per spec §4.B.
func NewFragmenter(negotiatedMtu, maxMessageBytes int) *Fragmenter {
	payload := negotiatedMtu - 1
	if payload < 1 {
		payload = 1
	}
	return &Fragmenter{
		maxFragmentPayload: payload,
		maxMessageBytes:    maxMessageBytes,
	}
}

// Frame splits message into a sequence of frames, each prefixed with the
// continuation byte: 0x01 for every fragment but the last, which gets
// 0x00. A zero-length message still produces exactly one (empty) frame.
func (f *Fragmenter) Frame(message []byte) [][]byte {
	if len(message) == 0 {
		return [][]byte{{frameLast}}
	}
	var frames [][]byte
	for offset := 0; offset < len(message); offset += f.maxFragmentPayload {
		end := offset + f.maxFragmentPayload
		last := end >= len(message)
		if last {
			end = len(message)
		}
		flag := frameMore
		if last {
			flag = frameLast
		}
		frame := make([]byte, 0, 1+end-offset)
		frame = append(frame, flag)
		frame = append(frame, message[offset:end]...)
		frames = append(frames, frame)
	}
	return frames
}

// Accept appends one incoming frame to the reassembly buffer. It returns
// (nil, false, false, nil) while more fragments are expected, (message,
// true, false, nil) once the message is complete (buffer is reset for the
// next message), or a Terminate signal via isTerminate.
func (f *Fragmenter) Accept(frame []byte) (message []byte, complete bool, isTerminate bool, err error) {
	if len(frame) < 1 {
		err = &ProtoError{ErrMalformedFrame}
		return
	}
	if frame[0] == frameTerminate && len(frame) == 1 {
		isTerminate = true
		return
	}
	flag, payload := frame[0], frame[1:]
	if flag != frameLast && flag != frameMore {
		err = &ProtoError{ErrMalformedFrame}
		return
	}

	f.buf = append(f.buf, payload...)
	if len(f.buf) > f.maxMessageBytes {
		f.buf = nil
		err = &ProtoError{ErrOversizeMessage}
		return
	}

	if flag == frameMore {
		return
	}

	message = f.buf
	f.buf = nil
	complete = true
	return
}

// TerminateFrame is the single-byte session-termination frame (spec §4.B/§6).
func TerminateFrame() []byte {
	return []byte{frameTerminate}
}
