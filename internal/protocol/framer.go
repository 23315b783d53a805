package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Delimiter terminates every message in both directions. It never appears
// inside a message body.
const Delimiter byte = '\n'

// Framer splits an incoming byte stream into delimiter-terminated frames.
// It keeps one accumulation buffer per connection; a delivered frame is
// removed from the buffer together with its delimiter.
type Framer struct {
	buf []byte
}

// Feed appends a chunk to the buffer and returns every complete frame it
// now holds, in arrival order. Empty frames (a bare delimiter) are silently
// discarded. The returned slices are copies and stay valid after the next
// Feed.
func (f *Framer) Feed(chunk []byte) [][]byte {
	f.buf = append(f.buf, chunk...)

	var frames [][]byte
	for {
		i := bytes.IndexByte(f.buf, Delimiter)
		if i < 0 {
			return frames
		}
		if i > 0 {
			frame := make([]byte, i)
			copy(frame, f.buf[:i])
			frames = append(frames, frame)
		}
		f.buf = f.buf[i+1:]
	}
}

// Pending reports how many unconsumed bytes the buffer holds.
func (f *Framer) Pending() int {
	return len(f.buf)
}

// EncodeResponse serializes a response followed by exactly one delimiter.
func EncodeResponse(resp Response) ([]byte, error) {
	body, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode response: %w", err)
	}
	return append(body, Delimiter), nil
}
