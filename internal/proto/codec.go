package proto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// MaxFrameSize is the default ceiling for a single composed frame and for
// buffered-but-unframed receive data.
const MaxFrameSize = 8192

// Heartbeat is the empty keepalive frame.
var Heartbeat = []byte("\n")

// ErrFraming marks a frame that is not a JSON object.
var ErrFraming = errors.New("framing error")

// ErrTooLarge marks a message whose payload does not fit the frame limit.
var ErrTooLarge = errors.New("frame too large")

// Object is a decoded frame before it is typed by Parse.
type Object map[string]json.RawMessage

// Encode serializes m as a single newline-terminated frame no larger than MaxFrameSize.
func Encode(m Message) []byte {
	return EncodeLimit(m, MaxFrameSize)
}

// EncodeLimit serializes m as a single newline-terminated frame. The payload
// must contain no newline and be shorter than limit; composing a message that
// violates either is a programming error and panics. Callers holding
// untrusted content check it with Fits first.
func EncodeLimit(m Message, limit int) []byte {
	frame, err := compose(m, limit)
	if err != nil {
		panic(fmt.Sprintf("proto: %v", err))
	}
	return frame
}

// Fits reports whether m can be framed within limit. It returns
// ErrTooLarge when the payload would reach limit.
func Fits(m Message, limit int) error {
	_, err := compose(m, limit)
	return err
}

func compose(m Message, limit int) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}

	// json.Encoder always terminates with exactly one newline.
	payload := buf.Bytes()[:buf.Len()-1]
	if bytes.IndexByte(payload, '\n') >= 0 {
		return nil, fmt.Errorf("%s payload contains a newline", m.Type())
	}
	if len(payload) >= limit {
		return nil, fmt.Errorf("%w: %s payload is %d bytes, limit %d", ErrTooLarge, m.Type(), len(payload), limit)
	}
	return buf.Bytes(), nil
}

// Decoder reassembles frames from arbitrarily split byte chunks.
// It never blocks: it only looks at bytes already written to it.
type Decoder struct {
	buf []byte
	off int
}

// Write appends received bytes. It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	if d.off > 0 {
		n := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:n]
		d.off = 0
	}
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Buffered returns the number of bytes not yet consumed as frames.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.off
}

// Next returns the next non-empty frame decoded as an object. ok is false
// when no complete frame is buffered. Empty frames are heartbeats and are
// skipped. A frame that does not decode to an object yields ErrFraming; the
// bad frame is consumed.
func (d *Decoder) Next() (obj Object, ok bool, err error) {
	for {
		rest := d.buf[d.off:]
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			return nil, false, nil
		}
		line := rest[:i]
		d.off += i + 1

		if len(line) == 0 {
			continue
		}

		if err := json.Unmarshal(line, &obj); err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrFraming, err)
		}
		if obj == nil {
			return nil, false, fmt.Errorf("%w: frame is not an object", ErrFraming)
		}
		return obj, true, nil
	}
}

// Reset discards all buffered bytes.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.off = 0
}
