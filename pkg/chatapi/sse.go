package chatapi

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// maxFrameSize bounds a single SSE line.
const maxFrameSize = 8 << 20

// ErrStreamDone is returned by [Decoder.Next] after the [DONE] sentinel.
var ErrStreamDone = errors.New("chatapi: stream done")

// StreamDecodeError describes a frame that could not be decoded. The decoder
// skips such frames; the error is passed to the skip hook.
type StreamDecodeError struct {
	Payload string
	Err     error
}

func (e *StreamDecodeError) Error() string {
	return fmt.Sprintf("chatapi: malformed stream frame %q: %v", truncate(e.Payload, 80), e.Err)
}

func (e *StreamDecodeError) Unwrap() error { return e.Err }

// Decoder reads [StreamResponse] frames from a server-sent event stream.
//
// Lines starting with "data:" accumulate into a frame that ends at a blank
// line. Comments and other fields are ignored. Frames whose payload is not
// valid JSON are skipped and reported through OnSkip.
type Decoder struct {
	sc      *bufio.Scanner
	onSkip  func(*StreamDecodeError)
	skipped int
	done    bool
}

// NewDecoder returns a Decoder reading from r. onSkip may be nil.
func NewDecoder(r io.Reader, onSkip func(*StreamDecodeError)) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxFrameSize)
	return &Decoder{sc: sc, onSkip: onSkip}
}

// Skipped returns the number of malformed frames skipped so far.
func (d *Decoder) Skipped() int { return d.skipped }

// Next returns the next decoded chunk. It returns [ErrStreamDone] after the
// sentinel and [io.ErrUnexpectedEOF] if the stream ends without one.
func (d *Decoder) Next() (*StreamResponse, error) {
	if d.done {
		return nil, ErrStreamDone
	}
	for {
		payload, ok, err := d.frame()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, io.ErrUnexpectedEOF
		}
		if strings.TrimSpace(payload) == DoneSentinel {
			d.done = true
			return nil, ErrStreamDone
		}
		var chunk StreamResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			d.skip(&StreamDecodeError{Payload: payload, Err: err})
			continue
		}
		return &chunk, nil
	}
}

// frame reads lines until a blank line closes a frame with data. ok is false
// at end of input with no pending data.
func (d *Decoder) frame() (payload string, ok bool, err error) {
	var buf bytes.Buffer
	hasData := false
	for d.sc.Scan() {
		line := strings.TrimSuffix(d.sc.Text(), "\r")
		if line == "" {
			if hasData {
				return buf.String(), true, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		if field != "data" {
			continue
		}
		value = strings.TrimPrefix(value, " ")
		if hasData {
			buf.WriteByte('\n')
		}
		buf.WriteString(value)
		hasData = true
	}
	if err := d.sc.Err(); err != nil {
		return "", false, fmt.Errorf("chatapi: read stream: %w", err)
	}
	if hasData {
		return buf.String(), true, nil
	}
	return "", false, nil
}

func (d *Decoder) skip(e *StreamDecodeError) {
	d.skipped++
	if d.onSkip != nil {
		d.onSkip(e)
	}
}

// ---- encoding ----

// EncodeFrame renders v as one SSE data frame.
func EncodeFrame(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("chatapi: encode frame: %w", err)
	}
	out := make([]byte, 0, len(data)+8)
	out = append(out, "data: "...)
	out = append(out, data...)
	out = append(out, "\n\n"...)
	return out, nil
}

// DoneFrame is the SSE frame carrying the [DONE] sentinel.
func DoneFrame() []byte { return []byte("data: " + DoneSentinel + "\n\n") }

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
