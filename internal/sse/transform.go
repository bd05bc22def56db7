// Package sse re-frames the upstream event stream into outward frames. The
// transformer is a single-pass state machine over raw bytes: it owns partial
// record buffering, image URL deduplication, and terminal-state tracking, and
// knows nothing about credentials or transport.
package sse

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

// maxBufferSize is the hard cap on the accumulation buffer. A malformed
// upstream that never terminates a record gets its buffer discarded silently
// instead of growing without bound.
const maxBufferSize = 100_000

// doneSentinel terminates the upstream stream.
const doneSentinel = "[DONE]"

// Frame is one unit of the gateway's outward streaming response.
type Frame struct {
	// Delta is the incremental content carried by this frame.
	Delta string
	// Final marks the terminal frame. Exactly one final frame is produced per
	// logical response.
	Final bool
	// Err marks content synthesized from an upstream-side failure.
	Err bool
}

// Transformer converts one upstream byte stream into outward frames. Not safe
// for concurrent use; each response gets its own transformer.
type Transformer struct {
	buf        []byte
	seenImages map[string]struct{}
	done       bool
}

// New creates a transformer for a single response stream.
func New() *Transformer {
	return &Transformer{seenImages: make(map[string]struct{})}
}

// Done reports whether the terminal frame has been produced. Once terminal,
// no transition leaves the state: later bytes are ignored.
func (t *Transformer) Done() bool { return t.done }

// Feed consumes one chunk of upstream bytes and returns the outward frames it
// completes. Frames preserve upstream record order exactly.
func (t *Transformer) Feed(chunk []byte) []Frame {
	if t.done {
		return nil
	}
	t.buf = append(t.buf, chunk...)

	if len(t.buf) > maxBufferSize {
		// Corrective, not fatal: drop the runaway buffer and move on.
		t.buf = nil
		return nil
	}

	records, rest := splitRecords(t.buf)
	t.buf = rest

	var frames []Frame
	for _, record := range records {
		frame, ok := t.transform(record)
		if !ok {
			continue
		}
		frames = append(frames, frame)
		if frame.Final {
			t.done = true
			break
		}
	}
	return frames
}

// splitRecords cuts complete records off the buffer, preferring blank-line
// delimiters and falling back to single newlines when no complete blank-line
// record is present. The trailing partial record stays in the buffer.
func splitRecords(buf []byte) (records [][]byte, rest []byte) {
	delim := []byte("\n\n")
	if !bytes.Contains(buf, delim) {
		delim = []byte("\n")
	}
	for {
		idx := bytes.Index(buf, delim)
		if idx < 0 {
			return records, buf
		}
		record := buf[:idx]
		buf = buf[idx+len(delim):]
		if len(bytes.TrimSpace(record)) > 0 {
			records = append(records, record)
		}
	}
}

// transform decodes one complete record into at most one outward frame.
// Records producing neither content nor a terminal signal are dropped.
func (t *Transformer) transform(record []byte) (Frame, bool) {
	text := strings.TrimSpace(string(record))
	if text == "" || strings.HasPrefix(text, ":") {
		// Comment / keepalive record.
		return Frame{}, false
	}
	if after, ok := strings.CutPrefix(text, "data:"); ok {
		text = strings.TrimSpace(after)
	}
	if text == doneSentinel {
		return Frame{Final: true}, true
	}

	if !gjson.Valid(text) {
		if strings.HasPrefix(text, "{") {
			// Looks structured but does not decode: drop rather than leak
			// a broken fragment into the response.
			return Frame{}, false
		}
		// Tolerate plain-text lines interleaved with structured records.
		return Frame{Delta: text}, true
	}

	root := gjson.Parse(text)
	if msg, failed := upstreamFailure(root); failed {
		return Frame{Delta: fmt.Sprintf("[upstream error: %s]", msg), Final: true, Err: true}, true
	}

	delta := root.Get("choices.0.delta")
	if !delta.Exists() {
		return Frame{}, false
	}

	content := delta.Get("content").String()
	phase := delta.Get("phase").String()
	if (phase == "image_gen" || phase == "image_edit" || phase == "video_gen") && looksLikeURL(content) {
		if _, seen := t.seenImages[content]; seen {
			// Repeated announcement of the same generated image.
			content = ""
		} else {
			t.seenImages[content] = struct{}{}
			content = fmt.Sprintf("![image](%s)", content)
		}
	}

	final := delta.Get("status").String() == "finished" ||
		root.Get("choices.0.finish_reason").String() != ""
	if content == "" && !final {
		return Frame{}, false
	}
	return Frame{Delta: content, Final: final}, true
}

// upstreamFailure recognizes the error-shaped record variants the upstream
// emits mid-stream.
func upstreamFailure(root gjson.Result) (string, bool) {
	if root.Get("success").Exists() && !root.Get("success").Bool() {
		if details := root.Get("data.details").String(); details != "" {
			return details, true
		}
		if code := root.Get("data.code").String(); code != "" {
			return code, true
		}
		return "request failed", true
	}
	if errVal := root.Get("error"); errVal.Exists() {
		if msg := errVal.Get("message").String(); msg != "" {
			return msg, true
		}
		if s := errVal.String(); s != "" && errVal.Type != gjson.Null {
			return s, true
		}
	}
	return "", false
}

func looksLikeURL(s string) bool {
	if strings.ContainsAny(s, " \n") {
		return false
	}
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Collect runs the per-record extraction against a full upstream stream and
// accumulates content into a single string, returning once the stream ends or
// produces the terminal sentinel. This is the non-streaming outward contract.
func (t *Transformer) Collect(ctx context.Context, r io.Reader) (string, error) {
	var out strings.Builder
	chunk := make([]byte, 4096)
	for !t.done {
		if err := ctx.Err(); err != nil {
			return out.String(), err
		}
		n, err := r.Read(chunk)
		if n > 0 {
			for _, frame := range t.Feed(chunk[:n]) {
				out.WriteString(frame.Delta)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return out.String(), err
		}
	}
	// Flush any trailing single-line record left in the buffer.
	if !t.done && len(t.buf) > 0 {
		for _, frame := range t.Feed([]byte("\n\n")) {
			out.WriteString(frame.Delta)
		}
	}
	return out.String(), nil
}
