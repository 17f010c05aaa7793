package frame

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// MaxLineBytes bounds a single frame line (spec §9: "newline-delimited
// JSON with bounded line length"). A longer line is a protocol error.
const MaxLineBytes = 4 << 20 // 4 MiB

// ErrLineTooLong is returned by Reader.Read when a frame exceeds
// MaxLineBytes.
var ErrLineTooLong = fmt.Errorf("frame: line exceeds %d bytes", MaxLineBytes)

// Any is the decoded form of one inbound line: exactly one of the
// pointer fields below is non-nil, selected by Kind.
type Any struct {
	Kind     Kind
	Request  *Request
	Response *Response
	Stdout   *Stdout
	Stderr   *Stderr
	Done     *Done
}

// Reader decodes newline-delimited JSON frames from a sandbox's stdout.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps r with the frame line-scanner, enforcing MaxLineBytes.
func NewReader(r io.Reader) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), MaxLineBytes)
	return &Reader{scanner: s}
}

// Read returns the next decoded frame, or io.EOF when the stream ends
// cleanly. A line over MaxLineBytes or one that fails to decode yields
// ErrLineTooLong / a JSON error respectively — both are protocol errors
// the caller should map to errkind.ProtocolError.
func (r *Reader) Read() (Any, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			if isTooLong(err) {
				return Any{}, ErrLineTooLong
			}
			return Any{}, err
		}
		return Any{}, io.EOF
	}

	line := r.scanner.Bytes()
	var peek peekKind
	if err := json.Unmarshal(line, &peek); err != nil {
		return Any{}, fmt.Errorf("decoding frame: %w", err)
	}

	switch peek.Kind {
	case KindRequest:
		var v Request
		if err := json.Unmarshal(line, &v); err != nil {
			return Any{}, err
		}
		return Any{Kind: KindRequest, Request: &v}, nil
	case KindResponse:
		var v Response
		if err := json.Unmarshal(line, &v); err != nil {
			return Any{}, err
		}
		return Any{Kind: KindResponse, Response: &v}, nil
	case KindStdout:
		var v Stdout
		if err := json.Unmarshal(line, &v); err != nil {
			return Any{}, err
		}
		return Any{Kind: KindStdout, Stdout: &v}, nil
	case KindStderr:
		var v Stderr
		if err := json.Unmarshal(line, &v); err != nil {
			return Any{}, err
		}
		return Any{Kind: KindStderr, Stderr: &v}, nil
	case KindDone:
		var v Done
		if err := json.Unmarshal(line, &v); err != nil {
			return Any{}, err
		}
		return Any{Kind: KindDone, Done: &v}, nil
	default:
		return Any{}, fmt.Errorf("decoding frame: unrecognized kind %q", peek.Kind)
	}
}

func isTooLong(err error) bool {
	return err == bufio.ErrTooLong
}

// Writer serializes frames as newline-delimited JSON onto a sandbox's
// stdin. Safe for concurrent use; writes are serialized by mu so two
// goroutines writing responses for different request ids never
// interleave partial lines.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter wraps w with the frame line-writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write marshals v (a Request, Response, Stdout, Stderr, or Done) and
// writes it as one newline-terminated line.
func (w *Writer) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.w.Write(b)
	return err
}
