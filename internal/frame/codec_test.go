package frame

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestWriterThenReaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	req := Request{Kind: KindRequest, ID: 7, Method: "call_tool"}
	if err := w.Write(req); err != nil {
		t.Fatalf("Write: %v", err)
	}

	r := NewReader(&buf)
	got, err := r.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Kind != KindRequest || got.Request == nil {
		t.Fatalf("expected decoded request, got %+v", got)
	}
	if got.Request.ID != 7 || got.Request.Method != "call_tool" {
		t.Fatalf("unexpected request: %+v", got.Request)
	}
}

func TestReaderEOFOnEmptyStream(t *testing.T) {
	r := NewReader(strings.NewReader(""))
	if _, err := r.Read(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReaderRejectsOverlongLine(t *testing.T) {
	huge := strings.Repeat("a", MaxLineBytes+1)
	r := NewReader(strings.NewReader(`{"kind":"stdout","data":"` + huge + `"}` + "\n"))
	if _, err := r.Read(); err != ErrLineTooLong {
		t.Fatalf("expected ErrLineTooLong, got %v", err)
	}
}

func TestReaderDecodesEachFrameKind(t *testing.T) {
	lines := []string{
		`{"kind":"response","id":1,"ok":true,"result":42}`,
		`{"kind":"stdout","data":"hi\n"}`,
		`{"kind":"stderr","data":"oops"}`,
		`{"kind":"done","status":"ok"}`,
	}
	r := NewReader(strings.NewReader(strings.Join(lines, "\n") + "\n"))

	resp, err := r.Read()
	if err != nil || resp.Response == nil || resp.Response.ID != 1 {
		t.Fatalf("response frame: %+v, err=%v", resp, err)
	}
	out, err := r.Read()
	if err != nil || out.Stdout == nil || out.Stdout.Data != "hi\n" {
		t.Fatalf("stdout frame: %+v, err=%v", out, err)
	}
	errFrame, err := r.Read()
	if err != nil || errFrame.Stderr == nil || errFrame.Stderr.Data != "oops" {
		t.Fatalf("stderr frame: %+v, err=%v", errFrame, err)
	}
	done, err := r.Read()
	if err != nil || done.Done == nil || done.Done.Status != "ok" {
		t.Fatalf("done frame: %+v, err=%v", done, err)
	}
}
