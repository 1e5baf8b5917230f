package frame

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestReadWriteRecordRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRecord(&buf, []byte(`{"Req":"Status"}`), DefaultLimits()); err != nil {
		t.Fatalf("write record: %v", err)
	}
	if got := buf.String(); got != "{\"Req\":\"Status\"}\n" {
		t.Fatalf("unexpected wire bytes: %q", got)
	}
	out, err := ReadRecord(bufio.NewReader(&buf), DefaultLimits())
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	if string(out) != `{"Req":"Status"}` {
		t.Fatalf("record mismatch: %q", out)
	}
}

func TestReadRecordAcceptsUnterminatedTailBeforeClose(t *testing.T) {
	r := bufio.NewReader(strings.NewReader(`{"Res":{"Stop":{"Ok":null}}}`))
	out, err := ReadRecord(r, DefaultLimits())
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	if string(out) != `{"Res":{"Stop":{"Ok":null}}}` {
		t.Fatalf("record mismatch: %q", out)
	}
	if _, err := ReadRecord(r, DefaultLimits()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after tail, got %v", err)
	}
}

func TestReadRecordSequential(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("one\ntwo\r\n"))
	first, err := ReadRecord(r, DefaultLimits())
	if err != nil || string(first) != "one" {
		t.Fatalf("first record got=%q err=%v", first, err)
	}
	second, err := ReadRecord(r, DefaultLimits())
	if err != nil || string(second) != "two" {
		t.Fatalf("second record got=%q err=%v", second, err)
	}
}

func TestRecordLimits(t *testing.T) {
	limits := Limits{MaxRecordBytes: 8}
	if err := WriteRecord(io.Discard, []byte("0123456789"), limits); !errors.Is(err, ErrRecordTooLarge) {
		t.Fatalf("expected ErrRecordTooLarge on write, got %v", err)
	}
	r := bufio.NewReaderSize(strings.NewReader(strings.Repeat("x", 64)+"\n"), 16)
	if _, err := ReadRecord(r, limits); !errors.Is(err, ErrRecordTooLarge) {
		t.Fatalf("expected ErrRecordTooLarge on read, got %v", err)
	}
	if err := WriteRecord(io.Discard, nil, limits); !errors.Is(err, ErrEmptyRecord) {
		t.Fatalf("expected ErrEmptyRecord, got %v", err)
	}
}
