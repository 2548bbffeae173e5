package worker

import (
	"bufio"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type memSink struct {
	mu      sync.Mutex
	domains []string
	fail    error
}

func (m *memSink) Record(_ context.Context, _ int64, domain string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.domains = append(m.domains, domain)
	return nil
}

func (m *memSink) Domains() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.domains...)
}

func runReader(t *testing.T, input string, sink Sink, skip []string) *Reader {
	t.Helper()
	r := NewReader(1, strings.NewReader(input), sink, skip, nil)
	go r.Run(context.Background())
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("reader did not reach EOF")
	}
	return r
}

func TestReaderSkipsBlankAndDiagnosticLines(t *testing.T) {
	sink := &memSink{}
	r := runReader(t, "a\n\nb\n# log\nc\n", sink, []string{"#"})

	want := []string{"a", "b", "c"}
	got := sink.Domains()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if r.Count() != 3 {
		t.Fatalf("count = %d, want 3", r.Count())
	}
}

func TestReaderTrimsWhitespace(t *testing.T) {
	sink := &memSink{}
	runReader(t, "  spaced.example.com  \n\ttabbed.example.com\n", sink, nil)
	got := sink.Domains()
	if len(got) != 2 || got[0] != "spaced.example.com" || got[1] != "tabbed.example.com" {
		t.Fatalf("whitespace not trimmed: %v", got)
	}
}

func TestReaderMultiplePrefixes(t *testing.T) {
	sink := &memSink{}
	runReader(t, "# comment\n[info] starting\nreal.example.com\n", sink, []string{"#", "["})
	got := sink.Domains()
	if len(got) != 1 || got[0] != "real.example.com" {
		t.Fatalf("got %v, want [real.example.com]", got)
	}
}

func TestReaderDegradesOnSinkError(t *testing.T) {
	boom := errors.New("disk full")
	sink := &memSink{fail: boom}
	r := runReader(t, "a\nb\nc\n", sink, nil)

	select {
	case <-r.Degraded():
	default:
		t.Fatalf("reader should be degraded after sink failure")
	}
	if !errors.Is(r.Err(), boom) {
		t.Fatalf("Err = %v, want %v", r.Err(), boom)
	}
	if len(sink.Domains()) != 0 {
		t.Fatalf("no domains should be stored, got %v", sink.Domains())
	}
	// The stream was still fully drained despite the degraded sink.
	if r.Count() != 0 {
		t.Fatalf("count = %d, want 0 after degradation", r.Count())
	}
}

func TestReaderDegradesOnOversizedLine(t *testing.T) {
	sink := &memSink{}
	input := "before.example.com\n" +
		strings.Repeat("x", maxLineSize+1) + "\n" +
		"after.example.com\n"
	// runReader waits for Done, so reaching it proves the stream was drained
	// past the unreadable line instead of being abandoned mid-pipe.
	r := runReader(t, input, sink, nil)

	select {
	case <-r.Degraded():
	default:
		t.Fatalf("reader should degrade on an oversized line")
	}
	if !errors.Is(r.Err(), bufio.ErrTooLong) {
		t.Fatalf("Err = %v, want bufio.ErrTooLong", r.Err())
	}
	got := sink.Domains()
	if len(got) != 1 || got[0] != "before.example.com" {
		t.Fatalf("records before the bad line should survive, got %v", got)
	}
}

func TestReaderEmptyStream(t *testing.T) {
	sink := &memSink{}
	r := runReader(t, "", sink, nil)
	if r.Count() != 0 || r.Err() != nil {
		t.Fatalf("empty stream should record nothing")
	}
}
