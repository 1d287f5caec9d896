package testutil

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// ErrSinkTimeout is returned by a stalled FakeSink once the write deadline passes.
var ErrSinkTimeout = errors.New("fake sink: write timeout")

// Frame is a decoded server → client event captured by FakeSink.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// FakeSink records frames written by a session.
type FakeSink struct {
	mu      sync.Mutex
	frames  []Frame
	raw     [][]byte
	closed  bool
	stalled bool
	failErr error
}

func NewFakeSink() *FakeSink { return &FakeSink{} }

func (f *FakeSink) WriteFrame(data []byte, deadline time.Time) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return errors.New("fake sink: closed")
	}
	if f.failErr != nil {
		err := f.failErr
		f.mu.Unlock()
		return err
	}
	if f.stalled {
		f.mu.Unlock()
		time.Sleep(time.Until(deadline))
		return ErrSinkTimeout
	}
	var fr Frame
	_ = json.Unmarshal(data, &fr)
	f.frames = append(f.frames, fr)
	f.raw = append(f.raw, append([]byte(nil), data...))
	f.mu.Unlock()
	return nil
}

func (f *FakeSink) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Stall makes every later write block until its deadline and then fail.
func (f *FakeSink) Stall() {
	f.mu.Lock()
	f.stalled = true
	f.mu.Unlock()
}

// FailWith makes every later write return err.
func (f *FakeSink) FailWith(err error) {
	f.mu.Lock()
	f.failErr = err
	f.mu.Unlock()
}

func (f *FakeSink) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Frames returns a copy of every captured frame.
func (f *FakeSink) Frames() []Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Frame(nil), f.frames...)
}

// Raw returns the captured frames as written.
func (f *FakeSink) Raw() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.raw...)
}

// OfType returns captured frames of the given type.
func (f *FakeSink) OfType(typ string) []Frame {
	var out []Frame
	for _, fr := range f.Frames() {
		if fr.Type == typ {
			out = append(out, fr)
		}
	}
	return out
}

// WaitFor polls until n frames of typ have arrived and returns them.
func (f *FakeSink) WaitFor(t *testing.T, typ string, n int) []Frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := f.OfType(typ); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d %q frames, got %d", n, typ, len(f.OfType(typ)))
	return nil
}

// WaitClosed polls until the sink is closed.
func (f *FakeSink) WaitClosed(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.Closed() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout waiting for sink close")
}

// Decode unmarshals a frame's data into v.
func Decode(t *testing.T, fr Frame, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(fr.Data, v); err != nil {
		t.Fatalf("decode %q frame: %v", fr.Type, err)
	}
}
