package broadcast

import (
	"sync"
	"testing"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/contrib/websocket"
)

// mockLogger implements types.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(_ string, _ ...any) {}
func (m *mockLogger) Info(_ string, _ ...any)  {}
func (m *mockLogger) Warn(_ string, _ ...any)  {}
func (m *mockLogger) Error(_ string, _ ...any) {}
func (m *mockLogger) With(_ ...any) types.Logger {
	return m
}
func (m *mockLogger) WithModule(_ string) types.Logger {
	return m
}
func (m *mockLogger) WithError(_ error) types.Logger {
	return m
}

// fakeTransport records text frames written to it.
type fakeTransport struct {
	mu     sync.Mutex
	frames [][]byte
	pings  int
	closed bool
	block  chan struct{}
	notify chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{notify: make(chan struct{}, 1024)}
}

func (f *fakeTransport) WriteMessage(messageType int, data []byte) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	if messageType == websocket.PingMessage {
		f.pings++
	} else {
		f.frames = append(f.frames, append([]byte(nil), data...))
	}
	f.mu.Unlock()
	f.notify <- struct{}{}
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Frames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.frames))
	for i, fr := range f.frames {
		out[i] = string(fr)
	}
	return out
}

func (f *fakeTransport) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// waitFrames blocks until n frames have been written or the test times out.
func (f *fakeTransport) waitFrames(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if frames := f.Frames(); len(frames) >= n {
			return frames
		}
		select {
		case <-f.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d frames, got %d", n, len(f.Frames()))
		}
	}
}
