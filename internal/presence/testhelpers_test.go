package presence

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/strandhq/longhouse/internal/proto"
	"github.com/strandhq/longhouse/internal/store/storetest"
)

const testSpaceID = "7f2a1f8e-3b65-4b85-90f4-1f2f4cfa6f10"

var errSocketDown = errors.New("socket gone")

// mockSocket records frames written to it.
type mockSocket struct {
	mu      sync.Mutex
	frames  [][]byte
	sendErr error
	closed  bool
}

func (s *mockSocket) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.frames = append(s.frames, buf)
	return nil
}

func (s *mockSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *mockSocket) failNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

func (s *mockSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *mockSocket) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// decoded returns every received frame unmarshalled into a generic map.
func (s *mockSocket) decoded(t *testing.T) []map[string]any {
	t.Helper()

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]map[string]any, 0, len(s.frames))
	for _, frame := range s.frames {
		var m map[string]any
		if err := json.Unmarshal(frame, &m); err != nil {
			t.Fatalf("unparsable outbound frame %q: %v", frame, err)
		}
		out = append(out, m)
	}
	return out
}

// waitFrame polls until a received frame satisfies pred.
func (s *mockSocket) waitFrame(t *testing.T, pred func(map[string]any) bool) map[string]any {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, m := range s.decoded(t) {
			if pred(m) {
				return m
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected frame not received; got %v", s.decoded(t))
	return nil
}

func eventNamed(name string) func(map[string]any) bool {
	return func(m map[string]any) bool {
		ev, _ := m["event"].(string)
		return ev == name
	}
}

// eventNaming matches an event frame whose subject carries the given
// client id.
func eventNaming(name, clientID string) func(map[string]any) bool {
	return func(m map[string]any) bool {
		ev, _ := m["event"].(string)
		if ev != name {
			return false
		}
		subject, _ := m["client"].(map[string]any)
		return subject["id"] == clientID
	}
}

func errorDetail(m map[string]any) string {
	list, _ := m["errors"].([]any)
	if len(list) == 0 {
		return ""
	}
	first, _ := list[0].(map[string]any)
	detail, _ := first["detail"].(string)
	return detail
}

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// newTestRegister builds a register over the given store, with its own
// messager, mimicking one worker process.
func newTestRegister(st *storetest.MemStore, ttl time.Duration) *Register {
	messager := NewMessager(testLogger(), false)
	return NewRegister(st, messager, testLogger(), ttl)
}

func joinMessage(identity string) proto.Inbound {
	return proto.Inbound{
		Action:   proto.ActionJoin,
		SpaceID:  testSpaceID,
		Identity: identity,
	}
}
