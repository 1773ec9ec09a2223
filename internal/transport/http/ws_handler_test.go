package http

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/strandhq/longhouse/internal/presence"
	"github.com/strandhq/longhouse/internal/store/storetest"
)

const testSpaceID = "7f2a1f8e-3b65-4b85-90f4-1f2f4cfa6f10"

// startInstance runs one worker instance over the shared store: registry,
// observer and HTTP surface, the way a single process would.
func startInstance(t *testing.T, st *storetest.MemStore, ttl time.Duration) *httptest.Server {
	t.Helper()

	logger := zerolog.Nop()
	messager := presence.NewMessager(&logger, false)
	register := presence.NewRegister(st, messager, &logger, ttl)
	observer := presence.NewObserver(st, st, register, messager, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := observer.Start(ctx); err != nil {
		t.Fatalf("start observer: %v", err)
	}

	ts := httptest.NewServer(NewHandler(register, messager, time.Minute, &logger))
	t.Cleanup(ts.Close)
	return ts
}

func dial(t *testing.T, ctx context.Context, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

// readUntil consumes frames until one satisfies pred, skipping keepalives.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, pred func(map[string]any) bool) map[string]any {
	t.Helper()

	for {
		var m map[string]any
		if err := wsjson.Read(ctx, conn, &m); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if pred(m) {
			return m
		}
	}
}

func join(t *testing.T, ctx context.Context, conn *websocket.Conn, identity string) map[string]any {
	t.Helper()

	err := wsjson.Write(ctx, conn, map[string]any{
		"action":   "join",
		"space_id": testSpaceID,
		"identity": identity,
	})
	if err != nil {
		t.Fatalf("write join: %v", err)
	}
	return readUntil(t, ctx, conn, func(m map[string]any) bool {
		_, ok := m["clients"]
		return ok
	})
}

func TestHealthEndpoint(t *testing.T) {
	ts := startInstance(t, storetest.New(), time.Minute)

	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 || string(body) != "ok" {
		t.Fatalf("unexpected health response: %d %q", resp.StatusCode, body)
	}
}

func TestJoinReturnsMemberList(t *testing.T) {
	st := storetest.New()
	ts := startInstance(t, st, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := dial(t, ctx, ts)
	ackA := join(t, ctx, connA, "alice@example.com")
	if members, _ := ackA["clients"].([]any); len(members) != 1 {
		t.Fatalf("expected alice alone, got %v", ackA)
	}

	connB := dial(t, ctx, ts)
	ackB := join(t, ctx, connB, "bob@example.com")
	if members, _ := ackB["clients"].([]any); len(members) != 2 {
		t.Fatalf("expected two members, got %v", ackB)
	}
}

func TestRemoteJoinFansOutAcrossInstances(t *testing.T) {
	st := storetest.New()
	instance1 := startInstance(t, st, time.Minute)
	instance2 := startInstance(t, st, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connB := dial(t, ctx, instance2)
	join(t, ctx, connB, "bob@example.com")

	connA := dial(t, ctx, instance1)
	ackA := join(t, ctx, connA, "alice@example.com")
	aliceID, _ := ackA["id"].(string)

	// Bob's socket lives in instance2; only the store links the two.
	frame := readUntil(t, ctx, connB, func(m map[string]any) bool {
		if m["event"] != "remote join/update" {
			return false
		}
		subject, _ := m["client"].(map[string]any)
		return subject["id"] == aliceID
	})
	subject, _ := frame["client"].(map[string]any)
	if subject["identity"] != "alice@example.com" {
		t.Fatalf("fan-out lacks subject record: %v", frame)
	}
}

func TestLeaveNotifiesPeers(t *testing.T) {
	st := storetest.New()
	instance1 := startInstance(t, st, time.Minute)
	instance2 := startInstance(t, st, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connB := dial(t, ctx, instance2)
	join(t, ctx, connB, "bob@example.com")

	connA := dial(t, ctx, instance1)
	ackA := join(t, ctx, connA, "alice@example.com")
	aliceID, _ := ackA["id"].(string)

	if err := wsjson.Write(ctx, connA, map[string]any{"action": "leave"}); err != nil {
		t.Fatalf("write leave: %v", err)
	}

	readUntil(t, ctx, connB, func(m map[string]any) bool {
		if m["event"] != "remote leave" {
			return false
		}
		subject, _ := m["client"].(map[string]any)
		return subject["id"] == aliceID
	})
}

func TestExpiredClientIsToldAndDisconnected(t *testing.T) {
	st := storetest.New()
	ts := startInstance(t, st, 250*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, ts)
	join(t, ctx, conn, "alice@example.com")

	// No pings: the lease runs out and the server disconnects us.
	readUntil(t, ctx, conn, func(m map[string]any) bool {
		return m["event"] == "expired"
	})

	var m map[string]any
	if err := wsjson.Read(ctx, conn, &m); err == nil {
		t.Fatalf("expected closed connection, read %v", m)
	}
}

func TestUnparsableFrameIsRejected(t *testing.T) {
	ts := startInstance(t, storetest.New(), time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, ts)
	if err := conn.Write(ctx, websocket.MessageText, []byte("not json")); err != nil {
		t.Fatalf("write junk: %v", err)
	}

	readUntil(t, ctx, conn, func(m map[string]any) bool {
		_, ok := m["errors"]
		return ok
	})
}

func TestSocketCloseDeregisters(t *testing.T) {
	st := storetest.New()
	ts := startInstance(t, st, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, ts)
	ack := join(t, ctx, conn, "alice@example.com")
	id, _ := ack["id"].(string)

	conn.Close(websocket.StatusNormalClosure, "bye")

	key := "longhouse|spaces|" + testSpaceID + "|" + id
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		record, err := st.GetAll(context.Background(), key)
		if err == nil && len(record) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("presence key survived socket close")
}
