package fleet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
)

type rawMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readMessage(ctx context.Context, t *testing.T, conn *websocket.Conn) rawMessage {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var msg rawMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return msg
}

func TestStream_SnapshotThenEvents(t *testing.T) {
	m, _ := newTestModule(t)
	startAndWait(t, m)

	srv := httptest.NewServer(http.HandlerFunc(m.handleStream))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	snap := readMessage(ctx, t, conn)
	if snap.Type != msgSnapshot {
		t.Fatalf("first frame type = %q, want %q", snap.Type, msgSnapshot)
	}
	var statuses []json.RawMessage
	if err := json.Unmarshal(snap.Data, &statuses); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(statuses) != 2 {
		t.Errorf("snapshot statuses = %d, want 2", len(statuses))
	}

	if _, err := m.monitor.RefreshOne(ctx, "p1"); err != nil {
		t.Fatalf("RefreshOne: %v", err)
	}
	msg := readMessage(ctx, t, conn)
	if msg.Type != msgStatusChanged {
		t.Errorf("frame type = %q, want %q", msg.Type, msgStatusChanged)
	}
}

func TestStream_ClosedOnStop(t *testing.T) {
	m, _ := newTestModule(t)

	srv := httptest.NewServer(http.HandlerFunc(m.handleStream))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()
	readMessage(ctx, t, conn)

	require.Eventually(t, func() bool { return m.hub.count() == 1 }, time.Second, 5*time.Millisecond)
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	_, _, err = conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Errorf("close status = %v, want StatusGoingAway (err %v)", websocket.CloseStatus(err), err)
	}
}

func TestHub_DropsForSlowClients(t *testing.T) {
	m, _ := newTestModule(t)
	c, ok := m.hub.add()
	if !ok {
		t.Fatal("add failed")
	}
	for range wsSendBuffer + 10 {
		m.hub.broadcast(msgError, map[string]string{"device_id": "p1"})
	}
	if len(c.send) != wsSendBuffer {
		t.Errorf("buffered = %d, want %d", len(c.send), wsSendBuffer)
	}
	m.hub.remove(c)
	m.hub.remove(c)
}
