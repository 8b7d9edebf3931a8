package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/bluetrace/internal/sensor"
	"github.com/gorilla/websocket"
)

func dialStream(t *testing.T, s *Server) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(s.HTTPRouter())
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sensor/stream"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	return ws, func() {
		ws.Close()
		srv.Close()
	}
}

func exchange(t *testing.T, ws *websocket.Conn, frame string) streamReply {
	t.Helper()
	if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply streamReply
	if err := ws.ReadJSON(&reply); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	return reply
}

func TestStreamDeliversEvents(t *testing.T) {
	sink := &captureDelegate{}
	s := newTestServer(t, sink)
	ws, closeAll := dialStream(t, s)
	defer closeAll()

	r := exchange(t, ws, `{"event":"measure","body":{"target":"t1","value":-70,"payload":{"data":"kQB8ADA="}}}`)
	if r.Seq != 1 || r.Status != "accepted" || r.Target != "t1" || r.Error != "" {
		t.Fatalf("unexpected reply %+v", r)
	}
	ev := sink.last(t)
	if ev.event != "measure" || ev.proximity.Value != -70 || ev.payload == nil {
		t.Fatalf("unexpected event %+v", ev)
	}

	r = exchange(t, ws, `{"event":"teleport","body":{}}`)
	if r.Seq != 2 || r.Error == "" {
		t.Fatalf("expected unknown event error, got %+v", r)
	}
	r = exchange(t, ws, `not json`)
	if r.Seq != 3 || r.Error == "" {
		t.Fatalf("expected invalid frame error, got %+v", r)
	}
	r = exchange(t, ws, `{"event":"state","body":{"state":"off"}}`)
	if r.Seq != 4 || r.Status != "accepted" {
		t.Fatalf("stream did not survive bad frames: %+v", r)
	}
	if ev := sink.last(t); ev.state != sensor.StateOff {
		t.Fatalf("unexpected state %q", ev.state)
	}
}

func TestStreamRateLimited(t *testing.T) {
	sink := &captureDelegate{}
	s := newTestServer(t, sink, WithRateLimit(2))
	ws, closeAll := dialStream(t, s)
	defer closeAll()

	for i := 0; i < 2; i++ {
		if r := exchange(t, ws, `{"event":"detect","body":{"target":"t1"}}`); r.Status != "accepted" {
			t.Fatalf("frame %d rejected: %+v", i, r)
		}
	}
	if r := exchange(t, ws, `{"event":"detect","body":{"target":"t1"}}`); r.Error != "rate limit exceeded" {
		t.Fatalf("expected rate limit, got %+v", r)
	}
}

func TestPostRateLimited(t *testing.T) {
	s := newTestServer(t, sensor.NopDelegate{}, WithRateLimit(1))
	if rr, _ := do(t, s, http.MethodPost, "/sensor/detect", `{"target":"t1"}`); rr.Code != http.StatusAccepted {
		t.Fatalf("first request rejected: %d", rr.Code)
	}
	if rr, _ := do(t, s, http.MethodPost, "/sensor/detect", `{"target":"t1"}`); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr, _ := do(t, s, http.MethodGet, "/health", ""); rr.Code != http.StatusOK {
		t.Fatalf("health should not be limited: %d", rr.Code)
	}
}

func TestServeClosesStreamsOnShutdown(t *testing.T) {
	s := newTestServer(t, sensor.NopDelegate{})
	s.Addr = "127.0.0.1:0"
	ws, closeAll := dialStream(t, s)
	defer closeAll()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("serve: %v", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Fatalf("expected stream to close on shutdown")
	}
}
