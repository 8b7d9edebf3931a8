package ingest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/danmuck/bluetrace/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	maxEventBody = 64 * 1024
)

// streamFrame carries one sensor event. Body has the same shape as the POST
// body of /sensor/{event}.
type streamFrame struct {
	Event string          `json:"event"`
	Body  json.RawMessage `json:"body"`
}

type streamReply struct {
	Seq    uint64   `json:"seq"`
	Event  string   `json:"event"`
	Status string   `json:"status,omitempty"`
	Target string   `json:"target,omitempty"`
	Errors []string `json:"errors,omitempty"`
	Error  string   `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleStream lets a sensing transport push events over one long-lived
// connection. Every frame gets exactly one reply, in order.
func (s *Server) handleStream(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warnf("ingest.Server.handleStream upgrade failed err=%v", err)
		return
	}
	s.serveStream(ws)
}

func (s *Server) serveStream(ws *websocket.Conn) {
	defer ws.Close()
	ws.SetReadLimit(maxEventBody)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-s.stop:
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
					time.Now().Add(writeWait))
				_ = ws.Close()
				return
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	var limit interface{ Allow() bool }
	if s.limiter != nil {
		limit = s.limiter.newLimiter()
	}

	var seq uint64
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Warnf("ingest.Server.serveStream read failed id=%q err=%v", s.ID, err)
			}
			return
		}
		seq++
		reply := s.streamEvent(seq, raw, limit)
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteJSON(reply); err != nil {
			return
		}
	}
}

func (s *Server) streamEvent(seq uint64, raw []byte, limit interface{ Allow() bool }) streamReply {
	var frame streamFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return streamReply{Seq: seq, Error: "invalid frame: " + err.Error()}
	}
	reply := streamReply{Seq: seq, Event: frame.Event}
	if limit != nil && !limit.Allow() {
		reply.Error = "rate limit exceeded"
		return reply
	}
	target, deliverErr, err := s.apply(frame.Event, frame.Body)
	if err != nil {
		reply.Error = err.Error()
		return reply
	}
	reply.Status = "accepted"
	reply.Target = target.String()
	if deliverErr != nil {
		reply.Errors = splitErrors(deliverErr)
	}
	return reply
}
