package subgraph

import (
	"net/http"
	"time"

	"github.com/danmuck/gema/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	streamWriteWait = 5 * time.Second
	streamPongWait  = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// StreamMessage is one frame of a value stream.
type StreamMessage struct {
	Data map[string]int64 `json:"data"`
}

// handleStream serves a subscription operation over a WebSocket. Each change
// is one text frame {"data":{"<name>":N}}. The stream ends with a close frame
// when the client leaves, the node shuts down or the subscriber falls behind.
func (s *Server) handleStream(c *gin.Context) {
	op, ok := s.tagOperation(c, c.Query("operationName"))
	if !ok || op.Kind != KindSubscription {
		c.JSON(http.StatusNotFound, errorBody(ErrUnknownOperation))
		return
	}
	if !websocket.IsWebSocketUpgrade(c.Request) {
		c.JSON(http.StatusBadRequest, gin.H{"errors": []ResponseError{{Message: "websocket upgrade required"}}})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("stream upgrade failed")
		return
	}
	defer conn.Close()

	sub := s.node.Subscribe()
	defer s.node.Unsubscribe(sub)
	s.logger.Debug().Str("operation", op.Name).Msg("stream opened")

	// Client frames are ignored; reading detects the client going away.
	left := make(chan struct{})
	go func() {
		defer close(left)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		}
	}()

	ping := time.NewTicker(streamPongWait / 2)
	defer ping.Stop()

	for {
		select {
		case <-left:
			s.logger.Debug().Str("operation", op.Name).Msg("stream closed by client")
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		case v, ok := <-sub.C():
			if !ok {
				if sub.Dropped() {
					observability.TagOutcome(c, "dropped")
				}
				s.closeStream(conn, sub.Dropped())
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(StreamMessage{Data: map[string]int64{op.Name: v}}); err != nil {
				s.logger.Debug().Err(err).Msg("stream write failed")
				return
			}
		}
	}
}

func (s *Server) closeStream(conn *websocket.Conn, dropped bool) {
	code, reason := websocket.CloseGoingAway, "shutting down"
	if dropped {
		code, reason = websocket.CloseTryAgainLater, "subscriber fell behind"
		s.logger.Warn().Msg("stream ended: subscriber fell behind")
	}
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteWait))
}
