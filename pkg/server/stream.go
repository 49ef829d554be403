package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hookline-dev/hookline/pkg/hub"
)

const (
	// writeWait bounds each outbound frame write.
	writeWait = 10 * time.Second
	// maxInboundSize caps client messages; clients only send pings.
	maxInboundSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The dashboard may be served from any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStream handles GET /stream: upgrade, replay the recent backlog as a
// single initial frame, then relay live events until the client goes away.
//
// All writes happen on one goroutine draining the subscription channel.
// The read loop answers client pings by offering a pong frame onto that
// same channel, never by writing directly.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error.
		s.logger.Warn("stream upgrade failed", "error", err)
		return
	}

	sub, err := s.hub.Subscribe(r.Context())
	if err != nil {
		s.logger.Error("stream subscribe failed", "error", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "backlog unavailable"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	s.obs.RecordSubscriber(r.Context(), 1)
	defer func() {
		s.hub.Unsubscribe(sub)
		s.obs.RecordSubscriber(r.Context(), -1)
		_ = conn.Close()
	}()

	go s.writeFrames(conn, sub)
	s.readLoop(conn, sub)
}

// writeFrames drains the subscription onto the socket. It exits when the
// hub closes the channel or a write fails.
func (s *Server) writeFrames(conn *websocket.Conn, sub *hub.Subscription) {
	for frame := range sub.Frames() {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(frame); err != nil {
			s.hub.Unsubscribe(sub)
			return
		}
	}
	// Channel closed: the hub dropped us. Tell the client why.
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "dropped"),
		time.Now().Add(writeWait))
	_ = conn.Close()
}

// readLoop consumes inbound messages. Any text message counts as a ping
// and earns a pong frame; everything else is ignored.
//
// There is no read deadline: a silent subscriber stays connected until it
// disconnects or falls behind far enough to be dropped for backpressure.
func (s *Server) readLoop(conn *websocket.Conn, sub *hub.Subscription) {
	conn.SetReadLimit(maxInboundSize)

	for {
		msgType, _, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType == websocket.TextMessage {
			if !sub.Offer(hub.Frame{Type: hub.FramePong}) {
				return
			}
		}
	}
}
