package httpserver

import (
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/tinytelemetry/tunnelscope/internal/model"
)

const (
	streamBuffer  = 64
	streamBacklog = 50
	writeWait     = 10 * time.Second
	pingPeriod    = 30 * time.Second
)

// checkOrigin accepts non-browser clients and same-host pages.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

func (s *Server) handleRecentEvents(c *gin.Context) {
	if s.deps.Events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream is disabled"})
		return
	}
	n := streamBacklog
	if raw := c.Query("n"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			n = v
		}
	}
	events := s.deps.Events.Recent(n)
	out := make([]model.EventEnvelope, 0, len(events))
	for _, e := range events {
		out = append(out, model.Envelope(e))
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

// handleEventStream upgrades to a websocket, replays recent events and then
// forwards every new event as a JSON envelope.
func (s *Server) handleEventStream(c *gin.Context) {
	if s.deps.Events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream is disabled"})
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: checkOrigin}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("httpserver: websocket upgrade error: %v", err)
		return
	}

	sub := s.deps.Events.Subscribe(streamBuffer)
	backlog := s.deps.Events.Recent(streamBacklog)
	remote := c.Request.RemoteAddr
	log.Printf("httpserver: event stream client connected: %s", remote)

	// Reader: detect client close.
	go func() {
		defer sub.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		defer func() {
			sub.Close()
			conn.Close()
			log.Printf("httpserver: event stream client disconnected: %s", remote)
		}()

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for _, e := range backlog {
			if err := writeEvent(conn, e); err != nil {
				return
			}
		}
		for {
			select {
			case e, ok := <-sub.C:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
					return
				}
				if err := writeEvent(conn, e); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			case <-s.ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(writeWait))
				return
			}
		}
	}()
}

func writeEvent(conn *websocket.Conn, e model.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(model.Envelope(e))
}
