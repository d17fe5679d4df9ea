// Package ws bridges gorilla websockets into the room hub.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/avdeev/cobrowse/internal/hub"
	"github.com/avdeev/cobrowse/internal/monitoring"
)

var ErrBackpressure = errors.New("backpressure")

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Controller struct {
	Hub        *hub.Hub
	ReadLimit  int64
	PingPeriod time.Duration
}

// wsConn adapts one websocket to hub.Conn. Sends go through a bounded
// channel; a full channel counts as a failed write so a stalled reader
// cannot back up the whole room.
type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// HandleRoom upgrades the request and runs the connection's pumps.
// The client-token cookie seeds the generated identity for clients
// that never send a hello.
func (ctl *Controller) HandleRoom(ctx context.Context, c *gin.Context) {
	code := c.Param("code")
	token := c.GetString("client_token")

	sock, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Str("module", "transport.ws").Err(err).Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		sock.SetReadLimit(ctl.ReadLimit)
	}

	conn := &wsConn{
		conn: sock,
		send: make(chan []byte, 32),
	}
	ctl.Hub.Join(code, conn, token)
	monitoring.RoomConnections.Inc()
	log.Info().Str("module", "transport.ws").Str("room", code).Msg("new room connection")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, code, conn)
}

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	period := ctl.PingPeriod
	if period <= 0 {
		period = 54 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Str("module", "transport.ws").Err(err).Msg("write failed")
				return
			}
		}
	}
}

// readPump feeds inbound frames to the hub until the connection dies
// for any reason; there is no rejoining with the same identity.
func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, code string, c *wsConn) {
	defer func() {
		ctl.Hub.Leave(code, c)
		c.Close()
		cancel()
		monitoring.RoomConnections.Dec()
		log.Info().Str("module", "transport.ws").Str("room", code).Msg("room connection closed")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				return
			}
			ctl.Hub.HandleInbound(code, c, data)
		}
	}
}
