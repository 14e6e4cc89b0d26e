package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sentinelprime/synckit/bus"
	"github.com/sentinelprime/synckit/errors"
)

const wsMaxMessageSize = 1 << 20 // 1MB

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // Override in production
}

// frame is the wire format for every outbound websocket message. Type
// carries the bus topic, or "sync.snapshot" / "error".
type frame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// patchFrame is the only inbound message shape.
type patchFrame struct {
	Role   string         `json:"role"`
	Fields map[string]any `json:"fields"`
}

// wsClient holds one connection and its bus subscription. Writes come
// from both the event pump and the read loop, so they share a mutex.
type wsClient struct {
	conn *websocket.Conn
	sub  bus.Subscription

	writeMu      sync.Mutex
	writeTimeout time.Duration

	done      chan struct{}
	closeOnce sync.Once
	delivered uint64
}

// handleWS upgrades the connection, subscribes it to the bus and
// streams sync events until the client disconnects.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("websocket upgrade failed", map[string]any{
			"remote": r.RemoteAddr,
			"error":  err.Error(),
		})
		return
	}
	conn.SetReadLimit(wsMaxMessageSize)

	sub, err := g.svc.Bus().Subscribe(g.cfg.SubscribeOptions(""))
	if err != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "bus unavailable"),
			time.Now().Add(time.Second),
		)
		conn.Close()
		return
	}

	client := &wsClient{
		conn:         conn,
		sub:          sub,
		writeTimeout: g.cfg.Server.WriteTimeout.Duration,
		done:         make(chan struct{}),
	}
	g.log.ClientConnected(r.RemoteAddr, sub.ID())

	// Snapshot first so the client can apply updates against a known
	// baseline.
	if err := client.writeFrame(frame{Type: "sync.snapshot", Data: g.svc.SyncSnapshot()}); err != nil {
		client.shutdown()
		g.log.ClientDisconnected(r.RemoteAddr, 0)
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		g.eventPump(client)
	}()
	go func() {
		defer wg.Done()
		g.readLoop(client)
	}()
	wg.Wait()

	if n := sub.Dropped(); n > 0 {
		g.log.EventsDropped(sub.ID(), g.cfg.Bus.Policy, n)
	}
	g.log.ClientDisconnected(r.RemoteAddr, client.delivered)
}

// eventPump forwards bus events to the websocket. Idle gaps double as
// the keepalive schedule.
func (g *Gateway) eventPump(c *wsClient) {
	defer c.shutdown()

	idle := g.cfg.Server.PingInterval.Duration
	if idle <= 0 {
		idle = 30 * time.Second
	}

	for {
		select {
		case <-c.done:
			return
		default:
		}

		event, err := c.sub.Next(idle)
		switch {
		case err == nil:
			if werr := c.writeFrame(frame{Type: event.Topic, Data: event.Payload}); werr != nil {
				return
			}
			c.delivered++
		case err == bus.ErrEmpty:
			if !c.writePing() {
				return
			}
		default:
			// Subscription closed from under us.
			return
		}
	}
}

// readLoop consumes inbound patch frames and applies them. Failures
// go back to this client only; successful patches reach it through
// the bus like everyone else's.
func (g *Gateway) readLoop(c *wsClient) {
	defer c.shutdown()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var patch patchFrame
		if err := json.Unmarshal(data, &patch); err != nil {
			c.writeError(errors.InvalidInput("malformed patch frame", errors.WithCause(err)))
			continue
		}

		if _, err := g.svc.SyncUpdate(context.Background(), patch.Role, patch.Fields); err != nil {
			c.writeError(err)
		}
	}
}

func (c *wsClient) writeFrame(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsClient) writeError(err error) {
	c.writeFrame(frame{Type: "error", Data: map[string]any{
		"code":    string(errors.Code(err)),
		"message": err.Error(),
	}})
}

func (c *wsClient) writePing() bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)) == nil
}

// shutdown tears the connection down once, from whichever loop exits
// first.
func (c *wsClient) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.sub.Unsubscribe()
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.conn.Close()
	})
}
