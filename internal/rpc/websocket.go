package rpc

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeTimeout = 10 * time.Second
	maxReadSize  = 512 * 1024
)

// WebSocketServer manages websocket clients and their stream
// subscriptions.
type WebSocketServer struct {
	server   *Server
	upgrader websocket.Upgrader
	config   Config
	log      *logrus.Entry

	nextID uint64
	mu     sync.RWMutex
	conns  map[uint64]*wsConn
}

type wsConn struct {
	id   uint64
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	mu      sync.RWMutex
	streams map[StreamType]struct{}
}

func (c *wsConn) subscribed(stream StreamType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.streams[stream]
	return ok
}

func newWebSocketServer(server *Server, config Config, log *logrus.Entry) *WebSocketServer {
	return &WebSocketServer{
		server: server,
		upgrader: websocket.Upgrader{
			// the server binds to an admin address
			CheckOrigin: func(*http.Request) bool { return true },
		},
		config: config,
		log:    log,
		conns:  make(map[uint64]*wsConn),
	}
}

// ServeHTTP upgrades the request and starts the client's loops.
func (ws *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.log.WithError(err).Debug("WebSocket upgrade failed")
		return
	}

	c := &wsConn{
		id:      atomic.AddUint64(&ws.nextID, 1),
		conn:    conn,
		send:    make(chan []byte, ws.config.SendBuffer),
		done:    make(chan struct{}),
		streams: make(map[StreamType]struct{}),
	}
	ws.mu.Lock()
	ws.conns[c.id] = c
	ws.mu.Unlock()

	ws.log.WithFields(logrus.Fields{"conn": c.id, "remote": conn.RemoteAddr().String()}).Debug("WebSocket client connected")
	go ws.writeLoop(c)
	go ws.readLoop(c)
}

// Clients returns the number of connected clients.
func (ws *WebSocketServer) Clients() int {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return len(ws.conns)
}

// Subscribers returns the number of clients subscribed to stream.
func (ws *WebSocketServer) Subscribers(stream StreamType) int {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	n := 0
	for _, c := range ws.conns {
		if c.subscribed(stream) {
			n++
		}
	}
	return n
}

func (ws *WebSocketServer) readLoop(c *wsConn) {
	defer ws.close(c)

	timeout := ws.config.ReadTimeout
	c.conn.SetReadLimit(maxReadSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(timeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.log.WithError(err).WithField("conn", c.id).Debug("WebSocket read failed")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
		ws.handle(c, data)
	}
}

func (ws *WebSocketServer) writeLoop(c *wsConn) {
	ping := time.NewTicker(ws.config.ReadTimeout * 9 / 10)
	defer ping.Stop()
	defer ws.close(c)

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				ws.log.WithError(err).WithField("conn", c.id).Debug("WebSocket send failed")
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ws *WebSocketServer) handle(c *wsConn, data []byte) {
	var cmd WebSocketCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		ws.reply(c, WebSocketResponse{Type: "response", Status: "error", Error: "jsonInvalid", Message: err.Error()})
		return
	}

	resp := WebSocketResponse{Type: "response", ID: cmd.ID, Status: "success"}
	switch cmd.Command {
	case "subscribe", "unsubscribe":
		if len(cmd.Streams) == 0 {
			resp.Status, resp.Error, resp.Message = "error", "invalidParams", "no streams given"
			break
		}
		for _, s := range cmd.Streams {
			if !s.valid() {
				resp.Status, resp.Error, resp.Message = "error", "malformedStream", "unknown stream "+string(s)
				break
			}
		}
		if resp.Status != "success" {
			break
		}
		c.mu.Lock()
		for _, s := range cmd.Streams {
			if cmd.Command == "subscribe" {
				c.streams[s] = struct{}{}
			} else {
				delete(c.streams, s)
			}
		}
		c.mu.Unlock()
		resp.Result = struct{}{}
	default:
		result, rpcErr := ws.server.execute(cmd.Command, cmd.Params)
		if rpcErr != nil {
			resp.Status, resp.Error, resp.Message = "error", rpcErr.Code, rpcErr.Message
		} else {
			resp.Result = result
		}
	}
	ws.reply(c, resp)
}

func (ws *WebSocketServer) reply(c *wsConn, resp WebSocketResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		ws.log.WithError(err).Error("Failed to encode websocket response")
		return
	}
	ws.enqueue(c, data)
}

// enqueue hands data to the client's writer. Clients that fall behind are
// disconnected.
func (ws *WebSocketServer) enqueue(c *wsConn, data []byte) {
	select {
	case c.send <- data:
	case <-c.done:
	default:
		ws.log.WithField("conn", c.id).Warn("Dropping slow websocket client")
		ws.close(c)
	}
}

// Broadcast sends msg to every client subscribed to stream.
func (ws *WebSocketServer) Broadcast(stream StreamType, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		ws.log.WithError(err).WithField("stream", stream).Error("Failed to encode stream message")
		return
	}

	ws.mu.RLock()
	targets := make([]*wsConn, 0, len(ws.conns))
	for _, c := range ws.conns {
		if c.subscribed(stream) {
			targets = append(targets, c)
		}
	}
	ws.mu.RUnlock()

	for _, c := range targets {
		ws.enqueue(c, data)
	}
}

func (ws *WebSocketServer) close(c *wsConn) {
	c.once.Do(func() {
		close(c.done)
		ws.mu.Lock()
		delete(ws.conns, c.id)
		ws.mu.Unlock()
		_ = c.conn.Close()
		ws.log.WithField("conn", c.id).Debug("WebSocket client disconnected")
	})
}

// CloseAll disconnects every client.
func (ws *WebSocketServer) CloseAll() {
	ws.mu.RLock()
	all := make([]*wsConn, 0, len(ws.conns))
	for _, c := range ws.conns {
		all = append(all, c)
	}
	ws.mu.RUnlock()
	for _, c := range all {
		ws.close(c)
	}
}
