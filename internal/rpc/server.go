// Package rpc serves node status over HTTP and streams consensus events to
// websocket subscribers.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// maxBodySize bounds HTTP request bodies.
const maxBodySize = 1 << 20

// Config holds server settings.
type Config struct {
	// Address is the listen address, e.g. 127.0.0.1:6006.
	Address string `mapstructure:"address"`

	// SendBuffer is the number of messages queued per websocket client
	// before it is considered slow.
	SendBuffer int `mapstructure:"send_buffer"`

	// ReadTimeout bounds a websocket client's silence between pongs.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Address:     "127.0.0.1:6006",
		SendBuffer:  256,
		ReadTimeout: 60 * time.Second,
	}
}

// Server answers JSON requests and upgrades websocket connections. It is
// also a consensus.EventSubscriber that forwards events to streams.
type Server struct {
	config  Config
	backend Backend
	methods map[string]handler
	ws      *WebSocketServer
	log     *logrus.Entry
}

// NewServer creates a server reporting on backend.
func NewServer(config Config, backend Backend, log *logrus.Entry) *Server {
	if config.SendBuffer <= 0 {
		config.SendBuffer = 256
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 60 * time.Second
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{
		config:  config,
		backend: backend,
		log:     log.WithField("component", "rpc"),
	}
	s.registerMethods()
	s.ws = newWebSocketServer(s, config, s.log)
	return s
}

// WebSocket returns the websocket side of the server.
func (s *Server) WebSocket() *WebSocketServer { return s.ws }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.ws.ServeHTTP(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch r.Method {
	case http.MethodGet:
		method := r.URL.Query().Get("command")
		if method == "" {
			method = "server_info"
		}
		result, rpcErr := s.execute(method, nil)
		s.writeResult(w, result, rpcErr)
	case http.MethodPost:
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			s.writeResult(w, nil, &Error{Code: "internal", Message: "failed to read request body"})
			return
		}
		var req Request
		if err := json.Unmarshal(body, &req); err != nil {
			s.writeResult(w, nil, &Error{Code: "jsonInvalid", Message: err.Error()})
			return
		}
		var params json.RawMessage
		if len(req.Params) > 0 {
			params = req.Params[0]
		}
		result, rpcErr := s.execute(req.Method, params)
		s.writeResult(w, result, rpcErr)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// writeResult wraps the result as {"result": {..., "status": ...}}.
func (s *Server) writeResult(w http.ResponseWriter, result interface{}, rpcErr *Error) {
	out := map[string]interface{}{}
	if rpcErr != nil {
		out["status"] = "error"
		out["error"] = rpcErr.Code
		out["error_message"] = rpcErr.Message
	} else {
		raw, err := json.Marshal(result)
		if err == nil {
			err = json.Unmarshal(raw, &out)
		}
		if err != nil {
			s.log.WithError(err).Error("Failed to encode result")
			out = map[string]interface{}{"status": "error", "error": "internal"}
		} else {
			out["status"] = "success"
		}
	}
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"result": out}); err != nil {
		s.log.WithError(err).Debug("Failed to write response")
	}
}

// ListenAndServe serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.ws.CloseAll()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.WithField("address", ln.Addr().String()).Info("RPC server listening")
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
