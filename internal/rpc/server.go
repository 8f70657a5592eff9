package rpc

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/agentcore/runtime/internal/runtime"
)

const (
	maxPayloadBytes = 1 << 20
	writeWait       = 10 * time.Second
	pongWait        = 45 * time.Second
	pingInterval    = 20 * time.Second
)

// Server upgrades HTTP requests to the JSON-RPC-over-websocket transport
// and dispatches each connection's requests against a runtime.Manager: an
// upgrader as http.Handler, one read-loop/write-loop goroutine pair with a
// buffered send channel per connection.
type Server struct {
	manager  *runtime.Manager
	tokens   *TokenService
	upgrader websocket.Upgrader
}

// NewServer builds a Server dispatching against manager, signing session
// handles with tokens.
func NewServer(manager *runtime.Manager, tokens *TokenService) *Server {
	return &Server{
		manager: manager,
		tokens:  tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and runs it until the client
// disconnects or the server is shut down.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &rpcConn{
		server: s,
		conn:   conn,
		send:   make(chan []byte, 64),
		ctx:    ctx,
		cancel: cancel,
		id:     uuid.NewString(),
		subs:   make(map[string]func()),
	}
	c.run()
}
