package transport

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// inboundMsg pairs a received payload with the token that can answer it.
type inboundMsg struct {
	payload []byte
	token   ReplyToken
}

// ServerTransport is the server-side mixnet stand-in: it accepts websocket
// connections and treats each one as a distinct anonymous sender, identified
// by a ReplyToken. This mirrors bken's server.go websocket-upgrade pattern.
// A connection gets one ReplyToken when it is accepted; every message read
// from it carries that same token, and the token can be used for any number
// of Sends until the connection closes or is evicted.
type ServerTransport struct {
	addr     string
	upgrader websocket.Upgrader
	httpSrv  *http.Server

	mu    sync.Mutex
	conns map[ReplyToken]*websocket.Conn

	inbound chan inboundMsg
	closed  chan struct{}
	once    sync.Once
}

// NewServerTransport creates a ServerTransport listening on addr (the same
// station the discovery file will advertise).
func NewServerTransport(addr string) *ServerTransport {
	return &ServerTransport{
		addr:     addr,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		conns:    make(map[ReplyToken]*websocket.Conn),
		inbound:  make(chan inboundMsg, 256),
		closed:   make(chan struct{}),
	}
}

// Listen starts the HTTP server accepting mixnet-simulating websocket
// upgrades and blocks until ctx is canceled.
func (s *ServerTransport) Listen(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/mixnet", func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[transport] upgrade failed: %v", err)
			return
		}
		s.acceptConn(conn)
	})

	s.httpSrv = &http.Server{Addr: s.addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
	}()

	err := s.httpSrv.ListenAndServe()
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *ServerTransport) acceptConn(conn *websocket.Conn) {
	token, err := newEphemeralID()
	if err != nil {
		log.Printf("[transport] token generation failed: %v", err)
		_ = conn.Close()
		return
	}
	rt := ReplyToken(token)

	s.mu.Lock()
	s.conns[rt] = conn
	s.mu.Unlock()

	go s.readLoop(rt, conn)
}

func (s *ServerTransport) readLoop(token ReplyToken, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			delete(s.conns, token)
			s.mu.Unlock()
			return
		}
		select {
		case s.inbound <- inboundMsg{payload: data, token: token}:
		case <-s.closed:
			return
		}
	}
}

// Send writes payload to the connection identified by recipient, which must
// be a ReplyToken string previously observed from Recv.
func (s *ServerTransport) Send(_ context.Context, recipient string, payload []byte) error {
	s.mu.Lock()
	conn, ok := s.conns[ReplyToken(recipient)]
	s.mu.Unlock()
	if !ok {
		return errors.New("transport: unknown reply token")
	}
	return conn.WriteMessage(websocket.BinaryMessage, payload)
}

// Recv returns the next inbound message from any connected peer.
func (s *ServerTransport) Recv(ctx context.Context) ([]byte, ReplyToken, error) {
	select {
	case m := <-s.inbound:
		return m.payload, m.token, nil
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case <-s.closed:
		return nil, "", errors.New("transport: closed")
	}
}

// Address returns the listen address a client would dial.
func (s *ServerTransport) Address() string { return s.addr }

// Disconnect closes every connection and stops accepting new ones.
func (s *ServerTransport) Disconnect() error {
	s.once.Do(func() { close(s.closed) })
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, token)
	}
	if s.httpSrv != nil {
		return s.httpSrv.Close()
	}
	return nil
}

// Evict forcibly drops the connection for token, used when a broadcast send
// fails and the associated player must be removed (spec §4.9).
func (s *ServerTransport) Evict(token ReplyToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conn, ok := s.conns[token]; ok {
		_ = conn.Close()
		delete(s.conns, token)
	}
}
