package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ClientTransport is the client-side mixnet stand-in. Each Connect call
// mints a fresh ephemeral identity and storage directory — a reconnect after
// failure always starts from a clean identity, matching spec §4.7.
type ClientTransport struct {
	storageBase string

	mu      sync.Mutex
	conn    *websocket.Conn
	id      string
	dir     string
	server  string
	inbound chan []byte
	closed  chan struct{}
}

// NewClientTransport creates a ClientTransport that stores ephemeral
// identity state under storageBase (a temp directory is fine).
func NewClientTransport(storageBase string) *ClientTransport {
	return &ClientTransport{storageBase: storageBase}
}

// Connect dials serverAddr (host:port as saved by discovery), minting a
// fresh identity.
func (c *ClientTransport) Connect(ctx context.Context, serverAddr string) error {
	id, err := newEphemeralID()
	if err != nil {
		return err
	}
	dir, err := newIdentityStorage(c.storageBase, id)
	if err != nil {
		return err
	}

	u := url.URL{Scheme: "ws", Host: serverAddr, Path: "/mixnet"}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", serverAddr, err)
	}

	c.mu.Lock()
	c.id = id
	c.dir = dir
	c.server = serverAddr
	c.conn = conn
	c.inbound = make(chan []byte, 64)
	c.closed = make(chan struct{})
	inbound := c.inbound
	closed := c.closed
	c.mu.Unlock()

	go c.readLoop(conn, inbound, closed)
	return nil
}

func (c *ClientTransport) readLoop(conn *websocket.Conn, inbound chan []byte, closed chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case inbound <- data:
		case <-closed:
			return
		}
	}
}

// Reconnect tears down the current identity entirely (closing the socket and
// removing its storage directory) and establishes a fresh one, per spec
// §4.7 ("Reconnection creates a fresh identity and fresh storage").
func (c *ClientTransport) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	oldDir := c.dir
	oldConn := c.conn
	c.mu.Unlock()

	if oldConn != nil {
		_ = oldConn.Close()
	}
	if oldDir != "" {
		_ = os.RemoveAll(oldDir)
	}

	c.mu.Lock()
	server := c.server
	c.mu.Unlock()
	return c.Connect(ctx, server)
}

// Send writes payload to the server. recipient is ignored — the client has
// exactly one peer, the server it dialed.
func (c *ClientTransport) Send(_ context.Context, _ string, payload []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("transport: not connected")
	}
	return conn.WriteMessage(websocket.BinaryMessage, payload)
}

// Recv returns the next inbound payload from the server. The token is
// always the server's address, since a client has one peer.
func (c *ClientTransport) Recv(ctx context.Context) ([]byte, ReplyToken, error) {
	c.mu.Lock()
	inbound := c.inbound
	server := c.server
	closed := c.closed
	c.mu.Unlock()
	if inbound == nil {
		return nil, "", errors.New("transport: not connected")
	}
	select {
	case data, ok := <-inbound:
		if !ok {
			return nil, "", errors.New("transport: connection closed")
		}
		return data, ReplyToken(server), nil
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case <-closed:
		return nil, "", errors.New("transport: closed")
	}
}

// Address returns this client's current ephemeral identity.
func (c *ClientTransport) Address() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Disconnect tears down the current identity and its storage.
func (c *ClientTransport) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	dir := c.dir
	closed := c.closed
	c.mu.Unlock()

	if closed != nil {
		select {
		case <-closed:
		default:
			close(closed)
		}
	}
	var err error
	if conn != nil {
		err = conn.Close()
	}
	if dir != "" {
		_ = os.RemoveAll(dir)
	}
	return err
}
