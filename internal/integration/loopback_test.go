// Package integration wires a real serverhandlers.Server and
// clienthandlers.Client together over an in-memory loopback transport,
// exercising end-to-end protocol-runtime scenarios without any real network
// or mixnet dependency.
package integration

import (
	"context"

	"nymquest/internal/transport"
)

// loopbackHub is a minimal in-process stand-in for the mixnet, used only to
// drive client/server integration tests.
type loopbackHub struct {
	toServer chan loopbackMsg
	toClient chan loopbackMsg
}

type loopbackMsg struct {
	payload []byte
	token   transport.ReplyToken
}

func newLoopbackHub() *loopbackHub {
	return &loopbackHub{
		toServer: make(chan loopbackMsg, 64),
		toClient: make(chan loopbackMsg, 64),
	}
}

// loopbackClientSide implements transport.Transport for the client end.
type loopbackClientSide struct {
	hub  *loopbackHub
	addr string
}

func (c *loopbackClientSide) Send(ctx context.Context, recipient string, payload []byte) error {
	select {
	case c.hub.toServer <- loopbackMsg{payload: payload, token: "client"}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *loopbackClientSide) Recv(ctx context.Context) ([]byte, transport.ReplyToken, error) {
	select {
	case m := <-c.hub.toClient:
		return m.payload, m.token, nil
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}
}

func (c *loopbackClientSide) Address() string   { return c.addr }
func (c *loopbackClientSide) Disconnect() error { return nil }

// loopbackServerSide implements transport.Transport for the server end.
type loopbackServerSide struct {
	hub  *loopbackHub
	addr string
}

func (s *loopbackServerSide) Send(ctx context.Context, recipient string, payload []byte) error {
	select {
	case s.hub.toClient <- loopbackMsg{payload: payload, token: transport.ReplyToken(recipient)}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *loopbackServerSide) Recv(ctx context.Context) ([]byte, transport.ReplyToken, error) {
	select {
	case m := <-s.hub.toServer:
		return m.payload, m.token, nil
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}
}

func (s *loopbackServerSide) Address() string   { return s.addr }
func (s *loopbackServerSide) Disconnect() error { return nil }

func newLoopbackPair() (client transport.Transport, server transport.Transport) {
	hub := newLoopbackHub()
	return &loopbackClientSide{hub: hub, addr: "server.loopback"}, &loopbackServerSide{hub: hub, addr: "server.loopback"}
}
