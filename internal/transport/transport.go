// Package transport defines the mixnet-facing adapter of spec §4.7/§6. The
// real nym mixnet SDK is an external collaborator (spec §1); this package
// defines the narrow interface the protocol runtime consumes and a
// websocket-based local/dev adapter that honors the same contract: an
// ephemeral per-process identity with its own storage directory, and
// opaque single-use reply tokens for routing replies back to an anonymous
// sender.
package transport

import "context"

// ReplyToken is the opaque handle a server uses to address exactly one
// reply back to whichever anonymous sender produced it (spec §4.7).
type ReplyToken string

// Transport is the minimal surface the protocol runtime needs from the
// underlying mixnet (or its local stand-in).
type Transport interface {
	// Send transmits payload to recipient. For a client, recipient is the
	// server's published address; for a server, recipient is a ReplyToken
	// string captured from an earlier Recv.
	Send(ctx context.Context, recipient string, payload []byte) error

	// Recv blocks until the next inbound payload arrives, returning it
	// along with an opaque reply token usable exactly once to answer it.
	Recv(ctx context.Context) (payload []byte, token ReplyToken, err error)

	// Address returns this node's own ephemeral address (what a peer would
	// use as the recipient in Send).
	Address() string

	// Disconnect tears down the identity and releases its storage.
	Disconnect() error
}
