// Package clienthandlers implements the client endpoint's message dispatch
// of spec §4.10: verify auth, check replay, cancel the matching pending
// retry, then apply the message to locally observable state.
package clienthandlers

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"nymquest/internal/authtag"
	"nymquest/internal/config"
	"nymquest/internal/nethealth"
	"nymquest/internal/protocol"
	"nymquest/internal/rateshape"
	"nymquest/internal/replay"
	"nymquest/internal/retry"
	"nymquest/internal/transport"
	"nymquest/internal/wire"
)

const chatHistoryCap = 100

// ChatEntry is one line of the bounded chat/whisper history ring buffer.
type ChatEntry struct {
	SenderName string
	Text       string
	Whisper    bool
	At         time.Time
}

// Client is the observable, locally-cached view of the authoritative server
// state, plus the machinery (auth, replay, retry, pacing) needed to talk to
// it reliably over the transport.
type Client struct {
	transport transport.Transport
	key       authtag.Key
	replay    *replay.Tracker
	retries   *retry.Tracker
	shaper    *rateshape.Shaper
	health    *nethealth.Monitor
	cfg       config.ClientConfig

	seq       atomic.Uint64
	startedAt time.Time

	mu              sync.Mutex
	playerID        string
	worldBounds     protocol.WorldBounds
	players         map[string]protocol.Player
	chatHistory     []ChatEntry
	lastEvent       string
	lastError       string
	lastWhisperFrom string
	registered      bool
}

// New constructs a Client.
func New(t transport.Transport, key authtag.Key, rep *replay.Tracker, retries *retry.Tracker, shaper *rateshape.Shaper, health *nethealth.Monitor, cfg config.ClientConfig) *Client {
	return &Client{
		transport: t,
		key:       key,
		replay:    rep,
		retries:   retries,
		shaper:    shaper,
		health:    health,
		cfg:       cfg,
		startedAt: time.Now(),
		players:   make(map[string]protocol.Player),
	}
}

// PlayerCount implements status.Source (the number of players in the
// client's last known game state).
func (c *Client) PlayerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.players)
}

// Health implements status.Source.
func (c *Client) Health() *nethealth.Monitor { return c.health }

// Retries implements status.Source.
func (c *Client) Retries() *retry.Tracker { return c.retries }

// Uptime implements status.Source.
func (c *Client) Uptime() time.Duration { return time.Since(c.startedAt) }

// Run receives inbound server messages until ctx is canceled.
func (c *Client) Run(ctx context.Context) error {
	for {
		payload, _, err := c.transport.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[clienthandlers] recv: %v", err)
			continue
		}
		c.handleInbound(ctx, payload)
	}
}

func (c *Client) handleInbound(ctx context.Context, payload []byte) {
	c.health.RecordReceive()

	msg, authenticated, err := wire.Decode[wire.ServerMessage](payload, c.key, time.Now())
	if err != nil {
		log.Printf("[clienthandlers] decode: %v", err)
		return
	}
	if !authenticated {
		log.Printf("[clienthandlers] dropping unauthenticated server message")
		return
	}
	if c.replay.Process("server", msg.Seq) {
		return
	}

	// Cancel the matching pending retry: an explicit Ack carries the
	// original client seq; any other kind implicitly acknowledges the
	// oldest pending entry of that request's kind (spec §4.5/§9).
	if msg.Kind == wire.ServerAck && msg.Ack != nil {
		c.retries.AckExplicit(msg.Ack.ClientSeq)
	} else {
		c.retries.AckImplicit(clientKindForResponse(msg.Kind))
	}

	// Every inbound server message except a server Ack itself gets an
	// explicit client Ack back (spec §4.10), mirroring serverhandlers'
	// sendAck for inbound client messages.
	if msg.Kind != wire.ServerAck {
		c.sendAck(ctx, msg.Seq, msg.Kind)
	}

	switch msg.Kind {
	case wire.ServerRegisterAck:
		c.applyRegisterAck(msg)
	case wire.ServerGameState:
		c.applyGameState(msg)
	case wire.ServerEvent:
		c.applyEvent(msg)
	case wire.ServerChatMessage:
		c.applyChat(msg)
	case wire.ServerWhisperMessage:
		c.applyWhisper(msg)
	case wire.ServerError:
		c.applyError(msg)
	case wire.ServerHeartbeatReq:
		c.sendHeartbeat(ctx)
	case wire.ServerPlayerLeft:
		c.applyPlayerLeft(msg)
	case wire.ServerPlayerUpdate:
		c.applyPlayerUpdate(msg)
	case wire.ServerAck:
		// handled above
	default:
		log.Printf("[clienthandlers] unknown server message kind %q", msg.Kind)
	}
}

// clientKindForResponse maps a server response kind to the client request
// kind it implicitly acknowledges.
func clientKindForResponse(k wire.ServerKind) retry.Kind {
	switch k {
	case wire.ServerRegisterAck:
		return retry.Kind(wire.ClientRegister)
	case wire.ServerPlayerUpdate:
		return retry.Kind(wire.ClientMove)
	case wire.ServerEvent:
		return retry.Kind(wire.ClientAttack)
	case wire.ServerChatMessage:
		return retry.Kind(wire.ClientChat)
	case wire.ServerWhisperMessage:
		return retry.Kind(wire.ClientWhisper)
	default:
		return ""
	}
}

func (c *Client) applyRegisterAck(msg wire.ServerMessage) {
	if msg.RegisterAck == nil {
		return
	}
	c.mu.Lock()
	c.playerID = msg.RegisterAck.PlayerID
	c.worldBounds = msg.RegisterAck.WorldBounds
	c.registered = true
	c.mu.Unlock()
}

func (c *Client) applyGameState(msg wire.ServerMessage) {
	if msg.GameState == nil {
		return
	}
	c.mu.Lock()
	c.players = msg.GameState.Players
	c.mu.Unlock()
}

func (c *Client) applyEvent(msg wire.ServerMessage) {
	if msg.Event == nil {
		return
	}
	c.mu.Lock()
	c.lastEvent = msg.Event.Text
	c.mu.Unlock()
}

func (c *Client) applyChat(msg wire.ServerMessage) {
	if msg.Chat == nil {
		return
	}
	c.pushChatHistory(ChatEntry{SenderName: msg.Chat.SenderName, Text: msg.Chat.Text, At: time.Now()})
}

func (c *Client) applyWhisper(msg wire.ServerMessage) {
	if msg.Whisper == nil {
		return
	}
	c.mu.Lock()
	c.lastWhisperFrom = msg.Whisper.SenderName
	c.mu.Unlock()
	c.pushChatHistory(ChatEntry{SenderName: msg.Whisper.SenderName, Text: msg.Whisper.Text, Whisper: true, At: time.Now()})
}

func (c *Client) pushChatHistory(e ChatEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chatHistory = append(c.chatHistory, e)
	if len(c.chatHistory) > chatHistoryCap {
		c.chatHistory = c.chatHistory[len(c.chatHistory)-chatHistoryCap:]
	}
}

func (c *Client) applyError(msg wire.ServerMessage) {
	if msg.Error == nil {
		return
	}
	c.mu.Lock()
	c.lastError = msg.Error.Text
	c.mu.Unlock()
}

func (c *Client) applyPlayerLeft(msg wire.ServerMessage) {
	if msg.PlayerLeft == nil {
		return
	}
	c.mu.Lock()
	for id, p := range c.players {
		if p.DisplayID == msg.PlayerLeft.DisplayID {
			delete(c.players, id)
			break
		}
	}
	c.mu.Unlock()
}

func (c *Client) applyPlayerUpdate(msg wire.ServerMessage) {
	if msg.PlayerUpdate == nil {
		return
	}
	c.mu.Lock()
	for id, p := range c.players {
		if p.DisplayID == msg.PlayerUpdate.DisplayID {
			p.Position = msg.PlayerUpdate.Position
			p.Health = msg.PlayerUpdate.Health
			c.players[id] = p
			break
		}
	}
	c.mu.Unlock()
}

// Players returns a copy of the last known game state.
func (c *Client) Players() map[string]protocol.Player {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]protocol.Player, len(c.players))
	for k, v := range c.players {
		out[k] = v
	}
	return out
}

// ChatHistory returns a copy of the bounded chat/whisper history.
func (c *Client) ChatHistory() []ChatEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChatEntry, len(c.chatHistory))
	copy(out, c.chatHistory)
	return out
}

func (c *Client) nextSeq() uint64 {
	return c.seq.Add(1)
}

func (c *Client) send(ctx context.Context, kind retry.Kind, cm wire.ClientMessage) error {
	if cm.Kind == wire.ClientAck {
		if !c.shaper.AllowAck() {
			return fmt.Errorf("clienthandlers: ack blocked")
		}
	} else if err := c.shaper.Wait(ctx); err != nil {
		return err
	}
	data, err := wire.Encode(cm, c.key, cm.Seq, nil)
	if err != nil {
		return fmt.Errorf("clienthandlers: encode: %w", err)
	}
	if err := c.transport.Send(ctx, c.transport.Address(), data); err != nil {
		c.health.RecordSend(false)
		return err
	}
	c.health.RecordSend(true)
	if cm.Kind != wire.ClientAck {
		c.retries.Track(cm.Seq, kind, data, "")
	}
	return nil
}

// Register sends a Register request.
func (c *Client) Register(ctx context.Context, name string, faction protocol.Faction) error {
	cm := wire.ClientMessage{
		Kind:     wire.ClientRegister,
		Seq:      c.nextSeq(),
		Register: &wire.RegisterBody{Name: name, Faction: faction, ProtocolVersion: 1},
	}
	return c.send(ctx, retry.Kind(wire.ClientRegister), cm)
}

// Move sends a Move request.
func (c *Client) Move(ctx context.Context, dir protocol.Direction) error {
	cm := wire.ClientMessage{Kind: wire.ClientMove, Seq: c.nextSeq(), Move: &wire.MoveBody{Direction: dir}}
	return c.send(ctx, retry.Kind(wire.ClientMove), cm)
}

// Attack sends an Attack request.
func (c *Client) Attack(ctx context.Context, targetDisplayID string) error {
	cm := wire.ClientMessage{Kind: wire.ClientAttack, Seq: c.nextSeq(), Attack: &wire.AttackBody{TargetDisplayID: targetDisplayID}}
	return c.send(ctx, retry.Kind(wire.ClientAttack), cm)
}

// Chat sends a broadcast chat message.
func (c *Client) Chat(ctx context.Context, message string) error {
	cm := wire.ClientMessage{Kind: wire.ClientChat, Seq: c.nextSeq(), Chat: &wire.ChatBody{Message: message}}
	return c.send(ctx, retry.Kind(wire.ClientChat), cm)
}

// Whisper sends a private message to targetDisplayID.
func (c *Client) Whisper(ctx context.Context, targetDisplayID, message string) error {
	cm := wire.ClientMessage{
		Kind:    wire.ClientWhisper,
		Seq:     c.nextSeq(),
		Whisper: &wire.WhisperBody{TargetDisplayID: targetDisplayID, Message: message},
	}
	return c.send(ctx, retry.Kind(wire.ClientWhisper), cm)
}

// Emote sends a validated emote.
func (c *Client) Emote(ctx context.Context, kind protocol.EmoteKind) error {
	if !protocol.ValidEmotes[kind] {
		return fmt.Errorf("clienthandlers: invalid emote %q", kind)
	}
	cm := wire.ClientMessage{Kind: wire.ClientEmote, Seq: c.nextSeq(), Emote: &wire.EmoteBody{Kind: kind}}
	return c.send(ctx, retry.Kind(wire.ClientEmote), cm)
}

// ReplyToLastWhisper sends message to whoever last whispered this client
// (a supplemented feature absent from the distilled spec but present in the
// original implementation).
func (c *Client) ReplyToLastWhisper(ctx context.Context, message string) error {
	c.mu.Lock()
	target := c.lastWhisperFrom
	c.mu.Unlock()
	if target == "" {
		return fmt.Errorf("clienthandlers: no prior whisper to reply to")
	}
	return c.Whisper(ctx, target, message)
}

// sendAck acknowledges an inbound server message of kind. Acks bypass the
// retry table entirely (send's ClientAck guard) and go through the shaper's
// AllowAck instead of Wait, skipping pacing and the token bucket, so they
// cannot themselves be starved by reliable traffic.
func (c *Client) sendAck(ctx context.Context, serverSeq uint64, kind wire.ServerKind) {
	cm := wire.ClientMessage{
		Kind: wire.ClientAck,
		Seq:  c.nextSeq(),
		Ack:  &wire.ClientAckBody{ServerSeq: serverSeq, OriginalKind: kind},
	}
	_ = c.send(ctx, retry.Kind(wire.ClientAck), cm)
}

func (c *Client) sendHeartbeat(ctx context.Context) {
	cm := wire.ClientMessage{Kind: wire.ClientHeartbeat, Seq: c.nextSeq()}
	_ = c.send(ctx, retry.Kind(wire.ClientHeartbeat), cm)
}

// Disconnect notifies the server of a clean disconnect.
func (c *Client) Disconnect(ctx context.Context) error {
	cm := wire.ClientMessage{Kind: wire.ClientDisconnect, Seq: c.nextSeq()}
	return c.send(ctx, retry.Kind(wire.ClientDisconnect), cm)
}

// RunRetryLoop drives the pending-ack sweep on an interval, resending
// unacknowledged requests. A Register resend additionally sleeps a uniform
// random [500ms, 1500ms) delay before re-emission (spec §4.5's jittered
// registration backoff), since a rejected Register is far more disruptive
// to retry aggressively than any other request kind.
func (c *Client) RunRetryLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.retries.Sweep(func(e retry.Entry) error {
				if e.Kind == retry.Kind(wire.ClientRegister) {
					if d, err := registerBackoff(); err == nil {
						select {
						case <-time.After(d):
						case <-ctx.Done():
							return ctx.Err()
						}
					}
				}
				return c.transport.Send(ctx, c.transport.Address(), e.Payload)
			}, func(e retry.Entry) {
				log.Printf("[clienthandlers] giving up on seq %d (kind %s) after %d retries", e.Seq, e.Kind, e.Retries)
			})
		}
	}
}

func registerBackoff() (time.Duration, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000))
	if err != nil {
		return 0, err
	}
	return 500*time.Millisecond + time.Duration(n.Int64())*time.Millisecond, nil
}
