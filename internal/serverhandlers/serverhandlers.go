// Package serverhandlers implements the authoritative server's message
// dispatch of spec §4.9: verify auth, check replay, acknowledge, then route
// to the gamestate mutation the message kind calls for.
package serverhandlers

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync/atomic"
	"time"

	"nymquest/internal/auditlog"
	"nymquest/internal/authtag"
	"nymquest/internal/config"
	"nymquest/internal/gamestate"
	"nymquest/internal/nethealth"
	"nymquest/internal/persistence"
	"nymquest/internal/protocol"
	"nymquest/internal/rateshape"
	"nymquest/internal/replay"
	"nymquest/internal/retry"
	"nymquest/internal/transport"
	"nymquest/internal/wire"
)

// Server wires every C1-C9 component into the dispatch loop of C10.
type Server struct {
	transport transport.Transport
	state     *gamestate.State
	key       authtag.Key
	replay    *replay.Tracker
	retries   *retry.Tracker
	shaper    *rateshape.Shaper
	health    *nethealth.Monitor
	store     *persistence.Store
	audit     *auditlog.Log
	cfg       config.ServerConfig

	seq       atomic.Uint64
	startedAt time.Time

	lastWhisperFrom map[string]string // playerID -> last whisper sender's displayID, for future extension hooks
}

// New constructs a Server ready to run. audit may be nil (audit logging
// disabled).
func New(t transport.Transport, state *gamestate.State, key authtag.Key, rep *replay.Tracker, retries *retry.Tracker, shaper *rateshape.Shaper, health *nethealth.Monitor, store *persistence.Store, audit *auditlog.Log, cfg config.ServerConfig) *Server {
	return &Server{
		transport:       t,
		state:           state,
		key:             key,
		replay:          rep,
		retries:         retries,
		shaper:          shaper,
		health:          health,
		store:           store,
		audit:           audit,
		cfg:             cfg,
		startedAt:       time.Now(),
		lastWhisperFrom: make(map[string]string),
	}
}

// PlayerCount implements status.Source.
func (s *Server) PlayerCount() int { return s.state.Count() }

// Health implements status.Source.
func (s *Server) Health() *nethealth.Monitor { return s.health }

// Retries implements status.Source.
func (s *Server) Retries() *retry.Tracker { return s.retries }

// Uptime implements status.Source.
func (s *Server) Uptime() time.Duration { return time.Since(s.startedAt) }

// Run receives inbound messages until ctx is canceled, dispatching each in
// its own goroutine so a slow handler never blocks the receive loop.
func (s *Server) Run(ctx context.Context) error {
	for {
		payload, token, err := s.transport.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[serverhandlers] recv: %v", err)
			continue
		}
		go s.handleInbound(ctx, payload, token)
	}
}

func (s *Server) handleInbound(ctx context.Context, payload []byte, token transport.ReplyToken) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[serverhandlers] recovered from panic handling message from %s: %v", token, r)
		}
	}()
	s.health.RecordReceive()

	msg, authenticated, err := wire.Decode[wire.ClientMessage](payload, s.key, time.Now())
	if err != nil {
		log.Printf("[serverhandlers] decode: %v", err)
		return
	}
	if !authenticated {
		// Spec §4.2/§9: a message that fails authentication is dropped
		// outright, never processed or acknowledged.
		log.Printf("[serverhandlers] dropping unauthenticated message from %s", token)
		return
	}

	if s.replay.Process(string(token), msg.Seq) {
		log.Printf("[serverhandlers] replay dropped: token=%s seq=%d", token, msg.Seq)
		return
	}

	playerID, hasPlayer := s.state.PlayerIDForToken(token)
	if hasPlayer {
		s.state.RefreshToken(playerID, token)
		s.state.TouchHeartbeat(playerID, time.Now().Unix())
	}

	if msg.Kind != wire.ClientAck {
		s.sendAck(ctx, token, msg.Seq, msg.Kind)
	}

	switch msg.Kind {
	case wire.ClientRegister:
		s.handleRegister(ctx, token, msg)
	case wire.ClientMove:
		s.handleMove(ctx, playerID, hasPlayer, msg)
	case wire.ClientAttack:
		s.handleAttack(ctx, playerID, hasPlayer, msg)
	case wire.ClientChat:
		s.handleChat(ctx, playerID, hasPlayer, msg)
	case wire.ClientWhisper:
		s.handleWhisper(ctx, playerID, hasPlayer, msg)
	case wire.ClientEmote:
		s.handleEmote(ctx, playerID, hasPlayer, msg)
	case wire.ClientDisconnect:
		s.handleDisconnect(ctx, playerID, hasPlayer, token)
	case wire.ClientHeartbeat:
		// TouchHeartbeat already ran above; nothing further to do.
	case wire.ClientAck:
		s.handleClientAck(msg)
	default:
		log.Printf("[serverhandlers] unknown client message kind %q", msg.Kind)
	}
}

func (s *Server) nextSeq() uint64 {
	return s.seq.Add(1)
}

func (s *Server) send(ctx context.Context, token transport.ReplyToken, sm wire.ServerMessage) {
	if sm.Kind == wire.ServerAck {
		if !s.shaper.AllowAck() {
			return
		}
	} else if err := s.shaper.Wait(ctx); err != nil {
		return
	}
	data, err := wire.Encode(sm, s.key, sm.Seq, nil)
	if err != nil {
		log.Printf("[serverhandlers] encode: %v", err)
		return
	}
	if err := s.transport.Send(ctx, string(token), data); err != nil {
		s.health.RecordSend(false)
		if st, ok := s.transport.(interface{ Evict(transport.ReplyToken) }); ok {
			st.Evict(token)
		}
		s.state.RemoveByToken(token)
		return
	}
	s.health.RecordSend(true)
	if sm.Kind != wire.ServerAck {
		s.retries.Track(sm.Seq, retry.Kind(sm.Kind), data, string(token))
	}
}

func (s *Server) sendAck(ctx context.Context, token transport.ReplyToken, clientSeq uint64, kind wire.ClientKind) {
	sm := wire.ServerMessage{
		Kind: wire.ServerAck,
		Seq:  s.nextSeq(),
		Ack:  &wire.ServerAckBody{ClientSeq: clientSeq, OriginalKind: kind},
	}
	s.send(ctx, token, sm)
}

func (s *Server) handleClientAck(msg wire.ClientMessage) {
	if msg.Ack == nil {
		return
	}
	s.retries.AckExplicit(msg.Ack.ServerSeq)
}

func (s *Server) handleRegister(ctx context.Context, token transport.ReplyToken, msg wire.ClientMessage) {
	if msg.Register == nil {
		return
	}
	name := msg.Register.Name
	if len(name) == 0 || len(name) > s.cfg.MaxPlayerNameLength {
		s.sendError(ctx, token, "invalid player name")
		return
	}
	if !protocol.ValidFactions[msg.Register.Faction] {
		s.sendError(ctx, token, "invalid faction")
		return
	}

	id, err := s.state.AddPlayer(name, msg.Register.Faction, token)
	if err != nil {
		s.sendError(ctx, token, fmt.Sprintf("registration failed: %v", err))
		return
	}
	if s.audit != nil {
		s.audit.Record(id, "register", name)
	}

	sm := wire.ServerMessage{
		Kind: wire.ServerRegisterAck,
		Seq:  s.nextSeq(),
		RegisterAck: &wire.RegisterAckBody{
			PlayerID:          id,
			NegotiatedVersion: msg.Register.ProtocolVersion,
			WorldBounds:       s.state.Bounds(),
		},
	}
	s.send(ctx, token, sm)
	s.broadcastGameState(ctx)
}

func (s *Server) handleMove(ctx context.Context, playerID string, hasPlayer bool, msg wire.ClientMessage) {
	if !hasPlayer || msg.Move == nil {
		return
	}
	p, ok := s.state.Get(playerID)
	if !ok {
		return
	}
	dx, dy, valid := msg.Move.Direction.Vector()
	if !valid {
		return
	}
	newPos := protocol.Position{
		X: p.Position.X + dx*s.cfg.MovementSpeed,
		Y: p.Position.Y + dy*s.cfg.MovementSpeed,
	}
	if !s.state.UpdatePosition(playerID, newPos) {
		return
	}
	updated, _ := s.state.Get(playerID)
	s.broadcastUpdate(ctx, updated)
}

func (s *Server) handleAttack(ctx context.Context, playerID string, hasPlayer bool, msg wire.ClientMessage) {
	if !hasPlayer || msg.Attack == nil {
		return
	}
	now := time.Now().Unix()
	if !s.state.CanAttack(playerID, now, s.cfg.AttackCooldownSeconds) {
		return
	}
	attacker, ok := s.state.Get(playerID)
	if !ok {
		return
	}
	targetID, ok := s.state.PlayerIDForDisplayID(msg.Attack.TargetDisplayID)
	if !ok {
		return
	}
	target, ok := s.state.Get(targetID)
	if !ok {
		return
	}
	if attacker.Position.DistanceTo(target.Position) > s.cfg.AttackRange {
		return
	}

	s.state.TouchLastAttack(playerID, now)
	damage, crit := s.rollDamage()
	defeated, _ := s.state.ApplyDamage(targetID, damage)
	s.state.AwardExperience(playerID, 10)
	if defeated {
		s.state.AwardExperience(playerID, 25)
	}
	if s.audit != nil {
		s.audit.Record(playerID, "attack", msg.Attack.TargetDisplayID)
	}

	text := fmt.Sprintf("%s attacked %s for %d", attacker.DisplayID, target.DisplayID, damage)
	if crit {
		text = fmt.Sprintf("%s critically attacked %s for %d", attacker.DisplayID, target.DisplayID, damage)
	}
	if defeated {
		text = fmt.Sprintf("%s defeated %s", attacker.DisplayID, target.DisplayID)
	}
	s.broadcastEvent(ctx, text)
	if after, ok := s.state.Get(targetID); ok {
		s.broadcastUpdate(ctx, after)
	}
}

// rollDamage computes an attack's damage per spec §4.9: base × (crit ?
// multiplier : 1), with the roll decided by CritChance. Gameplay
// randomness, not security-sensitive, so it uses the package-level
// math/rand source shared with gamestate's spawn placement.
func (s *Server) rollDamage() (damage int, crit bool) {
	crit = rand.Float64() < s.cfg.CritChance
	if crit {
		return int(float64(s.cfg.BaseDamage) * s.cfg.CritMultiplier), true
	}
	return s.cfg.BaseDamage, false
}

func (s *Server) handleChat(ctx context.Context, playerID string, hasPlayer bool, msg wire.ClientMessage) {
	if !hasPlayer || msg.Chat == nil {
		return
	}
	if len(msg.Chat.Message) == 0 || len(msg.Chat.Message) > s.cfg.MaxChatMessageLength {
		return
	}
	sender, ok := s.state.Get(playerID)
	if !ok {
		return
	}
	s.broadcastChat(ctx, sender.DisplayID, msg.Chat.Message)
}

func (s *Server) handleWhisper(ctx context.Context, playerID string, hasPlayer bool, msg wire.ClientMessage) {
	if !hasPlayer || msg.Whisper == nil {
		return
	}
	if len(msg.Whisper.Message) == 0 || len(msg.Whisper.Message) > s.cfg.MaxChatMessageLength {
		return
	}
	sender, ok := s.state.Get(playerID)
	if !ok {
		return
	}
	targetID, ok := s.state.PlayerIDForDisplayID(msg.Whisper.TargetDisplayID)
	if !ok {
		return
	}
	token, ok := s.state.TokenForPlayer(targetID)
	if !ok {
		return
	}
	s.lastWhisperFrom[targetID] = sender.DisplayID
	sm := wire.ServerMessage{
		Kind: wire.ServerWhisperMessage,
		Seq:  s.nextSeq(),
		Whisper: &wire.WhisperMessageBody{
			SenderName: sender.DisplayID,
			Text:       msg.Whisper.Message,
		},
	}
	s.send(ctx, token, sm)
}

func (s *Server) handleEmote(ctx context.Context, playerID string, hasPlayer bool, msg wire.ClientMessage) {
	if !hasPlayer || msg.Emote == nil {
		return
	}
	if !protocol.ValidEmotes[msg.Emote.Kind] {
		return
	}
	p, ok := s.state.Get(playerID)
	if !ok {
		return
	}
	s.broadcastEventExcept(ctx, playerID, fmt.Sprintf("%s %ss", p.DisplayID, msg.Emote.Kind))
}

func (s *Server) handleDisconnect(ctx context.Context, playerID string, hasPlayer bool, token transport.ReplyToken) {
	if !hasPlayer {
		return
	}
	p, _ := s.state.Get(playerID)
	if _, ok := s.state.RemoveByToken(token); ok {
		if s.audit != nil {
			s.audit.Record(playerID, "disconnect", "")
		}
		s.replay.Forget(string(token))
		s.broadcastPlayerLeft(ctx, p.DisplayID)
	}
}

func (s *Server) broadcastPlayerLeft(ctx context.Context, displayID string) {
	sm := wire.ServerMessage{Kind: wire.ServerPlayerLeft, Seq: s.nextSeq(), PlayerLeft: &wire.PlayerLeftBody{DisplayID: displayID}}
	for _, tok := range s.state.ConnectionTokens() {
		s.send(ctx, tok, sm)
	}
}

func (s *Server) sendError(ctx context.Context, token transport.ReplyToken, text string) {
	sm := wire.ServerMessage{
		Kind:  wire.ServerError,
		Seq:   s.nextSeq(),
		Error: &wire.ErrorBody{Text: text},
	}
	s.send(ctx, token, sm)
}

func (s *Server) broadcastEvent(ctx context.Context, text string) {
	sm := wire.ServerMessage{Kind: wire.ServerEvent, Seq: s.nextSeq(), Event: &wire.EventBody{Text: text}}
	for _, tok := range s.state.ConnectionTokens() {
		s.send(ctx, tok, sm)
	}
}

func (s *Server) broadcastEventExcept(ctx context.Context, exceptID string, text string) {
	exceptToken, _ := s.state.TokenForPlayer(exceptID)
	sm := wire.ServerMessage{Kind: wire.ServerEvent, Seq: s.nextSeq(), Event: &wire.EventBody{Text: text}}
	for _, tok := range s.state.ConnectionTokens() {
		if tok == exceptToken {
			continue
		}
		s.send(ctx, tok, sm)
	}
}

func (s *Server) broadcastChat(ctx context.Context, senderName, text string) {
	sm := wire.ServerMessage{
		Kind: wire.ServerChatMessage,
		Seq:  s.nextSeq(),
		Chat: &wire.ChatMessageBody{SenderName: senderName, Text: text},
	}
	for _, tok := range s.state.ConnectionTokens() {
		s.send(ctx, tok, sm)
	}
}

func (s *Server) broadcastUpdate(ctx context.Context, p protocol.Player) {
	sm := wire.ServerMessage{
		Kind: wire.ServerPlayerUpdate,
		Seq:  s.nextSeq(),
		PlayerUpdate: &wire.PlayerUpdateBody{
			DisplayID: p.DisplayID,
			Position:  p.Position,
			Health:    p.Health,
		},
	}
	for _, tok := range s.state.ConnectionTokens() {
		s.send(ctx, tok, sm)
	}
}

func (s *Server) broadcastGameState(ctx context.Context) {
	snapshot := s.state.Snapshot()
	sm := wire.ServerMessage{Kind: wire.ServerGameState, Seq: s.nextSeq(), GameState: &wire.GameStateBody{Players: snapshot}}
	for _, tok := range s.state.ConnectionTokens() {
		s.send(ctx, tok, sm)
	}
}

// RunBroadcastLoop periodically pushes the full game state to every
// connected client (spec §4.9's background broadcast loop).
func (s *Server) RunBroadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.StateBroadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcastGameState(ctx)
		}
	}
}

// RunInactivitySweep periodically drops players whose heartbeat has lapsed
// beyond HeartbeatTimeoutSeconds.
func (s *Server) RunInactivitySweep(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.InactiveCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().Unix()
			for _, id := range s.state.InactiveIDs(now, s.cfg.HeartbeatTimeoutSeconds) {
				if token, ok := s.state.TokenForPlayer(id); ok {
					p, _ := s.state.Get(id)
					s.state.RemoveByToken(token)
					s.replay.Forget(string(token))
					if s.audit != nil {
						s.audit.Record(id, "timeout", "")
					}
					s.broadcastPlayerLeft(ctx, p.DisplayID)
				}
			}
		}
	}
}

// RunHeartbeatLoop asks every client to heartbeat on an interval (spec §4.9).
func (s *Server) RunHeartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.cfg.HeartbeatIntervalSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm := wire.ServerMessage{Kind: wire.ServerHeartbeatReq, Seq: s.nextSeq()}
			for _, tok := range s.state.ConnectionTokens() {
				s.send(ctx, tok, sm)
			}
		}
	}
}

// RunPersistenceLoop periodically snapshots game state to disk.
func (s *Server) RunPersistenceLoop(ctx context.Context, interval time.Duration) {
	if s.store == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.saveSnapshot()
			return
		case <-ticker.C:
			s.saveSnapshot()
		}
	}
}

func (s *Server) saveSnapshot() {
	snap := s.state.Snapshot()
	if err := s.store.Save(snap, s.state.Bounds(), time.Now()); err != nil {
		log.Printf("[serverhandlers] snapshot save: %v", err)
	}
}

// RunRetrySweep periodically resends unacknowledged reliable messages
// (spec §4.5/§9's acknowledged-messaging layer applied to the server's
// outbound direction, mirroring clienthandlers.RunRetryLoop).
func (s *Server) RunRetrySweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.retries.Sweep(func(e retry.Entry) error {
				return s.transport.Send(ctx, e.Recipient, e.Payload)
			}, func(e retry.Entry) {
				log.Printf("[serverhandlers] giving up on seq %d (kind %s) after %d retries", e.Seq, e.Kind, e.Retries)
			})
		}
	}
}
