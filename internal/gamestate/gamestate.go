// Package gamestate implements the authoritative, server-side game-state
// mutation engine of spec §4.8: the player map, connection map, and
// heartbeat map, all mutated under one exclusive lock shared by the maps.
package gamestate

import (
	"errors"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"nymquest/internal/protocol"
	"nymquest/internal/transport"
)

// ErrAtCapacity is returned by AddPlayer when the player map is full.
var ErrAtCapacity = errors.New("gamestate: at capacity")

// displayPrefixes is the word list used to build a privacy-preserving
// public display id (spec §4.8 / §9 open question — this rewrite picks the
// random prefix+digits scheme exclusively).
var displayPrefixes = []string{
	"Hero", "Warrior", "Knight", "Scout", "Ranger", "Mage", "Nomad", "Shadow",
}

// connEntry pairs a player's internal id with the transport reply token used
// to reach them (spec §3's Connection record).
type connEntry struct {
	playerID string
	token    transport.ReplyToken
}

// State is the authoritative game state. All exported mutators take the
// single lock for the duration of the mutation only — callers must not hold
// it across a network send (spec §5).
type State struct {
	mu sync.Mutex

	players     map[string]*protocol.Player
	connections map[string]connEntry // keyed by token, for O(1) token->player lookups
	tokenByID   map[string]transport.ReplyToken
	heartbeats  map[string]int64

	bounds          protocol.WorldBounds
	maxPlayers      int
	collisionRadius float32
	initialHealth   int
}

// Config bundles the parameters State needs from the validated server
// configuration.
type Config struct {
	Bounds          protocol.WorldBounds
	MaxPlayers      int
	CollisionRadius float32
	InitialHealth   int
}

// New creates an empty State.
func New(cfg Config) *State {
	return &State{
		players:         make(map[string]*protocol.Player),
		connections:     make(map[string]connEntry),
		tokenByID:       make(map[string]transport.ReplyToken),
		heartbeats:      make(map[string]int64),
		bounds:          cfg.Bounds,
		maxPlayers:      cfg.MaxPlayers,
		collisionRadius: cfg.CollisionRadius,
		initialHealth:   cfg.InitialHealth,
	}
}

// nowUnix is overridable in tests.
var nowUnix = func() int64 { return time.Now().Unix() }

// AddPlayer registers a new player, returning its internal id. The
// last_attack/heartbeat stamps come from nowUnix, which tests can override.
func (s *State) AddPlayer(name string, faction protocol.Faction, token transport.ReplyToken) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.players) >= s.maxPlayers {
		return "", ErrAtCapacity
	}

	id := uuid.NewString()
	displayID := s.generateDisplayIDLocked()
	pos := s.generatePositionLocked()
	now := nowUnix()

	p := &protocol.Player{
		ID:             id,
		DisplayID:      displayID,
		Name:           name,
		Position:       pos,
		Health:         s.initialHealth,
		LastAttackTime: now,
		Faction:        faction,
		Experience:     0,
		Level:          1,
	}
	s.players[id] = p
	s.connections[string(token)] = connEntry{playerID: id, token: token}
	s.tokenByID[id] = token
	s.heartbeats[id] = now
	return id, nil
}

// generateDisplayIDLocked picks a random Prefix+3-digit display id, checked
// for uniqueness up to 100 attempts, falling back to an 8-char hex suffix.
func (s *State) generateDisplayIDLocked() string {
	for attempt := 0; attempt < 100; attempt++ {
		prefix := displayPrefixes[rand.Intn(len(displayPrefixes))]
		suffix := 100 + rand.Intn(900)
		candidate := prefix + strconv.Itoa(suffix)
		if !s.displayIDTakenLocked(candidate) {
			return candidate
		}
	}
	return "Hero" + hex8()
}

func (s *State) displayIDTakenLocked(candidate string) bool {
	for _, p := range s.players {
		if p.DisplayID == candidate {
			return true
		}
	}
	return false
}

// generatePositionLocked picks a random world position at least
// collisionRadius away from every other player (100 attempts, else any
// random position), clamped to bounds.
func (s *State) generatePositionLocked() protocol.Position {
	for attempt := 0; attempt < 100; attempt++ {
		pos := s.randomPositionLocked()
		if !s.tooCloseLocked(pos, "") {
			return pos
		}
	}
	return s.randomPositionLocked()
}

func (s *State) randomPositionLocked() protocol.Position {
	x := s.bounds.MinX + rand.Float32()*(s.bounds.MaxX-s.bounds.MinX)
	y := s.bounds.MinY + rand.Float32()*(s.bounds.MaxY-s.bounds.MinY)
	return s.bounds.ClampPosition(protocol.Position{X: x, Y: y})
}

func (s *State) tooCloseLocked(pos protocol.Position, excludeID string) bool {
	for id, p := range s.players {
		if id == excludeID {
			continue
		}
		if pos.DistanceTo(p.Position) < s.collisionRadius {
			return true
		}
	}
	return false
}

// RemoveByToken removes the player and connection associated with token,
// returning the internal id if one was present.
func (s *State) RemoveByToken(token transport.ReplyToken) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.connections[string(token)]
	if !ok {
		return "", false
	}
	delete(s.connections, string(token))
	delete(s.tokenByID, entry.playerID)
	delete(s.players, entry.playerID)
	delete(s.heartbeats, entry.playerID)
	return entry.playerID, true
}

// PlayerIDForToken resolves token to its internal player id.
func (s *State) PlayerIDForToken(token transport.ReplyToken) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.connections[string(token)]
	return entry.playerID, ok
}

// TokenForPlayer resolves a player's internal id to its current reply
// token. Tokens are refreshed on every inbound message (spec §9), so this
// always reflects the most recent one.
func (s *State) TokenForPlayer(id string) (transport.ReplyToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokenByID[id]
	return t, ok
}

// RefreshToken updates the reply token recorded for id, as required by the
// mixnet's single-use-reply semantics (spec §9).
func (s *State) RefreshToken(id string, token transport.ReplyToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.tokenByID[id]; ok {
		delete(s.connections, string(old))
	}
	s.tokenByID[id] = token
	s.connections[string(token)] = connEntry{playerID: id, token: token}
}

// PlayerIDForDisplayID resolves a public display id to an internal id.
func (s *State) PlayerIDForDisplayID(displayID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.players {
		if p.DisplayID == displayID {
			return id, true
		}
	}
	return "", false
}

// Get returns a copy of the player record, if present.
func (s *State) Get(id string) (protocol.Player, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[id]
	if !ok {
		return protocol.Player{}, false
	}
	return *p, true
}

// Snapshot returns a copy of every player, suitable for a broadcast or
// persistence pass — the lock is released before any I/O uses the result.
func (s *State) Snapshot() map[string]protocol.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]protocol.Player, len(s.players))
	for id, p := range s.players {
		out[id] = *p
	}
	return out
}

// ConnectionTokens returns every live reply token, for broadcast fan-out.
func (s *State) ConnectionTokens() []transport.ReplyToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transport.ReplyToken, 0, len(s.connections))
	for _, e := range s.connections {
		out = append(out, e.token)
	}
	return out
}

// UpdatePosition clamps newPos to world bounds and, if no other player is
// within the collision radius, writes it. Returns false on collision.
func (s *State) UpdatePosition(id string, newPos protocol.Position) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[id]
	if !ok {
		return false
	}
	clamped := s.bounds.ClampPosition(newPos)
	if s.tooCloseLocked(clamped, id) {
		return false
	}
	p.Position = clamped
	return true
}

// ApplyDamage subtracts amount from target's health. If health would reach
// zero or below, the target is healed to full and respawned at a random
// position (defeated=true); otherwise health is decremented in place.
func (s *State) ApplyDamage(targetID string, amount int) (defeated bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.players[targetID]
	if !exists {
		return false, false
	}
	if p.Health-amount <= 0 {
		p.Health = s.initialHealth
		p.Position = s.randomPositionLocked()
		return true, true
	}
	p.Health -= amount
	return false, true
}

// AwardExperience grants xp to id and recomputes its level (SPEC_FULL.md
// leveling extension).
func (s *State) AwardExperience(id string, xp uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[id]
	if !ok {
		return
	}
	p.Experience += xp
	p.Level = protocol.LevelForExperience(p.Experience)
}

// CanAttack reports whether cooldownSeconds has elapsed since id's last
// attack.
func (s *State) CanAttack(id string, now int64, cooldownSeconds int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[id]
	if !ok {
		return false
	}
	return now-p.LastAttackTime >= cooldownSeconds
}

// TouchLastAttack records now as id's last attack time.
func (s *State) TouchLastAttack(id string, now int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.players[id]; ok {
		p.LastAttackTime = now
	}
}

// TouchHeartbeat records now as id's last heartbeat.
func (s *State) TouchHeartbeat(id string, now int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.players[id]; ok {
		s.heartbeats[id] = now
	}
}

// InactiveIDs returns every player id whose last heartbeat is older than
// timeoutSeconds as of now.
func (s *State) InactiveIDs(now int64, timeoutSeconds int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, ts := range s.heartbeats {
		if now-ts > timeoutSeconds {
			out = append(out, id)
		}
	}
	return out
}

// Bounds returns the configured world rectangle.
func (s *State) Bounds() protocol.WorldBounds { return s.bounds }

// Count returns the current player count.
func (s *State) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.players)
}

func hex8() string {
	const letters = "0123456789abcdef"
	buf := make([]byte, 8)
	for i := range buf {
		buf[i] = letters[rand.Intn(len(letters))]
	}
	return string(buf)
}
