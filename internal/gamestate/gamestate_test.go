package gamestate

import (
	"testing"

	"nymquest/internal/protocol"
	"nymquest/internal/transport"
)

func testConfig() Config {
	return Config{
		Bounds:          protocol.WorldBounds{MinX: -100, MaxX: 100, MinY: -100, MaxY: 100},
		MaxPlayers:      4,
		CollisionRadius: 1,
		InitialHealth:   100,
	}
}

func TestAddPlayerAtCapacity(t *testing.T) {
	s := New(testConfig())
	for i := 0; i < 4; i++ {
		if _, err := s.AddPlayer("p", protocol.FactionWarden, transport.ReplyToken("t"+string(rune('0'+i)))); err != nil {
			t.Fatalf("AddPlayer %d: %v", i, err)
		}
	}
	if _, err := s.AddPlayer("overflow", protocol.FactionWarden, transport.ReplyToken("over")); err != ErrAtCapacity {
		t.Errorf("got %v, want ErrAtCapacity", err)
	}
}

func TestAddPlayerAssignsUniqueDisplayIDs(t *testing.T) {
	s := New(testConfig())
	seen := make(map[string]bool)
	for i := 0; i < 4; i++ {
		id, err := s.AddPlayer("p", protocol.FactionWarden, transport.ReplyToken(string(rune('a'+i))))
		if err != nil {
			t.Fatalf("AddPlayer: %v", err)
		}
		p, ok := s.Get(id)
		if !ok {
			t.Fatalf("Get(%s): not found", id)
		}
		if seen[p.DisplayID] {
			t.Errorf("duplicate display id %q", p.DisplayID)
		}
		seen[p.DisplayID] = true
	}
}

func TestRemoveByTokenClearsAllMaps(t *testing.T) {
	s := New(testConfig())
	token := transport.ReplyToken("tok")
	id, err := s.AddPlayer("p", protocol.FactionWarden, token)
	if err != nil {
		t.Fatalf("AddPlayer: %v", err)
	}

	removedID, ok := s.RemoveByToken(token)
	if !ok || removedID != id {
		t.Fatalf("RemoveByToken: got (%q, %v), want (%q, true)", removedID, ok, id)
	}
	if _, ok := s.Get(id); ok {
		t.Error("player should be gone after removal")
	}
	if _, ok := s.PlayerIDForToken(token); ok {
		t.Error("connection should be gone after removal")
	}
	if s.Count() != 0 {
		t.Errorf("got count %d, want 0", s.Count())
	}
}

func TestRefreshTokenMovesConnectionEntry(t *testing.T) {
	s := New(testConfig())
	oldToken := transport.ReplyToken("old")
	id, err := s.AddPlayer("p", protocol.FactionWarden, oldToken)
	if err != nil {
		t.Fatalf("AddPlayer: %v", err)
	}

	newToken := transport.ReplyToken("new")
	s.RefreshToken(id, newToken)

	if _, ok := s.PlayerIDForToken(oldToken); ok {
		t.Error("old token should no longer resolve")
	}
	gotID, ok := s.PlayerIDForToken(newToken)
	if !ok || gotID != id {
		t.Errorf("PlayerIDForToken(new) = (%q, %v), want (%q, true)", gotID, ok, id)
	}
}

func TestUpdatePositionRejectsCollision(t *testing.T) {
	s := New(testConfig())
	idA, err := s.AddPlayer("a", protocol.FactionWarden, transport.ReplyToken("a"))
	if err != nil {
		t.Fatalf("AddPlayer a: %v", err)
	}
	idB, err := s.AddPlayer("b", protocol.FactionWarden, transport.ReplyToken("b"))
	if err != nil {
		t.Fatalf("AddPlayer b: %v", err)
	}
	posA, _ := s.Get(idA)

	if s.UpdatePosition(idB, posA.Position) {
		t.Error("expected UpdatePosition to reject a position colliding with another player")
	}
}

func TestUpdatePositionClampsToBounds(t *testing.T) {
	s := New(testConfig())
	id, err := s.AddPlayer("a", protocol.FactionWarden, transport.ReplyToken("a"))
	if err != nil {
		t.Fatalf("AddPlayer: %v", err)
	}
	if !s.UpdatePosition(id, protocol.Position{X: 9999, Y: -9999}) {
		t.Fatal("UpdatePosition should succeed once clamped")
	}
	p, _ := s.Get(id)
	if p.Position.X != 100 || p.Position.Y != -100 {
		t.Errorf("got %+v, want clamped to bounds", p.Position)
	}
}

func TestApplyDamageRespawnsOnDefeat(t *testing.T) {
	s := New(testConfig())
	id, err := s.AddPlayer("a", protocol.FactionWarden, transport.ReplyToken("a"))
	if err != nil {
		t.Fatalf("AddPlayer: %v", err)
	}
	defeated, ok := s.ApplyDamage(id, 1000)
	if !ok || !defeated {
		t.Fatalf("got (defeated=%v, ok=%v), want (true, true)", defeated, ok)
	}
	p, _ := s.Get(id)
	if p.Health != 100 {
		t.Errorf("got health %d, want full heal to 100", p.Health)
	}
}

func TestApplyDamagePartial(t *testing.T) {
	s := New(testConfig())
	id, err := s.AddPlayer("a", protocol.FactionWarden, transport.ReplyToken("a"))
	if err != nil {
		t.Fatalf("AddPlayer: %v", err)
	}
	defeated, ok := s.ApplyDamage(id, 10)
	if !ok || defeated {
		t.Fatalf("got (defeated=%v, ok=%v), want (false, true)", defeated, ok)
	}
	p, _ := s.Get(id)
	if p.Health != 90 {
		t.Errorf("got health %d, want 90", p.Health)
	}
}

func TestAwardExperienceUpdatesLevel(t *testing.T) {
	s := New(testConfig())
	id, err := s.AddPlayer("a", protocol.FactionWarden, transport.ReplyToken("a"))
	if err != nil {
		t.Fatalf("AddPlayer: %v", err)
	}
	s.AwardExperience(id, 150)
	p, _ := s.Get(id)
	if p.Experience != 150 {
		t.Errorf("got experience %d, want 150", p.Experience)
	}
	if want := protocol.LevelForExperience(150); p.Level != want {
		t.Errorf("got level %d, want %d", p.Level, want)
	}
}

func TestCanAttackRespectsCooldown(t *testing.T) {
	s := New(testConfig())
	id, err := s.AddPlayer("a", protocol.FactionWarden, transport.ReplyToken("a"))
	if err != nil {
		t.Fatalf("AddPlayer: %v", err)
	}
	s.TouchLastAttack(id, 100)
	if s.CanAttack(id, 105, 10) {
		t.Error("should still be on cooldown")
	}
	if !s.CanAttack(id, 111, 10) {
		t.Error("cooldown should have elapsed")
	}
}

func TestInactiveIDsDetectsTimeout(t *testing.T) {
	s := New(testConfig())
	id, err := s.AddPlayer("a", protocol.FactionWarden, transport.ReplyToken("a"))
	if err != nil {
		t.Fatalf("AddPlayer: %v", err)
	}
	s.TouchHeartbeat(id, 0)

	if ids := s.InactiveIDs(5, 30); len(ids) != 0 {
		t.Errorf("got %v, want none inactive yet", ids)
	}
	ids := s.InactiveIDs(100, 30)
	if len(ids) != 1 || ids[0] != id {
		t.Errorf("got %v, want [%s] inactive", ids, id)
	}
}

func TestPlayerIDForDisplayIDRoundTrip(t *testing.T) {
	s := New(testConfig())
	id, err := s.AddPlayer("a", protocol.FactionWarden, transport.ReplyToken("a"))
	if err != nil {
		t.Fatalf("AddPlayer: %v", err)
	}
	p, _ := s.Get(id)

	got, ok := s.PlayerIDForDisplayID(p.DisplayID)
	if !ok || got != id {
		t.Errorf("PlayerIDForDisplayID = (%q, %v), want (%q, true)", got, ok, id)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := New(testConfig())
	id, err := s.AddPlayer("a", protocol.FactionWarden, transport.ReplyToken("a"))
	if err != nil {
		t.Fatalf("AddPlayer: %v", err)
	}

	snap := s.Snapshot()
	entry := snap[id]
	entry.Health = 1
	snap[id] = entry

	p, _ := s.Get(id)
	if p.Health == 1 {
		t.Error("mutating a snapshot entry should not affect the live state")
	}
}
