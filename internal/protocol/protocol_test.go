package protocol

import "testing"

func TestClampPositionIdempotent(t *testing.T) {
	b := WorldBounds{MinX: -10, MaxX: 10, MinY: -10, MaxY: 10}
	p := Position{X: 50, Y: -50}
	once := b.ClampPosition(p)
	twice := b.ClampPosition(once)
	if once != twice {
		t.Errorf("clamping is not idempotent: %+v vs %+v", once, twice)
	}
	if once.X != 10 || once.Y != -10 {
		t.Errorf("got %+v, want clamped to (10, -10)", once)
	}
}

func TestClampPositionWithinBoundsUnchanged(t *testing.T) {
	b := WorldBounds{MinX: -10, MaxX: 10, MinY: -10, MaxY: 10}
	p := Position{X: 3, Y: -4}
	if got := b.ClampPosition(p); got != p {
		t.Errorf("got %+v, want unchanged %+v", got, p)
	}
}

func TestDirectionVectorUnitLength(t *testing.T) {
	cases := []Direction{DirUp, DirDown, DirLeft, DirRight}
	for _, d := range cases {
		x, y, ok := d.Vector()
		if !ok {
			t.Fatalf("%s: expected ok", d)
		}
		mag := x*x + y*y
		if mag != 1 {
			t.Errorf("%s: magnitude^2 = %v, want 1", d, mag)
		}
	}
}

func TestDirectionVectorUnknownIsInvalid(t *testing.T) {
	_, _, ok := Direction("sideways").Vector()
	if ok {
		t.Error("unknown direction should report ok=false")
	}
}

func TestDistanceTo(t *testing.T) {
	a := Position{X: 0, Y: 0}
	b := Position{X: 3, Y: 4}
	if got := a.DistanceTo(b); got != 5 {
		t.Errorf("got %v, want 5", got)
	}
}

func TestLevelForExperience(t *testing.T) {
	cases := []struct {
		xp   uint32
		want uint8
	}{
		{0, 1},
		{99, 1},
		{100, 2},
		{250, 3},
	}
	for _, c := range cases {
		if got := LevelForExperience(c.xp); got != c.want {
			t.Errorf("LevelForExperience(%d) = %d, want %d", c.xp, got, c.want)
		}
	}
}

func TestValidFactionsRejectsUnknown(t *testing.T) {
	if ValidFactions[Faction("wizard")] {
		t.Error("unknown faction should not validate")
	}
	if !ValidFactions[FactionWarden] {
		t.Error("known faction should validate")
	}
}
