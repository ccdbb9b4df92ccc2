package kassa

import (
	"testing"
	"time"
)

// guardAt returns a guard with a controllable clock.
func guardAt(idTTL, window time.Duration) (*Guard, *time.Time) {
	g := NewGuard(idTTL, window)
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	return g, &now
}

func TestGuard_SeenMessage(t *testing.T) {
	g, now := guardAt(time.Hour, time.Second)

	if g.SeenMessage(42, 7) {
		t.Fatal("first sighting reported as duplicate")
	}
	if !g.SeenMessage(42, 7) {
		t.Fatal("resend not reported as duplicate")
	}
	if g.SeenMessage(42, 8) {
		t.Error("different message id reported as duplicate")
	}
	if g.SeenMessage(43, 7) {
		t.Error("same id in another chat reported as duplicate")
	}

	// After the TTL the entry is evicted and the id is fresh again.
	*now = now.Add(time.Hour + time.Second)
	if g.SeenMessage(42, 7) {
		t.Error("id still duplicate after TTL")
	}
}

func TestGuard_SeenContent(t *testing.T) {
	g, now := guardAt(time.Hour, 30*time.Second)

	if g.SeenContent(42, "ОБУХОВО; РАСХОД; 100") {
		t.Fatal("first content reported as duplicate")
	}
	// Same text, cosmetically different whitespace and case.
	if !g.SeenContent(42, "обухово;  расход;   100") {
		t.Fatal("normalized repeat not caught")
	}
	if g.SeenContent(99, "ОБУХОВО; РАСХОД; 100") {
		t.Error("other chat affected by this chat's window")
	}

	// Past the window the same text is legitimate again.
	*now = now.Add(31 * time.Second)
	if g.SeenContent(42, "ОБУХОВО; РАСХОД; 100") {
		t.Error("content still duplicate after window elapsed")
	}
}

func TestNormalizeContent(t *testing.T) {
	a := NormalizeContent("  ОБУХОВО;   РАСХОД \n 100 ")
	b := NormalizeContent("обухово; расход 100")
	if a != b {
		t.Errorf("normalization differs: %q vs %q", a, b)
	}
}

func TestStripForceMarker(t *testing.T) {
	line, forced := StripForceMarker("ОБУХОВО; РАСХОД; 100 !")
	if !forced {
		t.Error("trailing marker not detected")
	}
	if line != "ОБУХОВО; РАСХОД; 100" {
		t.Errorf("stripped line = %q", line)
	}

	line, forced = StripForceMarker("ОБУХОВО; РАСХОД; 100")
	if forced {
		t.Error("marker detected where absent")
	}
	if line != "ОБУХОВО; РАСХОД; 100" {
		t.Errorf("line mangled: %q", line)
	}
}
