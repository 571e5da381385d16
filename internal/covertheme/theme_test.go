package covertheme

import "testing"

func TestDeriveIsDeterministic(t *testing.T) {
	c1, i1 := Derive("f81d4fae-7dec-11d0-a765-00a0c91e6bf6")
	c2, i2 := Derive("f81d4fae-7dec-11d0-a765-00a0c91e6bf6")
	if c1 != c2 || i1 != i2 {
		t.Fatalf("same seed produced different themes: (%s,%s) vs (%s,%s)", c1, i1, c2, i2)
	}
}

func TestDeriveReturnsKnownValues(t *testing.T) {
	color, icon := Derive("abc")
	if color == "" || icon == "" {
		t.Fatal("expected non-empty theme")
	}
	foundColor, foundIcon := false, false
	for _, c := range colors {
		if c == color {
			foundColor = true
		}
	}
	for _, i := range icons {
		if i == icon {
			foundIcon = true
		}
	}
	if !foundColor || !foundIcon {
		t.Fatalf("theme (%s,%s) not drawn from the fixed palettes", color, icon)
	}
}

func TestDeriveSpreadsAcrossSeeds(t *testing.T) {
	seen := map[string]struct{}{}
	for _, seed := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		color, icon := Derive(seed)
		seen[color+"/"+icon] = struct{}{}
	}
	if len(seen) < 2 {
		t.Fatalf("expected varied themes, got %d distinct", len(seen))
	}
}
