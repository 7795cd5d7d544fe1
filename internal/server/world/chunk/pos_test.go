package chunk

import "testing"

func TestPosOf(t *testing.T) {
	tests := []struct {
		x, z int
		want Pos
	}{
		{0, 0, Pos{0, 0}},
		{15, 15, Pos{0, 0}},
		{16, -1, Pos{1, -1}},
		{-16, -17, Pos{-1, -2}},
	}
	for _, tt := range tests {
		if got := PosOf(tt.x, tt.z); got != tt.want {
			t.Errorf("PosOf(%d, %d) = %v, want %v", tt.x, tt.z, got, tt.want)
		}
	}
}

func TestChebyshev(t *testing.T) {
	p := Pos{X: 2, Z: -3}
	if d := p.Chebyshev(Pos{X: -1, Z: 1}); d != 4 {
		t.Errorf("Chebyshev = %d, want 4", d)
	}
	if d := p.Chebyshev(p); d != 0 {
		t.Errorf("Chebyshev to self = %d, want 0", d)
	}
}

func TestPackedDistinct(t *testing.T) {
	seen := make(map[uint64]Pos)
	for x := int32(-3); x <= 3; x++ {
		for z := int32(-3); z <= 3; z++ {
			p := Pos{X: x, Z: z}
			if prev, ok := seen[p.Packed()]; ok {
				t.Fatalf("%v and %v pack to the same value", p, prev)
			}
			seen[p.Packed()] = p
		}
	}
}
