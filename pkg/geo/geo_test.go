package geo

import (
	"math"
	"testing"
)

func TestDistanceKm(t *testing.T) {
	// Paris -> London is roughly 344km.
	d := DistanceKm(48.8566, 2.3522, 51.5074, -0.1278)
	if d < 330 || d > 355 {
		t.Fatalf("Paris-London distance = %.1f, want ~344", d)
	}

	if d := DistanceKm(40.0, -3.0, 40.0, -3.0); d != 0 {
		t.Fatalf("zero distance = %f, want 0", d)
	}
}

func TestProximity(t *testing.T) {
	cases := []struct {
		dist, cutoff, want float64
	}{
		{0, 10, 1},
		{5, 10, 0.5},
		{10, 10, 0},
		{15, 10, 0},
		{2, 0, 0},
	}
	for _, c := range cases {
		got := Proximity(c.dist, c.cutoff)
		if math.Abs(got-c.want) > 1e-9 {
			t.Errorf("Proximity(%v, %v) = %v, want %v", c.dist, c.cutoff, got, c.want)
		}
	}
}

func TestCellKey(t *testing.T) {
	a := CellKey(41.39, 2.17, 0.1)
	b := CellKey(41.38, 2.16, 0.1)
	if a == "" || b == "" {
		t.Fatal("empty cell key")
	}
	// Points over a degree apart never share a 0.1 degree cell.
	far := CellKey(42.50, 2.17, 0.1)
	if a == far {
		t.Fatalf("distant points share cell %s", a)
	}
}
