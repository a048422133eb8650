package cosmology

import (
	"math"
	"testing"
)

func TestNew_InvalidParameters(t *testing.T) {
	cases := []struct {
		name   string
		omegaM float64
		opts   []Option
		want   error
	}{
		{"zero omega", 0, nil, ErrInvalidOmegaM},
		{"negative omega", -0.3, nil, ErrInvalidOmegaM},
		{"omega above one", 1.5, nil, ErrInvalidOmegaM},
		{"bad zmax", 0.315, []Option{WithZMax(-1)}, ErrInvalidZMax},
		{"bad steps", 0.315, []Option{WithSteps(1)}, ErrInvalidSteps},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.omegaM, tc.opts...)
			if err != tc.want {
				t.Fatalf("New: got err %v, want %v", err, tc.want)
			}
		})
	}
}

func TestRComoving_ZeroAtOrigin(t *testing.T) {
	c, err := New(0.315)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got := c.RComoving(0); got != 0 {
		t.Fatalf("RComoving(0) = %v, want 0", got)
	}

	if got := c.RComoving(-1); got != 0 {
		t.Fatalf("RComoving(-1) = %v, want 0", got)
	}
}

// For an Einstein-de Sitter universe (Om = 1) the comoving distance has the
// closed form D_C(z) = 2 * (c/H0) * (1 - 1/sqrt(1+z)).
func TestRComoving_EinsteinDeSitter(t *testing.T) {
	c, err := New(1.0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	dh := SpeedOfLight / 100

	for _, z := range []float64{0.1, 0.5, 1, 2.25, 3, 5} {
		want := 2 * dh * (1 - 1/math.Sqrt(1+z))
		got := c.RComoving(z)

		if math.Abs(got-want) > 0.5 {
			t.Errorf("z=%v: got %v, want %v", z, got, want)
		}
	}
}

func TestRComoving_Monotonic(t *testing.T) {
	c, err := New(0.315)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	prev := 0.0
	for z := 0.05; z < 9.5; z += 0.05 {
		r := c.RComoving(z)
		if r <= prev {
			t.Fatalf("RComoving not monotonic at z=%v: %v <= %v", z, r, prev)
		}
		prev = r
	}
}

func TestRComoving_ClampsAboveTable(t *testing.T) {
	c, err := New(0.315, WithZMax(4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got, want := c.RComoving(100), c.RComoving(4); got != want {
		t.Fatalf("clamped distance %v != table edge %v", got, want)
	}
}

func TestRComovingAll(t *testing.T) {
	c, err := New(0.315)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	z := []float64{0.5, 1, 2, 3}
	dst := make([]float64, len(z))
	c.RComovingAll(dst, z)

	for i, zi := range z {
		if dst[i] != c.RComoving(zi) {
			t.Errorf("index %d: got %v, want %v", i, dst[i], c.RComoving(zi))
		}
	}
}

// Typical survey redshifts should land near published Planck-cosmology
// distances (~3800 Mpc/h at z=2.25 for Om=0.315).
func TestRComoving_ReferenceValue(t *testing.T) {
	c, err := New(0.315)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got := c.RComoving(2.25)
	if got < 3700 || got > 3900 {
		t.Fatalf("RComoving(2.25) = %v, want ~3800 Mpc/h", got)
	}
}
