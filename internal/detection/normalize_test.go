package detection

import "testing"

func TestNormalizeTempo(t *testing.T) {
	cases := []struct {
		name string
		raw  float64
		want float64
	}{
		{"in band unchanged", 128, 128},
		{"band floor", 70, 70},
		{"band ceiling", 200, 200},
		{"doubled once", 64.25, 128.5},
		{"doubled twice", 34, 136},
		{"halved once", 240, 120},
		{"halved twice", 560, 140},
		{"rounds to one decimal", 85.4567, 85.5},
		{"zero", 0, 0},
		{"negative", -10, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeTempo(tc.raw); got != tc.want {
				t.Errorf("NormalizeTempo(%v) = %v, want %v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestNormalizeTempoIdempotent(t *testing.T) {
	for _, raw := range []float64{64.25, 34, 240, 128, 199.9} {
		once := NormalizeTempo(raw)
		twice := NormalizeTempo(once)
		if once != twice {
			t.Errorf("NormalizeTempo not idempotent for %v: %v then %v", raw, once, twice)
		}
	}
}

func TestKnownAlgorithm(t *testing.T) {
	if !KnownAlgorithm(AlgorithmEssentia) || !KnownAlgorithm(AlgorithmAubio) {
		t.Error("supported algorithms must be known")
	}
	if KnownAlgorithm("madmom") || KnownAlgorithm("") {
		t.Error("unsupported tags must not be known")
	}
}
