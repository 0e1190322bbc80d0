package detection

import "math"

// Tempo band considered perceptually unambiguous. Detectors frequently lock
// onto half or double the true tempo (octave error); values outside the band
// are folded back in.
const (
	tempoFloor   = 70
	tempoCeiling = 200
)

// NormalizeTempo corrects octave errors and rounds to one decimal place:
// doubling while the value is below 70, halving while above 200. The raw
// value is stored alongside the normalized one so octave errors remain
// debuggable; callers must never discard it. Idempotent for values already
// inside the band.
func NormalizeTempo(raw float64) float64 {
	if raw <= 0 {
		return 0
	}
	v := raw
	for v < tempoFloor {
		v *= 2
	}
	for v > tempoCeiling {
		v /= 2
	}
	return math.Round(v*10) / 10
}
