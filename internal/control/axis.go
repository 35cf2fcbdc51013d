package control

import "math"

// DefaultDeadZone is the input magnitude below which an axis reads zero.
const DefaultDeadZone = 0.2

// ShapeAxis maps a raw input value in [-1, 1] to a jog velocity in [-1, 1].
//
// Magnitudes below deadZone read zero. The rest is rescaled to [0, 1] and
// passed through exp(x^4), normalised so that 0 and 1 are fixed points,
// which keeps small deflections fine-grained. The sign of raw is kept.
func ShapeAxis(raw, deadZone float64) float64 {
	if math.IsNaN(raw) || deadZone >= 1 {
		return 0
	}
	abs := min(math.Abs(raw), 1)
	if abs == 0 || abs < deadZone {
		return 0
	}
	abs = (abs - deadZone) / (1 - deadZone)

	curve := func(x float64) float64 { return math.Exp(math.Pow(x, 4)) }
	v := (curve(abs) - curve(0)) / (curve(1) - curve(0))
	return math.Copysign(min(max(v, 0), 1), raw)
}
