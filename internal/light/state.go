// Package light holds the light state model, the bridge wire decoder and the
// control snapshots handed to observers.
package light

import "math"

// Bridge brightness range (v1 groups API). 255 is accepted by the bridge but
// stored as 254.
const (
	MinBri = 0
	MaxBri = 254

	MinPercentage = 0.0
	MaxPercentage = 100.0
)

// State is the local view of the light.
type State struct {
	On         bool
	Brightness float64 // percentage, 0..100
}

// Percentage converts a bridge brightness value to a whole percentage.
func Percentage(bri int) float64 {
	if bri > MaxBri {
		bri = MaxBri
	}
	if bri < MinBri {
		bri = MinBri
	}
	return roundHalfUp(float64(bri) * MaxPercentage / MaxBri)
}

// Brightness converts a percentage to the bridge brightness value.
func Brightness(pct float64) int {
	return int(roundHalfUp(ClampPercentage(pct) * MaxBri / MaxPercentage))
}

// QuantizePercentage clamps pct and snaps it to the host range step, so it
// survives a trip through the device scale within one device step.
func QuantizePercentage(pct float64) float64 {
	return roundHalfUp(ClampPercentage(pct)/RangeStep) * RangeStep
}

// ClampPercentage limits pct to 0..100. NaN maps to 0.
func ClampPercentage(pct float64) float64 {
	switch {
	case math.IsNaN(pct), pct < MinPercentage:
		return MinPercentage
	case pct > MaxPercentage:
		return MaxPercentage
	}
	return pct
}

// Both conversions must round the same way.
func roundHalfUp(x float64) float64 {
	return math.Floor(x + 0.5)
}
