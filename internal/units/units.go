// Package units provides shared constants and conversion for speed units.
// Track readings store speed in km/h, the unit the detector feeds report.
package units

// Unit constants
const (
	KMH = "kmh"
	MPH = "mph"
	MPS = "mps"
)

// ValidUnits contains all accepted unit values.
var ValidUnits = []string{KMH, MPH, MPS}

// IsValid reports whether unit is one of the accepted unit values.
func IsValid(unit string) bool {
	for _, u := range ValidUnits {
		if unit == u {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated list for error messages.
func GetValidUnitsString() string {
	return "kmh, mph, mps"
}

// ConvertSpeed converts a speed from km/h to the target units.
func ConvertSpeed(speedKMH float64, targetUnits string) float64 {
	switch targetUnits {
	case KMH:
		return speedKMH
	case MPH:
		return speedKMH * 0.62137119223733
	case MPS:
		return speedKMH / 3.6
	default:
		return speedKMH
	}
}
