// Package units names the speed units velocity moments may be published
// in and converts to them from m/s.
package units

import "strings"

// Unit names as they appear in config and on the wire.
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
	KTS  = "kts"
)

type unitInfo struct {
	perMPS float64
	label  string
}

var known = map[string]unitInfo{
	MPS:  {1, "m/s"},
	MPH:  {2.2369362920544, "mph"},
	KMPH: {3.6, "km/h"},
	KPH:  {3.6, "km/h"},
	KTS:  {1.9438444924406, "kn"},
}

// ValidUnits lists every accepted unit name, in display order.
var ValidUnits = []string{MPS, MPH, KMPH, KPH, KTS}

// IsValid reports whether unit is a known unit name.
func IsValid(unit string) bool {
	_, ok := known[unit]
	return ok
}

// GetValidUnitsString returns the valid unit names for error messages.
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// Normalize lower-cases and trims unit, returning MPS for anything
// unknown.
func Normalize(unit string) string {
	u := strings.ToLower(strings.TrimSpace(unit))
	if !IsValid(u) {
		return MPS
	}
	return u
}

// Label is the human-readable symbol for unit, e.g. "km/h".
func Label(unit string) string {
	if info, ok := known[unit]; ok {
		return info.label
	}
	return known[MPS].label
}

// ConvertSpeed converts a speed in m/s to targetUnits. Unknown units
// leave the value in m/s.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	if info, ok := known[targetUnits]; ok {
		return speedMPS * info.perMPS
	}
	return speedMPS
}
