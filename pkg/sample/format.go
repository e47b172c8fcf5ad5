package sample

import (
	"math"
	"strconv"
)

var capacitanceUnits = []struct {
	scale float64
	unit  string
}{
	{1e-3, "mF"},
	{1e-6, "µF"},
	{1e-9, "nF"},
	{1e-12, "pF"},
}

// FormatCapacitance formats farads with an engineering prefix and four
// significant digits.
func FormatCapacitance(f float64) string {
	if f == 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return "0 pF"
	}
	a := math.Abs(f)
	for _, u := range capacitanceUnits {
		if a >= u.scale {
			return strconv.FormatFloat(f/u.scale, 'g', 4, 64) + " " + u.unit
		}
	}
	last := capacitanceUnits[len(capacitanceUnits)-1]
	return strconv.FormatFloat(f/last.scale, 'g', 4, 64) + " " + last.unit
}

// FormatOhms formats a resistor value.
func FormatOhms(ohms uint32) string {
	switch {
	case ohms >= 1000000:
		return strconv.FormatFloat(float64(ohms)/1e6, 'g', 4, 64) + "MΩ"
	case ohms >= 1000:
		return strconv.FormatFloat(float64(ohms)/1e3, 'g', 4, 64) + "kΩ"
	default:
		return strconv.FormatUint(uint64(ohms), 10) + "Ω"
	}
}
