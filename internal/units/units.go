// Package units converts raw SHT1x codes into physical units and derives
// dew point and absolute humidity.
package units

import "math"

// SHT1x conversion coefficients for 3.3 V supply and 14/12 bit resolution.
const (
	tempD1 = -39.66
	tempD2 = 0.01

	rhC1 = -2.0468
	rhC2 = 0.0367
	rhC3 = -0.0000015955
	rhT1 = 0.01
	rhT2 = 0.00008

	minHumidity = 0.1
	maxHumidity = 100.0
)

// TemperatureFromRaw converts a 14 bit temperature code to °C.
func TemperatureFromRaw(raw uint16) float64 {
	return tempD1 + tempD2*float64(raw)
}

// HumidityFromRaw converts a 12 bit humidity code to relative humidity in %,
// compensated for the temperature t (°C) and clamped to [0.1, 100].
func HumidityFromRaw(raw uint16, t float64) float64 {
	r := float64(raw)
	linear := rhC1 + rhC2*r + rhC3*r*r
	rh := (t-25)*(rhT1+rhT2*r) + linear

	if rh > maxHumidity {
		return maxHumidity
	}
	if rh < minHumidity {
		return minHumidity
	}
	return rh
}

// DewPoint returns the dew point in °C using the Magnus formula, with the
// coefficient set for water (t >= 0) or ice (t < 0). rh below 0.1 % is
// taken as 0.1 %, the same floor HumidityFromRaw applies.
func DewPoint(rh, t float64) float64 {
	rh = max(rh, minHumidity)

	tn, m := 243.12, 17.62
	if t < 0 {
		tn, m = 272.62, 22.46
	}

	lnRH := math.Log(rh / 100)
	x := m * t / (tn + t)
	return tn * (lnRH + x) / (m - lnRH - x)
}

// AbsoluteHumidity returns water vapour density in g/m³.
func AbsoluteHumidity(rh, t float64) float64 {
	a, b := 7.5, 237.3
	if t < 0 {
		a, b = 7.6, 240.7
	}

	const (
		molarMassWater = 18.016 // g/mol
		gasConstant    = 8314.3 // J/(kmol*K)
	)

	sdd := 6.1078 * math.Pow(10, a*t/(b+t))
	dd := rh / 100 * sdd
	return 1e5 * molarMassWater / gasConstant * dd / (t + 273.15)
}
