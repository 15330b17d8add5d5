package adsb

import (
	"math"
)

// cprBits is the scale of the 17-bit CPR lat/lon fields.
const cprBits = 131072.0

// nlBoundaries are the latitude transition points for the NL function,
// from the 1090ES specification. nl(lat) = 59 - index of the first
// boundary above |lat|.
var nlBoundaries = [...]float64{
	10.47047130, 14.82817437, 18.18626357, 21.02939493, 23.54504487,
	25.82924707, 27.93898710, 29.91135686, 31.77209708, 33.53993436,
	35.22899598, 36.85025108, 38.41241892, 39.92256684, 41.38651832,
	42.80914012, 44.19454951, 45.54626723, 46.86733252, 48.16039128,
	49.42776439, 50.67150166, 51.89342469, 53.09516153, 54.27817472,
	55.44378444, 56.59318756, 57.72747354, 58.84763776, 59.95459277,
	61.04917774, 62.13216659, 63.20427479, 64.26616523, 65.31845310,
	66.36171008, 67.39646774, 68.42322022, 69.44242631, 70.45451075,
	71.45986473, 72.45884545, 73.45177442, 74.43893416, 75.42056257,
	76.39684391, 77.36789461, 78.33374083, 79.29428225, 80.24923213,
	81.19801349, 82.13956981, 83.07199445, 83.99173563, 84.89166191,
	85.75541621, 86.53536998, 87.00000000,
}

// cprNL returns the number of longitude zones at the given latitude.
func cprNL(lat float64) int {
	lat = math.Abs(lat)
	for i, b := range nlBoundaries {
		if lat < b {
			return 59 - i
		}
	}
	return 1
}

// DecodeGlobalCPR decodes a matched even/odd pair of airborne CPR frames
// into a latitude and longitude. The pair must already be within the
// pairing window; newestOdd selects which frame's zone count resolves the
// position. Returns false when the two frames straddle a latitude zone
// boundary or the result is out of bounds, in which case no position may
// be published.
func DecodeGlobalCPR(even, odd *CPRFrame, newestOdd bool) (float64, float64, bool) {
	latEvenCPR := float64(even.Lat) / cprBits
	lonEvenCPR := float64(even.Lon) / cprBits
	latOddCPR := float64(odd.Lat) / cprBits
	lonOddCPR := float64(odd.Lon) / cprBits

	const (
		dLatEven = 360.0 / 60.0
		dLatOdd  = 360.0 / 59.0
	)

	// Latitude index.
	j := math.Floor(59.0*latEvenCPR - 60.0*latOddCPR + 0.5)

	latEven := dLatEven * (mod(j, 60) + latEvenCPR)
	latOdd := dLatOdd * (mod(j, 59) + latOddCPR)
	if latEven >= 270 {
		latEven -= 360
	}
	if latOdd >= 270 {
		latOdd -= 360
	}

	// Both latitudes must land in the same longitude zone band, or the
	// pair straddles a boundary and cannot be combined.
	nl := cprNL(latEven)
	if nl != cprNL(latOdd) {
		return 0, 0, false
	}

	var lat, lon float64
	m := math.Floor(lonEvenCPR*float64(nl-1) - lonOddCPR*float64(nl) + 0.5)

	if newestOdd {
		ni := nl - 1
		if ni < 1 {
			ni = 1
		}
		dLon := 360.0 / float64(ni)
		lat = latOdd
		lon = dLon * (mod(m, float64(ni)) + lonOddCPR)
	} else {
		ni := nl
		if ni < 1 {
			ni = 1
		}
		dLon := 360.0 / float64(ni)
		lat = latEven
		lon = dLon * (mod(m, float64(ni)) + lonEvenCPR)
	}

	if lon > 180 {
		lon -= 360
	}

	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, 0, false
	}
	return lat, lon, true
}

// mod is the floored modulo the CPR index arithmetic needs; Go's % keeps
// the sign of the dividend.
func mod(a, n float64) float64 {
	r := math.Mod(a, n)
	if r < 0 {
		r += n
	}
	return r
}
