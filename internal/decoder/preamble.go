package decoder

// Mode S preamble timing at 2 MSPS: 16 samples, pulses at offsets
// 0, 2, 7, 9 (0, 1, 3.5, 4.5 us), everything else quiet.
const preambleSamples = 16

var pulseOffsets = [4]int{0, 2, 7, 9}

// Quiet positions of the preamble; 10..15 is the guard before the first
// data chip.
var lowOffsets = [12]int{1, 3, 4, 5, 6, 8, 10, 11, 12, 13, 14, 15}

// preambleCandidate holds the measured levels of an accepted preamble.
type preambleCandidate struct {
	high     uint16 // weakest pulse
	meanHigh uint32 // mean of the four pulses
}

// detectPreamble tests for a preamble starting at pos. Acceptance:
// the weakest pulse must exceed twice the strongest quiet sample, and the
// pulse mean must clear the noise floor by the configured gate.
func detectPreamble(mag []uint16, pos int, noiseFloor uint32, gate float64) (preambleCandidate, bool) {
	if pos+preambleSamples > len(mag) {
		return preambleCandidate{}, false
	}

	high := mag[pos+pulseOffsets[0]]
	var pulseSum uint32
	for _, off := range pulseOffsets {
		v := mag[pos+off]
		pulseSum += uint32(v)
		if v < high {
			high = v
		}
	}

	var lowMax uint16
	for _, off := range lowOffsets {
		if v := mag[pos+off]; v > lowMax {
			lowMax = v
		}
	}

	if uint32(high) <= 2*uint32(lowMax) {
		return preambleCandidate{}, false
	}

	meanHigh := pulseSum / 4
	if float64(meanHigh) <= float64(noiseFloor)*gate {
		return preambleCandidate{}, false
	}

	return preambleCandidate{high: high, meanHigh: meanHigh}, true
}
