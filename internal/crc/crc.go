package crc

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// Mode S generator polynomial in shift form (x^24 + x^23 + ... + 1).
const poly = 0x1FFF409

const (
	longBits  = 112
	shortBits = 56
)

// addressTTL is how long a recently confirmed ICAO stays usable for
// address-overlaid frame validation.
const addressTTL = 60 * time.Second

// Result classifies the outcome of frame validation.
type Result int

const (
	// OK means the syndrome was zero, or matched a recently confirmed
	// address for the overlaid formats.
	OK Result = iota
	// Corrected means a single bit was flipped to make the syndrome zero.
	Corrected
	// Bad means the frame could not be validated.
	Bad
)

// Checksum computes the CRC-24 remainder of the given bytes. Applied to
// the data portion of a frame (all bytes except the trailing three) it
// yields the parity field a transponder would transmit.
func Checksum(data []byte) uint32 {
	var crc uint32
	for _, b := range data {
		crc ^= uint32(b) << 16
		for i := 0; i < 8; i++ {
			if crc&0x800000 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
	}
	return crc & 0xFFFFFF
}

// Syndrome computes the remainder over the data bits XORed with the
// received parity field. Zero for an undamaged DF11/17/18 frame; for the
// surveillance formats the parity is overlaid with the aircraft address,
// so the syndrome IS that address.
func Syndrome(data []byte) uint32 {
	n := len(data)
	parity := uint32(data[n-3])<<16 | uint32(data[n-2])<<8 | uint32(data[n-1])
	return Checksum(data[:n-3]) ^ parity
}

// Validator validates Mode S frames and performs single-bit correction
// using a syndrome table built at construction time.
type Validator struct {
	// syndromes[i] is the syndrome produced by flipping bit i of an
	// otherwise valid 112-bit frame. The CRC is linear, so an observed
	// syndrome equal to syndromes[i] identifies bit i as the error.
	syndromes [longBits]uint32
	addresses *cache.Cache
}

// NewValidator builds the syndrome table and the recent-address cache.
func NewValidator() *Validator {
	v := &Validator{
		addresses: cache.New(addressTTL, addressTTL),
	}
	for i := 0; i < longBits; i++ {
		msg := make([]byte, longBits/8)
		msg[i/8] = 1 << (7 - uint(i%8))
		v.syndromes[i] = Syndrome(msg)
	}
	return v
}

// Learn records an ICAO address confirmed by a CRC-clean DF11/17/18 frame.
func (v *Validator) Learn(icao uint32) {
	v.addresses.Set(addrKey(icao), struct{}{}, cache.DefaultExpiration)
}

// Known reports whether an ICAO address was confirmed recently.
func (v *Validator) Known(icao uint32) bool {
	_, ok := v.addresses.Get(addrKey(icao))
	return ok
}

// ValidateLong validates a 112-bit frame. DF17/18 validate on a zero
// syndrome; a non-zero syndrome may be corrected by flipping the single
// bit whose table entry matches, provided correctable is true.
// lowConfidence names the demodulator's doubtful bit (-1 if none) and is
// preferred when its syndrome matches. For the address-overlaid long
// formats (DF16/20/21) the syndrome is the aircraft address and the frame
// is accepted only when that address was confirmed recently; overlayAddr
// carries it back. correctedBit is -1 when nothing was flipped.
func (v *Validator) ValidateLong(data []byte, lowConfidence int, correctable bool) (res Result, correctedBit int, overlayAddr uint32) {
	if len(data) != longBits/8 {
		return Bad, -1, 0
	}
	syndrome := Syndrome(data)
	if syndrome == 0 {
		return OK, -1, 0
	}

	// Correction runs before the overlay check: a single bit error can
	// corrupt the DF field itself, and only the syndrome knows.
	if correctable {
		if lowConfidence >= 0 && lowConfidence < longBits && v.syndromes[lowConfidence] == syndrome {
			if v.tryFlip(data, lowConfidence) {
				return Corrected, lowConfidence, 0
			}
		} else {
			for i := 0; i < longBits; i++ {
				if v.syndromes[i] != syndrome {
					continue
				}
				if v.tryFlip(data, i) {
					return Corrected, i, 0
				}
				break
			}
		}
	}

	// For the address-overlaid long formats the syndrome is the
	// aircraft address.
	if df := data[0] >> 3; df == 16 || df == 20 || df == 21 {
		if v.Known(syndrome) {
			return OK, -1, syndrome
		}
	}
	return Bad, -1, 0
}

// ValidateShort validates a 56-bit frame. DF11 frames validate on a zero
// syndrome (an interrogator code may occupy the low 7 bits). For DF0/4/5
// the parity bits are overlaid with the aircraft address, so the syndrome
// IS the address: the frame is accepted only when that address was
// recently confirmed by a full-CRC frame. Single-bit correction stays off
// here; with an overlaid address every flip yields a plausible syndrome.
func (v *Validator) ValidateShort(data []byte) (res Result, overlayAddr uint32) {
	if len(data) != shortBits/8 {
		return Bad, 0
	}
	df := data[0] >> 3
	syndrome := Syndrome(data)

	switch df {
	case 11:
		if syndrome&^0x7F == 0 {
			return OK, 0
		}
	case 0, 4, 5:
		if v.Known(syndrome) {
			return OK, syndrome
		}
	}
	return Bad, 0
}

// tryFlip flips bit i and keeps the flip only when the resulting downlink
// format is one whose CRC covers the whole frame; flipping into other
// formats trades one error for another.
func (v *Validator) tryFlip(data []byte, i int) bool {
	flipBit(data, i)
	df := data[0] >> 3
	if df == 11 || df == 17 || df == 18 {
		return true
	}
	flipBit(data, i)
	return false
}

func flipBit(data []byte, i int) {
	data[i/8] ^= 1 << (7 - uint(i%8))
}

func addrKey(icao uint32) string {
	return string([]byte{byte(icao >> 16), byte(icao >> 8), byte(icao)})
}
