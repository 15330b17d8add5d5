package adsb

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/saviobatista/adsb-capture/internal/crc"
)

// Callsign character lookup table (6-bit ICAO alphabet).
const callsignChars = "#ABCDEFGHIJKLMNOPQRSTUVWXYZ##### ###############0123456789######"

// Downlink formats the parser understands.
const (
	DFShortAirSurveillance = 0
	DFAltitudeReply        = 4
	DFIdentityReply        = 5
	DFAllCallReply         = 11
	DFLongAirSurveillance  = 16
	DFExtendedSquitter     = 17
	DFExtendedSquitterNT   = 18
	DFCommBAltitude        = 20
	DFCommBIdentity        = 21
)

// CPRFrame is a raw 17-bit compact position report, kept byte-exact until
// the tracker pairs it with its opposite-parity counterpart.
type CPRFrame struct {
	Lat     int
	Lon     int
	Odd     bool
	Surface bool
	Time    time.Time
}

// Message is the parsed content of one validated Mode S frame.
type Message struct {
	DF   uint8
	ICAO uint32
	TC   uint8

	Callsign     string
	Category     uint8
	AltitudeFt   *int
	AltitudeGNSS bool
	GroundSpeed  *float64
	HeadingDeg   *float64
	VerticalRate *int
	Squawk       string
	CPR          *CPRFrame
}

// Parse extracts aircraft data from a validated 7- or 14-byte frame.
// Unknown downlink formats and type codes are not an error: the message
// comes back with just DF and ICAO filled in.
func Parse(data []byte, ts time.Time) (*Message, error) {
	if len(data) != 7 && len(data) != 14 {
		return nil, fmt.Errorf("invalid frame length: %d bytes", len(data))
	}

	msg := &Message{DF: data[0] >> 3}

	switch msg.DF {
	case DFAllCallReply, DFExtendedSquitter, DFExtendedSquitterNT:
		msg.ICAO = uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
	default:
		// Surveillance replies overlay the address on the parity bits,
		// so the syndrome is the address.
		msg.ICAO = crc.Syndrome(data)
	}

	switch msg.DF {
	case DFShortAirSurveillance, DFLongAirSurveillance, DFAltitudeReply, DFCommBAltitude:
		ac13 := uint16(data[2]&0x1F)<<8 | uint16(data[3])
		if alt, ok := decodeAC13(ac13); ok {
			msg.AltitudeFt = &alt
		}

	case DFIdentityReply, DFCommBIdentity:
		msg.Squawk = decodeSquawk(data)

	case DFAllCallReply:
		// Address only, already extracted.

	case DFExtendedSquitter, DFExtendedSquitterNT:
		if len(data) != 14 {
			return msg, nil
		}
		msg.TC = (data[4] >> 3) & 0x1F
		parseExtendedSquitter(data, ts, msg)
	}

	return msg, nil
}

func parseExtendedSquitter(data []byte, ts time.Time, msg *Message) {
	switch {
	case msg.TC >= 1 && msg.TC <= 4:
		msg.Callsign = decodeCallsign(data)
		msg.Category = data[4] & 0x07

	case msg.TC >= 5 && msg.TC <= 8:
		// Surface position: CPR with the surface encoding. The raw frame
		// is carried in the message; no surface position is decoded.
		msg.CPR = decodeCPRFrame(data, ts, true)

	case msg.TC >= 9 && msg.TC <= 18:
		parseAirbornePosition(data, ts, msg, false)

	case msg.TC == 19:
		parseAirborneVelocity(data, msg)

	case msg.TC >= 20 && msg.TC <= 22:
		parseAirbornePosition(data, ts, msg, true)

	default:
		// TC 28/29/31 operational status and the rest: recorded, not parsed.
	}
}

func parseAirbornePosition(data []byte, ts time.Time, msg *Message, gnss bool) {
	ac12 := uint16(data[5])<<4 | uint16(data[6]>>4)&0x0F
	if alt, ok := decodeAC12(ac12); ok {
		msg.AltitudeFt = &alt
		msg.AltitudeGNSS = gnss
	}
	msg.CPR = decodeCPRFrame(data, ts, false)
}

func decodeCPRFrame(data []byte, ts time.Time, surface bool) *CPRFrame {
	return &CPRFrame{
		Lat:     int(data[6]&0x03)<<15 | int(data[7])<<7 | int(data[8]>>1)&0x7F,
		Lon:     int(data[8]&0x01)<<16 | int(data[9])<<8 | int(data[10]),
		Odd:     (data[6]>>2)&1 == 1,
		Surface: surface,
		Time:    ts,
	}
}

func parseAirborneVelocity(data []byte, msg *Message) {
	subtype := data[4] & 0x07

	switch subtype {
	case 1, 2:
		dew := (data[5]>>2)&1 == 1
		vew := int(data[5]&0x03)<<8 | int(data[6])
		dns := (data[7]>>7)&1 == 1
		vns := int(data[7]&0x7F)<<3 | int(data[8]>>5)&0x07

		if vew > 0 && vns > 0 {
			mult := 1
			if subtype == 2 {
				mult = 4
			}
			vEW := (vew - 1) * mult
			vNS := (vns - 1) * mult
			if dew {
				vEW = -vEW
			}
			if dns {
				vNS = -vNS
			}

			speed := math.Sqrt(float64(vEW*vEW + vNS*vNS))
			heading := math.Atan2(float64(vEW), float64(vNS)) * 180 / math.Pi
			if heading < 0 {
				heading += 360
			}
			msg.GroundSpeed = &speed
			msg.HeadingDeg = &heading
		}

	case 3, 4:
		if (data[5]>>2)&1 == 1 {
			hdg := float64(uint16(data[5]&0x03)<<8|uint16(data[6])) * 360 / 1024
			msg.HeadingDeg = &hdg
		}
		airspeed := int(data[7]&0x7F)<<3 | int(data[8]>>5)&0x07
		if airspeed > 0 {
			mult := 1
			if subtype == 4 {
				mult = 4
			}
			speed := float64((airspeed - 1) * mult)
			msg.GroundSpeed = &speed
		}

	default:
		return
	}

	vrSign := (data[8]>>3)&1 == 1
	vr := int(data[8]&0x07)<<6 | int(data[9]>>2)&0x3F
	if vr > 0 {
		rate := (vr - 1) * 64
		if vrSign {
			rate = -rate
		}
		msg.VerticalRate = &rate
	}
}

// decodeAC13 decodes a 13-bit altitude code. Q-bit set means 25 ft
// increments; otherwise the code is Gillham encoded. The bool is false
// when the altitude cannot be decoded (never zero as a stand-in).
func decodeAC13(ac13 uint16) (int, bool) {
	if ac13 == 0 {
		return 0, false
	}
	if ac13&0x0040 != 0 {
		// M bit set: metric altitude, not decoded.
		return 0, false
	}
	if ac13&0x0010 != 0 {
		// Q bit: 25 ft resolution.
		n := int((ac13&0x1F80)>>2 | (ac13&0x0020)>>1 | ac13&0x000F)
		return n*25 - 1000, true
	}
	return decodeGillham(ac13)
}

// decodeAC12 decodes the 12-bit altitude field of airborne position
// messages (the AC13 field with the M bit removed).
func decodeAC12(ac12 uint16) (int, bool) {
	if ac12 == 0 {
		return 0, false
	}
	if ac12&0x0010 != 0 {
		n := int((ac12&0x0FE0)>>1 | ac12&0x000F)
		return n*25 - 1000, true
	}
	// Re-insert the M bit position to reuse the Gillham decoder.
	ac13 := (ac12&0x0FC0)<<1 | ac12&0x003F
	return decodeGillham(ac13)
}

// decodeGillham decodes a Mode C (Gillham) altitude code in AC13 bit
// order. Returns false for codes outside the valid gray sequence.
func decodeGillham(ac13 uint16) (int, bool) {
	c1 := ac13 >> 12 & 1
	a1 := ac13 >> 11 & 1
	c2 := ac13 >> 10 & 1
	a2 := ac13 >> 9 & 1
	c4 := ac13 >> 8 & 1
	a4 := ac13 >> 7 & 1
	b1 := ac13 >> 5 & 1
	b2 := ac13 >> 3 & 1
	d2 := ac13 >> 2 & 1
	b4 := ac13 >> 1 & 1
	d4 := ac13 & 1

	// 500 ft steps: gray code D2 D4 A1 A2 A4 B1 B2 B4.
	gray := d2<<7 | d4<<6 | a1<<5 | a2<<4 | a4<<3 | b1<<2 | b2<<1 | b4
	n500 := grayToBinary(int(gray))

	// 100 ft steps: gray code C1 C2 C4.
	n100 := grayToBinary(int(c1<<2 | c2<<1 | c4))
	if n100 == 0 || n100 == 5 || n100 == 6 {
		return 0, false
	}
	if n100 == 7 {
		n100 = 5
	}
	if n500%2 == 1 {
		n100 = 6 - n100
	}

	alt := n500*500 + n100*100 - 1300
	if alt < -1200 {
		return 0, false
	}
	return alt, true
}

func grayToBinary(g int) int {
	b := 0
	for ; g != 0; g >>= 1 {
		b ^= g
	}
	return b
}

// decodeCallsign extracts the 8-character callsign from TC 1-4 messages.
func decodeCallsign(data []byte) string {
	codes := [8]byte{
		(data[5] >> 2) & 0x3F,
		(data[5]&0x03)<<4 | (data[6]>>4)&0x0F,
		(data[6]&0x0F)<<2 | (data[7]>>6)&0x03,
		data[7] & 0x3F,
		(data[8] >> 2) & 0x3F,
		(data[8]&0x03)<<4 | (data[9]>>4)&0x0F,
		(data[9]&0x0F)<<2 | (data[10]>>6)&0x03,
		data[10] & 0x3F,
	}

	var sb strings.Builder
	for _, c := range codes {
		sb.WriteByte(callsignChars[c])
	}
	return strings.TrimRight(sb.String(), " ")
}

// decodeSquawk decodes the Gillham identity field of DF5/21 replies.
func decodeSquawk(data []byte) string {
	id13 := uint16(data[2]&0x1F)<<8 | uint16(data[3])

	a := bit(id13, 0x0080)*4 + bit(id13, 0x0200)*2 + bit(id13, 0x0800)
	b := bit(id13, 0x0002)*4 + bit(id13, 0x0008)*2 + bit(id13, 0x0020)
	c := bit(id13, 0x0100)*4 + bit(id13, 0x0400)*2 + bit(id13, 0x1000)
	d := bit(id13, 0x0001)*4 + bit(id13, 0x0004)*2 + bit(id13, 0x0010)

	return fmt.Sprintf("%d%d%d%d", a, b, c, d)
}

func bit(v, mask uint16) int {
	if v&mask != 0 {
		return 1
	}
	return 0
}
