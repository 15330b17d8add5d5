package adsb_test

import (
	"math"
	"testing"
	"time"

	"github.com/saviobatista/adsb-capture/internal/adsb"
	"github.com/saviobatista/adsb-capture/internal/testutils"
)

func TestParseIdentification(t *testing.T) {
	tests := []struct {
		name     string
		icao     uint32
		tc       uint8
		category uint8
		callsign string
	}{
		{name: "airline flight", icao: 0x4840D6, tc: 4, category: 3, callsign: "KAL123"},
		{name: "general aviation", icao: 0xA1B2C3, tc: 1, category: 1, callsign: "N123AB"},
		{name: "full width", icao: 0x000001, tc: 4, category: 0, callsign: "ABCDEFGH"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := testutils.EncodeIdentification(tt.icao, tt.tc, tt.category, tt.callsign)
			msg, err := adsb.Parse(frame, time.Now())
			if err != nil {
				t.Fatalf("Parse() unexpected error: %v", err)
			}
			if msg.DF != 17 {
				t.Errorf("DF = %d, want 17", msg.DF)
			}
			if msg.ICAO != tt.icao {
				t.Errorf("ICAO = %06X, want %06X", msg.ICAO, tt.icao)
			}
			if msg.TC != tt.tc {
				t.Errorf("TC = %d, want %d", msg.TC, tt.tc)
			}
			if msg.Callsign != tt.callsign {
				t.Errorf("Callsign = %q, want %q", msg.Callsign, tt.callsign)
			}
			if msg.Category != tt.category {
				t.Errorf("Category = %d, want %d", msg.Category, tt.category)
			}
		})
	}
}

func TestParseAirbornePosition(t *testing.T) {
	now := time.Now()
	frame := testutils.EncodeAirbornePosition(0x40621D, 38000, 93000, 51372, false)

	msg, err := adsb.Parse(frame, now)
	if err != nil {
		t.Fatalf("Parse() unexpected error: %v", err)
	}
	if msg.TC != 11 {
		t.Errorf("TC = %d, want 11", msg.TC)
	}
	if msg.AltitudeFt == nil || *msg.AltitudeFt != 38000 {
		t.Errorf("AltitudeFt = %v, want 38000", msg.AltitudeFt)
	}
	if msg.CPR == nil {
		t.Fatal("CPR frame missing")
	}
	if msg.CPR.Odd {
		t.Error("CPR parity = odd, want even")
	}
	if msg.CPR.Lat != 93000 || msg.CPR.Lon != 51372 {
		t.Errorf("CPR = (%d, %d), want (93000, 51372)", msg.CPR.Lat, msg.CPR.Lon)
	}
	if !msg.CPR.Time.Equal(now) {
		t.Error("CPR timestamp not preserved")
	}
}

func TestParseVelocity(t *testing.T) {
	tests := []struct {
		name        string
		east, north int
		vertical    int
		wantSpeed   float64
		wantHeading float64
	}{
		{name: "northeast climb", east: 100, north: 100, vertical: 1024, wantSpeed: math.Sqrt(20000), wantHeading: 45},
		{name: "due south descent", east: 0, north: -250, vertical: -832, wantSpeed: 250, wantHeading: 180},
		{name: "due west level", east: -150, north: 0, vertical: 0, wantSpeed: 150, wantHeading: 270},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := testutils.EncodeVelocity(0x4840D6, tt.east, tt.north, tt.vertical)
			msg, err := adsb.Parse(frame, time.Now())
			if err != nil {
				t.Fatalf("Parse() unexpected error: %v", err)
			}
			if msg.GroundSpeed == nil {
				t.Fatal("GroundSpeed missing")
			}
			if math.Abs(*msg.GroundSpeed-tt.wantSpeed) > 0.01 {
				t.Errorf("GroundSpeed = %.2f, want %.2f", *msg.GroundSpeed, tt.wantSpeed)
			}
			if msg.HeadingDeg == nil {
				t.Fatal("HeadingDeg missing")
			}
			if math.Abs(*msg.HeadingDeg-tt.wantHeading) > 0.01 {
				t.Errorf("HeadingDeg = %.2f, want %.2f", *msg.HeadingDeg, tt.wantHeading)
			}
			if tt.vertical != 0 {
				if msg.VerticalRate == nil || *msg.VerticalRate != tt.vertical {
					t.Errorf("VerticalRate = %v, want %d", msg.VerticalRate, tt.vertical)
				}
			}
		})
	}
}

// Zero in both velocity axis fields means the field is absent, not a
// hovering aircraft.
func TestParseVelocityAbsent(t *testing.T) {
	frame := make([]byte, 14)
	frame[0] = 17<<3 | 5
	frame[4] = 19<<3 | 1
	msg, err := adsb.Parse(frame, time.Now())
	if err != nil {
		t.Fatalf("Parse() unexpected error: %v", err)
	}
	if msg.GroundSpeed != nil || msg.HeadingDeg != nil {
		t.Error("velocity should be absent when both axis fields are zero")
	}
}

func TestParseSurveillanceAltitude(t *testing.T) {
	// DF4 with a Gillham-coded 900 ft: B1 B2 set in the 500 ft gray
	// group, C2 C4 in the 100 ft group.
	data := make([]byte, 7)
	data[0] = 4 << 3
	data[2] = 0x05
	data[3] = 0x28

	msg, err := adsb.Parse(data, time.Now())
	if err != nil {
		t.Fatalf("Parse() unexpected error: %v", err)
	}
	if msg.AltitudeFt == nil || *msg.AltitudeFt != 900 {
		t.Errorf("AltitudeFt = %v, want 900 (Gillham)", msg.AltitudeFt)
	}
}

func TestParseSurveillanceAltitudeQBit(t *testing.T) {
	// DF0 with Q-bit altitude: n=1560 -> 38000 ft.
	n := 1560
	ac13 := uint16(n&0x7E0)<<2 | uint16(n&0x010)<<1 | 0x010 | uint16(n&0x00F)
	data := make([]byte, 7)
	data[0] = 0
	data[2] = byte(ac13>>8) & 0x1F
	data[3] = byte(ac13)

	msg, err := adsb.Parse(data, time.Now())
	if err != nil {
		t.Fatalf("Parse() unexpected error: %v", err)
	}
	if msg.AltitudeFt == nil || *msg.AltitudeFt != 38000 {
		t.Errorf("AltitudeFt = %v, want 38000", msg.AltitudeFt)
	}
}

func TestParseUndecodableAltitudeIsUnknown(t *testing.T) {
	// 100 ft gray group of 0 is outside the valid Gillham sequence:
	// altitude must come back unknown, never zero.
	data := make([]byte, 7)
	data[0] = 4 << 3
	data[2] = 0x00
	data[3] = 0x02 // 500 ft group only, 100 ft group empty

	msg, err := adsb.Parse(data, time.Now())
	if err != nil {
		t.Fatalf("Parse() unexpected error: %v", err)
	}
	if msg.AltitudeFt != nil {
		t.Errorf("AltitudeFt = %d, want unknown", *msg.AltitudeFt)
	}
}

func TestParseSquawk(t *testing.T) {
	tests := []struct {
		name string
		id13 uint16
		want string
	}{
		{name: "emergency 7700", id13: 0x0AAA, want: "7700"},
		{name: "vfr 1200", id13: 0x0808, want: "1200"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, 7)
			data[0] = 5 << 3
			data[2] = byte(tt.id13>>8) & 0x1F
			data[3] = byte(tt.id13)

			msg, err := adsb.Parse(data, time.Now())
			if err != nil {
				t.Fatalf("Parse() unexpected error: %v", err)
			}
			if msg.Squawk != tt.want {
				t.Errorf("Squawk = %q, want %q", msg.Squawk, tt.want)
			}
		})
	}
}

func TestParseAllCall(t *testing.T) {
	data := make([]byte, 7)
	data[0] = 11 << 3
	data[1], data[2], data[3] = 0x48, 0x40, 0xD6

	msg, err := adsb.Parse(data, time.Now())
	if err != nil {
		t.Fatalf("Parse() unexpected error: %v", err)
	}
	if msg.ICAO != 0x4840D6 {
		t.Errorf("ICAO = %06X, want 4840D6", msg.ICAO)
	}
}

func TestParseUnknownTypeCodeRecorded(t *testing.T) {
	frame := make([]byte, 14)
	frame[0] = 17<<3 | 5
	frame[1], frame[2], frame[3] = 0x48, 0x40, 0xD6
	frame[4] = 31 << 3 // operational status

	msg, err := adsb.Parse(frame, time.Now())
	if err != nil {
		t.Fatalf("Parse() unexpected error: %v", err)
	}
	if msg.TC != 31 {
		t.Errorf("TC = %d, want 31", msg.TC)
	}
	if msg.CPR != nil || msg.Callsign != "" {
		t.Error("unparsed type code should carry no payload fields")
	}
}

func TestParseInvalidLength(t *testing.T) {
	if _, err := adsb.Parse(make([]byte, 10), time.Now()); err == nil {
		t.Error("Parse() expected error for 10-byte frame")
	}
}
