package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestFrameDF(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint8
	}{
		{name: "df17", data: []byte{0x8D}, want: 17},
		{name: "df11", data: []byte{0x58}, want: 11},
		{name: "df4", data: []byte{0x20}, want: 4},
		{name: "empty", data: nil, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Frame{Data: tt.data}
			if got := f.DF(); got != tt.want {
				t.Errorf("DF() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFrameLong(t *testing.T) {
	if (&Frame{Data: make([]byte, 14)}).Long() != true {
		t.Error("14-byte frame should be long")
	}
	if (&Frame{Data: make([]byte, 7)}).Long() != false {
		t.Error("7-byte frame should be short")
	}
}

// Absent optional fields must disappear from the wire form rather than
// serialize as zeroes a consumer would mistake for data.
func TestAircraftUpdateOmitsAbsentFields(t *testing.T) {
	u := AircraftUpdate{
		ICAO:     "4840D6",
		DeviceID: "dev",
		SeenAt:   time.Now().UTC(),
	}
	data, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("Marshal() unexpected error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() unexpected error: %v", err)
	}
	for _, field := range []string{"lat", "lon", "altitude_ft", "ground_speed_kt", "heading_deg", "vertical_rate_fpm", "callsign", "squawk"} {
		if _, ok := decoded[field]; ok {
			t.Errorf("absent field %q serialized", field)
		}
	}
	if decoded["icao"] != "4840D6" {
		t.Errorf("icao = %v", decoded["icao"])
	}
}

func TestAircraftUpdateRoundTrip(t *testing.T) {
	lat, lon := 52.2572, 3.91937
	alt := 38000
	u := AircraftUpdate{
		ICAO:       "40621D",
		DeviceID:   "dev",
		Callsign:   "KAL123",
		Latitude:   &lat,
		Longitude:  &lon,
		AltitudeFt: &alt,
		SeenAt:     time.Now().UTC().Truncate(time.Millisecond),
	}

	data, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("Marshal() unexpected error: %v", err)
	}
	var got AircraftUpdate
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() unexpected error: %v", err)
	}

	if got.ICAO != u.ICAO || got.Callsign != u.Callsign {
		t.Errorf("round trip lost identity fields: %+v", got)
	}
	if got.Latitude == nil || *got.Latitude != lat {
		t.Errorf("Latitude = %v, want %v", got.Latitude, lat)
	}
	if got.AltitudeFt == nil || *got.AltitudeFt != alt {
		t.Errorf("AltitudeFt = %v, want %v", got.AltitudeFt, alt)
	}
}
