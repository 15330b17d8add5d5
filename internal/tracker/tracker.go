package tracker

import (
	"fmt"
	"log"
	"math"
	"sync/atomic"
	"time"

	"github.com/saviobatista/adsb-capture/internal/adsb"
	"github.com/saviobatista/adsb-capture/internal/types"
)

// Field plausibility gates. Values outside these are noise that survived
// the CRC, not data.
const (
	minAltitudeFt   = -2000
	maxAltitudeFt   = 60000
	maxFieldSpeedKt = 1000.0
	maxVerticalRate = 10000
)

// maxGroundSpeedKt bounds the displacement sanity check between
// consecutive positions.
const maxGroundSpeedKt = 2000.0

const earthRadiusNM = 3440.065

// dupWindow suppresses re-emission for byte-identical frames arriving in
// quick succession (the same squitter heard twice).
const dupWindow = time.Second

// Track is the aggregated state for one airframe.
type Track struct {
	ICAO         uint32
	Callsign     string
	Category     uint8
	Latitude     *float64
	Longitude    *float64
	PositionTime time.Time
	AltitudeFt   *int
	GroundSpeed  *float64
	HeadingDeg   *float64
	VerticalRate *int
	Squawk       string
	Messages     uint64
	FirstSeen    time.Time
	LastSeen     time.Time

	evenCPR *adsb.CPRFrame
	oddCPR  *adsb.CPRFrame

	lastRaw     string
	lastRawTime time.Time
}

// Tracker owns the ICAO to track mapping. It must only be driven from the
// pipeline goroutine; consumers see snapshots through emitted events.
type Tracker struct {
	deviceID    string
	tracks      map[uint32]*Track
	cprWindow   time.Duration
	idleTimeout time.Duration
	emit        func(types.TrackEvent)

	// RejectedPositions counts decodes dropped by the displacement
	// sanity check. Incremented atomically; not part of the metrics
	// snapshots.
	RejectedPositions uint64
}

// New creates a tracker. emit is called synchronously, in arrival order,
// for every state change; it must not block.
func New(deviceID string, cprWindow, idleTimeout time.Duration, emit func(types.TrackEvent)) *Tracker {
	return &Tracker{
		deviceID:    deviceID,
		tracks:      make(map[uint32]*Track),
		cprWindow:   cprWindow,
		idleTimeout: idleTimeout,
		emit:        emit,
	}
}

// Len returns the number of live tracks.
func (t *Tracker) Len() int {
	return len(t.tracks)
}

// Update merges one parsed message into its track and emits events for
// the changes it caused.
func (t *Tracker) Update(msg *adsb.Message, raw []byte, ts time.Time) {
	track, ok := t.tracks[msg.ICAO]
	if !ok {
		track = &Track{ICAO: msg.ICAO, FirstSeen: ts}
		t.tracks[msg.ICAO] = track
	}

	if ts.After(track.LastSeen) {
		track.LastSeen = ts
	}
	track.Messages++

	// The same squitter is often received more than once in a burst;
	// a byte-identical repeat confirms state but changes nothing.
	rawKey := string(raw)
	if rawKey == track.lastRaw && ts.Sub(track.lastRawTime) < dupWindow {
		return
	}
	track.lastRaw = rawKey
	track.lastRawTime = ts

	changed := t.mergeFields(track, msg)
	positionChanged := t.mergePosition(track, msg, ts)

	switch {
	case positionChanged:
		t.emit(types.TrackEvent{Kind: types.UpdatePosition, Update: t.snapshot(track)})
	case changed:
		t.emit(types.TrackEvent{Kind: types.UpdateState, Update: t.snapshot(track)})
	}
}

// Evict removes tracks idle longer than the timeout. The engine calls
// this on its eviction tick.
func (t *Tracker) Evict(now time.Time) {
	for icao, track := range t.tracks {
		if now.Sub(track.LastSeen) <= t.idleTimeout {
			continue
		}
		delete(t.tracks, icao)
		t.emit(types.TrackEvent{Kind: types.UpdateRemoved, Update: t.snapshot(track)})
		log.Printf("Track %06X evicted after %s idle", icao, now.Sub(track.LastSeen).Round(time.Second))
	}
}

// mergeFields applies most-recent-wins scalar merging. The callsign is
// sticky: once set it only changes when a new one arrives.
func (t *Tracker) mergeFields(track *Track, msg *adsb.Message) bool {
	changed := false

	if msg.Callsign != "" && msg.Callsign != track.Callsign {
		track.Callsign = msg.Callsign
		changed = true
	}
	if msg.Category != 0 && msg.Category != track.Category {
		track.Category = msg.Category
		changed = true
	}
	if msg.AltitudeFt != nil && *msg.AltitudeFt >= minAltitudeFt && *msg.AltitudeFt <= maxAltitudeFt {
		if track.AltitudeFt == nil || *track.AltitudeFt != *msg.AltitudeFt {
			v := *msg.AltitudeFt
			track.AltitudeFt = &v
			changed = true
		}
	}
	if msg.GroundSpeed != nil && *msg.GroundSpeed >= 0 && *msg.GroundSpeed < maxFieldSpeedKt {
		if track.GroundSpeed == nil || *track.GroundSpeed != *msg.GroundSpeed {
			v := *msg.GroundSpeed
			track.GroundSpeed = &v
			changed = true
		}
	}
	if msg.HeadingDeg != nil && *msg.HeadingDeg >= 0 && *msg.HeadingDeg < 360 {
		if track.HeadingDeg == nil || *track.HeadingDeg != *msg.HeadingDeg {
			v := *msg.HeadingDeg
			track.HeadingDeg = &v
			changed = true
		}
	}
	if msg.VerticalRate != nil && *msg.VerticalRate > -maxVerticalRate && *msg.VerticalRate < maxVerticalRate {
		if track.VerticalRate == nil || *track.VerticalRate != *msg.VerticalRate {
			v := *msg.VerticalRate
			track.VerticalRate = &v
			changed = true
		}
	}
	if msg.Squawk != "" && msg.Squawk != track.Squawk {
		track.Squawk = msg.Squawk
		changed = true
	}

	return changed
}

// mergePosition stores the CPR frame and attempts the global decode when
// an opposite-parity frame exists within the pairing window.
func (t *Tracker) mergePosition(track *Track, msg *adsb.Message, ts time.Time) bool {
	if msg.CPR == nil || msg.CPR.Surface {
		// Surface CPR frames are not kept on the track and never
		// produce a published position.
		return false
	}

	if msg.CPR.Odd {
		track.oddCPR = msg.CPR
	} else {
		track.evenCPR = msg.CPR
	}
	if track.evenCPR == nil || track.oddCPR == nil {
		return false
	}

	gap := track.evenCPR.Time.Sub(track.oddCPR.Time)
	if gap < 0 {
		gap = -gap
	}
	if gap > t.cprWindow {
		return false
	}

	lat, lon, ok := adsb.DecodeGlobalCPR(track.evenCPR, track.oddCPR, msg.CPR.Odd)
	if !ok {
		return false
	}

	// Displacement must be reachable at a sane ground speed.
	if track.Latitude != nil && track.Longitude != nil {
		dt := ts.Sub(track.PositionTime).Seconds()
		if dt > 0 && dt < 60 {
			dist := haversineNM(*track.Latitude, *track.Longitude, lat, lon)
			maxDist := maxGroundSpeedKt / 3600.0 * dt
			if dist > maxDist+1.0 {
				atomic.AddUint64(&t.RejectedPositions, 1)
				return false
			}
		}
	}

	if track.Latitude != nil && *track.Latitude == lat && *track.Longitude == lon {
		track.PositionTime = ts
		return false
	}

	track.Latitude = &lat
	track.Longitude = &lon
	track.PositionTime = ts
	return true
}

// snapshot builds a published record from the track. All pointer fields
// are copied so readers never alias tracker-owned state.
func (t *Tracker) snapshot(track *Track) types.AircraftUpdate {
	u := types.AircraftUpdate{
		ICAO:     fmt.Sprintf("%06X", track.ICAO),
		DeviceID: t.deviceID,
		Callsign: track.Callsign,
		Category: track.Category,
		Squawk:   track.Squawk,
		Messages: track.Messages,
		SeenAt:   track.LastSeen,
	}
	if track.Latitude != nil {
		v := *track.Latitude
		u.Latitude = &v
	}
	if track.Longitude != nil {
		v := *track.Longitude
		u.Longitude = &v
	}
	if track.AltitudeFt != nil {
		v := *track.AltitudeFt
		u.AltitudeFt = &v
	}
	if track.GroundSpeed != nil {
		v := *track.GroundSpeed
		u.GroundSpeed = &v
	}
	if track.HeadingDeg != nil {
		v := *track.HeadingDeg
		u.HeadingDeg = &v
	}
	if track.VerticalRate != nil {
		v := *track.VerticalRate
		u.VerticalRate = &v
	}
	return u
}

func haversineNM(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusNM * 2 * math.Asin(math.Sqrt(a))
}
