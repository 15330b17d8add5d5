package metrics

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/saviobatista/adsb-capture/internal/decoder"
	"github.com/saviobatista/adsb-capture/internal/types"
)

// fullScaleMag is the largest magnitude an 8-bit IQ pair can produce
// (sqrt(127^2+127^2), the dBFS reference).
const fullScaleMag = 180.0

// floorDBFS stands in when a window produced no usable level.
const floorDBFS = -60.0

// noiseQuantile is the percentile of out-of-frame magnitudes taken as the
// noise floor.
const noiseQuantile = 0.10

// maxWindowSamples caps the per-window reservoir fed by the decoder tap.
const maxWindowSamples = 4096

// Aggregator derives periodic signal-health snapshots from the decoder's
// counters and its sparse magnitude tap. It never calls into the DSP
// path; counters are read with relaxed atomics and may be slightly stale.
type Aggregator struct {
	deviceID string
	stats    *decoder.Stats
	tap      <-chan uint16

	window     []float64
	lastFrames uint64
	lastTime   time.Time
}

// New creates an aggregator for one device. tap is the decoder's sample
// tap; it may be nil when percentile noise estimation is not wanted.
func New(deviceID string, stats *decoder.Stats, tap <-chan uint16) *Aggregator {
	return &Aggregator{
		deviceID: deviceID,
		stats:    stats,
		tap:      tap,
		lastTime: time.Now(),
	}
}

// Snapshot produces the metrics for the window since the previous call.
func (a *Aggregator) Snapshot(now time.Time) types.SignalMetrics {
	a.drainTap()

	samples, preambles, frames, crcErrors, corrected := a.stats.Snapshot()

	peak := a.stats.SwapPeak()
	signalDBFS := levelDBFS(float64(peak))

	noiseDBFS := floorDBFS
	if len(a.window) > 0 {
		sort.Float64s(a.window)
		noise := stat.Quantile(noiseQuantile, stat.Empirical, a.window, nil)
		noiseDBFS = levelDBFS(noise)
	} else if nf := a.stats.LoadNoiseFloor(); nf > 0 {
		noiseDBFS = levelDBFS(float64(nf))
	}
	a.window = a.window[:0]

	elapsed := now.Sub(a.lastTime).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}
	msgRate := float64(frames-a.lastFrames) / elapsed
	a.lastFrames = frames
	a.lastTime = now

	return types.SignalMetrics{
		DeviceID:          a.deviceID,
		SignalDBFS:        signalDBFS,
		NoiseDBFS:         noiseDBFS,
		SNRDB:             signalDBFS - noiseDBFS,
		MsgRate:           msgRate,
		PreamblesDetected: preambles,
		FramesDecoded:     frames,
		CRCErrors:         crcErrors,
		CorrectedFrames:   corrected,
		SamplesProcessed:  samples,
		TimestampMs:       now.UnixMilli(),
	}
}

// drainTap moves whatever the decoder tapped since the last snapshot into
// the window reservoir.
func (a *Aggregator) drainTap() {
	if a.tap == nil {
		return
	}
	for {
		select {
		case v, ok := <-a.tap:
			if !ok {
				return
			}
			if len(a.window) < maxWindowSamples {
				a.window = append(a.window, float64(v))
			}
		default:
			return
		}
	}
}

func levelDBFS(mag float64) float64 {
	if mag <= 0 {
		return floorDBFS
	}
	db := 20 * math.Log10(mag/fullScaleMag)
	if db < floorDBFS {
		return floorDBFS
	}
	return db
}
