package decoder

import (
	"sync/atomic"
	"time"

	"github.com/saviobatista/adsb-capture/internal/crc"
	"github.com/saviobatista/adsb-capture/internal/types"
)

// noiseSampleStep controls how sparsely buffer magnitudes feed the noise
// floor average and the metrics tap.
const noiseSampleStep = 1000

// Stats tracks decoder counters. All fields are updated with relaxed
// atomics on the DSP goroutine and read by the metrics aggregator; a
// slightly stale read is acceptable.
type Stats struct {
	SamplesProcessed  uint64
	PreamblesDetected uint64
	FramesDecoded     uint64
	CRCErrors         uint64
	CorrectedFrames   uint64
	NoiseFloor        uint32
	PeakSignal        uint32
}

// Snapshot returns a consistent-enough copy of the counters.
func (s *Stats) Snapshot() (samples, preambles, frames, crcErrors, corrected uint64) {
	return atomic.LoadUint64(&s.SamplesProcessed),
		atomic.LoadUint64(&s.PreamblesDetected),
		atomic.LoadUint64(&s.FramesDecoded),
		atomic.LoadUint64(&s.CRCErrors),
		atomic.LoadUint64(&s.CorrectedFrames)
}

// SwapPeak returns the peak magnitude since the previous call and resets it.
func (s *Stats) SwapPeak() uint32 {
	return atomic.SwapUint32(&s.PeakSignal, 0)
}

// LoadNoiseFloor returns the decoder's current noise floor estimate.
func (s *Stats) LoadNoiseFloor() uint32 {
	return atomic.LoadUint32(&s.NoiseFloor)
}

func (s *Stats) updatePeak(v uint16) {
	for {
		cur := atomic.LoadUint32(&s.PeakSignal)
		if uint32(v) <= cur || atomic.CompareAndSwapUint32(&s.PeakSignal, cur, uint32(v)) {
			return
		}
	}
}

// Decoder turns buffers of raw IQ bytes into validated Mode S frames.
// It is owned by the DSP goroutine and never blocks: the optional sample
// tap uses try-send only.
type Decoder struct {
	mags      *magTable
	validator *crc.Validator
	gate      float64
	stats     *Stats

	noiseFloor  uint32
	noiseSeeded bool

	// sampleTap receives sparse magnitude samples taken outside detected
	// frames, for the aggregator's percentile noise estimate.
	sampleTap chan<- uint16

	magBuf []uint16
}

// New creates a decoder. gate is the preamble acceptance multiplier over
// the noise floor. tap may be nil.
func New(validator *crc.Validator, gate float64, stats *Stats, tap chan<- uint16) *Decoder {
	return &Decoder{
		mags:      newMagTable(),
		validator: validator,
		gate:      gate,
		stats:     stats,
		sampleTap: tap,
	}
}

// Process decodes one buffer of interleaved IQ bytes read at start.
// Returned frames carry capture timestamps interpolated from the sample
// offset within the buffer.
func (d *Decoder) Process(buf []byte, start time.Time) []types.Frame {
	numSamples := len(buf) / 2
	if numSamples < preambleSamples+longFrameBits*samplesPerBit {
		return nil
	}

	if cap(d.magBuf) < numSamples {
		d.magBuf = make([]uint16, numSamples)
	}
	mag := d.magBuf[:numSamples]
	d.mags.computeMagnitudes(buf, mag)

	d.updateNoiseFloor(mag)

	var frames []types.Frame
	scanLimit := numSamples - preambleSamples - longFrameBits*samplesPerBit

	i := 0
	for i < scanLimit {
		if i%noiseSampleStep == 0 {
			d.stats.updatePeak(mag[i])
			d.tapSample(mag[i])
		}

		cand, ok := detectPreamble(mag, i, d.noiseFloor, d.gate)
		if !ok {
			i++
			continue
		}

		// Overlapping candidates resolve to the stronger preamble.
		for i+1 < scanLimit {
			next, ok := detectPreamble(mag, i+1, d.noiseFloor, d.gate)
			if !ok || next.high <= cand.high {
				break
			}
			cand = next
			i++
		}

		atomic.AddUint64(&d.stats.PreamblesDetected, 1)
		d.stats.updatePeak(uint16(cand.meanHigh))

		frame, ok := d.decodeAt(mag, i, cand, start)
		if !ok {
			atomic.AddUint64(&d.stats.CRCErrors, 1)
			i++
			continue
		}

		frames = append(frames, frame)
		atomic.AddUint64(&d.stats.FramesDecoded, 1)
		if frame.CorrectedBit >= 0 {
			atomic.AddUint64(&d.stats.CorrectedFrames, 1)
		}
		i += preambleSamples + len(frame.Data)*8*samplesPerBit
	}

	atomic.AddUint64(&d.stats.SamplesProcessed, uint64(numSamples))
	return frames
}

// decodeAt demodulates and validates the frame following the preamble at
// pos. The demodulator always produces a 112-bit candidate; the downlink
// format selects how much of it participates in the CRC.
func (d *Decoder) decodeAt(mag []uint16, pos int, cand preambleCandidate, start time.Time) (types.Frame, bool) {
	res := demodulate(mag, pos+preambleSamples)

	frame := types.Frame{
		Timestamp:    start.Add(time.Duration(pos) * time.Microsecond / samplesPerBit),
		SignalLevel:  uint16(cand.meanHigh),
		NoiseFloor:   uint16(d.noiseFloor),
		CorrectedBit: -1,
	}

	df := res.bytes[0] >> 3
	if df >= 16 {
		data := make([]byte, longFrameBits/8)
		copy(data, res.bytes[:])
		result, bit, _ := d.validator.ValidateLong(data, res.lowConfidence, res.correctable)
		if result == crc.Bad {
			return types.Frame{}, false
		}
		frame.Data = data
		frame.CorrectedBit = bit
		d.learnAddress(data)
		return frame, true
	}

	data := make([]byte, shortFrameBits/8)
	copy(data, res.bytes[:shortFrameBits/8])
	result, _ := d.validator.ValidateShort(data)
	if result == crc.Bad {
		return types.Frame{}, false
	}
	frame.Data = data
	d.learnAddress(data)
	return frame, true
}

// learnAddress feeds the recent-address whitelist from frames whose CRC
// fully verified the address bytes.
func (d *Decoder) learnAddress(data []byte) {
	df := data[0] >> 3
	if df == 11 || df == 17 || df == 18 {
		icao := uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
		d.validator.Learn(icao)
	}
}

// updateNoiseFloor maintains an exponential moving average over sparsely
// sampled buffer magnitudes.
func (d *Decoder) updateNoiseFloor(mag []uint16) {
	step := noiseSampleStep
	if m := len(mag) / 100; m < step && m > 0 {
		step = m
	}
	if step < 1 {
		step = 1
	}

	var sum uint64
	var count uint64
	for i := 0; i < len(mag); i += step {
		sum += uint64(mag[i])
		count++
	}
	if count == 0 {
		return
	}
	avg := uint32(sum / count)

	if !d.noiseSeeded {
		d.noiseFloor = avg
		d.noiseSeeded = true
	} else {
		d.noiseFloor = (d.noiseFloor*9 + avg) / 10
	}
	atomic.StoreUint32(&d.stats.NoiseFloor, d.noiseFloor)
}

func (d *Decoder) tapSample(v uint16) {
	if d.sampleTap == nil {
		return
	}
	select {
	case d.sampleTap <- v:
	default:
	}
}
