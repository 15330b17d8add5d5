package engine

import (
	"log"
	"sync"
	"time"

	"github.com/saviobatista/adsb-capture/internal/adsb"
	"github.com/saviobatista/adsb-capture/internal/bus"
	"github.com/saviobatista/adsb-capture/internal/config"
	"github.com/saviobatista/adsb-capture/internal/crc"
	"github.com/saviobatista/adsb-capture/internal/decoder"
	"github.com/saviobatista/adsb-capture/internal/metrics"
	"github.com/saviobatista/adsb-capture/internal/sdr"
	"github.com/saviobatista/adsb-capture/internal/tracker"
	"github.com/saviobatista/adsb-capture/internal/types"
)

// heartbeatInterval is how often device status is republished even
// without a state change.
const heartbeatInterval = 5 * time.Second

// flushTimeout bounds how long shutdown waits for subscribers to drain.
const flushTimeout = time.Second

// sampleTapBuffer sizes the decoder-to-aggregator magnitude tap.
const sampleTapBuffer = 4096

// Engine owns the capture-and-decode pipeline: SDR intake, the DSP
// goroutine (magnitude, preamble, demod, CRC, parse, track) and the
// periodic metrics and status emission. All output leaves through the
// bus; the engine holds no package-level state.
type Engine struct {
	cfg   *config.Config
	bus   *bus.Bus
	stats *decoder.Stats
	dec   *decoder.Decoder
	trk   *tracker.Tracker
	agg   *metrics.Aggregator

	source  *sdr.Source
	windows <-chan []byte

	statusMu   sync.Mutex
	connected  bool
	lastError  string
	fatalErr   chan error
	stopOnce   sync.Once
	stopChan   chan struct{}
	pipelineWg sync.WaitGroup
}

// New creates an engine that reads from the rtl_sdr front-end described
// by cfg.
func New(cfg *config.Config, b *bus.Bus) *Engine {
	e := newEngine(cfg, b)
	e.source = sdr.New(sdr.Config{
		Path:        cfg.RTLSDRPath,
		DeviceIndex: cfg.DeviceIndex,
		CenterFreq:  cfg.CenterFreq,
		SampleRate:  cfg.SampleRate,
		GainDB:      cfg.GainDB,
		PPMError:    cfg.PPMError,
	}, e.setConnected)
	e.windows = e.source.Windows()
	return e
}

// NewWithIntake creates an engine fed from an arbitrary IQ window
// channel instead of a live front-end. Used by tests and file replay.
func NewWithIntake(cfg *config.Config, b *bus.Bus, windows <-chan []byte) *Engine {
	e := newEngine(cfg, b)
	e.windows = windows
	e.connected = true
	return e
}

func newEngine(cfg *config.Config, b *bus.Bus) *Engine {
	stats := &decoder.Stats{}
	tap := make(chan uint16, sampleTapBuffer)
	validator := crc.NewValidator()

	e := &Engine{
		cfg:      cfg,
		bus:      b,
		stats:    stats,
		fatalErr: make(chan error, 1),
		stopChan: make(chan struct{}),
	}
	e.dec = decoder.New(validator, cfg.PreambleGate, stats, tap)
	e.trk = tracker.New(cfg.DeviceID, cfg.CPRWindow, cfg.IdleTimeout, e.bus.PublishAircraft)
	e.agg = metrics.New(cfg.DeviceID, stats, tap)
	return e
}

// Start launches the intake and the pipeline goroutine.
func (e *Engine) Start() {
	if e.source != nil {
		e.source.Start()
	}
	e.publishStatus()

	e.pipelineWg.Add(1)
	go e.pipeline()
}

// Stop drains the intake, lets in-flight windows finish, flushes the bus
// with a bounded wait and shuts everything down.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		if e.source != nil {
			e.source.Stop()
		}
		close(e.stopChan)
		e.pipelineWg.Wait()

		// Final disconnected status, then give subscribers a moment to
		// catch up before their channels close.
		e.setConnected(false, "")
		done := make(chan struct{})
		go func() {
			e.bus.Close()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(flushTimeout):
		}
	})
}

// Fatal yields an unrecoverable front-end error, if one occurred.
func (e *Engine) Fatal() <-chan error {
	return e.fatalErr
}

// pipeline is the DSP goroutine: it processes IQ windows straight-line
// and never blocks on consumers. Ticker work interleaves between
// windows; every outbound send is a try-send through the bus.
func (e *Engine) pipeline() {
	defer e.pipelineWg.Done()

	metricsTicker := time.NewTicker(e.cfg.MetricsInterval)
	defer metricsTicker.Stop()
	evictTicker := time.NewTicker(e.cfg.EvictInterval)
	defer evictTicker.Stop()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	var fatal <-chan error
	if e.source != nil {
		fatal = e.source.Fatal()
	}

	for {
		select {
		case window, ok := <-e.windows:
			if !ok {
				// Intake closed: flush and leave.
				e.bus.PublishMetrics(e.agg.Snapshot(time.Now()))
				return
			}
			e.processWindow(window)

		case <-metricsTicker.C:
			e.bus.PublishMetrics(e.agg.Snapshot(time.Now()))

		case <-evictTicker.C:
			e.trk.Evict(time.Now())

		case <-heartbeat.C:
			e.publishStatus()

		case err := <-fatal:
			log.Printf("Fatal SDR error: %v", err)
			e.fatalErr <- err
			return

		case <-e.stopChan:
			// Drain whatever the intake already queued.
			for {
				select {
				case window, ok := <-e.windows:
					if !ok {
						return
					}
					e.processWindow(window)
				default:
					return
				}
			}
		}
	}
}

func (e *Engine) processWindow(window []byte) {
	frames := e.dec.Process(window, time.Now())
	for i := range frames {
		frame := &frames[i]
		msg, err := adsb.Parse(frame.Data, frame.Timestamp)
		if err != nil {
			// Validated frames always have a legal length; anything else
			// is a programming error worth seeing.
			log.Printf("Failed to parse validated frame: %v", err)
			continue
		}
		e.trk.Update(msg, frame.Data, frame.Timestamp)
	}
}

// setConnected records front-end state transitions and publishes them.
func (e *Engine) setConnected(connected bool, lastError string) {
	e.statusMu.Lock()
	e.connected = connected
	if lastError != "" {
		e.lastError = lastError
	} else if connected {
		e.lastError = ""
	}
	e.statusMu.Unlock()
	e.publishStatus()
}

func (e *Engine) publishStatus() {
	e.statusMu.Lock()
	status := types.DeviceStatus{
		DeviceID:   e.cfg.DeviceID,
		Connected:  e.connected,
		SampleRate: e.cfg.SampleRate,
		CenterFreq: e.cfg.CenterFreq,
		GainDB:     e.cfg.GainDB,
		PPMError:   e.cfg.PPMError,
		LastError:  e.lastError,
		Timestamp:  time.Now(),
	}
	e.statusMu.Unlock()
	e.bus.PublishStatus(status)
}
