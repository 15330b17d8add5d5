package sdr

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// windowBytes is one intake window of interleaved IQ bytes (~32 ms at
// 2 MSPS).
const windowBytes = 128 * 1024

// windowQueue bounds how many windows may sit between the radio and the
// decoder before the oldest is dropped.
const windowQueue = 32

// stallTimeout declares the front-end dead when no bytes arrive for this
// long.
const stallTimeout = 3 * time.Second

// ErrIntakeStalled reports a front-end that stopped producing samples.
var ErrIntakeStalled = errors.New("sdr: intake stalled")

// ErrRestartBudget reports a front-end that kept failing past the
// restart budget; the process should exit with the fatal SDR code.
var ErrRestartBudget = errors.New("sdr: restart budget exceeded")

// Config describes the rtl_sdr child process.
type Config struct {
	Path        string
	DeviceIndex int
	CenterFreq  uint32
	SampleRate  uint32
	GainDB      float64 // 0 = auto
	PPMError    int

	// RestartBudget is the longest stretch of consecutive failed
	// restarts tolerated before giving up.
	RestartBudget time.Duration
}

// Source owns the SDR front-end child process and the bounded window
// queue. The radio is never blocked: when the decoder falls behind, the
// oldest window is dropped and counted.
type Source struct {
	cfg      Config
	windows  chan []byte
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	onStatus func(connected bool, lastError string)
	fatal    chan error

	// Overruns counts windows dropped because the decoder fell behind.
	Overruns uint64
}

// New creates a source. onStatus is invoked on every connect/disconnect
// transition; it must not block.
func New(cfg Config, onStatus func(connected bool, lastError string)) *Source {
	if cfg.RestartBudget <= 0 {
		cfg.RestartBudget = 5 * time.Minute
	}
	return &Source{
		cfg:      cfg,
		windows:  make(chan []byte, windowQueue),
		stopChan: make(chan struct{}),
		onStatus: onStatus,
		fatal:    make(chan error, 1),
	}
}

// Windows returns the channel of IQ windows. It is closed after Stop or
// a fatal failure.
func (s *Source) Windows() <-chan []byte {
	return s.windows
}

// Fatal returns a channel that yields at most one unrecoverable error.
func (s *Source) Fatal() <-chan error {
	return s.fatal
}

// Start launches the capture loop.
func (s *Source) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop terminates the front-end and closes the window channel.
func (s *Source) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

func (s *Source) run() {
	defer s.wg.Done()
	defer close(s.windows)

	// Exponential backoff 1s -> 30s between restart attempts; a capture
	// that produced data resets it.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = s.cfg.RestartBudget
	bo.Reset()

	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		produced, err := s.captureOnce()
		if err == nil {
			// Clean EOF after Stop.
			return
		}

		log.Printf("SDR front-end terminated: %v", err)
		s.onStatus(false, err.Error())

		if produced {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			s.fatal <- fmt.Errorf("%w: %v", ErrRestartBudget, err)
			return
		}

		select {
		case <-time.After(wait):
		case <-s.stopChan:
			return
		}
	}
}

// captureOnce runs one rtl_sdr process until it stalls, dies, or Stop is
// called. produced reports whether any samples arrived.
func (s *Source) captureOnce() (produced bool, err error) {
	cmd := exec.Command(s.cfg.Path, s.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return false, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return false, fmt.Errorf("failed to start %s: %w", s.cfg.Path, err)
	}
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	log.Printf("SDR front-end started: %s (device %d, %.1f MHz, %.1f MSPS)",
		s.cfg.Path, s.cfg.DeviceIndex,
		float64(s.cfg.CenterFreq)/1e6, float64(s.cfg.SampleRate)/1e6)

	// Watchdog kills the process when reads stall so the blocking Read
	// below returns.
	var lastData int64
	atomic.StoreInt64(&lastData, time.Now().UnixNano())
	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	stalled := make(chan struct{}, 1)
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-watchdogDone:
				return
			case <-s.stopChan:
				_ = cmd.Process.Kill()
				return
			case <-ticker.C:
				last := time.Unix(0, atomic.LoadInt64(&lastData))
				if time.Since(last) > stallTimeout {
					select {
					case stalled <- struct{}{}:
					default:
					}
					_ = cmd.Process.Kill()
					return
				}
			}
		}
	}()

	first := true
	for {
		window := make([]byte, windowBytes)
		n, rerr := io.ReadFull(stdout, window)
		if n > 0 {
			produced = true
			atomic.StoreInt64(&lastData, time.Now().UnixNano())
			if first {
				s.onStatus(true, "")
				first = false
			}
			s.push(window[:n])
		}
		if rerr != nil {
			select {
			case <-s.stopChan:
				return produced, nil
			default:
			}
			select {
			case <-stalled:
				return produced, ErrIntakeStalled
			default:
			}
			return produced, fmt.Errorf("read from %s: %w", s.cfg.Path, rerr)
		}
	}
}

// push enqueues a window, dropping the oldest one when the decoder has
// fallen behind.
func (s *Source) push(window []byte) {
	select {
	case s.windows <- window:
		return
	default:
	}
	select {
	case <-s.windows:
		atomic.AddUint64(&s.Overruns, 1)
	default:
	}
	select {
	case s.windows <- window:
	default:
		atomic.AddUint64(&s.Overruns, 1)
	}
}

func (s *Source) args() []string {
	args := []string{
		"-d", strconv.Itoa(s.cfg.DeviceIndex),
		"-f", strconv.FormatUint(uint64(s.cfg.CenterFreq), 10),
		"-s", strconv.FormatUint(uint64(s.cfg.SampleRate), 10),
	}
	if s.cfg.GainDB > 0 {
		args = append(args, "-g", strconv.FormatFloat(s.cfg.GainDB, 'f', 1, 64))
	}
	if s.cfg.PPMError != 0 {
		args = append(args, "-p", strconv.Itoa(s.cfg.PPMError))
	}
	return append(args, "-")
}
