package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// The decoder timing assumes exactly 2 samples per Mode S chip at 1090 MHz.
// Any other rate or frequency is a configuration error, not a runtime mode.
const (
	RequiredSampleRate = 2_000_000
	RequiredCenterFreq = 1_090_000_000
)

// Config holds the application configuration
type Config struct {
	DeviceIndex int
	DeviceID    string
	GainDB      float64 // 0 = auto
	PPMError    int
	RTLSDRPath  string

	GatewayURL string // NATS URL for the publish transport
	RedisAddr  string // optional latest-state mirror, empty disables

	SampleRate uint32
	CenterFreq uint32

	PreambleGate    float64       // multiplier over noise floor for preamble acceptance
	CPRWindow       time.Duration // max gap between even/odd CPR frames
	IdleTimeout     time.Duration // track eviction age
	EvictInterval   time.Duration
	MetricsInterval time.Duration
}

// Load loads the configuration from environment variables and .env file
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		DeviceIndex:     0,
		GainDB:          49.6,
		PPMError:        0,
		RTLSDRPath:      "rtl_sdr",
		GatewayURL:      "nats://nats:4222",
		SampleRate:      RequiredSampleRate,
		CenterFreq:      RequiredCenterFreq,
		PreambleGate:    2.0,
		CPRWindow:       10 * time.Second,
		IdleTimeout:     5 * time.Minute,
		EvictInterval:   30 * time.Second,
		MetricsInterval: 1 * time.Second,
	}

	if v := os.Getenv("DEVICE_INDEX"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid DEVICE_INDEX: %q", v)
		}
		cfg.DeviceIndex = n
	}

	cfg.DeviceID = os.Getenv("DEVICE_ID")
	if cfg.DeviceID == "" {
		cfg.DeviceID = fmt.Sprintf("RTL-SDR-%s", uuid.New().String()[:8])
	}

	if v := os.Getenv("DEVICE_GAIN"); v != "" {
		g, err := strconv.ParseFloat(v, 64)
		if err != nil || g < 0 {
			return nil, fmt.Errorf("invalid DEVICE_GAIN: %q", v)
		}
		cfg.GainDB = g
	}

	if v := os.Getenv("PPM_ERROR"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PPM_ERROR: %q", v)
		}
		cfg.PPMError = p
	}

	if v := os.Getenv("RTL_SDR_PATH"); v != "" {
		cfg.RTLSDRPath = v
	}

	if v := os.Getenv("GATEWAY_URL"); v != "" {
		cfg.GatewayURL = v
	}
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")

	if v := os.Getenv("SAMPLE_RATE"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid SAMPLE_RATE: %q", v)
		}
		cfg.SampleRate = uint32(n)
	}
	if cfg.SampleRate != RequiredSampleRate {
		return nil, fmt.Errorf("SAMPLE_RATE must be %d, got %d", RequiredSampleRate, cfg.SampleRate)
	}

	if v := os.Getenv("CENTER_FREQ"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid CENTER_FREQ: %q", v)
		}
		cfg.CenterFreq = uint32(n)
	}
	if cfg.CenterFreq != RequiredCenterFreq {
		return nil, fmt.Errorf("CENTER_FREQ must be %d, got %d", RequiredCenterFreq, cfg.CenterFreq)
	}

	if v := os.Getenv("PREAMBLE_GATE"); v != "" {
		g, err := strconv.ParseFloat(v, 64)
		if err != nil || g <= 0 {
			return nil, fmt.Errorf("invalid PREAMBLE_GATE: %q", v)
		}
		cfg.PreambleGate = g
	}

	var err error
	if cfg.CPRWindow, err = secondsVar("CPR_WINDOW_S", cfg.CPRWindow); err != nil {
		return nil, err
	}
	if cfg.IdleTimeout, err = secondsVar("IDLE_TIMEOUT_S", cfg.IdleTimeout); err != nil {
		return nil, err
	}
	if cfg.EvictInterval, err = secondsVar("EVICT_INTERVAL_S", cfg.EvictInterval); err != nil {
		return nil, err
	}
	if v := os.Getenv("METRICS_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("invalid METRICS_INTERVAL_MS: %q", v)
		}
		cfg.MetricsInterval = time.Duration(ms) * time.Millisecond
	}

	return cfg, nil
}

func secondsVar(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	s, err := strconv.Atoi(v)
	if err != nil || s <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return time.Duration(s) * time.Second, nil
}
