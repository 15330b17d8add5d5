package natspub

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/saviobatista/adsb-capture/internal/types"
)

const (
	SubjectAircraft = "adsb.aircraft"
	SubjectMetrics  = "adsb.metrics"
	SubjectStatus   = "adsb.status"
)

// Client publishes the engine's three streams to the gateway over NATS.
// Aircraft updates go through JetStream so a briefly absent gateway does
// not lose them; metrics and status are plain publishes, the next
// snapshot supersedes a missed one.
type Client struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// New connects to the gateway NATS server and ensures the aircraft
// stream exists.
func New(url string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     "ADSB_AIRCRAFT",
		Subjects: []string{SubjectAircraft + ".>"},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
	})
	if err != nil && !strings.Contains(err.Error(), "stream name already in use") {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	return &Client{conn: nc, js: js}, nil
}

// PublishAircraft publishes one aircraft update, keyed by ICAO in the
// subject so consumers can filter per airframe.
func (c *Client) PublishAircraft(u *types.AircraftUpdate) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to marshal aircraft update: %w", err)
	}
	_, err = c.js.Publish(fmt.Sprintf("%s.%s", SubjectAircraft, u.ICAO), data)
	if err != nil {
		return fmt.Errorf("failed to publish aircraft update: %w", err)
	}
	return nil
}

// PublishMetrics publishes one signal metrics snapshot.
func (c *Client) PublishMetrics(m *types.SignalMetrics) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}
	if err := c.conn.Publish(fmt.Sprintf("%s.%s", SubjectMetrics, m.DeviceID), data); err != nil {
		return fmt.Errorf("failed to publish metrics: %w", err)
	}
	return nil
}

// PublishStatus publishes one device status record.
func (c *Client) PublishStatus(s *types.DeviceStatus) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	if err := c.conn.Publish(fmt.Sprintf("%s.%s", SubjectStatus, s.DeviceID), data); err != nil {
		return fmt.Errorf("failed to publish status: %w", err)
	}
	return nil
}

// SubscribeAircraft subscribes to all aircraft updates. Used by the
// gateway side and by integration tests.
func (c *Client) SubscribeAircraft(handler func(*types.AircraftUpdate)) error {
	_, err := c.js.Subscribe(SubjectAircraft+".>", func(msg *nats.Msg) {
		var u types.AircraftUpdate
		if err := json.Unmarshal(msg.Data, &u); err != nil {
			return
		}
		handler(&u)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	return nil
}

// Close closes the NATS connection.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
