// Package publish pushes a summary of each wake cycle to an MQTT broker.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tempod/internal/battery"
	"github.com/dokzlo13/tempod/internal/provider"
)

var ErrTimeout = errors.New("mqtt operation timed out")

// Summary is the retained state published after each cycle
type Summary struct {
	Device      string                 `json:"device"`
	CycleID     string                 `json:"cycle_id"`
	Time        time.Time              `json:"time"`
	ClockSource string                 `json:"clock_source,omitempty"`
	Provider    string                 `json:"provider"`
	Colors      provider.DayColorState `json:"colors"`
	Fetch       provider.FetchOutcome  `json:"fetch"`
	FetchError  string                 `json:"fetch_error,omitempty"`
	Battery     battery.Reading        `json:"battery"`
	WiFiFailed  bool                   `json:"wifi_failed"`
	NextWake    time.Time              `json:"next_wake"`
	SleepSecs   int64                  `json:"sleep_seconds"`
	Fallback    bool                   `json:"fallback"`
}

// Publisher sends cycle summaries somewhere
type Publisher interface {
	Publish(ctx context.Context, s Summary) error
}

// Nop discards summaries
type Nop struct{}

func (Nop) Publish(ctx context.Context, s Summary) error { return nil }

// client is the part of mqtt.Client used here
type client interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Options configures the MQTT publisher
type Options struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	Timeout     time.Duration
}

// MQTT publishes a retained JSON summary to <topic_prefix>/state.
// The connection lives only for the duration of one Publish call.
type MQTT struct {
	opts      *mqtt.ClientOptions
	topic     string
	timeout   time.Duration
	newClient func(*mqtt.ClientOptions) client
}

// NewMQTT creates a publisher
func NewMQTT(o Options) *MQTT {
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	opts := mqtt.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetConnectTimeout(timeout).
		SetAutoReconnect(false).
		SetCleanSession(true)
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	return &MQTT{
		opts:    opts,
		topic:   strings.TrimSuffix(o.TopicPrefix, "/") + "/state",
		timeout: timeout,
		newClient: func(opts *mqtt.ClientOptions) client {
			return mqtt.NewClient(opts)
		},
	}
}

// Topic returns the state topic
func (m *MQTT) Topic() string { return m.topic }

// Publish connects, publishes the summary with QoS 1 and disconnects
func (m *MQTT) Publish(ctx context.Context, s Summary) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	c := m.newClient(m.opts)
	if err := m.wait(ctx, c.Connect()); err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer c.Disconnect(250)

	if err := m.wait(ctx, c.Publish(m.topic, 1, true, payload)); err != nil {
		return fmt.Errorf("failed to publish summary: %w", err)
	}

	log.Debug().
		Str("topic", m.topic).
		Int("bytes", len(payload)).
		Msg("Cycle summary published")
	return nil
}

func (m *MQTT) wait(ctx context.Context, token mqtt.Token) error {
	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
