package notifications

import (
	"context"
	"fmt"
	"io"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/google/uuid"
	yaml "gopkg.in/yaml.v2"

	"github.com/toonwire/attendance-mgmt/internal/pkg/application/hooks"
	"github.com/toonwire/attendance-mgmt/pkg/types"
)

const eventSource = "github.com/toonwire/attendance-mgmt"

type SubscriberConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type Notification struct {
	ID          string             `yaml:"id"`
	Name        string             `yaml:"name"`
	Type        string             `yaml:"type"`
	Subscribers []SubscriberConfig `yaml:"subscribers"`
}

type Config struct {
	Notifications []Notification `yaml:"notifications"`
}

func LoadConfiguration(data io.Reader) (*Config, error) {
	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	err = yaml.Unmarshal(buf, cfg)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Notifier forwards selected hook bus events to webhook subscribers
// as CloudEvents.
type Notifier interface {
	Register(bus hooks.Bus)
	Send(ctx context.Context, eventType string, data any) error
}

type notifier struct {
	subscribers map[string][]SubscriberConfig
}

func New(cfg *Config) Notifier {
	n := &notifier{
		subscribers: make(map[string][]SubscriberConfig),
	}

	if cfg != nil {
		for _, s := range cfg.Notifications {
			n.subscribers[s.Type] = append(n.subscribers[s.Type], s.Subscribers...)
		}
	}

	return n
}

// Register wires the notifier onto the hook kinds that matter outside
// the process. Delivery runs async so webhook latency never blocks a
// device response.
func (n *notifier) Register(bus hooks.Bus) {
	bus.SubscribeAsync(types.HookReportGenerated, func(ctx context.Context, payload any) error {
		if msg, ok := payload.(types.ReportGenerated); ok {
			return n.Send(ctx, "attendance.reportGenerated", msg)
		}
		return nil
	})

	bus.SubscribeAsync(types.HookFirmwareFailure, func(ctx context.Context, payload any) error {
		if msg, ok := payload.(types.FirmwareFailure); ok {
			return n.Send(ctx, "attendance.firmwareFailure", msg)
		}
		return nil
	})

	bus.SubscribeAsync(types.HookDeviceRevoked, func(ctx context.Context, payload any) error {
		if device, ok := payload.(types.Device); ok {
			return n.Send(ctx, "attendance.deviceRevoked", types.DeviceRevoked{
				DeviceID:  device.DeviceID,
				Tenant:    device.Tenant,
				Timestamp: time.Now().UTC(),
			})
		}
		return nil
	})
}

func (n *notifier) Send(ctx context.Context, eventType string, data any) error {
	subscribers := n.subscribers[eventType]
	if len(subscribers) == 0 {
		return nil
	}

	c, err := cloudevents.NewClientHTTP()
	if err != nil {
		return err
	}

	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetTime(time.Now().UTC())
	event.SetSource(eventSource)
	event.SetType(eventType)

	err = event.SetData(cloudevents.ApplicationJSON, data)
	if err != nil {
		return err
	}

	logger := logging.GetFromContext(ctx)

	for _, s := range subscribers {
		ctxWithTarget := cloudevents.ContextWithTarget(ctx, s.Endpoint)

		result := c.Send(ctxWithTarget, event)
		if cloudevents.IsUndelivered(result) {
			logger.Error("failed to deliver notification", "endpoint", s.Endpoint, "err", result.Error())
			err = fmt.Errorf("undelivered notification: %w", result)
		}
	}

	return err
}
