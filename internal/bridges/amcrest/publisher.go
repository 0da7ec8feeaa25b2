package amcrest

import (
	"encoding/json"
	"fmt"
)

// Broker is the subset of an MQTT client the bridge uses.
// Publish must block until the broker acknowledges the message.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	IsConnected() bool
	Disconnect()
}

// Telemetry receives a copy of everything the bridge publishes.
// It is optional; see influxdb.Client.
type Telemetry interface {
	WriteEntityState(serial, entity, payload string)
	WriteDeviceEvent(serial, code, action string)
}

// Metrics receives operational counters. It is optional; see metrics.Client.
type Metrics interface {
	Incr(name string, tags ...string)
	Gauge(name string, value float64, tags ...string)
}

// Metric names.
const (
	MetricEventsReceived     = "events.received"
	MetricCommandsHandled    = "commands.handled"
	MetricCommandsFailed     = "commands.failed"
	MetricPublishFailed      = "publish.failed"
	MetricStorageUsedPercent = "storage.used_percent"
)

// Publisher sends entity states and raw events.
type Publisher interface {
	PublishState(e *Entity, sub, payload string) error
	PublishEvent(ev Event) error
}

// brokerPublisher publishes to the broker and mirrors to telemetry.
type brokerPublisher struct {
	broker    Broker
	identity  DeviceIdentity
	qos       byte
	telemetry Telemetry
	metrics   Metrics
	logger    Logger
}

// PublishState publishes a retained state. Unchanged values are published
// again so late subscribers always see the latest retained state.
func (p *brokerPublisher) PublishState(e *Entity, sub, payload string) error {
	topic := e.StateTopic(sub)
	if err := p.broker.Publish(topic, []byte(payload), p.qos, true); err != nil {
		p.incr(MetricPublishFailed)
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}

	previous, seen := e.recordPublish(sub, payload)
	logDebug(p.logger, "published state",
		"entity", e.Name(),
		"topic", topic,
		"payload", payload,
		"previous", previous,
		"first", !seen)

	if p.telemetry != nil {
		name := e.Slug()
		if sub != "" {
			name += "_" + sub
		}
		p.telemetry.WriteEntityState(p.identity.SerialNumber, name, payload)
	}
	return nil
}

// PublishEvent publishes the raw event as JSON on the event topic. Events
// are not retained.
func (p *brokerPublisher) PublishEvent(ev Event) error {
	payload, err := json.Marshal(struct {
		Code    string       `json:"code"`
		Payload EventPayload `json:"payload"`
	}{ev.Code, ev.Payload})
	if err != nil {
		return fmt.Errorf("encoding event %s: %w", ev.Code, err)
	}

	topic := EventTopic(p.identity)
	if err := p.broker.Publish(topic, payload, p.qos, false); err != nil {
		p.incr(MetricPublishFailed)
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}

	p.incr(MetricEventsReceived, "code:"+ev.Code)
	if p.telemetry != nil {
		p.telemetry.WriteDeviceEvent(p.identity.SerialNumber, ev.Code, ev.Payload.Action)
	}
	return nil
}

func (p *brokerPublisher) incr(name string, tags ...string) {
	if p.metrics != nil {
		p.metrics.Incr(name, tags...)
	}
}
