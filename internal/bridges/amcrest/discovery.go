package amcrest

import (
	"encoding/json"
	"fmt"
)

// DeviceBlock is the "device" object of a discovery payload.
type DeviceBlock struct {
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	Identifiers  string `json:"identifiers"`
	SWVersion    string `json:"sw_version"`
	ViaDevice    string `json:"via_device"`
}

// DiscoveryPayload is the retained config message announcing one entity.
type DiscoveryPayload struct {
	Base              string      `json:"~"`
	AvailabilityTopic string      `json:"availability_topic"`
	Device            DeviceBlock `json:"device"`
	Name              string      `json:"name"`
	StateTopic        string      `json:"state_topic"`
	UniqueID          string      `json:"unique_id"`
	QoS               byte        `json:"qos"`

	Icon           string `json:"icon,omitempty"`
	DeviceClass    string `json:"device_class,omitempty"`
	Unit           string `json:"unit_of_measurement,omitempty"`
	EntityCategory string `json:"entity_category,omitempty"`

	PayloadOn  string `json:"payload_on,omitempty"`
	PayloadOff string `json:"payload_off,omitempty"`

	CommandTopic       string   `json:"command_topic,omitempty"`
	EffectCommandTopic string   `json:"effect_command_topic,omitempty"`
	EffectStateTopic   string   `json:"effect_state_topic,omitempty"`
	EffectList         []string `json:"effect_list,omitempty"`

	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
	Step *float64 `json:"step,omitempty"`
}

// BuildDiscovery composes the discovery payload for an entity.
func BuildDiscovery(e *Entity, qos byte) DiscoveryPayload {
	c := e.descriptor.common()
	id := e.identity

	p := DiscoveryPayload{
		Base:              e.baseTopic,
		AvailabilityTopic: StatusTopic(id),
		Device: DeviceBlock{
			Name:         id.Name,
			Manufacturer: Manufacturer,
			Model:        id.Model,
			Identifiers:  id.SerialNumber,
			SWVersion:    id.SoftwareVersion,
			ViaDevice:    AppName,
		},
		Name:           e.FriendlyName(),
		StateTopic:     placeholder,
		UniqueID:       e.UniqueID(),
		QoS:            qos,
		Icon:           c.Icon,
		EntityCategory: string(c.Category),
		CommandTopic:   c.Commands[CommandSet],
	}

	switch d := e.descriptor.(type) {
	case BinarySensor:
		p.DeviceClass = d.DeviceClass
		p.PayloadOn, p.PayloadOff = PayloadOn, PayloadOff
	case Sensor:
		p.DeviceClass = d.DeviceClass
		p.Unit = d.Unit
	case Light:
		p.PayloadOn, p.PayloadOff = PayloadOn, PayloadOff
		if len(d.Effects) > 0 {
			p.EffectCommandTopic = c.Commands[CommandEffect]
			p.EffectStateTopic = SubTopic(placeholder, d.EffectState)
			p.EffectList = append([]string(nil), d.Effects...)
		}
	case Switch:
		p.PayloadOn, p.PayloadOff = PayloadOn, PayloadOff
	case Number:
		p.Min, p.Max, p.Step = &d.Min, &d.Max, &d.Step
	}

	return p
}

// DiscoveryPublisher announces entities and subscribes to their commands.
type DiscoveryPublisher struct {
	broker Broker
	prefix string
	qos    byte
	logger Logger
}

// NewDiscoveryPublisher creates a publisher. An empty prefix disables the
// discovery messages; command topics are still subscribed.
func NewDiscoveryPublisher(broker Broker, prefix string, qos byte, logger Logger) *DiscoveryPublisher {
	return &DiscoveryPublisher{
		broker: broker,
		prefix: prefix,
		qos:    qos,
		logger: logger,
	}
}

// Publish announces one entity and subscribes handler to each of its
// command topics. Running it again re-asserts the same retained payload.
func (p *DiscoveryPublisher) Publish(e *Entity, handler func(topic string, payload []byte)) error {
	if p.prefix != "" {
		payload, err := json.Marshal(BuildDiscovery(e, p.qos))
		if err != nil {
			return fmt.Errorf("encoding discovery for %s: %w", e.Name(), err)
		}

		topic := e.DiscoveryTopic(p.prefix)
		if err := p.broker.Publish(topic, payload, p.qos, true); err != nil {
			return fmt.Errorf("%w: discovery for %s: %w", ErrPublishFailed, e.Name(), err)
		}
		logDebug(p.logger, "published discovery", "entity", e.Name(), "topic", topic)
	}

	for _, topic := range commandTopicsInOrder(e.CommandTopics()) {
		if err := p.broker.Subscribe(topic, p.qos, handler); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		logDebug(p.logger, "subscribed to command topic", "entity", e.Name(), "topic", topic)
	}

	return nil
}

// PublishAll announces every entity in the registry.
func (p *DiscoveryPublisher) PublishAll(r *Registry, handler func(topic string, payload []byte)) error {
	for _, e := range r.Entities() {
		if err := p.Publish(e, handler); err != nil {
			return err
		}
	}
	return nil
}

func commandTopicsInOrder(m map[CommandKind]string) []string {
	out := make([]string, 0, len(m))
	for _, kind := range []CommandKind{CommandSet, CommandEffect} {
		if t, ok := m[kind]; ok {
			out = append(out, t)
		}
	}
	return out
}
