package amcrest

import (
	"fmt"
	"strings"
	"sync"
)

// Component is the Home Assistant component kind of an entity.
type Component string

// Supported component kinds.
const (
	ComponentBinarySensor Component = "binary_sensor"
	ComponentSensor       Component = "sensor"
	ComponentLight        Component = "light"
	ComponentSwitch       Component = "switch"
	ComponentNumber       Component = "number"
)

// Category groups an entity in the controller UI.
type Category string

// Entity categories. CategoryNone omits the field from discovery.
const (
	CategoryNone       Category = ""
	CategoryDiagnostic Category = "diagnostic"
	CategoryConfig     Category = "config"
)

// CommandKind identifies one command topic of an entity.
type CommandKind string

// Command kinds and the discovery field each one is announced under.
const (
	CommandSet    CommandKind = "command"
	CommandEffect CommandKind = "effect_command"
)

// Common holds the descriptor fields shared by every component kind.
type Common struct {
	// Name is the logical name; its slug is the entity's topic segment.
	Name string

	// FriendlyName replaces Name in the displayed name when set.
	FriendlyName string

	Icon     string
	Category Category

	// Commands maps each command kind to a topic template relative to the
	// base topic ("~/set").
	Commands map[CommandKind]string
}

func (c Common) common() Common { return c }

// Descriptor is the static description of one capability. The set of
// implementations is closed: BinarySensor, Sensor, Light, Switch and Number.
type Descriptor interface {
	Component() Component
	common() Common
}

// BinarySensor is an on/off sensor.
type BinarySensor struct {
	Common
	DeviceClass string
}

// Component implements Descriptor.
func (BinarySensor) Component() Component { return ComponentBinarySensor }

// Sensor is a read-only measurement.
type Sensor struct {
	Common
	DeviceClass string
	Unit        string
}

// Component implements Descriptor.
func (Sensor) Component() Component { return ComponentSensor }

// Light is a controllable light, optionally with named effects.
type Light struct {
	Common
	Effects []string

	// EffectState is the sub-topic the current effect is published on.
	EffectState string
}

// Component implements Descriptor.
func (Light) Component() Component { return ComponentLight }

// Switch is a controllable on/off setting.
type Switch struct {
	Common
}

// Component implements Descriptor.
func (Switch) Component() Component { return ComponentSwitch }

// Number is a controllable numeric setting.
type Number struct {
	Common
	Min  float64
	Max  float64
	Step float64
}

// Component implements Descriptor.
func (Number) Component() Component { return ComponentNumber }

// Entity binds a Descriptor to a device and carries the derived topics.
//
// Thread Safety: topics are fixed at construction; the last-payload cache
// is guarded by a mutex.
type Entity struct {
	descriptor Descriptor
	identity   DeviceIdentity
	slug       string
	baseTopic  string
	commands   map[CommandKind]string

	mu   sync.Mutex
	last map[string]string
}

// NewEntity derives topics for descriptor d on device id.
func NewEntity(d Descriptor, id DeviceIdentity) *Entity {
	c := d.common()
	slug := Slugify(c.Name)
	base := BaseTopic(id, slug)

	commands := make(map[CommandKind]string, len(c.Commands))
	for kind, tmpl := range c.Commands {
		commands[kind] = ResolveRelative(tmpl, base)
	}

	return &Entity{
		descriptor: d,
		identity:   id,
		slug:       slug,
		baseTopic:  base,
		commands:   commands,
		last:       make(map[string]string),
	}
}

// Descriptor returns the static descriptor.
func (e *Entity) Descriptor() Descriptor { return e.descriptor }

// Name returns the logical name.
func (e *Entity) Name() string { return e.descriptor.common().Name }

// Slug returns the topic segment derived from the logical name.
func (e *Entity) Slug() string { return e.slug }

// BaseTopic returns "{app}/{serial}/{slug}".
func (e *Entity) BaseTopic() string { return e.baseTopic }

// StateTopic returns the base topic, or base/sub for a sub-state.
func (e *Entity) StateTopic(sub string) string { return SubTopic(e.baseTopic, sub) }

// UniqueID returns "{serial}.{slug}".
func (e *Entity) UniqueID() string {
	return fmt.Sprintf("%s.%s", e.identity.SerialNumber, e.slug)
}

// DiscoveryTopic returns the entity's discovery config topic under prefix.
func (e *Entity) DiscoveryTopic(prefix string) string {
	return DiscoveryTopic(prefix, e.descriptor.Component(), e.identity, e.slug)
}

// CommandTopic returns the absolute topic for a command kind.
func (e *Entity) CommandTopic(kind CommandKind) (string, bool) {
	t, ok := e.commands[kind]
	return t, ok
}

// CommandTopics returns a copy of every absolute command topic.
func (e *Entity) CommandTopics() map[CommandKind]string {
	out := make(map[CommandKind]string, len(e.commands))
	for k, v := range e.commands {
		out[k] = v
	}
	return out
}

// FriendlyName returns the displayed name: the device name followed by the
// capability name, or just the device name when the two are the same.
func (e *Entity) FriendlyName() string {
	c := e.descriptor.common()
	name := c.FriendlyName
	if name == "" {
		name = c.Name
	}

	device := strings.TrimSpace(e.identity.Name)
	switch {
	case device == "":
		return name
	case strings.EqualFold(device, name):
		return device
	default:
		return device + " " + name
	}
}

// recordPublish remembers the last payload sent on a sub-topic.
func (e *Entity) recordPublish(sub, payload string) (previous string, seen bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	previous, seen = e.last[sub]
	e.last[sub] = payload
	return previous, seen
}

// LastPayload returns the last payload published on a sub-topic.
func (e *Entity) LastPayload(sub string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.last[sub]
	return p, ok
}
