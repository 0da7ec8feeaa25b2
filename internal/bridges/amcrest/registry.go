package amcrest

import (
	"fmt"
	"sort"
)

// Logical entity names.
const (
	EntityDoorbell           = "Doorbell"
	EntityHuman              = "Human"
	EntityFlashlight         = "Flashlight"
	EntityMotion             = "Motion"
	EntityStorageUsedPercent = "Storage Used Percent"
	EntityStorageUsed        = "Storage Used"
	EntityStorageTotal       = "Storage Total"
	EntitySirenVolume        = "Siren Volume"
	EntityWatermark          = "Watermark"
	EntityIndicatorLight     = "Indicator Light"
)

// Flashlight effects.
const (
	EffectNone   = "none"
	EffectStrobe = "strobe"

	// SubEffect is the sub-topic carrying the current flashlight effect.
	SubEffect = "effect"
)

// Siren volume bounds.
const (
	SirenVolumeMin = 0
	SirenVolumeMax = 100
)

// Descriptors returns the full capability table, in discovery order.
// Model gating is applied separately by Supported.
func Descriptors() []Descriptor {
	return []Descriptor{
		BinarySensor{
			Common: Common{Name: EntityDoorbell, Icon: "mdi:doorbell"},
		},
		BinarySensor{
			Common:      Common{Name: EntityHuman, Icon: "mdi:face-recognition"},
			DeviceClass: "motion",
		},
		Light{
			Common: Common{
				Name: EntityFlashlight,
				Icon: "mdi:flashlight",
				Commands: map[CommandKind]string{
					CommandSet:    "~/set",
					CommandEffect: "~/set_effect",
				},
			},
			Effects:     []string{EffectNone, EffectStrobe},
			EffectState: SubEffect,
		},
		BinarySensor{
			Common:      Common{Name: EntityMotion},
			DeviceClass: "motion",
		},
		Sensor{
			Common: Common{
				Name:         EntityStorageUsedPercent,
				FriendlyName: "Storage Used %",
				Icon:         "mdi:micro-sd",
				Category:     CategoryDiagnostic,
			},
			Unit: "%",
		},
		Sensor{
			Common: Common{Name: EntityStorageUsed, Icon: "mdi:micro-sd", Category: CategoryDiagnostic},
			Unit:   "GB",
		},
		Sensor{
			Common: Common{Name: EntityStorageTotal, Icon: "mdi:micro-sd", Category: CategoryDiagnostic},
			Unit:   "GB",
		},
		Number{
			Common: Common{
				Name:     EntitySirenVolume,
				Icon:     "mdi:volume-high",
				Category: CategoryConfig,
				Commands: map[CommandKind]string{CommandSet: "~/set"},
			},
			Min:  SirenVolumeMin,
			Max:  SirenVolumeMax,
			Step: 1,
		},
		Switch{
			Common: Common{
				Name:     EntityWatermark,
				Icon:     "mdi:watermark",
				Category: CategoryConfig,
				Commands: map[CommandKind]string{CommandSet: "~/set"},
			},
		},
		Light{
			Common: Common{
				Name:     EntityIndicatorLight,
				Icon:     "mdi:circle-outline",
				Category: CategoryConfig,
				Commands: map[CommandKind]string{CommandSet: "~/set"},
			},
		},
	}
}

// Features holds the runtime switches that affect which entities exist.
type Features struct {
	// Storage is true when storage polling is enabled.
	Storage bool
}

// Supported reports whether the named capability exists on a device.
func Supported(name string, id DeviceIdentity, f Features) bool {
	switch name {
	case EntityHuman, EntityFlashlight, EntitySirenVolume, EntityWatermark, EntityIndicatorLight:
		return id.HasExtendedFeatures()
	case EntityDoorbell:
		return id.IsDoorbell()
	case EntityMotion:
		return true
	case EntityStorageUsedPercent, EntityStorageUsed, EntityStorageTotal:
		return f.Storage
	default:
		return false
	}
}

// FieldKeys names the camera configuration fields behind each control.
type FieldKeys struct {
	SirenVolume    string
	LightMode      string
	LightState     string
	Watermark      string
	IndicatorLight string
}

// Device modes for the flashlight.
const (
	LightModeForceOn = "ForceOn"
	LightModeOff     = "Off"
	LightStateOn     = "On"
	LightStateFlash  = "Flicker"
)

// FieldKeysFor returns the configuration keys for a camera model.
func FieldKeysFor(model string) FieldKeys {
	switch model {
	case ModelAD410:
		return FieldKeys{
			SirenVolume:    "VideoTalkPhoneGeneral.RingVolume",
			LightMode:      "Lighting_V2[0][0][1].Mode",
			LightState:     "Lighting_V2[0][0][1].State",
			Watermark:      "VideoWidget[0].PictureTitle.EncodeBlend",
			IndicatorLight: "LightGlobal[0].Enable",
		}
	default:
		return FieldKeys{}
	}
}

// Binding is the dispatch target for one command topic.
type Binding struct {
	Entity *Entity
	Kind   CommandKind
}

// Registry holds the entities instantiated for one device and the command
// topic dispatch table. It is immutable after NewRegistry returns and safe
// for concurrent reads.
type Registry struct {
	identity DeviceIdentity
	keys     FieldKeys
	entities []*Entity
	byName   map[string]*Entity
	bindings map[string]Binding
}

// NewRegistry instantiates every supported capability for a device.
//
// Returns:
//   - *Registry: Entities and command bindings
//   - error: ErrDuplicateEntity or ErrDuplicateCommandTopic
func NewRegistry(id DeviceIdentity, f Features) (*Registry, error) {
	return newRegistry(id, f, Descriptors())
}

func newRegistry(id DeviceIdentity, f Features, descriptors []Descriptor) (*Registry, error) {
	r := &Registry{
		identity: id,
		keys:     FieldKeysFor(id.Model),
		byName:   make(map[string]*Entity),
	}

	slugs := make(map[string]string)
	for _, d := range descriptors {
		name := d.common().Name
		if !Supported(name, id, f) {
			continue
		}

		e := NewEntity(d, id)
		if other, dup := slugs[e.Slug()]; dup {
			return nil, fmt.Errorf("%w: %q and %q both slug to %q", ErrDuplicateEntity, other, name, e.Slug())
		}
		slugs[e.Slug()] = name

		r.entities = append(r.entities, e)
		r.byName[name] = e
	}

	bindings, err := buildBindings(r.entities)
	if err != nil {
		return nil, err
	}
	r.bindings = bindings

	return r, nil
}

// buildBindings maps every absolute command topic to its entity.
func buildBindings(entities []*Entity) (map[string]Binding, error) {
	bindings := make(map[string]Binding)
	for _, e := range entities {
		for kind, topic := range e.CommandTopics() {
			if existing, dup := bindings[topic]; dup {
				return nil, fmt.Errorf("%w: %s used by %s and %s",
					ErrDuplicateCommandTopic, topic, existing.Entity.Name(), e.Name())
			}
			bindings[topic] = Binding{Entity: e, Kind: kind}
		}
	}
	return bindings, nil
}

// Identity returns the device the registry was built for.
func (r *Registry) Identity() DeviceIdentity { return r.identity }

// Keys returns the model's configuration field keys.
func (r *Registry) Keys() FieldKeys { return r.keys }

// Entities returns the instantiated entities in discovery order.
func (r *Registry) Entities() []*Entity {
	out := make([]*Entity, len(r.entities))
	copy(out, r.entities)
	return out
}

// Get returns the entity with the given logical name, if instantiated.
func (r *Registry) Get(name string) (*Entity, bool) {
	e, ok := r.byName[name]
	return e, ok
}

// Lookup returns the binding for an absolute command topic.
func (r *Registry) Lookup(topic string) (Binding, bool) {
	b, ok := r.bindings[topic]
	return b, ok
}

// CommandTopics returns every bound command topic, sorted.
func (r *Registry) CommandTopics() []string {
	topics := make([]string, 0, len(r.bindings))
	for t := range r.bindings {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}
