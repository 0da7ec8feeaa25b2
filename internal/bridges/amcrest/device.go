package amcrest

import (
	"context"
	"fmt"
	"iter"
	"math"
	"strconv"
	"strings"
)

// Camera models with model-specific behaviour.
const (
	ModelAD110 = "AD110"
	ModelAD410 = "AD410"
)

// Manufacturer is reported in every discovery device block.
const Manufacturer = "Amcrest"

// DeviceIdentity describes the camera the bridge is attached to.
// It is fetched once at startup and never changes.
type DeviceIdentity struct {
	Name            string
	Model           string
	SerialNumber    string
	SoftwareVersion string
}

// Equal reports whether two identities describe the same physical device.
func (d DeviceIdentity) Equal(other DeviceIdentity) bool {
	return d.SerialNumber == other.SerialNumber
}

// IsDoorbell reports whether the model is one of the doorbell cameras.
func (d DeviceIdentity) IsDoorbell() bool {
	return d.Model == ModelAD110 || d.Model == ModelAD410
}

// HasExtendedFeatures reports whether the model has the flashlight, siren,
// watermark and indicator light controls.
func (d DeviceIdentity) HasExtendedFeatures() bool {
	return d.Model == ModelAD410
}

// Event is one notification from the camera's event stream.
type Event struct {
	Code    string
	Payload EventPayload
}

// EventPayload is the structured part of an event.
type EventPayload struct {
	Action string         `json:"action"`
	Index  string         `json:"index"`
	Data   map[string]any `json:"data,omitempty"`
}

// DataString returns Data[key] formatted as a string, or "" when absent.
// Cameras are inconsistent about sending booleans as JSON booleans or
// strings, so callers compare against the string form.
func (p EventPayload) DataString(key string) string {
	v, ok := p.Data[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// StorageInfo is a snapshot of the camera's SD card usage.
type StorageInfo struct {
	UsedPercent float64
	UsedGB      float64
	TotalGB     float64
}

// Device is the narrow view of the camera that the bridge depends on.
//
// Implementations apply their own connection and retry policy. The bridge
// only reacts to the errors they finally return.
type Device interface {
	// Identity fetches name, model, serial number and firmware version.
	// Failures wrap ErrDeviceUnreachable.
	Identity(ctx context.Context) (DeviceIdentity, error)

	// GetField reads one configuration value by dot-path key.
	// Failures wrap ErrDeviceError.
	GetField(ctx context.Context, key string) (string, error)

	// SetField writes one configuration value and reports whether the
	// camera accepted it. Transport failures wrap ErrDeviceError.
	SetField(ctx context.Context, key, value string) (bool, error)

	// Events returns a lazy, unbounded sequence of camera events. A non-nil
	// error is the last element; calling Events again starts a new stream.
	Events(ctx context.Context) iter.Seq2[Event, error]

	// Storage reads SD card usage.
	Storage(ctx context.Context) (StorageInfo, error)

	// Ping checks that the camera is reachable on the network.
	Ping(ctx context.Context) error
}

// Decoder converts a raw configuration value into a typed one.
type Decoder[T any] func(raw string) (T, error)

// GetFieldAs reads a configuration value and decodes it.
func GetFieldAs[T any](ctx context.Context, d Device, key string, decode Decoder[T]) (T, error) {
	var zero T

	raw, err := d.GetField(ctx, key)
	if err != nil {
		return zero, err
	}

	v, err := decode(raw)
	if err != nil {
		return zero, fmt.Errorf("%w: decoding %s=%q: %w", ErrDeviceError, key, raw, err)
	}
	return v, nil
}

// DecodeString returns the raw value trimmed of surrounding whitespace.
func DecodeString(raw string) (string, error) {
	return strings.TrimSpace(raw), nil
}

// DecodeInt parses an integer, accepting a decimal form such as "55.0".
func DecodeInt(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a number: %q", raw)
	}
	return int(f), nil
}

// DecodeBool parses the camera's "true"/"false" values.
func DecodeBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("not a boolean: %q", raw)
	}
}
