package amcrest

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// commandTimeout bounds the device calls made for one command.
const commandTimeout = 30 * time.Second

// CommandDispatcherConfig holds the dependencies of a CommandDispatcher.
type CommandDispatcherConfig struct {
	Registry  *Registry
	Device    Device
	Publisher Publisher
	Metrics   Metrics
	Logger    Logger
}

// CommandDispatcher handles messages on the bound command topics.
//
// Every message is handled on its own goroutine so a slow camera call never
// delays other commands or the broker's delivery loop. Commands for the same
// entity are not serialised: configuration writes are overwrites, so the
// last one to complete wins.
type CommandDispatcher struct {
	registry  *Registry
	device    Device
	publisher Publisher
	metrics   Metrics
	logger    Logger
	keys      FieldKeys

	ctx context.Context
	wg  sync.WaitGroup
}

// NewCommandDispatcher creates a dispatcher. Handlers derive their context
// from ctx, so cancelling it abandons in-flight device calls.
func NewCommandDispatcher(ctx context.Context, cfg CommandDispatcherConfig) *CommandDispatcher {
	return &CommandDispatcher{
		registry:  cfg.Registry,
		device:    cfg.Device,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		keys:      cfg.Registry.Keys(),
		ctx:       ctx,
	}
}

// HandleMessage is the broker subscription callback. It returns immediately.
func (c *CommandDispatcher) HandleMessage(topic string, payload []byte) {
	binding, ok := c.registry.Lookup(topic)
	if !ok {
		logWarn(c.logger, "message on unknown command topic", "topic", topic)
		return
	}

	id := uuid.NewString()
	body := string(payload)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ctx, cancel := context.WithTimeout(c.ctx, commandTimeout)
		defer cancel()

		logInfo(c.logger, "command received",
			"command_id", id,
			"entity", binding.Entity.Name(),
			"kind", binding.Kind,
			"payload", body)

		if err := c.Handle(ctx, binding, body); err != nil {
			c.incr(MetricCommandsFailed, "entity:"+binding.Entity.Slug())
			logWarn(c.logger, "command failed",
				"command_id", id,
				"entity", binding.Entity.Name(),
				"error", err)
			return
		}
		c.incr(MetricCommandsHandled, "entity:"+binding.Entity.Slug())
	}()
}

// Wait blocks until every in-flight command handler has returned.
func (c *CommandDispatcher) Wait() {
	c.wg.Wait()
}

// Handle executes one command synchronously.
//
// Returns:
//   - error: ErrInvalidPayload for a malformed payload, ErrDeviceError for a
//     camera failure, or a publish error. No state is echoed on error.
func (c *CommandDispatcher) Handle(ctx context.Context, b Binding, payload string) error {
	switch b.Entity.Name() {
	case EntitySirenVolume:
		return c.setSirenVolume(ctx, b.Entity, payload)
	case EntityWatermark:
		return c.setToggle(ctx, b.Entity, c.keys.Watermark, payload)
	case EntityIndicatorLight:
		return c.setToggle(ctx, b.Entity, c.keys.IndicatorLight, payload)
	case EntityFlashlight:
		if b.Kind == CommandEffect {
			return c.setFlashlightEffect(ctx, b.Entity, payload)
		}
		return c.setFlashlight(ctx, b.Entity, payload)
	default:
		return fmt.Errorf("%w: %s does not accept commands", ErrInvalidPayload, b.Entity.Name())
	}
}

// ParseVolume reads a siren volume and clamps it to [0,100]. A decimal
// value is truncated.
func ParseVolume(payload string) (int, error) {
	s := strings.TrimSpace(payload)
	if n, err := strconv.Atoi(s); err == nil {
		return clampVolume(float64(n)), nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return 0, fmt.Errorf("%w: volume %q is not a number", ErrInvalidPayload, payload)
	}
	return clampVolume(math.Trunc(f)), nil
}

func clampVolume(v float64) int {
	return int(math.Max(SirenVolumeMin, math.Min(SirenVolumeMax, v)))
}

func (c *CommandDispatcher) setSirenVolume(ctx context.Context, e *Entity, payload string) error {
	volume, err := ParseVolume(payload)
	if err != nil {
		return err
	}

	if err := c.set(ctx, c.keys.SirenVolume, strconv.Itoa(volume)); err != nil {
		return err
	}

	actual, err := GetFieldAs(ctx, c.device, c.keys.SirenVolume, DecodeInt)
	if err != nil {
		return fmt.Errorf("reading back siren volume: %w", err)
	}
	return c.publisher.PublishState(e, "", strconv.Itoa(actual))
}

// setToggle drives a boolean camera field from an "on"/"off" payload and
// publishes the value read back from the camera.
func (c *CommandDispatcher) setToggle(ctx context.Context, e *Entity, key, payload string) error {
	var value string
	switch payload {
	case PayloadOn:
		value = "true"
	case PayloadOff:
		value = "false"
	default:
		return fmt.Errorf("%w: %s expects on or off, got %q", ErrInvalidPayload, e.Name(), payload)
	}

	if err := c.set(ctx, key, value); err != nil {
		return err
	}

	actual, err := GetFieldAs(ctx, c.device, key, DecodeBool)
	if err != nil {
		return fmt.Errorf("reading back %s: %w", e.Name(), err)
	}
	return c.publisher.PublishState(e, "", onOff(actual))
}

func (c *CommandDispatcher) setFlashlight(ctx context.Context, e *Entity, payload string) error {
	switch payload {
	case PayloadOn:
		return c.applyFlashlight(ctx, e, EffectNone)
	case PayloadOff:
		if err := c.set(ctx, c.keys.LightMode, LightModeOff); err != nil {
			return err
		}
		return c.publisher.PublishState(e, "", PayloadOff)
	default:
		return fmt.Errorf("%w: flashlight expects on or off, got %q", ErrInvalidPayload, payload)
	}
}

func (c *CommandDispatcher) setFlashlightEffect(ctx context.Context, e *Entity, payload string) error {
	switch payload {
	case EffectNone, EffectStrobe:
		return c.applyFlashlight(ctx, e, payload)
	default:
		return fmt.Errorf("%w: unknown flashlight effect %q", ErrInvalidPayload, payload)
	}
}

// applyFlashlight turns the flashlight on with the given effect.
func (c *CommandDispatcher) applyFlashlight(ctx context.Context, e *Entity, effect string) error {
	state := LightStateOn
	if effect == EffectStrobe {
		state = LightStateFlash
	}

	if err := c.set(ctx, c.keys.LightMode, LightModeForceOn); err != nil {
		return err
	}
	if err := c.set(ctx, c.keys.LightState, state); err != nil {
		return err
	}

	if err := c.publisher.PublishState(e, "", PayloadOn); err != nil {
		return err
	}
	return c.publisher.PublishState(e, SubEffect, effect)
}

// set writes one field and treats a rejected write as a device error.
func (c *CommandDispatcher) set(ctx context.Context, key, value string) error {
	ok, err := c.device.SetField(ctx, key, value)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: camera rejected %s=%s", ErrDeviceError, key, value)
	}
	return nil
}

func (c *CommandDispatcher) incr(name string, tags ...string) {
	if c.metrics != nil {
		c.metrics.Incr(name, tags...)
	}
}
