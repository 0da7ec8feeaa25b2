package amcrest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// every runs fn each interval until the controller context is cancelled.
// A non-positive interval disables the task.
func (c *Controller) every(name string, interval time.Duration, fn func(ctx context.Context)) {
	if interval <= 0 {
		logInfo(c.opts.Logger, "poller disabled", "task", name)
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-c.ctx.Done():
				return
			case <-ticker.C:
				fn(c.ctx)
			}
		}
	}()
}

// startPollers starts the ping, storage and configuration tasks.
func (c *Controller) startPollers() {
	c.every("ping", c.opts.PingInterval, c.ping)

	c.every("storage", c.opts.StorageInterval, func(ctx context.Context) {
		if err := c.refreshStorage(ctx); err != nil {
			logWarn(c.opts.Logger, "storage refresh failed", "error", err)
		}
	})

	c.every("config", c.opts.ConfigInterval, func(ctx context.Context) {
		if err := c.refreshConfig(ctx); err != nil {
			logWarn(c.opts.Logger, "config refresh failed", "error", err)
		}
	})
}

// ping checks the camera is reachable. Failure is fatal.
func (c *Controller) ping(ctx context.Context) {
	if err := c.checkCamera(ctx); err != nil && ctx.Err() == nil {
		c.Fatal(err)
	}
}

// checkCamera pings the camera once, bounded by PingTimeout.
func (c *Controller) checkCamera(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, c.opts.PingTimeout)
	defer cancel()

	err := c.opts.Device.Ping(pingCtx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrDeviceUnreachable) {
		err = fmt.Errorf("%w: %w", ErrDeviceUnreachable, err)
	}
	return fmt.Errorf("ping: %w", err)
}

// refreshStorage publishes the storage sensors.
func (c *Controller) refreshStorage(ctx context.Context) error {
	c.mu.RLock()
	registry, publisher := c.registry, c.publisher
	c.mu.RUnlock()

	info, err := c.opts.Device.Storage(ctx)
	if err != nil {
		return fmt.Errorf("reading storage: %w", err)
	}

	values := []struct {
		entity string
		value  float64
	}{
		{EntityStorageUsedPercent, info.UsedPercent},
		{EntityStorageUsed, info.UsedGB},
		{EntityStorageTotal, info.TotalGB},
	}
	for _, v := range values {
		e, ok := registry.Get(v.entity)
		if !ok {
			continue
		}
		if err := publisher.PublishState(e, "", formatFloat(v.value)); err != nil {
			return err
		}
	}

	if c.opts.Metrics != nil {
		c.opts.Metrics.Gauge(MetricStorageUsedPercent, info.UsedPercent)
	}
	return nil
}

// refreshConfig re-reads the configurable settings and publishes them.
// Each setting is independent; all failures are returned together.
func (c *Controller) refreshConfig(ctx context.Context) error {
	c.mu.RLock()
	registry, publisher := c.registry, c.publisher
	c.mu.RUnlock()

	keys := registry.Keys()
	dev := c.opts.Device
	var errs []error

	if e, ok := registry.Get(EntitySirenVolume); ok {
		volume, err := GetFieldAs(ctx, dev, keys.SirenVolume, DecodeInt)
		if err == nil {
			err = publisher.PublishState(e, "", strconv.Itoa(volume))
		}
		errs = append(errs, err)
	}

	for _, toggle := range []struct{ entity, key string }{
		{EntityWatermark, keys.Watermark},
		{EntityIndicatorLight, keys.IndicatorLight},
	} {
		e, ok := registry.Get(toggle.entity)
		if !ok {
			continue
		}
		on, err := GetFieldAs(ctx, dev, toggle.key, DecodeBool)
		if err == nil {
			err = publisher.PublishState(e, "", onOff(on))
		}
		errs = append(errs, err)
	}

	if e, ok := registry.Get(EntityFlashlight); ok {
		errs = append(errs, c.refreshFlashlight(ctx, e, keys, publisher))
	}

	return errors.Join(errs...)
}

func (c *Controller) refreshFlashlight(ctx context.Context, e *Entity, keys FieldKeys, publisher Publisher) error {
	mode, err := GetFieldAs(ctx, c.opts.Device, keys.LightMode, DecodeString)
	if err != nil {
		return err
	}
	state, err := GetFieldAs(ctx, c.opts.Device, keys.LightState, DecodeString)
	if err != nil {
		return err
	}

	on := mode != LightModeOff && (state == LightStateOn || state == LightStateFlash)
	effect := EffectNone
	if on && state == LightStateFlash {
		effect = EffectStrobe
	}

	if err := publisher.PublishState(e, "", onOff(on)); err != nil {
		return err
	}
	return publisher.PublishState(e, SubEffect, effect)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
