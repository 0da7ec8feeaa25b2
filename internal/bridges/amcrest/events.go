package amcrest

import (
	"context"
	"iter"
	"strings"
	"sync"
	"time"
)

// Camera event codes the bridge reacts to.
const (
	CodeVideoMotion          = "VideoMotion"
	CodeProfileAlarmTransmit = "ProfileAlarmTransmit"
	CodeCrossRegionDetection = "CrossRegionDetection"
	CodeDoTalkAction         = "_DoTalkAction_"
	CodeFunctionStatusSync   = "LeFunctionStatusSync"
)

const (
	actionStart          = "Start"
	actionInvite         = "Invite"
	objectHuman          = "Human"
	functionWarningLight = "WightLight" // sic, as sent by the camera
)

// MotionCode returns the event code that signals motion on a model.
func MotionCode(model string) string {
	if model == ModelAD110 {
		return CodeProfileAlarmTransmit
	}
	return CodeVideoMotion
}

// eventRule is one row of the dispatch table.
type eventRule struct {
	name  string
	match func(ev Event) bool
	apply func(ev Event) error
}

// EventDispatcherConfig holds the dependencies of an EventDispatcher.
type EventDispatcherConfig struct {
	Registry  *Registry
	Publisher Publisher

	// DoorbellOffTimeout forces the doorbell off after a ring if no hang-up
	// event arrives. Zero disables it.
	DoorbellOffTimeout time.Duration

	// OnError receives publish failures from the doorbell timer, which has
	// no caller to return them to.
	OnError func(err error)

	Logger Logger
}

// EventDispatcher turns camera events into entity state publishes.
//
// Thread Safety: Dispatch is called from a single event loop. The doorbell
// timer runs on its own goroutine and is serialised with Dispatch by mu.
type EventDispatcher struct {
	registry  *Registry
	publisher Publisher
	debounce  time.Duration
	onError   func(err error)
	logger    Logger
	rules     []eventRule

	// mu guards the doorbell timer. timerGen invalidates a timer that was
	// replaced or cancelled after it had already started firing.
	mu       sync.Mutex
	timer    *time.Timer
	timerGen uint64
	stopped  bool
}

// NewEventDispatcher creates a dispatcher for the registry's device.
func NewEventDispatcher(cfg EventDispatcherConfig) *EventDispatcher {
	d := &EventDispatcher{
		registry:  cfg.Registry,
		publisher: cfg.Publisher,
		debounce:  cfg.DoorbellOffTimeout,
		onError:   cfg.OnError,
		logger:    cfg.Logger,
	}

	motionCode := MotionCode(cfg.Registry.Identity().Model)

	// Ordered; the first matching rule wins.
	d.rules = []eventRule{
		{
			name:  "motion",
			match: func(ev Event) bool { return ev.Code == motionCode },
			apply: d.handleMotion,
		},
		{
			name: "human",
			match: func(ev Event) bool {
				return ev.Code == CodeCrossRegionDetection && ev.Payload.DataString("ObjectType") == objectHuman
			},
			apply: d.handleHuman,
		},
		{
			name:  "doorbell",
			match: func(ev Event) bool { return ev.Code == CodeDoTalkAction },
			apply: d.handleDoorbell,
		},
		{
			name: "flashlight",
			match: func(ev Event) bool {
				return ev.Code == CodeFunctionStatusSync && ev.Payload.DataString("Function") == functionWarningLight
			},
			apply: d.handleFlashlight,
		},
	}

	return d
}

// Run dispatches events until the sequence fails, ends, or ctx is cancelled.
//
// Returns:
//   - error: the sequence's error, a publish error, ErrEventStreamEnded,
//     or ctx.Err() after cancellation
func (d *EventDispatcher) Run(ctx context.Context, events iter.Seq2[Event, error]) error {
	for ev, err := range events {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return err
		}
		if err := d.Dispatch(ev); err != nil {
			return err
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return ErrEventStreamEnded
}

// Dispatch applies the first matching rule and then publishes the raw event.
func (d *EventDispatcher) Dispatch(ev Event) error {
	logDebug(d.logger, "camera event",
		"code", ev.Code,
		"action", ev.Payload.Action,
		"index", ev.Payload.Index,
		"data", ev.Payload.Data)

	for _, rule := range d.rules {
		if !rule.match(ev) {
			continue
		}
		if err := rule.apply(ev); err != nil {
			return err
		}
		break
	}

	return d.publisher.PublishEvent(ev)
}

// Stop cancels a pending doorbell timer and prevents new ones.
func (d *EventDispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.cancelTimerLocked()
}

func onOff(on bool) string {
	if on {
		return PayloadOn
	}
	return PayloadOff
}

func (d *EventDispatcher) handleMotion(ev Event) error {
	e, ok := d.registry.Get(EntityMotion)
	if !ok {
		return nil
	}
	return d.publisher.PublishState(e, "", onOff(ev.Payload.Action == actionStart))
}

func (d *EventDispatcher) handleHuman(ev Event) error {
	e, ok := d.registry.Get(EntityHuman)
	if !ok {
		return nil
	}
	return d.publisher.PublishState(e, "", onOff(ev.Payload.Action == actionStart))
}

func (d *EventDispatcher) handleFlashlight(ev Event) error {
	e, ok := d.registry.Get(EntityFlashlight)
	if !ok {
		return nil
	}

	on := ev.Payload.DataString("Status") == "true"
	effect := EffectNone
	if on && strings.Contains(ev.Payload.DataString("Flicker"), "true") {
		effect = EffectStrobe
	}

	if err := d.publisher.PublishState(e, "", onOff(on)); err != nil {
		return err
	}
	return d.publisher.PublishState(e, SubEffect, effect)
}

// handleDoorbell publishes the ring state and manages the auto-off timer.
// The publish and the timer change happen under mu so a firing timer can
// never interleave with them.
func (d *EventDispatcher) handleDoorbell(ev Event) error {
	e, ok := d.registry.Get(EntityDoorbell)
	if !ok {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if ev.Payload.DataString("Action") == actionInvite {
		if err := d.publisher.PublishState(e, "", PayloadOn); err != nil {
			return err
		}
		if d.debounce > 0 && !d.stopped {
			d.armTimerLocked(e)
		}
		return nil
	}

	d.cancelTimerLocked()
	return d.publisher.PublishState(e, "", PayloadOff)
}

func (d *EventDispatcher) armTimerLocked(e *Entity) {
	d.cancelTimerLocked()
	gen := d.timerGen
	d.timer = time.AfterFunc(d.debounce, func() {
		d.fireTimer(gen, e)
	})
}

func (d *EventDispatcher) cancelTimerLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.timerGen++
}

func (d *EventDispatcher) fireTimer(gen uint64, e *Entity) {
	d.mu.Lock()
	if d.stopped || gen != d.timerGen {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.timerGen++
	logDebug(d.logger, "doorbell auto-off", "timeout", d.debounce)
	err := d.publisher.PublishState(e, "", PayloadOff)
	d.mu.Unlock()

	if err != nil {
		logError(d.logger, "doorbell auto-off publish failed", "error", err)
		if d.onError != nil {
			d.onError(err)
		}
	}
}
