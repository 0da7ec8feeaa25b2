package amcrest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Default liveness ping timing.
const (
	DefaultPingInterval = 30 * time.Second
	DefaultPingTimeout  = 100 * time.Second
)

// Exit codes passed to ControllerOptions.Exit.
const (
	ExitOK                 = 0
	ExitError              = 1
	ExitBrokerConnect      = 2
	ExitBrokerDisconnected = 3
	ExitPublishFailed      = 4
)

// ExitCode maps the error that triggered shutdown to a process exit code.
// A nil cause is a clean interrupt.
func ExitCode(cause error) int {
	switch {
	case cause == nil:
		return ExitOK
	case errors.Is(cause, ErrBrokerDisconnected):
		return ExitBrokerDisconnected
	case errors.Is(cause, ErrBrokerConnect):
		return ExitBrokerConnect
	case errors.Is(cause, ErrPublishFailed):
		return ExitPublishFailed
	default:
		return ExitError
	}
}

// State is the broker connection state of a Controller.
type State int32

// Connection states. StateExitRequested is terminal: it is entered from
// any state as soon as an interrupt or fatal error wins the exit guard.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateExitRequested
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateExitRequested:
		return "exit_requested"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Will is the last-will message registered with the broker.
type Will struct {
	Topic    string
	Payload  string
	QoS      byte
	Retained bool
}

// ConnectOptions is what the Controller needs from a broker connection.
type ConnectOptions struct {
	ClientID string
	Will     Will

	// OnConnectionLost must be called if the connection drops after Connect
	// returned successfully.
	OnConnectionLost func(err error)
}

// ConnectFunc opens a broker connection. The Controller calls it once the
// device identity is known, since the client id and will topic depend on it.
type ConnectFunc func(ctx context.Context, opts ConnectOptions) (Broker, error)

// ControllerOptions configures a Controller.
type ControllerOptions struct {
	// Device is the camera. Required.
	Device Device

	// Connect opens the broker connection. Required.
	Connect ConnectFunc

	QoS byte

	// DiscoveryPrefix is the discovery topic prefix; "" disables discovery
	// messages.
	DiscoveryPrefix string

	// ClientSuffix is appended to the broker client id.
	ClientSuffix string

	// DeviceName overrides the name reported by the camera.
	DeviceName string

	// StorageInterval and ConfigInterval are poll periods; zero disables.
	StorageInterval time.Duration
	ConfigInterval  time.Duration

	// PingInterval and PingTimeout default to 30s and 100s.
	PingInterval time.Duration
	PingTimeout  time.Duration

	// DoorbellOffTimeout is the doorbell auto-off delay; zero disables.
	DoorbellOffTimeout time.Duration

	Telemetry Telemetry
	Metrics   Metrics
	Logger    Logger

	// Exit terminates the process. Defaults to os.Exit.
	Exit func(code int)

	// BeforeExit runs just before Exit, for flushing telemetry.
	BeforeExit func()
}

// Controller owns the bridge: it connects the camera to the broker,
// announces entities, runs the event loop and pollers, and performs the
// single shutdown sequence.
//
// Thread Safety: Fatal and HandleInterrupt may be called from any
// goroutine. Only the first of them runs the shutdown sequence.
type Controller struct {
	opts ControllerOptions

	state   atomic.Int32
	exiting atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu guards the fields set during Start.
	mu        sync.RWMutex
	identity  DeviceIdentity
	registry  *Registry
	broker    Broker
	publisher *brokerPublisher
	events    *EventDispatcher
	commands  *CommandDispatcher
}

// NewController validates options and creates a Controller.
func NewController(opts ControllerOptions) (*Controller, error) {
	if opts.Device == nil {
		return nil, fmt.Errorf("device is required")
	}
	if opts.Connect == nil {
		return nil, fmt.Errorf("broker connect function is required")
	}
	if opts.QoS > 2 {
		return nil, fmt.Errorf("invalid QoS %d", opts.QoS)
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = DefaultPingTimeout
	}
	if opts.Exit == nil {
		opts.Exit = os.Exit
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// State returns the current connection state, or StateExitRequested once
// shutdown has begun.
func (c *Controller) State() State {
	if c.exiting.Load() {
		return StateExitRequested
	}
	return State(c.state.Load())
}

func (c *Controller) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev != s {
		logDebug(c.opts.Logger, "connection state changed", "from", prev, "to", s)
	}
}

// Identity returns the device identity once Start has fetched it.
func (c *Controller) Identity() DeviceIdentity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// Registry returns the entity registry once Start has built it.
func (c *Controller) Registry() *Registry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registry
}

// ClientID returns "amcrest2mqtt_{serial}" with the optional suffix.
func ClientID(id DeviceIdentity, suffix string) string {
	clientID := fmt.Sprintf("%s_%s", AppName, id.SerialNumber)
	if suffix != "" {
		clientID += "_" + suffix
	}
	return clientID
}

// Start brings the bridge online.
//
// It performs, in order:
//  1. Fetch the device identity
//  2. Build the entity registry and command bindings
//  3. Connect to the broker with an "offline" last will
//  4. Publish discovery and subscribe to command topics
//  5. Publish "online"
//  6. Refresh storage and configuration state once
//  7. Ping the camera once
//  8. Start the ping, storage and configuration pollers
//
// ctx bounds the startup calls only. Every failure is fatal to the caller.
func (c *Controller) Start(ctx context.Context) error {
	id, err := c.opts.Device.Identity(ctx)
	if err != nil {
		if !errors.Is(err, ErrDeviceUnreachable) {
			err = fmt.Errorf("%w: %w", ErrDeviceUnreachable, err)
		}
		return fmt.Errorf("fetching device identity: %w", err)
	}
	if c.opts.DeviceName != "" {
		id.Name = c.opts.DeviceName
	}
	logInfo(c.opts.Logger, "camera identified",
		"name", id.Name,
		"model", id.Model,
		"serial", id.SerialNumber,
		"version", id.SoftwareVersion)

	registry, err := NewRegistry(id, Features{Storage: c.opts.StorageInterval > 0})
	if err != nil {
		return fmt.Errorf("building entity registry: %w", err)
	}

	c.setState(StateConnecting)
	broker, err := c.opts.Connect(ctx, ConnectOptions{
		ClientID: ClientID(id, c.opts.ClientSuffix),
		Will: Will{
			Topic:    StatusTopic(id),
			Payload:  PayloadOffline,
			QoS:      c.opts.QoS,
			Retained: true,
		},
		OnConnectionLost: func(err error) {
			c.Fatal(fmt.Errorf("%w: %w", ErrBrokerDisconnected, err))
		},
	})
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("%w: %w", ErrBrokerConnect, err)
	}
	c.setState(StateConnected)

	c.mu.Lock()
	c.identity = id
	c.registry = registry
	c.broker = broker
	c.mu.Unlock()

	publisher := &brokerPublisher{
		broker:    broker,
		identity:  id,
		qos:       c.opts.QoS,
		telemetry: c.opts.Telemetry,
		metrics:   c.opts.Metrics,
		logger:    c.opts.Logger,
	}
	events := NewEventDispatcher(EventDispatcherConfig{
		Registry:           registry,
		Publisher:          publisher,
		DoorbellOffTimeout: c.opts.DoorbellOffTimeout,
		OnError:            c.Fatal,
		Logger:             c.opts.Logger,
	})
	commands := NewCommandDispatcher(c.ctx, CommandDispatcherConfig{
		Registry:  registry,
		Device:    c.opts.Device,
		Publisher: publisher,
		Metrics:   c.opts.Metrics,
		Logger:    c.opts.Logger,
	})

	c.mu.Lock()
	c.publisher = publisher
	c.events = events
	c.commands = commands
	c.mu.Unlock()

	discovery := NewDiscoveryPublisher(broker, c.opts.DiscoveryPrefix, c.opts.QoS, c.opts.Logger)
	if err := discovery.PublishAll(registry, commands.HandleMessage); err != nil {
		return fmt.Errorf("announcing entities: %w", err)
	}
	logInfo(c.opts.Logger, "entities announced",
		"count", len(registry.Entities()),
		"discovery", c.opts.DiscoveryPrefix != "")

	if err := broker.Publish(StatusTopic(id), []byte(PayloadOnline), c.opts.QoS, true); err != nil {
		return fmt.Errorf("%w: online status: %w", ErrPublishFailed, err)
	}
	logInfo(c.opts.Logger, "bridge online", "status_topic", StatusTopic(id))

	if c.opts.StorageInterval > 0 {
		if err := c.refreshStorage(c.ctx); err != nil {
			logWarn(c.opts.Logger, "initial storage refresh failed", "error", err)
		}
	}
	if err := c.refreshConfig(c.ctx); err != nil {
		logWarn(c.opts.Logger, "initial config refresh failed", "error", err)
	}

	logDebug(c.opts.Logger, "performing initial camera ping")
	if err := c.checkCamera(ctx); err != nil {
		return err
	}

	c.startPollers()
	return nil
}

// Run starts the bridge and then drives the camera event loop. Any failure
// ends in the shutdown sequence. Run returns once the loop has stopped.
func (c *Controller) Run(ctx context.Context) {
	if err := c.Start(ctx); err != nil {
		c.Fatal(err)
		return
	}

	c.mu.RLock()
	events := c.events
	c.mu.RUnlock()

	err := events.Run(c.ctx, c.opts.Device.Events(c.ctx))
	if c.ctx.Err() != nil {
		return
	}
	c.Fatal(fmt.Errorf("event loop: %w", err))
}

// Fatal starts the shutdown sequence with the exit code ExitCode picks for
// err. Calls after the first shutdown trigger are ignored.
func (c *Controller) Fatal(err error) {
	if !c.exiting.CompareAndSwap(false, true) {
		logDebug(c.opts.Logger, "ignoring error during shutdown", "error", err)
		return
	}
	logError(c.opts.Logger, "fatal error, shutting down", "error", err)
	c.shutdown(err)
}

// HandleInterrupt starts the shutdown sequence with exit code 0. A second
// interrupt while shutdown is running exits immediately with code 1.
func (c *Controller) HandleInterrupt() {
	if !c.exiting.CompareAndSwap(false, true) {
		logWarn(c.opts.Logger, "second interrupt, exiting immediately")
		c.opts.Exit(ExitError)
		return
	}
	logInfo(c.opts.Logger, "interrupt received, shutting down")
	c.shutdown(nil)
}

// shutdown stops every task, marks the device offline and exits. It runs at
// most once, guarded by c.exiting.
func (c *Controller) shutdown(cause error) {
	c.setState(StateDisconnecting)
	c.cancel()

	c.mu.RLock()
	events := c.events
	broker := c.broker
	identity := c.identity
	c.mu.RUnlock()

	if events != nil {
		events.Stop()
	}

	if broker != nil {
		switch {
		case errors.Is(cause, ErrBrokerDisconnected):
			logDebug(c.opts.Logger, "broker lost, skipping offline status")
		case !broker.IsConnected():
			logDebug(c.opts.Logger, "broker not connected, skipping offline status")
		default:
			if err := broker.Publish(StatusTopic(identity), []byte(PayloadOffline), c.opts.QoS, true); err != nil {
				logWarn(c.opts.Logger, "failed to publish offline status", "error", err)
			}
		}
		broker.Disconnect()
	}
	c.setState(StateDisconnected)

	code := ExitCode(cause)
	if c.opts.BeforeExit != nil {
		c.opts.BeforeExit()
	}
	logInfo(c.opts.Logger, "exiting", "code", code)
	c.opts.Exit(code)
}

// Wait blocks until the pollers and in-flight command handlers finish.
// They stop once shutdown has started.
func (c *Controller) Wait() {
	c.wg.Wait()

	c.mu.RLock()
	commands := c.commands
	c.mu.RUnlock()
	if commands != nil {
		commands.Wait()
	}
}
