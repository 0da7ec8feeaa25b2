// amcrest2mqtt bridges an Amcrest camera or doorbell to an MQTT broker,
// announcing its sensors and controls through Home Assistant discovery.
//
// Configuration comes from an optional YAML file overridden by environment
// variables (AMCREST_*, MQTT_*, HOME_ASSISTANT*). See configs/config.yaml.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nerrad567/amcrest2mqtt/internal/bridges/amcrest"
	"github.com/nerrad567/amcrest2mqtt/internal/infrastructure/config"
	"github.com/nerrad567/amcrest2mqtt/internal/infrastructure/influxdb"
	"github.com/nerrad567/amcrest2mqtt/internal/infrastructure/logging"
	"github.com/nerrad567/amcrest2mqtt/internal/infrastructure/metrics"
	"github.com/nerrad567/amcrest2mqtt/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// exitCodeError carries the process exit code chosen by the bridge.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	err := newRootCmd().ExecuteContext(context.Background())

	var exitErr *exitCodeError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		os.Exit(exitErr.code)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	root := &cobra.Command{
		Use:   "amcrest2mqtt",
		Short: "Bridge an Amcrest camera to MQTT and Home Assistant",
		Long: `amcrest2mqtt connects to one Amcrest camera or doorbell, publishes its
events and settings to an MQTT broker and accepts commands back.

Settings are read from the optional --config file and then from the
environment, for example AMCREST_HOST, AMCREST_PASSWORD and MQTT_HOST.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			code, err := run(cmd.Context(), configPath, logLevel)
			if err != nil {
				return err
			}
			if code != 0 {
				return &exitCodeError{code: code}
			}
			return nil
		},
	}

	root.Flags().StringVarP(&configPath, "config", "c", os.Getenv("AMCREST2MQTT_CONFIG"),
		"Path to a YAML config file (env: AMCREST2MQTT_CONFIG)")
	root.Flags().StringVar(&logLevel, "log-level", "", "Override the log level (debug, info, warn, error)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "amcrest2mqtt %s (commit %s, built %s)\n", version, commit, date)
		},
	})

	return root
}

// run wires the bridge together and blocks until it asks to exit.
//
// Parameters:
//   - ctx: Context bounding the startup calls
//   - configPath: YAML config file, or "" for environment only
//   - logLevel: Log level override, or "" to keep the configured one
//
// Returns:
//   - int: Exit code chosen by the shutdown sequence
//   - error: Configuration or setup failure before the bridge started
func run(ctx context.Context, configPath, logLevel string) (int, error) {
	log := logging.Default()
	log.Info("starting amcrest2mqtt",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return 1, fmt.Errorf("loading config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"camera", cfg.Amcrest.Host,
		"broker", net.JoinHostPort(cfg.MQTT.Host, strconv.Itoa(cfg.MQTT.Port)),
	)

	opts := amcrest.ControllerOptions{
		Device: amcrest.NewCamera(amcrest.CameraConfig{
			Host:     cfg.Amcrest.Host,
			Port:     cfg.Amcrest.Port,
			Username: cfg.Amcrest.Username,
			Password: cfg.Amcrest.Password,
			Logger:   log,
		}),
		Connect:            brokerConnector(cfg.MQTT, log),
		QoS:                byte(cfg.MQTT.QoS),
		DiscoveryPrefix:    cfg.DiscoveryPrefix(),
		ClientSuffix:       cfg.MQTT.ClientSuffix,
		DeviceName:         cfg.Amcrest.DeviceName,
		StorageInterval:    cfg.StoragePollInterval(),
		ConfigInterval:     cfg.SettingsPollInterval(),
		DoorbellOffTimeout: cfg.DoorbellOffTimeout(),
		Logger:             log,
	}

	influxClient, err := connectInflux(ctx, cfg.InfluxDB, log)
	if err != nil {
		return 1, err
	}
	if influxClient != nil {
		opts.Telemetry = influxClient
	}

	metricsClient, err := connectMetrics(cfg, log)
	if err != nil {
		closeInflux(influxClient, log)
		return 1, err
	}
	if metricsClient != nil {
		opts.Metrics = metricsClient
	}

	exitCh := make(chan int, 2)
	opts.Exit = func(code int) {
		select {
		case exitCh <- code:
		default:
		}
	}
	opts.BeforeExit = func() {
		closeInflux(influxClient, log)
		if err := metricsClient.Close(); err != nil {
			log.Warn("error closing metrics client", "error", err)
		}
	}

	ctrl, err := amcrest.NewController(opts)
	if err != nil {
		return 1, fmt.Errorf("creating controller: %w", err)
	}

	// Each signal is handled on its own goroutine so that a second one can
	// interrupt a shutdown that is still running.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			go ctrl.HandleInterrupt()
		}
	}()

	go ctrl.Run(ctx)

	code := <-exitCh
	return code, nil
}

// brokerConnector returns the ConnectFunc the controller uses once the
// camera identity, and with it the client id and will topic, is known.
func brokerConnector(cfg config.MQTTConfig, log *logging.Logger) amcrest.ConnectFunc {
	return func(_ context.Context, opts amcrest.ConnectOptions) (amcrest.Broker, error) {
		client, err := mqtt.Connect(cfg, opts.ClientID, &mqtt.Will{
			Topic:    opts.Will.Topic,
			Payload:  opts.Will.Payload,
			QoS:      opts.Will.QoS,
			Retained: opts.Will.Retained,
		})
		if err != nil {
			return nil, err
		}
		client.SetLogger(log)
		client.SetOnDisconnect(opts.OnConnectionLost)

		log.Info("MQTT connected",
			"broker", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			"client_id", opts.ClientID,
			"tls", cfg.TLS.Enabled,
		)
		return &mqttBrokerAdapter{client: client, log: log}, nil
	}
}

// connectInflux opens the optional InfluxDB telemetry client.
// It returns nil when InfluxDB is disabled.
func connectInflux(ctx context.Context, cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	if !cfg.Enabled {
		log.Info("InfluxDB disabled")
		return nil, nil
	}

	client, err := influxdb.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
	)
	return client, nil
}

func closeInflux(client *influxdb.Client, log *logging.Logger) {
	if client == nil {
		return
	}
	log.Info("closing InfluxDB connection", "points", client.Written())
	if err := client.Close(); err != nil {
		log.Error("error closing InfluxDB", "error", err)
	}
}

// connectMetrics creates the optional DogStatsD client. It returns nil
// when Datadog is disabled; a nil *metrics.Client is safe to use.
func connectMetrics(cfg *config.Config, log *logging.Logger) (*metrics.Client, error) {
	if !cfg.Datadog.Enabled {
		return nil, nil
	}

	client, err := metrics.New(cfg.Datadog, "camera:"+cfg.Amcrest.Host)
	if err != nil {
		return nil, fmt.Errorf("creating metrics client: %w", err)
	}
	client.SetLogger(log)
	log.Info("DogStatsD metrics enabled", "address", cfg.Datadog.Address)
	return client, nil
}

// mqttBrokerAdapter adapts the infrastructure MQTT client to the bridge's
// Broker interface. The primary difference is the Subscribe handler signature:
// - Infrastructure mqtt: func(topic, payload []byte) error
// - amcrest bridge expects: func(topic, payload []byte)
type mqttBrokerAdapter struct {
	client *mqtt.Client
	log    *logging.Logger
}

// Publish implements amcrest.Broker.
func (a *mqttBrokerAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements amcrest.Broker.
func (a *mqttBrokerAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements amcrest.Broker.
func (a *mqttBrokerAdapter) IsConnected() bool {
	return a.client.HealthCheck(context.Background()) == nil
}

// Disconnect implements amcrest.Broker.
func (a *mqttBrokerAdapter) Disconnect() {
	a.log.Info("disconnecting from MQTT", "subscriptions", a.client.SubscriptionCount())
	if err := a.client.Close(); err != nil {
		a.log.Error("error closing MQTT", "error", err)
	}
}
