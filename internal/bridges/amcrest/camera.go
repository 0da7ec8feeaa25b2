package amcrest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Camera client defaults.
const (
	defaultHTTPPort       = 80
	defaultConnectTimeout = 10 * time.Second
	defaultReadTimeout    = 3600 * time.Second
	defaultRequestTimeout = 30 * time.Second
	defaultEventRetries   = 5
	defaultRetryDelay     = 2 * time.Second
	maxRetryDelay         = 60 * time.Second
	retryMultiplier       = 1.5
	maxResponseBytes      = 1 << 20
	bytesPerGiB           = 1024 * 1024 * 1024
)

// CameraConfig configures the HTTP client for one camera.
type CameraConfig struct {
	Host     string
	Port     int
	Username string
	Password string

	// ConnectTimeout bounds the TCP connect for every request. Default 10s.
	ConnectTimeout time.Duration

	// ReadTimeout is how long the event stream may stay silent before it is
	// reconnected. Default 3600s.
	ReadTimeout time.Duration

	// RequestTimeout bounds a single CGI request. Default 30s.
	RequestTimeout time.Duration

	// EventRetries is the number of consecutive stream failures tolerated
	// before Events yields an error. Default 5.
	EventRetries int

	// RetryDelay is the first delay between stream reconnects. It grows by
	// 1.5x up to 60s. Default 2s.
	RetryDelay time.Duration

	Logger Logger
}

// Camera talks to an Amcrest camera over its HTTP CGI API.
// It implements Device.
type Camera struct {
	cfg     CameraConfig
	baseURL string

	// client is used for short CGI requests, stream for the event stream.
	client *http.Client
	stream *http.Client
}

// NewCamera creates a camera client. No network I/O happens until a method
// is called.
func NewCamera(cfg CameraConfig) *Camera {
	if cfg.Port == 0 {
		cfg.Port = defaultHTTPPort
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.EventRetries <= 0 {
		cfg.EventRetries = defaultEventRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	base := &http.Transport{
		DialContext:           dialer.DialContext,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
	}
	transport := newAuthTransport(cfg.Username, cfg.Password, base)

	return &Camera{
		cfg:     cfg,
		baseURL: "http://" + net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)) + "/cgi-bin/",
		client:  &http.Client{Transport: transport, Timeout: cfg.RequestTimeout},
		stream:  &http.Client{Transport: transport},
	}
}

// Identity fetches the device name, model, serial number and firmware.
func (c *Camera) Identity(ctx context.Context) (DeviceIdentity, error) {
	var id DeviceIdentity

	fields := []struct {
		path   string
		key    string
		target *string
	}{
		{"magicBox.cgi?action=getDeviceType", "type", &id.Model},
		{"magicBox.cgi?action=getSerialNo", "sn", &id.SerialNumber},
		{"magicBox.cgi?action=getSoftwareVersion", "version", &id.SoftwareVersion},
		{"magicBox.cgi?action=getMachineName", "name", &id.Name},
	}

	for _, f := range fields {
		body, err := c.command(ctx, f.path)
		if err != nil {
			return DeviceIdentity{}, fmt.Errorf("%w: %w", ErrDeviceUnreachable, err)
		}
		value, ok := lookupValue(body, f.key)
		if !ok {
			value = strings.TrimSpace(body)
		}
		*f.target = value
	}

	// "2.420.AC00.18.R,build:2020-08-20"
	id.SoftwareVersion, _, _ = strings.Cut(id.SoftwareVersion, ",")

	if id.SerialNumber == "" {
		return DeviceIdentity{}, fmt.Errorf("%w: camera returned no serial number", ErrDeviceUnreachable)
	}
	return id, nil
}

// GetField reads one configManager value, e.g. "VideoTalkPhoneGeneral.RingVolume".
func (c *Camera) GetField(ctx context.Context, key string) (string, error) {
	body, err := c.command(ctx, "configManager.cgi?action=getConfig&name="+key)
	if err != nil {
		return "", fmt.Errorf("%w: get %s: %w", ErrDeviceError, key, err)
	}

	value, ok := lookupValue(body, key)
	if !ok {
		return "", fmt.Errorf("%w: get %s: unexpected response %q", ErrDeviceError, key, strings.TrimSpace(body))
	}
	return value, nil
}

// SetField writes one configManager value. The camera answers "OK" when it
// accepts the change.
func (c *Camera) SetField(ctx context.Context, key, value string) (bool, error) {
	body, err := c.command(ctx, "configManager.cgi?action=setConfig&"+key+"="+url.QueryEscape(value))
	if err != nil {
		return false, fmt.Errorf("%w: set %s: %w", ErrDeviceError, key, err)
	}
	return strings.Contains(strings.ToLower(body), "ok"), nil
}

// Storage sums the capacity and usage of every storage device.
func (c *Camera) Storage(ctx context.Context) (StorageInfo, error) {
	body, err := c.command(ctx, "storageDevice.cgi?action=getDeviceAllInfo")
	if err != nil {
		return StorageInfo{}, fmt.Errorf("%w: storage: %w", ErrDeviceError, err)
	}

	var total, used float64
	for line := range strings.Lines(body) {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			continue
		}
		switch {
		case strings.HasSuffix(key, ".TotalBytes"):
			total += n
		case strings.HasSuffix(key, ".UsedBytes"):
			used += n
		}
	}

	info := StorageInfo{
		UsedGB:  round2(used / bytesPerGiB),
		TotalGB: round2(total / bytesPerGiB),
	}
	if total > 0 {
		info.UsedPercent = round2(used / total * 100)
	}
	return info, nil
}

// Ping checks that the camera accepts TCP connections on its HTTP port.
func (c *Camera) Ping(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port)))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceUnreachable, err)
	}
	return conn.Close()
}

// command performs a CGI request and returns the body of a 200 response.
func (c *Camera) command(ctx context.Context, path string) (string, error) {
	resp, err := c.get(ctx, c.client, path)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s: HTTP %d", cgiName(path), resp.StatusCode)
	}
	return string(body), nil
}

// get issues a GET. Authentication is handled by the client's transport.
func (c *Camera) get(ctx context.Context, client *http.Client, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	return client.Do(req)
}

// lookupValue finds "prefix.key=value" or "key=value" in a key/value body.
func lookupValue(body, key string) (string, bool) {
	for line := range strings.Lines(body) {
		k, v, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		if k == key || strings.HasSuffix(k, "."+key) {
			return v, true
		}
	}
	return "", false
}

func cgiName(path string) string {
	name, _, _ := strings.Cut(path, "&")
	return name
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// isCanceled reports whether err was caused by the caller's context.
func isCanceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
