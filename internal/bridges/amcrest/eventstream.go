package amcrest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/textproto"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	eventAttachPath = "eventManager.cgi?action=attach&codes=[All]&heartbeat=30"
	heartbeatBody   = "Heartbeat"
)

var eventPattern = regexp.MustCompile(`(?s)^Code=(.*?);action=(.*?);index=(.*?)(?:;data=(.*))?$`)

// errStreamClosed is returned when the camera closes the stream cleanly.
var errStreamClosed = errors.New("event stream closed by camera")

// Events attaches to the camera's event stream and yields events until ctx
// is cancelled or the consumer stops. Dropped streams are reconnected with
// a growing delay; after EventRetries consecutive failures without a single
// event, the final error is yielded wrapped in ErrDeviceError.
func (c *Camera) Events(ctx context.Context) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		failures := 0
		delay := c.cfg.RetryDelay

		for {
			delivered, stopped, err := c.streamEvents(ctx, yield)
			if stopped || ctx.Err() != nil {
				return
			}

			if delivered > 0 {
				failures = 0
				delay = c.cfg.RetryDelay
			}
			failures++

			if failures > c.cfg.EventRetries {
				yield(Event{}, fmt.Errorf("%w: event stream failed %d times: %w", ErrDeviceError, failures, err))
				return
			}

			logWarn(c.cfg.Logger, "event stream dropped, reconnecting",
				"error", err,
				"attempt", failures,
				"delay", delay,
			)

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			delay = time.Duration(float64(delay) * retryMultiplier)
			if delay > maxRetryDelay {
				delay = maxRetryDelay
			}
		}
	}
}

// streamEvents runs one attach request. It returns how many events were
// delivered and whether the consumer asked to stop.
func (c *Camera) streamEvents(ctx context.Context, yield func(Event, error) bool) (int, bool, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The stream is dropped after ReadTimeout without any data.
	watchdog := time.AfterFunc(c.cfg.ReadTimeout, cancel)
	defer watchdog.Stop()

	resp, err := c.get(streamCtx, c.stream, eventAttachPath)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, false, fmt.Errorf("event attach: HTTP %d", resp.StatusCode)
	}

	body := &idleReader{r: resp.Body, watchdog: watchdog, timeout: c.cfg.ReadTimeout}
	reader := newPartReader(body)

	delivered := 0
	for {
		part, err := reader.next()
		if err != nil {
			if isCanceled(streamCtx, err) && ctx.Err() == nil {
				err = fmt.Errorf("no data for %s", c.cfg.ReadTimeout)
			}
			return delivered, false, err
		}

		ev, ok := parseEvent(part)
		if !ok {
			continue
		}

		logDebug(c.cfg.Logger, "camera event", "code", ev.Code, "action", ev.Payload.Action)
		delivered++
		if !yield(ev, nil) {
			return delivered, true, nil
		}
	}
}

// idleReader pushes the watchdog back on every successful read.
type idleReader struct {
	r        io.Reader
	watchdog *time.Timer
	timeout  time.Duration
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.watchdog.Reset(r.timeout)
	}
	return n, err
}

// partReader splits a multipart/x-mixed-replace body into part bodies.
// Cameras are loose about boundaries and trailing CRLFs, so any line that
// starts with "--" is treated as a boundary and Content-Length decides how
// much body follows.
type partReader struct {
	br *bufio.Reader
	tp *textproto.Reader
}

func newPartReader(r io.Reader) *partReader {
	br := bufio.NewReader(r)
	return &partReader{br: br, tp: textproto.NewReader(br)}
}

func (p *partReader) next() (string, error) {
	for {
		line, err := p.tp.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", errStreamClosed
			}
			return "", err
		}
		if strings.HasPrefix(line, "--") {
			break
		}
	}

	header, err := p.tp.ReadMIMEHeader()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", errStreamClosed
		}
		return "", fmt.Errorf("reading part header: %w", err)
	}

	length, err := strconv.Atoi(strings.TrimSpace(header.Get("Content-Length")))
	if err != nil || length < 0 {
		// Without a usable length the body is a single line.
		line, err := p.tp.ReadLine()
		if err != nil {
			return "", err
		}
		return line, nil
	}
	if length > maxResponseBytes {
		return "", fmt.Errorf("part too large: %d bytes", length)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(p.br, buf); err != nil {
		return "", fmt.Errorf("reading part body: %w", err)
	}
	return string(buf), nil
}

// parseEvent parses "Code=X;action=Y;index=Z;data={...}". Heartbeats and
// unparseable bodies are skipped.
func parseEvent(body string) (Event, bool) {
	body = strings.TrimSpace(body)
	if body == "" || body == heartbeatBody {
		return Event{}, false
	}

	m := eventPattern.FindStringSubmatch(body)
	if m == nil {
		return Event{}, false
	}

	ev := Event{
		Code: m[1],
		Payload: EventPayload{
			Action: m[2],
			Index:  m[3],
		},
	}
	if raw := strings.TrimSpace(m[4]); raw != "" {
		var data map[string]any
		if err := json.Unmarshal([]byte(raw), &data); err == nil {
			ev.Payload.Data = data
		}
	}
	return ev, true
}
