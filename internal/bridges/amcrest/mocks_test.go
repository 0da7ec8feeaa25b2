package amcrest

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
)

// MockBroker implements Broker for testing.
type MockBroker struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []string
	handlers      map[string]func(topic string, payload []byte)
	connected     bool
	disconnects   int

	// publishErr fails every publish whose topic contains failTopic.
	publishErr error
	failTopic  string
}

type mockPublish struct {
	Topic    string
	Payload  string
	QoS      byte
	Retained bool
}

func NewMockBroker() *MockBroker {
	return &MockBroker{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockBroker) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil && strings.Contains(topic, m.failTopic) {
		return m.publishErr
	}
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  string(payload),
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockBroker) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, topic)
	m.handlers[topic] = handler
	return nil
}

func (m *MockBroker) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockBroker) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.disconnects++
}

func (m *MockBroker) SetPublishError(topicPart string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failTopic = topicPart
	m.publishErr = err
}

func (m *MockBroker) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

// PublishedTo returns the payloads published on exactly topic, in order.
func (m *MockBroker) PublishedTo(topic string) []string {
	var out []string
	for _, p := range m.GetPublished() {
		if p.Topic == topic {
			out = append(out, p.Payload)
		}
	}
	return out
}

func (m *MockBroker) GetSubscriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.subscriptions...)
}

func (m *MockBroker) Disconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnects
}

func (m *MockBroker) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

// SimulateMessage delivers a message to the handler subscribed on topic.
func (m *MockBroker) SimulateMessage(topic string, payload []byte) bool {
	m.mu.Lock()
	handler, ok := m.handlers[topic]
	m.mu.Unlock()
	if ok {
		handler(topic, payload)
	}
	return ok
}

// fakeDevice implements Device for testing. Accepted writes update fields,
// so read-backs return what was written unless clamp rewrites it.
type fakeDevice struct {
	mu sync.Mutex

	identity    DeviceIdentity
	identityErr error

	fields    map[string]string
	getErr    error
	setErr    error
	rejectSet bool
	sets      []string

	// clamp, if set, rewrites accepted values the way camera firmware does.
	clamp func(key, value string) string

	events    chan Event
	eventsErr error

	storage    StorageInfo
	storageErr error
	pingErr    error
	pings      int
}

func newFakeDevice(model string) *fakeDevice {
	return &fakeDevice{
		identity: DeviceIdentity{
			Name:            "Front Door",
			Model:           model,
			SerialNumber:    "AB123",
			SoftwareVersion: "2.420.AC00.18.R",
		},
		fields: make(map[string]string),
		events: make(chan Event, 16),
	}
}

func (f *fakeDevice) Identity(context.Context) (DeviceIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.identity, f.identityErr
}

func (f *fakeDevice) GetField(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return "", f.getErr
	}
	v, ok := f.fields[key]
	if !ok {
		return "", errors.Join(ErrDeviceError, errors.New("no such field: "+key))
	}
	return v, nil
}

func (f *fakeDevice) SetField(_ context.Context, key, value string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets = append(f.sets, key+"="+value)
	if f.setErr != nil {
		return false, f.setErr
	}
	if f.rejectSet {
		return false, nil
	}
	if f.clamp != nil {
		value = f.clamp(key, value)
	}
	f.fields[key] = value
	return true, nil
}

// Events yields from the events channel until it is closed or ctx ends.
// After a close, eventsErr (if any) is yielded.
func (f *fakeDevice) Events(ctx context.Context) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-f.events:
				if !ok {
					f.mu.Lock()
					err := f.eventsErr
					f.mu.Unlock()
					if err != nil {
						yield(Event{}, err)
					}
					return
				}
				if !yield(ev, nil) {
					return
				}
			}
		}
	}
}

func (f *fakeDevice) Storage(context.Context) (StorageInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.storage, f.storageErr
}

func (f *fakeDevice) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return f.pingErr
}

func (f *fakeDevice) Pings() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

func (f *fakeDevice) Field(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fields[key]
}

func (f *fakeDevice) Sets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sets...)
}

// seedAD410 fills the fields refreshConfig reads on an AD410.
func (f *fakeDevice) seedAD410() {
	keys := FieldKeysFor(ModelAD410)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fields[keys.SirenVolume] = "80"
	f.fields[keys.Watermark] = "true"
	f.fields[keys.IndicatorLight] = "false"
	f.fields[keys.LightMode] = LightModeOff
	f.fields[keys.LightState] = LightStateOn
}

// testIdentity is the AD410 used by most tests.
func testIdentity() DeviceIdentity {
	return newFakeDevice(ModelAD410).identity
}

// newTestPublisher returns a publisher over a fresh MockBroker.
func newTestPublisher(id DeviceIdentity) (*brokerPublisher, *MockBroker) {
	broker := NewMockBroker()
	return &brokerPublisher{broker: broker, identity: id}, broker
}

// fakeMetrics implements Metrics for testing.
type fakeMetrics struct {
	mu     sync.Mutex
	counts map[string]int
	gauges map[string]float64
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{counts: make(map[string]int), gauges: make(map[string]float64)}
}

func (m *fakeMetrics) Incr(name string, _ ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[name]++
}

func (m *fakeMetrics) Gauge(name string, value float64, _ ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[name] = value
}

func (m *fakeMetrics) Count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}

func (m *fakeMetrics) GaugeValue(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gauges[name]
}
