package influxdb_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/amcrest2mqtt/internal/infrastructure/config"
	"github.com/nerrad567/amcrest2mqtt/internal/infrastructure/influxdb"
)

// fakeInflux accepts pings and records line-protocol write bodies.
type fakeInflux struct {
	mu     sync.Mutex
	writes []string
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ping":
		w.WriteHeader(http.StatusNoContent)
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.writes = append(f.writes, string(body))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeInflux) body() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.writes, "\n")
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "token",
		Org:           "home",
		Bucket:        "amcrest",
		BatchSize:     10,
		FlushInterval: 1,
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Enabled = false

	_, err := influxdb.Connect(context.Background(), cfg)
	assert.ErrorIs(t, err, influxdb.ErrDisabled)
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := influxdb.Connect(context.Background(), testConfig("http://127.0.0.1:1"))
	assert.ErrorIs(t, err, influxdb.ErrConnectionFailed)
}

func TestWriteEntityStateAndEvent(t *testing.T) {
	fake := &fakeInflux{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	client, err := influxdb.Connect(context.Background(), testConfig(srv.URL))
	require.NoError(t, err)
	defer client.Close()
	assert.True(t, client.IsConnected())

	client.WriteEntityState("AB123", "motion", "on")
	client.WriteEntityState("AB123", "storage_used_percent", "42.5")
	client.WriteDeviceEvent("AB123", "VideoMotion", "Start")
	client.Flush()
	assert.Equal(t, uint64(3), client.Written())

	assert.Eventually(t, func() bool {
		body := fake.body()
		return strings.Contains(body, "entity_state,device=AB123,entity=motion on=true") &&
			strings.Contains(body, "entity=storage_used_percent value=42.5") &&
			strings.Contains(body, "device_event,action=Start,code=VideoMotion,device=AB123 count=1i")
	}, 3*time.Second, 20*time.Millisecond)
}

func TestClose_StopsWrites(t *testing.T) {
	fake := &fakeInflux{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	client, err := influxdb.Connect(context.Background(), testConfig(srv.URL))
	require.NoError(t, err)
	require.NoError(t, client.Close())

	assert.False(t, client.IsConnected())
	client.WriteEntityState("AB123", "motion", "on")
	client.Flush()
	assert.Empty(t, fake.body())
	assert.Zero(t, client.Written())
	assert.NoError(t, client.Close())
}

func TestNilClient_DropsWrites(t *testing.T) {
	var client *influxdb.Client

	assert.NotPanics(t, func() {
		client.SetOnError(func(error) {})
		client.WriteEntityState("AB123", "motion", "on")
		client.WriteDeviceEvent("AB123", "VideoMotion", "Start")
		client.Flush()
	})
	assert.False(t, client.IsConnected())
	assert.Zero(t, client.Written())
	assert.NoError(t, client.Close())
}

func TestStateFields(t *testing.T) {
	tests := []struct {
		payload string
		want    map[string]interface{}
	}{
		{"on", map[string]interface{}{"on": true}},
		{"OFF", map[string]interface{}{"on": false}},
		{"55", map[string]interface{}{"value": 55.0}},
		{"1.25", map[string]interface{}{"value": 1.25}},
		{"strobe", map[string]interface{}{"state": "strobe"}},
	}

	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			assert.Equal(t, tt.want, influxdb.StateFields(tt.payload))
		})
	}
}
