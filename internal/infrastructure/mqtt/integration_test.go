//go:build integration

package mqtt

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration tests against a real broker at 127.0.0.1:1883 that accepts
// the test credentials (or anonymous access).
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func TestIntegration_MessageRoundtrip(t *testing.T) {
	client, err := Connect(testConfig(), "amcrest2mqtt-int-roundtrip", &Will{
		Topic: "amcrest2mqtt/int/status", Payload: "offline", Retained: true,
	})
	require.NoError(t, err)
	defer client.Close()

	var (
		mu       sync.Mutex
		received []byte
	)
	topic := "amcrest2mqtt/int/roundtrip"
	require.NoError(t, client.Subscribe(topic, 1, func(_ string, payload []byte) error {
		mu.Lock()
		received = payload
		mu.Unlock()
		return nil
	}))
	assert.Equal(t, 1, client.SubscriptionCount())

	require.NoError(t, client.Publish(topic, []byte("on"), 1, false))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return string(received) == "on"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestIntegration_CloseIsIdempotent(t *testing.T) {
	client, err := Connect(testConfig(), "amcrest2mqtt-int-close", nil)
	require.NoError(t, err)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	assert.False(t, client.IsConnected())
	assert.ErrorIs(t, client.Publish("amcrest2mqtt/int/x", nil, 0, false), ErrNotConnected)
}
