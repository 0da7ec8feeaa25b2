package amcrest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceIdentity_Models(t *testing.T) {
	tests := []struct {
		model    string
		doorbell bool
		extended bool
	}{
		{ModelAD110, true, false},
		{ModelAD410, true, true},
		{"IP8M-2496E", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			id := DeviceIdentity{Model: tt.model}
			assert.Equal(t, tt.doorbell, id.IsDoorbell())
			assert.Equal(t, tt.extended, id.HasExtendedFeatures())
		})
	}
}

func TestDeviceIdentity_Equal(t *testing.T) {
	a := DeviceIdentity{Name: "Front", SerialNumber: "AB123"}
	b := DeviceIdentity{Name: "Renamed", SerialNumber: "AB123"}
	c := DeviceIdentity{Name: "Front", SerialNumber: "CD456"}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestEventPayload_DataString(t *testing.T) {
	p := EventPayload{Data: map[string]any{
		"Status":  true,
		"Flicker": "true",
		"Volume":  float64(3),
		"Nil":     nil,
	}}

	assert.Equal(t, "true", p.DataString("Status"))
	assert.Equal(t, "true", p.DataString("Flicker"))
	assert.Equal(t, "3", p.DataString("Volume"))
	assert.Equal(t, "", p.DataString("Nil"))
	assert.Equal(t, "", p.DataString("Missing"))
}

func TestDecodeInt(t *testing.T) {
	for raw, want := range map[string]int{"80": 80, " 55.0 ": 55, "-3": -3, "7.9": 7} {
		got, err := DecodeInt(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	for _, raw := range []string{"", "loud", "NaN"} {
		_, err := DecodeInt(raw)
		assert.Error(t, err, raw)
	}
}

func TestDecodeBool(t *testing.T) {
	v, err := DecodeBool("TRUE")
	require.NoError(t, err)
	assert.True(t, v)

	v, err = DecodeBool(" false\r\n")
	require.NoError(t, err)
	assert.False(t, v)

	_, err = DecodeBool("1")
	assert.Error(t, err)
}

func TestGetFieldAs(t *testing.T) {
	dev := newFakeDevice(ModelAD410)
	dev.fields["Volume"] = "55.0"
	dev.fields["Broken"] = "loud"

	v, err := GetFieldAs(context.Background(), dev, "Volume", DecodeInt)
	require.NoError(t, err)
	assert.Equal(t, 55, v)

	_, err = GetFieldAs(context.Background(), dev, "Broken", DecodeInt)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDeviceError))

	dev.getErr = ErrDeviceError
	_, err = GetFieldAs(context.Background(), dev, "Volume", DecodeInt)
	assert.ErrorIs(t, err, ErrDeviceError)
}
