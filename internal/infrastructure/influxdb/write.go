package influxdb

import (
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	measurementEntityState = "entity_state"
	measurementDeviceEvent = "device_event"
)

// WriteEntityState records one state publish for an entity.
//
// The payload is stored in the most useful field type: "on"/"off" become a
// boolean "on" field, numbers a float "value" field, anything else a string
// "state" field.
//
// Parameters:
//   - serial: Camera serial number (tag "device")
//   - entity: Entity slug (tag "entity")
//   - payload: The payload that was published to the state topic
func (c *Client) WriteEntityState(serial, entity, payload string) {
	c.WritePoint(measurementEntityState,
		map[string]string{
			"device": serial,
			"entity": entity,
		},
		StateFields(payload),
	)
}

// WriteDeviceEvent records one raw camera event.
//
// Parameters:
//   - serial: Camera serial number
//   - code: Event code (e.g. "VideoMotion")
//   - action: Event action (e.g. "Start", "Stop", "Pulse")
func (c *Client) WriteDeviceEvent(serial, code, action string) {
	c.WritePoint(measurementDeviceEvent,
		map[string]string{
			"device": serial,
			"code":   code,
			"action": action,
		},
		map[string]interface{}{
			"count": 1,
		},
	)
}

// WritePoint queues a point with full control over tags and fields.
// It is dropped when the client is nil or closed.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
	c.written.Add(1)
}

// StateFields converts an MQTT state payload into InfluxDB fields.
func StateFields(payload string) map[string]interface{} {
	switch strings.ToLower(payload) {
	case "on":
		return map[string]interface{}{"on": true}
	case "off":
		return map[string]interface{}{"on": false}
	}

	if v, err := strconv.ParseFloat(payload, 64); err == nil {
		return map[string]interface{}{"value": v}
	}

	return map[string]interface{}{"state": payload}
}
