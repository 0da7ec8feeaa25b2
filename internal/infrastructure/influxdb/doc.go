// Package influxdb records amcrest2mqtt telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. When enabled, every
// entity state the bridge publishes and every raw camera event is also
// written as a point, giving a history that the retained MQTT topics alone
// cannot provide.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteEntityState("AB123", "motion", "on")
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes; write errors
// are delivered to the callback registered with SetOnError.
package influxdb
