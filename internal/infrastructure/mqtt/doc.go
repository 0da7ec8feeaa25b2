// Package mqtt provides the broker connection used by amcrest2mqtt.
//
// This package manages:
//   - Connection to the broker with a last will and a persistent session
//   - Publishing that waits for broker acknowledgement
//   - Topic subscriptions with panic-safe handlers
//   - Notification when an established connection is lost
//
// Unlike a long-lived hub client it does not reconnect on its own. The
// bridge treats a lost broker as fatal and lets the supervisor (systemd,
// Docker restart policy) start a fresh process, which re-publishes
// discovery and state from the camera.
//
// # Security Considerations
//
//   - Either username/password or mutual TLS (CA, certificate, key) is used
//   - TLS 1.2 is the minimum accepted version
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, "amcrest2mqtt_AB123", &mqtt.Will{
//	    Topic: "amcrest2mqtt/AB123/status", Payload: "offline", Retained: true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Publish("amcrest2mqtt/AB123/status", []byte("online"), 0, true)
package mqtt
