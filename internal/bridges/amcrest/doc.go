// Package amcrest bridges an Amcrest camera or doorbell to MQTT with
// Home Assistant discovery.
//
// The bridge sits between the camera's HTTP API and an MQTT broker:
//
//	┌─────────────────┐   HTTP    ┌─────────────────┐   MQTT   ┌─────────────────┐
//	│  Amcrest camera │◄─────────►│  amcrest bridge │◄────────►│  Home Assistant │
//	└─────────────────┘           └─────────────────┘          └─────────────────┘
//
// # Key Responsibilities
//
//   - Identify the camera and instantiate the entities its model supports
//   - Announce each entity with a retained discovery config message
//   - Translate camera events (motion, human, doorbell, flashlight) into
//     retained entity states
//   - Apply commands from Home Assistant to the camera and echo the result
//   - Poll storage usage and configuration, and ping the camera
//   - Publish "online"/"offline" availability, with an "offline" last will
//
// # Topics
//
// Every device topic lives under "amcrest2mqtt/{serial}":
//
//	amcrest2mqtt/AB123/status          online | offline (retained)
//	amcrest2mqtt/AB123/event           raw camera events (not retained)
//	amcrest2mqtt/AB123/motion          entity state (retained)
//	amcrest2mqtt/AB123/flashlight/set  command topic
//
// # Failure Model
//
// Any device or broker failure after startup is fatal. The Controller runs
// one shutdown sequence, publishes "offline" when it still can, and exits
// with the non-zero code ExitCode assigns to the cause, so a supervisor
// restarts the process. Malformed command payloads are logged and ignored.
//
// # Usage
//
//	camera := amcrest.NewCamera(amcrest.CameraConfig{
//	    Host:     "10.0.0.20",
//	    Username: "admin",
//	    Password: password,
//	})
//	ctrl, err := amcrest.NewController(amcrest.ControllerOptions{
//	    Device:  camera,
//	    Connect: connectBroker,
//	})
//	if err != nil {
//	    return err
//	}
//	ctrl.Run(ctx)
package amcrest
