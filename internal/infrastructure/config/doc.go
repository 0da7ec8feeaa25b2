// Package config handles loading and validating amcrest2mqtt configuration.
//
// This package manages:
//   - Loading configuration from an optional YAML file
//   - Overriding with environment variables (AMCREST_*, MQTT_*, HOME_ASSISTANT*)
//   - Validation of required fields before any network I/O
//   - Default value handling
//
// Security Considerations:
//   - Camera and broker passwords should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Amcrest.Host)
package config
