// Package config handles loading and validating monitor configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//   - Persisting chosen capture devices back to the user config
//
// A missing config file is treated as a first run: defaults apply and the
// file is created once capture devices have been selected.
//
// Security Considerations:
//   - Broker credentials and telemetry tokens should be set via environment
//     variables rather than stored in the file
//   - Saved config files use restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.Broker.Host)
package config
