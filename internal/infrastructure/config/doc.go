// Package config loads and validates the enrollment station configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with AUFBAU_* environment variables
//   - Validation of bus timing, probe registers and service sections
//   - Default value handling (the field-tuned enrollment timing)
//
// Durations are written as Go duration strings ("140ms", "1.8s").
//
// Security Considerations:
//   - Passwords and tokens should be set via environment variables
//   - Without security.jwt.secret the HTTP API is unauthenticated
//
// Usage:
//
//	cfg, err := config.Load(config.ResolvePath(*configFlag))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Bus.Port)
package config
