// Package config handles loading and validating experimentd configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with EXPERIMENT_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Besides connection settings, the file declares the slots the container
// creates at startup and their default selections. A selection stored by the
// persistence backend takes precedence over the default.
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - Without security.jwt.secret the HTTP API accepts unauthenticated requests
//
// Usage:
//
//	cfg, err := config.Load("configs/experiment.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, s := range cfg.Slots {
//	    fmt.Println(s.Contract, s.Implementation)
//	}
package config
