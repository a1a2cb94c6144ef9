// Package config handles loading and validating the console bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling, including the session protocol timings
//
// Security Considerations:
//   - Console tokens and the JWT secret should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - Operator passwords are stored only as Argon2id hashes
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, c := range cfg.Consoles {
//	    fmt.Println(c.ID, c.Host)
//	}
package config
