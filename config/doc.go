// Package config provides application configuration management.
//
// The config package loads podbox settings from defaults, an optional YAML
// file and the environment, and validates them. It is the single place where
// the process environment is read; everything downstream receives a *Config.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("podman binary: %s\n", cfg.Podman.Binary)
package config
