// Package config loads the flojobs configuration: built-in defaults, then
// an optional JSON or YAML file, then FLO_* environment variables.
//
// Example:
//
//	cfg, err := config.Load("/etc/flojobs.yaml")
//	if err != nil {
//	    return err
//	}
//	if err := config.FromEnv(&cfg); err != nil {
//	    return err
//	}
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
//	rt, err := runtime.Open(ctx, runtime.Options{Config: cfg})
package config
