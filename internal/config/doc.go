// Package config provides configuration management for convoprobe.
//
// Configuration is loaded from several YAML sources and merged in order,
// with later sources overriding earlier ones:
//
//  1. Default configuration (compiled in)
//  2. User configuration (~/.config/convoprobe/config.yaml)
//  3. Project configuration (./.convoprobe/config.yaml)
//  4. An explicit file passed with --config
//
// # Configuration Structure
//
//	logLevel: info
//	logFormat: text                                 # or json
//	theme: auto                                     # or dark, light
//	storage: ~/.local/share/convoprobe/results.db   # or "memory"
//	scenarios: ./scenarios                          # extra scenario directory
//	reportDir: ./reports
//	defaultEnvironment: staging
//	environments:
//	  staging:
//	    endpoint: https://flowise.example.com/api/v1/prediction/abc123
//	    apiKeyEnv: FLOWISE_API_KEY
//	    requestTimeout: 60s
//	    retry:
//	      max_attempts: 3
//	      initial_interval: 1s
//	      max_interval: 10s
//	      multiplier: 2
//	    vars:
//	      practiceId: "42"
//
// Environments are merged by name; an environment defined in a later layer
// replaces the earlier definition as a whole.
//
// The loaded Config is a plain value handed to the commands that need it.
// Nothing in this package keeps global state beyond the mockable path
// helpers used by tests.
package config
