package config

import (
	"time"

	"convoprobe/internal/chat"
)

// Config is the top-level configuration structure for convoprobe.
type Config struct {
	LogLevel string `yaml:"logLevel,omitempty"`
	// LogFormat is "text" or "json"
	LogFormat string `yaml:"logFormat,omitempty"`
	// Theme is "auto", "dark" or "light"
	Theme string `yaml:"theme,omitempty"`
	// Storage is the SQLite results database path, or "memory"
	Storage string `yaml:"storage,omitempty"`
	// Scenarios is an optional directory of scenario files added to the builtin catalog
	Scenarios string `yaml:"scenarios,omitempty"`
	// ReportDir receives JSON reports when reporting is enabled
	ReportDir          string                 `yaml:"reportDir,omitempty"`
	DefaultEnvironment string                 `yaml:"defaultEnvironment,omitempty"`
	Environments       map[string]Environment `yaml:"environments,omitempty"`
}

// Environment is a named agent deployment to test against.
type Environment struct {
	Endpoint string `yaml:"endpoint"`
	// APIKey is used verbatim; prefer APIKeyEnv so keys stay out of files
	APIKey         string            `yaml:"apiKey,omitempty"`
	APIKeyEnv      string            `yaml:"apiKeyEnv,omitempty"`
	RequestTimeout time.Duration     `yaml:"requestTimeout,omitempty"`
	Retry          chat.RetryPolicy  `yaml:"retry,omitempty"`
	Vars           map[string]string `yaml:"vars,omitempty"`
}
