package config

import (
	"path/filepath"

	"convoprobe/internal/chat"
)

const (
	// LocalEnvironment points at the mock agent started by `convoprobe mock-agent`.
	LocalEnvironment = "local"

	defaultMockAgentEndpoint = "http://localhost:3000/api/v1/prediction/mock"
	defaultStorageFile       = "results.db"
)

// GetDefaultConfig returns the configuration used when no file overrides it:
// a single local environment served by the mock agent.
func GetDefaultConfig() Config {
	storage := defaultStorageFile
	if dir, err := GetUserConfigDir(); err == nil {
		storage = filepath.Join(dir, defaultStorageFile)
	}

	return Config{
		LogLevel:           "info",
		Storage:            storage,
		ReportDir:          "reports",
		DefaultEnvironment: LocalEnvironment,
		Environments: map[string]Environment{
			LocalEnvironment: {
				Endpoint:       defaultMockAgentEndpoint,
				RequestTimeout: chat.DefaultRequestTimeout,
				Retry:          chat.DefaultRetryPolicy(),
			},
		},
	}
}
