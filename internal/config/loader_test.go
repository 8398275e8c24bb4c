package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockPaths points the user and project layers at files in dir.
func mockPaths(t *testing.T, dir string) (userPath, projectPath string) {
	t.Helper()
	originalGetUserConfigPath := getUserConfigPath
	originalGetProjectConfigPath := getProjectConfigPath
	originalHome := osUserHomeDir
	t.Cleanup(func() {
		getUserConfigPath = originalGetUserConfigPath
		getProjectConfigPath = originalGetProjectConfigPath
		osUserHomeDir = originalHome
	})

	userPath = filepath.Join(dir, "user-config.yaml")
	projectPath = filepath.Join(dir, "project-config.yaml")
	getUserConfigPath = func() (string, error) { return userPath, nil }
	getProjectConfigPath = func() (string, error) { return projectPath, nil }
	osUserHomeDir = func() (string, error) { return dir, nil }
	return userPath, projectPath
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadConfig_DefaultOnly(t *testing.T) {
	tempDir := t.TempDir()
	mockPaths(t, tempDir)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, filepath.Join(tempDir, userConfigDir, defaultStorageFile), cfg.Storage)
	assert.Equal(t, LocalEnvironment, cfg.DefaultEnvironment)
	assert.Equal(t, []string{LocalEnvironment}, cfg.EnvironmentNames())
}

func TestLoadConfig_Layering(t *testing.T) {
	tempDir := t.TempDir()
	userPath, projectPath := mockPaths(t, tempDir)

	writeFile(t, userPath, `
logLevel: debug
logFormat: json
theme: dark
environments:
  staging:
    endpoint: https://staging.example.com/api/v1/prediction/abc
    requestTimeout: 30s
`)
	writeFile(t, projectPath, `
storage: memory
defaultEnvironment: staging
environments:
  staging:
    endpoint: https://staging.example.com/api/v1/prediction/def
    retry:
      max_attempts: 5
      initial_interval: 500ms
`)
	explicit := filepath.Join(tempDir, "explicit.yaml")
	writeFile(t, explicit, `
reportDir: /tmp/reports
`)

	cfg, err := LoadConfig(explicit)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel, "user layer")
	assert.Equal(t, "json", cfg.LogFormat, "user layer")
	assert.Equal(t, "dark", cfg.Theme, "user layer")
	assert.Equal(t, "memory", cfg.Storage, "project layer")
	assert.Equal(t, "/tmp/reports", cfg.ReportDir, "explicit layer")
	assert.Equal(t, []string{"local", "staging"}, cfg.EnvironmentNames())

	staging := cfg.Environments["staging"]
	assert.Equal(t, "https://staging.example.com/api/v1/prediction/def", staging.Endpoint)
	assert.Zero(t, staging.RequestTimeout, "environments are replaced as a whole")
	assert.Equal(t, 5, staging.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, staging.Retry.InitialInterval)
}

func TestLoadConfig_Errors(t *testing.T) {
	tempDir := t.TempDir()
	userPath, _ := mockPaths(t, tempDir)

	_, err := LoadConfig(filepath.Join(tempDir, "missing.yaml"))
	assert.True(t, errors.Is(err, ErrInvalid), "an explicit file must exist")

	writeFile(t, userPath, "logLevel: [unclosed")
	_, err = LoadConfig("")
	assert.True(t, errors.Is(err, ErrInvalid))

	writeFile(t, userPath, "loglevel: debug\n")
	_, err = LoadConfig("")
	assert.True(t, errors.Is(err, ErrInvalid), "unknown keys are rejected")
}

func TestLoadConfig_EmptyFile(t *testing.T) {
	tempDir := t.TempDir()
	userPath, _ := mockPaths(t, tempDir)
	writeFile(t, userPath, "")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestChatConfig(t *testing.T) {
	originalGetenv := osGetenv
	t.Cleanup(func() { osGetenv = originalGetenv })
	osGetenv = func(key string) string {
		if key == "FLOWISE_KEY" {
			return "from-env"
		}
		return ""
	}

	cfg := Config{
		DefaultEnvironment: "prod",
		Environments: map[string]Environment{
			"prod":    {Endpoint: "https://prod/api", APIKeyEnv: "FLOWISE_KEY", APIKey: "from-file", RequestTimeout: time.Second},
			"staging": {Endpoint: "https://staging/api", APIKey: "from-file", APIKeyEnv: "UNSET"},
			"broken":  {},
		},
	}

	name, cc, err := cfg.ChatConfig("")
	require.NoError(t, err)
	assert.Equal(t, "prod", name)
	assert.Equal(t, "https://prod/api", cc.Endpoint)
	assert.Equal(t, "from-env", cc.APIKey, "the environment variable wins")
	assert.Equal(t, time.Second, cc.RequestTimeout)

	_, cc, err = cfg.ChatConfig("staging")
	require.NoError(t, err)
	assert.Equal(t, "from-file", cc.APIKey)

	_, _, err = cfg.ChatConfig("broken")
	assert.True(t, errors.Is(err, ErrInvalid))

	_, _, err = cfg.ChatConfig("nope")
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestGetUserConfigDir(t *testing.T) {
	originalHome := osUserHomeDir
	t.Cleanup(func() { osUserHomeDir = originalHome })

	osUserHomeDir = func() (string, error) { return "/home/test", nil }
	dir, err := GetUserConfigDir()
	require.NoError(t, err)
	assert.Equal(t, "/home/test/.config/convoprobe", dir)

	osUserHomeDir = func() (string, error) { return "", errors.New("no home") }
	_, err = GetUserConfigDir()
	assert.Error(t, err)
}
