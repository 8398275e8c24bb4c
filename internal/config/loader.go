package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"convoprobe/internal/chat"
	"convoprobe/pkg/logging"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir
var osGetwd = os.Getwd
var osGetenv = os.Getenv

const (
	userConfigDir    = ".config/convoprobe"
	projectConfigDir = ".convoprobe"
	configFileName   = "config.yaml"
)

// ErrInvalid marks configuration that cannot be used.
var ErrInvalid = errors.New("invalid configuration")

// LoadConfig layers the default, user, project and explicit configuration.
// explicitPath may be empty; when set the file must exist.
func LoadConfig(explicitPath string) (Config, error) {
	config := GetDefaultConfig()

	userConfigPath, err := getUserConfigPath()
	if err != nil {
		logging.Warn("Config", "Could not determine user config path: %v", err)
	} else if config, err = mergeIfPresent(config, userConfigPath); err != nil {
		return Config{}, err
	}

	projectConfigPath, err := getProjectConfigPath()
	if err != nil {
		logging.Warn("Config", "Could not determine project config path: %v", err)
	} else if config, err = mergeIfPresent(config, projectConfigPath); err != nil {
		return Config{}, err
	}

	if explicitPath != "" {
		explicit, err := loadConfigFromFile(explicitPath)
		if err != nil {
			return Config{}, fmt.Errorf("%w: error loading config from %s: %v", ErrInvalid, explicitPath, err)
		}
		config = mergeConfigs(config, explicit)
		logging.Debug("Config", "Loaded config from %s", explicitPath)
	}

	return config, nil
}

func mergeIfPresent(base Config, path string) (Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return base, nil
	}
	overlay, err := loadConfigFromFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: error loading config from %s: %v", ErrInvalid, path, err)
	}
	logging.Debug("Config", "Loaded config from %s", path)
	return mergeConfigs(base, overlay), nil
}

var getUserConfigPath = func() (string, error) {
	dir, err := GetUserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

var getProjectConfigPath = func() (string, error) {
	wd, err := osGetwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, projectConfigDir, configFileName), nil
}

// loadConfigFromFile loads a Config from a YAML file. Unknown keys are rejected.
func loadConfigFromFile(filePath string) (Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return Config{}, err
	}
	var config Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	return config, nil
}

// mergeConfigs merges 'overlay' config into 'base' config.
func mergeConfigs(base, overlay Config) Config {
	merged := base

	if overlay.LogLevel != "" {
		merged.LogLevel = overlay.LogLevel
	}
	if overlay.LogFormat != "" {
		merged.LogFormat = overlay.LogFormat
	}
	if overlay.Theme != "" {
		merged.Theme = overlay.Theme
	}
	if overlay.Storage != "" {
		merged.Storage = overlay.Storage
	}
	if overlay.Scenarios != "" {
		merged.Scenarios = overlay.Scenarios
	}
	if overlay.ReportDir != "" {
		merged.ReportDir = overlay.ReportDir
	}
	if overlay.DefaultEnvironment != "" {
		merged.DefaultEnvironment = overlay.DefaultEnvironment
	}

	envs := make(map[string]Environment, len(base.Environments)+len(overlay.Environments))
	for name, env := range base.Environments {
		envs[name] = env
	}
	for name, env := range overlay.Environments {
		envs[name] = env // Replace if name exists, otherwise adds
	}
	merged.Environments = envs

	return merged
}

// EnvironmentNames returns the configured environment names, sorted.
func (c Config) EnvironmentNames() []string {
	names := make([]string, 0, len(c.Environments))
	for name := range c.Environments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ChatConfig resolves an environment into a chat client configuration.
// An empty name selects the default environment.
func (c Config) ChatConfig(name string) (string, chat.Config, error) {
	if name == "" {
		name = c.DefaultEnvironment
	}
	env, ok := c.Environments[name]
	if !ok {
		return "", chat.Config{}, fmt.Errorf("%w: unknown environment %q (have: %s)", ErrInvalid, name, strings.Join(c.EnvironmentNames(), ", "))
	}
	if env.Endpoint == "" {
		return "", chat.Config{}, fmt.Errorf("%w: environment %q has no endpoint", ErrInvalid, name)
	}

	apiKey := env.APIKey
	if env.APIKeyEnv != "" {
		if v := osGetenv(env.APIKeyEnv); v != "" {
			apiKey = v
		} else if apiKey == "" {
			logging.Warn("Config", "Environment %s: %s is not set, sending requests without an API key", name, env.APIKeyEnv)
		}
	}

	return name, chat.Config{
		Endpoint:       env.Endpoint,
		APIKey:         apiKey,
		RequestTimeout: env.RequestTimeout,
		Retry:          env.Retry,
	}, nil
}

// GetUserConfigDir returns the user configuration directory path
func GetUserConfigDir() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir), nil
}
