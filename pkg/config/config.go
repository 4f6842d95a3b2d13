package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/confab-dev/confab/pkg/api"
	"github.com/confab-dev/confab/pkg/mediaworker"
	"github.com/confab-dev/confab/pkg/meeting"
	"github.com/confab-dev/confab/pkg/registry"
	"github.com/confab-dev/confab/pkg/signaling"
	"github.com/confab-dev/confab/pkg/telemetry"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Server configuration.
type Config struct {
	// Address the HTTP server binds to.
	ListenAddr string `yaml:"listenAddr"`
	// Starting from which level to log stuff.
	LogLevel string `yaml:"log"`
	// Redis connection of the shared room registry.
	Redis registry.Config `yaml:"redis"`
	// Signaling gateway configuration.
	Signaling signaling.Config `yaml:"signaling"`
	// Per-meeting behavior.
	Meeting meeting.Config `yaml:"meeting"`
	// Media worker pool configuration.
	Media mediaworker.Config `yaml:"media"`
	// Telemetry (tracing) configuration.
	Telemetry telemetry.Config `yaml:"telemetry"`
	// REST surface configuration.
	API api.Config `yaml:"api"`
}

// Tries to load a config from the `CONFIG` environment variable.
// If the environment variable is not set, tries to load a config from the
// provided path to the config file (YAML). Returns an error if the config
// could not be loaded.
func LoadConfig(path string) (*Config, error) {
	config, err := LoadConfigFromEnv()
	if err != nil {
		if !errors.Is(err, ErrNoConfigEnvVar) {
			return nil, err
		}

		return LoadConfigFromPath(path)
	}

	return config, nil
}

// ErrNoConfigEnvVar is returned when the CONFIG environment variable is not set.
var ErrNoConfigEnvVar = errors.New("environment variable not set or invalid")

// Tries to load the config from environment variable (`CONFIG`).
func LoadConfigFromEnv() (*Config, error) {
	configEnv := os.Getenv("CONFIG")
	if configEnv == "" {
		return nil, ErrNoConfigEnvVar
	}

	return LoadConfigFromString(configEnv)
}

// Tries to load a config from the provided path.
func LoadConfigFromPath(path string) (*Config, error) {
	logrus.WithField("path", path).Info("loading config")

	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return LoadConfigFromString(string(file))
}

// Load config from the provided string. Unspecified keys keep their
// defaults; the result is validated before being returned.
func LoadConfigFromString(configString string) (*Config, error) {
	config := Config{
		ListenAddr: ":8080",
		Signaling:  signaling.DefaultConfig(),
		Meeting:    meeting.DefaultConfig(),
	}

	if err := yaml.Unmarshal([]byte(configString), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML file: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	if c.Redis.Addr == "" {
		return errors.New("redis address is not configured")
	}
	if c.Meeting.MaxParticipants <= 0 {
		return errors.New("maxParticipants must be positive")
	}

	topology := c.Meeting.Topology
	if topology.P2PThreshold >= topology.SFUThreshold {
		return errors.New("p2pThreshold must be below sfuThreshold")
	}
	if topology.TransitionTimeout <= 0 {
		return errors.New("transitionTimeout must be positive")
	}

	return nil
}
