// Package config loads bridge host configuration from YAML files and
// EVOLVE_* environment variables via viper.
package config

import (
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/haymant/evolve/pkg/logger"
)

// Config is the root configuration for the bridge host.
type Config struct {
	Version string        `mapstructure:"version" yaml:"version"`
	Bridge  BridgeConfig  `mapstructure:"bridge" yaml:"bridge"`
	Log     logger.Config `mapstructure:"log" yaml:"log"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	RPC     RPCConfig     `mapstructure:"rpc" yaml:"rpc"`
}

// BridgeConfig configures the loopback bridge endpoints.
type BridgeConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Host    string `mapstructure:"host" yaml:"host"`
	// Port 0 lets the OS assign one; the chosen port is part of the
	// launch environment handed to the engine process.
	Port int `mapstructure:"port" yaml:"port"`
	// ResolvedCacheSize bounds the recently-resolved token memo.
	ResolvedCacheSize int `mapstructure:"resolved_cache_size" yaml:"resolved_cache_size"`
}

// StorageConfig configures the durable pending-operation snapshot.
type StorageConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// RPCConfig configures default deadlines for engine-initiated RPC calls.
type RPCConfig struct {
	ChatTimeout    time.Duration `mapstructure:"chat_timeout" yaml:"chat_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
}

var (
	mu           sync.RWMutex
	globalConfig *Config
)

// Load reads configuration with precedence ENV > file > defaults.
// A missing config file is not an error; a malformed one is.
func Load(path string) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	setDefaults()

	viper.SetEnvPrefix("EVOLVE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if path != "" {
		expanded, err := ExpandPath(path)
		if err != nil {
			return nil, err
		}
		viper.SetConfigFile(expanded)
		if err := viper.ReadInConfig(); err != nil {
			var pathErr *os.PathError
			if !errors.As(err, &pathErr) && !os.IsNotExist(err) {
				if _, ok := err.(viper.ConfigParseError); ok {
					return nil, err
				}
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return &cfg, nil
}

// Get returns the configuration loaded by the last Load call, or nil.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return globalConfig
}

// Reset clears viper state and the cached configuration. Test helper.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	viper.Reset()
	globalConfig = nil
}
