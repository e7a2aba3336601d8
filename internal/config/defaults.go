package config

import (
	"time"

	"github.com/spf13/viper"
)

func setDefaults() {
	viper.SetDefault("bridge.enabled", true)
	viper.SetDefault("bridge.host", "127.0.0.1")
	viper.SetDefault("bridge.port", 0)
	viper.SetDefault("bridge.resolved_cache_size", 1000)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.file", "")

	viper.SetDefault("storage.path", "~/.evolve/bridge.db")

	viper.SetDefault("rpc.chat_timeout", 30*time.Second)
	viper.SetDefault("rpc.command_timeout", 10*time.Second)
}
