package config

import (
	"time"

	"github.com/spf13/viper"
)

type HostConfig struct {
	ExtensionPaths []string   `mapstructure:"extension_paths"`
	LogLevel       string     `mapstructure:"log_level"`
	WatchEnabled   bool       `mapstructure:"watch_enabled"`
	MetricsEnabled bool       `mapstructure:"metrics_enabled"`
	MetricsPort    int        `mapstructure:"metrics_port"`
	Wasm           WasmConfig `mapstructure:"wasm"`
}

// WasmConfig holds Wasm runtime configuration.
type WasmConfig struct {
	// Memory limit per module (in pages, 64KB each).
	MemoryPages uint32 `mapstructure:"memory_pages"`
	// Enable debug logging.
	Debug bool `mapstructure:"debug"`
	// Compilation cache directory.
	CacheDir string `mapstructure:"cache_dir"`
	// Maximum concurrent instances.
	MaxInstances int `mapstructure:"max_instances"`
	// Scalar call timeout (seconds). Zero disables the deadline.
	CallTimeout int `mapstructure:"call_timeout"`
}

// CallTimeout returns the configured scalar call deadline.
func (c *HostConfig) CallTimeout() time.Duration {
	return time.Duration(c.Wasm.CallTimeout) * time.Second
}

func LoadHostConfig(configPath string) (*HostConfig, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("extension_paths", []string{"./extensions"})
	v.SetDefault("log_level", "info")
	v.SetDefault("watch_enabled", false)
	v.SetDefault("metrics_enabled", false)
	v.SetDefault("metrics_port", 9090)

	// Wasm defaults
	v.SetDefault("wasm.memory_pages", 256) // 16MB
	v.SetDefault("wasm.debug", false)
	v.SetDefault("wasm.cache_dir", "")
	v.SetDefault("wasm.max_instances", 100)
	v.SetDefault("wasm.call_timeout", 30)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg HostConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
