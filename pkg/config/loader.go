package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from a file and environment variables.
func Load(logger *slog.Logger, fileName string) (*Config, error) {
	v := viper.New()

	// 1. Set default values
	v.SetDefault("server.address", ":5000")
	v.SetDefault("server.connectionLimit.maxPerIP", 10)
	v.SetDefault("store.uri", "mongodb://localhost:27017")
	v.SetDefault("store.database", "chatrelay")
	v.SetDefault("store.connectTimeout", "10s")
	v.SetDefault("transport.readTimeout", "60s")
	v.SetDefault("chat.rooms", []string{"general", "random", "tech"})
	v.SetDefault("chat.defaultRoom", "general")
	v.SetDefault("chat.historyLimit", 50)
	v.SetDefault("log.level", "info")

	// 2. Set config file details
	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".") // look for config in the working directory

	// 3. Set up environment variable handling
	v.SetEnvPrefix("CHATRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Read the configuration file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return nil, err
		}
		logger.Warn("Config file not found. ignoring error and relying on defaults/env vars")
	}

	// 5. Unmarshal the configuration into our struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if len(cfg.Chat.Rooms) == 0 {
		return fmt.Errorf("chat.rooms must name at least one room")
	}
	for _, room := range cfg.Chat.Rooms {
		if cfg.Chat.DefaultRoom == room {
			return nil
		}
	}
	return fmt.Errorf("chat.defaultRoom %q is not in chat.rooms", cfg.Chat.DefaultRoom)
}
