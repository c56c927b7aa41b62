package config

import "time"

type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Transport TransportConfig
	Chat      ChatConfig
	Log       LogConfig
}

type ServerConfig struct {
	Address         string
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type ConnectionLimitConfig struct {
	MaxPerIP int `mapstructure:"maxPerIP"`
}

type StoreConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration `mapstructure:"connectTimeout"`
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

// ChatConfig carries the fixed room set. Rooms are predefined; there is no
// dynamic room creation.
type ChatConfig struct {
	Rooms        []string
	DefaultRoom  string `mapstructure:"defaultRoom"`
	HistoryLimit int    `mapstructure:"historyLimit"`
}

type LogConfig struct {
	Level string
}
