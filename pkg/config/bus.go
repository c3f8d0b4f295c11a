// Package config loads node and bus configuration
package config

import (
	"github.com/caarlos0/env/v6"
)

// BusConfig selects the CAN backend, it is read from the environment
type BusConfig struct {
	Interface string `env:"LEVCAN_INTERFACE" envDefault:"socketcan"`
	Channel   string `env:"LEVCAN_CHANNEL" envDefault:"can0"`
	Bitrate   int    `env:"LEVCAN_BITRATE" envDefault:"500000"`
	// Address of the http gateway, empty disables it
	HTTP     string `env:"LEVCAN_HTTP"`
	LogLevel string `env:"LEVCAN_LOG_LEVEL" envDefault:"info"`
}

// LoadBus reads the bus configuration from the environment
func LoadBus() (*BusConfig, error) {
	cfg := new(BusConfig)
	err := env.Parse(cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
