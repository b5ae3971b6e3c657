package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/edgefetch/internal/config"
)

type fileConfig struct {
	Addr            string `toml:"addr"`
	ConnectAttempts int    `toml:"connect_attempts"`
	InjectPrompt    bool   `toml:"inject_prompt"`
}

type clientConfig struct {
	Addr            string
	ConnectAttempts int
	// InjectPrompt asks before every send whether to corrupt the frame.
	InjectPrompt bool
}

func defaultClientConfig() clientConfig {
	return clientConfig{
		Addr:            config.DefaultListenAddr,
		ConnectAttempts: 5,
		InjectPrompt:    true,
	}
}

func loadClientConfig(path string) (clientConfig, error) {
	cfg := defaultClientConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return clientConfig{}, fmt.Errorf("load client config: %w", err)
	}

	if meta.IsDefined("addr") {
		if addr := strings.TrimSpace(raw.Addr); addr != "" {
			cfg.Addr = addr
		}
	}
	if meta.IsDefined("connect_attempts") {
		if raw.ConnectAttempts < 1 {
			return clientConfig{}, fmt.Errorf("connect_attempts must be >= 1")
		}
		cfg.ConnectAttempts = raw.ConnectAttempts
	}
	if meta.IsDefined("inject_prompt") {
		cfg.InjectPrompt = raw.InjectPrompt
	}
	return cfg, nil
}
