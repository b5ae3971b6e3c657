package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	EnvListenAddr = "EDGEFETCH_LISTEN_ADDR"
	EnvAdminAddr  = "EDGEFETCH_ADMIN_ADDR"
	EnvNATSURL    = "EDGEFETCH_NATS_URL"
	EnvRedisAddr  = "EDGEFETCH_REDIS_ADDR"

	DefaultListenAddr = "127.0.0.1:9999"
)

// ServerConfig is the resolved fetchctl configuration.
type ServerConfig struct {
	ID              string
	ListenAddr      string
	AdminAddr       string
	AdminToken      string
	CorsOrigins     []string
	MaxPayloadBytes uint32
	IdleTimeout     time.Duration
	MaxSessions     int
	Download        DownloadConfig
	Events          EventsConfig
}

type DownloadConfig struct {
	HTTPTimeout  time.Duration
	VideoViaTool bool
	VideoTool    string
}

type EventsConfig struct {
	NATSURL       string
	SubjectPrefix string
	RedisAddr     string
	RedisDB       int
	SessionTTL    time.Duration
}

type serverFile struct {
	ID              string        `toml:"id"`
	ListenAddr      string        `toml:"listen_addr"`
	AdminAddr       string        `toml:"admin_addr"`
	AdminToken      string        `toml:"admin_token"`
	CorsOrigins     []string      `toml:"cors_origins"`
	MaxPayloadBytes uint32        `toml:"max_payload_bytes"`
	IdleTimeout     string        `toml:"idle_timeout"`
	MaxSessions     int           `toml:"max_sessions"`
	Download        *downloadFile `toml:"download"`
	Events          *eventsFile   `toml:"events"`
}

type downloadFile struct {
	HTTPTimeout  string `toml:"http_timeout"`
	VideoViaTool *bool  `toml:"video_via_tool"`
	VideoTool    string `toml:"video_tool"`
}

type eventsFile struct {
	NATSURL       string `toml:"nats_url"`
	SubjectPrefix string `toml:"subject_prefix"`
	RedisAddr     string `toml:"redis_addr"`
	RedisDB       int    `toml:"redis_db"`
	SessionTTL    string `toml:"session_ttl"`
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ID:              "fetch.local",
		ListenAddr:      DefaultListenAddr,
		MaxPayloadBytes: 1024 * 1024,
		Download: DownloadConfig{
			VideoViaTool: true,
			VideoTool:    "yt-dlp",
		},
		Events: EventsConfig{
			SubjectPrefix: "edgefetch",
			SessionTTL:    300 * time.Second,
		},
	}
}

// LoadServerConfig reads path over the defaults, applies env overrides and
// validates the result.
func LoadServerConfig(path string) (ServerConfig, error) {
	var raw serverFile
	if err := loadToml(path, &raw); err != nil {
		return ServerConfig{}, err
	}
	cfg, err := resolveServerFile(raw)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	ApplyEnvOverrides(&cfg, os.Getenv)
	if err := ValidateServerConfig(cfg); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func resolveServerFile(raw serverFile) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if v := strings.TrimSpace(raw.ID); v != "" {
		cfg.ID = v
	}
	if v := strings.TrimSpace(raw.ListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	if raw.MaxPayloadBytes > 0 {
		cfg.MaxPayloadBytes = raw.MaxPayloadBytes
	}
	cfg.MaxSessions = raw.MaxSessions

	var err error
	if cfg.IdleTimeout, err = parseDuration("idle_timeout", raw.IdleTimeout, 0); err != nil {
		return ServerConfig{}, err
	}

	if d := raw.Download; d != nil {
		if cfg.Download.HTTPTimeout, err = parseDuration("download.http_timeout", d.HTTPTimeout, 0); err != nil {
			return ServerConfig{}, err
		}
		if d.VideoViaTool != nil {
			cfg.Download.VideoViaTool = *d.VideoViaTool
		}
		if v := strings.TrimSpace(d.VideoTool); v != "" {
			cfg.Download.VideoTool = v
		}
	}

	if e := raw.Events; e != nil {
		cfg.Events.NATSURL = strings.TrimSpace(e.NATSURL)
		cfg.Events.RedisAddr = strings.TrimSpace(e.RedisAddr)
		cfg.Events.RedisDB = e.RedisDB
		if v := strings.TrimSpace(e.SubjectPrefix); v != "" {
			cfg.Events.SubjectPrefix = v
		}
		if cfg.Events.SessionTTL, err = parseDuration("events.session_ttl", e.SessionTTL, cfg.Events.SessionTTL); err != nil {
			return ServerConfig{}, err
		}
	}
	return cfg, nil
}

// ApplyEnvOverrides replaces endpoint fields from the environment.
func ApplyEnvOverrides(cfg *ServerConfig, getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvListenAddr)); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(getenv(EnvAdminAddr)); v != "" {
		cfg.AdminAddr = v
	}
	if v := strings.TrimSpace(getenv(EnvNATSURL)); v != "" {
		cfg.Events.NATSURL = v
	}
	if v := strings.TrimSpace(getenv(EnvRedisAddr)); v != "" {
		cfg.Events.RedisAddr = v
	}
}

func ValidateServerConfig(cfg ServerConfig) error {
	if strings.TrimSpace(cfg.ID) == "" {
		return fmt.Errorf("server config missing id")
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("server config missing listen_addr")
	}
	if _, _, err := net.SplitHostPort(cfg.ListenAddr); err != nil {
		return fmt.Errorf("server config listen_addr invalid: %w", err)
	}
	if cfg.AdminAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.AdminAddr); err != nil {
			return fmt.Errorf("server config admin_addr invalid: %w", err)
		}
		if cfg.AdminAddr == cfg.ListenAddr {
			return fmt.Errorf("server config admin_addr must differ from listen_addr")
		}
	}
	if cfg.MaxSessions < 0 {
		return fmt.Errorf("server config max_sessions must be >= 0")
	}
	if cfg.Download.VideoViaTool && strings.TrimSpace(cfg.Download.VideoTool) == "" {
		return fmt.Errorf("server config download.video_tool required when video_via_tool is set")
	}
	return nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func parseDuration(field, raw string, fallback time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("parse %s: negative duration", field)
	}
	return d, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
