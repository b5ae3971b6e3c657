package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "server":
		return serverTemplate, nil
	case "client":
		return clientTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const serverTemplate = `id = "fetch.local"
listen_addr = "127.0.0.1:9999"
admin_addr = "127.0.0.1:9998"
admin_token = ""
cors_origins = ["http://localhost:3000"]
max_payload_bytes = 1048576
idle_timeout = ""
max_sessions = 0

[download]
http_timeout = "10m"
video_via_tool = true
video_tool = "yt-dlp"

[events]
nats_url = ""
subject_prefix = "edgefetch"
redis_addr = ""
redis_db = 0
session_ttl = "300s"
`

const clientTemplate = `addr = "127.0.0.1:9999"
connect_attempts = 5
inject_prompt = true
`
