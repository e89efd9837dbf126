package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "client", "tvremotectl":
		return clientTemplate, nil
	case "server", "tvremoted":
		return serverTemplate, nil
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

const clientTemplate = `client_name = "tvremotectl"
default_channel = "studio-a"

[[channels]]
name = "studio-a"
address = "127.0.0.1:7400"
show_engine = true
show_media = true

[[channels]]
name = "studio-b"
address = "studio-b.local:7400"
show_engine = true
show_media = false

[channels.tls]
enabled = true
ca_file = "certs/ca.pem"
cert_file = "certs/tvremotectl.pem"
key_file = "certs/tvremotectl-key.pem"
server_name = "studio-b.local"
`

const serverTemplate = `server_name = "tvremoted"
listen_addr = ":7400"
admin_listen_addr = "127.0.0.1:7410"
cors_origins = ["http://localhost:3000"]
engine_name = "studio-a"
retry_delay = "1s"
require_identity_binding = false

heartbeat_interval = "5s"
session_dead_after = "15s"
max_concurrent_requests = 16
compression = true

session_security_mode = "development"
session_tls_enabled = false
session_tls_mutual = false
session_tls_cert_file = ""
session_tls_key_file = ""
session_tls_ca_file = ""

[[media_directories]]
name = "ingest"
folder = "/srv/media/ingest"
primary = true

[[media_directories]]
name = "archive"
folder = "/srv/media/archive"
primary = false
`
