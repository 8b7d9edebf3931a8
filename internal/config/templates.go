package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "tracer":
		return tracerTemplate, nil
	case "test":
		return testTemplate, nil
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

const tracerTemplate = `node_id = "tracectl"
listen_addr = ":9300"
cors_origins = ["http://localhost:3000"]
device_model = "tracectl"
org_id = 1
protocol_version = 2
refresh_interval = "2s"
test_mode = false
legacy_interop = true
identity_url = "http://localhost:9400"
store_path = "local/encounters.db"
log_file = ""
rate_limit_per_minute = 600

[envelope]
protocol_and_version = 145
country_code = 124
state_code = 48
`

const testTemplate = `node_id = "tracectl.test"
listen_addr = "127.0.0.1:9300"
cors_origins = ["http://localhost:3000"]
device_model = "tracectl"
org_id = 1
protocol_version = 2
refresh_interval = "2s"
test_mode = true
legacy_interop = true
store_path = ""
instrumentation_dir = "local/instrumentation"
log_file = "local/log.txt"
`
