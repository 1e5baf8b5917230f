package config

import (
	"fmt"
	"os"
	"strings"
)

// Template returns a starter file for format "toml" or "yaml".
func Template(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "toml":
		return tomlTemplate, nil
	case "yaml", "yml":
		return yamlTemplate, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
}

func WriteTemplate(path, format string, overwrite bool) error {
	template, err := Template(format)
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

const tomlTemplate = `backend = "ti50emulator"

[ti50emulator]
executable = "dutemu"
prefix = "ti50"
base = "/tmp"
retry_budget = 3
poll_interval = "100ms"

[ti50emulator.args]
flash = "/opt/ti50/flash.bin"

[control]
connect_timeout = "5s"
read_timeout = "5s"
write_timeout = "5s"

[admin]
listen = "127.0.0.1:9400"
cors_origins = ["http://localhost:3000"]
reconcile_interval = "2s"
# token = "change-me"

# [admin.tls]
# cert_file = "/etc/dutctl/admin.crt"
# key_file = "/etc/dutctl/admin.key"
`

const yamlTemplate = `backend: ti50emulator
ti50emulator:
  executable: dutemu
  prefix: ti50
  base: /tmp
  retry_budget: 3
  poll_interval: 100ms
  args:
    flash: /opt/ti50/flash.bin
control:
  connect_timeout: 5s
  read_timeout: 5s
  write_timeout: 5s
admin:
  listen: 127.0.0.1:9400
  cors_origins:
    - http://localhost:3000
  reconcile_interval: 2s
  # token: change-me
  # tls:
  #   cert_file: /etc/dutctl/admin.crt
  #   key_file: /etc/dutctl/admin.key
`
