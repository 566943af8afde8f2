package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(format Format) (string, error) {
	switch Format(strings.ToLower(strings.TrimSpace(string(format)))) {
	case FormatTOML:
		return tomlTemplate, nil
	case FormatYAML:
		return yamlTemplate, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
}

// WriteTemplate writes the template matching the extension of path.
func WriteTemplate(path string, overwrite bool) error {
	template, err := Template(FormatOf(path))
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

const tomlTemplate = `number = 1
profile = "subgraph"
listen_any = false
cors_origins = ["*"]
fanout_capacity = 100
heartbeat = "30s"

[entities]
default = 100

[entities.counts]

[bus]
policy = "sync"
url = "nats://127.0.0.1:4222"
connect_timeout = "2s"
publish_timeout = "1s"
backoff_initial = "250ms"
backoff_max = "10s"
`

const yamlTemplate = `number: 1
profile: subgraph
listen_any: false
cors_origins: ["*"]
fanout_capacity: 100
heartbeat: 30s
entities:
  default: 100
  counts: {}
bus:
  policy: sync
  url: nats://127.0.0.1:4222
  connect_timeout: 2s
  publish_timeout: 1s
  backoff_initial: 250ms
  backoff_max: 10s
`
