package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownKeys   = errors.New("config: unknown keys")
	ErrUnknownFormat = errors.New("config: unknown format")
)

// File is the on-disk configuration. Pointer fields distinguish "unset" from
// a zero value so defaults survive partial files.
type File struct {
	Number         *int        `toml:"number" yaml:"number"`
	Profile        *string     `toml:"profile" yaml:"profile"`
	ListenAny      *bool       `toml:"listen_any" yaml:"listen_any"`
	Addr           *string     `toml:"addr" yaml:"addr"`
	CorsOrigins    []string    `toml:"cors_origins" yaml:"cors_origins"`
	FanoutCapacity *int        `toml:"fanout_capacity" yaml:"fanout_capacity"`
	Heartbeat      *string     `toml:"heartbeat" yaml:"heartbeat"`
	Entities       EntityTable `toml:"entities" yaml:"entities"`
	Bus            BusSection  `toml:"bus" yaml:"bus"`
}

// EntityTable seeds entity resolution.
type EntityTable struct {
	Default *int64           `toml:"default" yaml:"default"`
	Counts  map[string]int64 `toml:"counts" yaml:"counts"`
}

// BusSection configures the bus session. Durations use time.ParseDuration
// syntax.
type BusSection struct {
	Policy         *string `toml:"policy" yaml:"policy"`
	URL            *string `toml:"url" yaml:"url"`
	ConnectTimeout *string `toml:"connect_timeout" yaml:"connect_timeout"`
	PublishTimeout *string `toml:"publish_timeout" yaml:"publish_timeout"`
	BackoffInitial *string `toml:"backoff_initial" yaml:"backoff_initial"`
	BackoffMax     *string `toml:"backoff_max" yaml:"backoff_max"`
}

// Format is a supported file syntax.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatOf infers the syntax from the file extension; anything that is not
// .yaml or .yml is TOML.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// Load reads path. Keys the File does not know are rejected in both formats.
func Load(path string) (File, error) {
	switch FormatOf(path) {
	case FormatYAML:
		return loadYAML(path)
	default:
		return loadTOML(path)
	}
}

func loadTOML(path string) (File, error) {
	var f File
	meta, err := toml.DecodeFile(path, &f)
	if err != nil {
		return File{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return File{}, fmt.Errorf("%w in %s: %s", ErrUnknownKeys, path, strings.Join(keys, ", "))
	}
	return f, nil
}

func loadYAML(path string) (File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	defer fh.Close()

	var f File
	dec := yaml.NewDecoder(fh)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return f, nil
}
