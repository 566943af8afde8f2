package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/gema/internal/bus"
	"github.com/danmuck/gema/internal/subgraph"
	"github.com/pelletier/go-toml/v2"
)

// ServiceConfig overlays f onto the subgraph defaults. Unset fields keep their
// default; the result is not validated.
func (f File) ServiceConfig() (subgraph.ServiceConfig, error) {
	cfg := subgraph.DefaultServiceConfig()
	if err := f.Apply(&cfg); err != nil {
		return subgraph.ServiceConfig{}, err
	}
	return cfg, nil
}

// Apply overlays every set field of f onto cfg.
func (f File) Apply(cfg *subgraph.ServiceConfig) error {
	if f.Number != nil {
		cfg.Number = *f.Number
	}
	if f.Profile != nil {
		cfg.Profile = strings.TrimSpace(*f.Profile)
	}
	if f.ListenAny != nil {
		cfg.ListenAny = *f.ListenAny
	}
	if f.Addr != nil {
		cfg.Addr = strings.TrimSpace(*f.Addr)
	}
	if f.CorsOrigins != nil {
		cfg.CorsOrigins = append([]string(nil), f.CorsOrigins...)
	}
	if f.FanoutCapacity != nil {
		cfg.FanoutCapacity = *f.FanoutCapacity
	}
	if err := setDuration(&cfg.HeartbeatInterval, "heartbeat", f.Heartbeat); err != nil {
		return err
	}
	if f.Entities.Default != nil {
		cfg.EntityDefault = *f.Entities.Default
	}
	if len(f.Entities.Counts) > 0 {
		cfg.Entities = make(map[string]int64, len(f.Entities.Counts))
		for id, n := range f.Entities.Counts {
			cfg.Entities[id] = n
		}
	}

	b := f.Bus
	if b.Policy != nil {
		cfg.Bus.Policy = subgraph.BusPolicy(strings.ToLower(strings.TrimSpace(*b.Policy)))
	}
	if b.URL != nil {
		cfg.Bus.Config.URL = strings.TrimSpace(*b.URL)
	}
	if err := setDuration(&cfg.Bus.Config.ConnectTimeout, "bus.connect_timeout", b.ConnectTimeout); err != nil {
		return err
	}
	if err := setDuration(&cfg.Bus.Config.PublishTimeout, "bus.publish_timeout", b.PublishTimeout); err != nil {
		return err
	}
	if err := setDuration(&cfg.Bus.Config.Backoff.InitialDelay, "bus.backoff_initial", b.BackoffInitial); err != nil {
		return err
	}
	return setDuration(&cfg.Bus.Config.Backoff.MaxDelay, "bus.backoff_max", b.BackoffMax)
}

func setDuration(dst *time.Duration, key string, raw *string) error {
	if raw == nil {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(*raw))
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = d
	return nil
}

// effective is the flat view printed by Dump.
type effective struct {
	Number         int             `toml:"number"`
	Profile        string          `toml:"profile"`
	ListenAddr     string          `toml:"listen_addr"`
	CorsOrigins    []string        `toml:"cors_origins,omitempty"`
	FanoutCapacity int             `toml:"fanout_capacity"`
	Heartbeat      string          `toml:"heartbeat"`
	Operations     effectiveOps    `toml:"operations"`
	Entities       effectiveEntity `toml:"entities"`
	Bus            effectiveBus    `toml:"bus"`
}

type effectiveOps struct {
	Query        string `toml:"query"`
	Mutation     string `toml:"mutation"`
	Subscription string `toml:"subscription"`
	EntityField  string `toml:"entity_field"`
}

type effectiveEntity struct {
	Default int64            `toml:"default"`
	Counts  map[string]int64 `toml:"counts,omitempty"`
}

type effectiveBus struct {
	Policy         string `toml:"policy"`
	URL            string `toml:"url,omitempty"`
	Subject        string `toml:"subject,omitempty"`
	ConnectTimeout string `toml:"connect_timeout"`
	PublishTimeout string `toml:"publish_timeout"`
	BackoffInitial string `toml:"backoff_initial"`
	BackoffMax     string `toml:"backoff_max"`
}

// Dump renders the effective configuration as TOML, including the derived
// listen address, operation names and bus subject.
func Dump(cfg subgraph.ServiceConfig) ([]byte, error) {
	names := subgraph.NamesFor(cfg.Profile)
	view := effective{
		Number:         cfg.Number,
		Profile:        cfg.Profile,
		ListenAddr:     cfg.ListenAddr(),
		CorsOrigins:    cfg.CorsOrigins,
		FanoutCapacity: cfg.FanoutCapacity,
		Heartbeat:      cfg.HeartbeatInterval.String(),
		Operations: effectiveOps{
			Query:        names.Query,
			Mutation:     names.Mutation,
			Subscription: names.Subscription,
			EntityField:  names.EntityField,
		},
		Entities: effectiveEntity{
			Default: cfg.EntityDefault,
			Counts:  cfg.Entities,
		},
		Bus: effectiveBus{
			Policy:         string(cfg.Bus.Policy),
			ConnectTimeout: cfg.Bus.Config.ConnectTimeout.String(),
			PublishTimeout: cfg.Bus.Config.PublishTimeout.String(),
			BackoffInitial: cfg.Bus.Config.Backoff.InitialDelay.String(),
			BackoffMax:     cfg.Bus.Config.Backoff.MaxDelay.String(),
		},
	}
	if cfg.Bus.Policy != subgraph.BusPolicyHeadless {
		view.Bus.URL = cfg.Bus.Config.URL
		view.Bus.Subject = bus.Subject(cfg.Profile)
	}
	return toml.Marshal(view)
}
