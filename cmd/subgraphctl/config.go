package main

import (
	"strings"

	"github.com/danmuck/gema/internal/config"
	"github.com/danmuck/gema/internal/subgraph"
	"github.com/spf13/cobra"
)

// Environment keys consulted for the bus URL, in order.
const (
	EnvBusURL  = "BUS_URL"
	EnvNatsURL = "NATS_URL"
)

const (
	flagConfig    = "config"
	flagNumber    = "number"
	flagProfile   = "profile"
	flagBusURL    = "bus-url"
	flagBusPolicy = "bus-policy"
	flagListenAny = "listen-any"
	flagAddr      = "addr"
)

func addServiceFlags(cmd *cobra.Command) {
	def := subgraph.DefaultServiceConfig()
	f := cmd.Flags()
	f.StringP(flagConfig, "c", "", "config file (.toml, .yaml or .yml)")
	f.IntP(flagNumber, "n", def.Number, "instance number; listens on port 9000+n")
	f.StringP(flagProfile, "p", def.Profile, "subgraph profile used for operation names and the bus subject")
	f.String(flagBusURL, "", "bus url (nats://, redis://, mem://); env "+EnvBusURL+" or "+EnvNatsURL)
	f.String(flagBusPolicy, string(def.Bus.Policy), "bus policy: headless, publish or sync")
	f.Bool(flagListenAny, false, "listen on all interfaces instead of loopback")
	f.String(flagAddr, "", "explicit listen address, overrides number and listen-any")
}

// resolveServiceConfig layers defaults, the config file, the environment and
// explicitly set flags, in that order.
func resolveServiceConfig(cmd *cobra.Command, getenv func(string) string) (subgraph.ServiceConfig, error) {
	flags := cmd.Flags()
	cfg := subgraph.DefaultServiceConfig()

	path, err := flags.GetString(flagConfig)
	if err != nil {
		return subgraph.ServiceConfig{}, err
	}
	if path = strings.TrimSpace(path); path != "" {
		file, err := config.Load(path)
		if err != nil {
			return subgraph.ServiceConfig{}, err
		}
		if err := file.Apply(&cfg); err != nil {
			return subgraph.ServiceConfig{}, err
		}
	}

	for _, key := range []string{EnvBusURL, EnvNatsURL} {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			cfg.Bus.Config.URL = v
			break
		}
	}

	if flags.Changed(flagNumber) {
		if cfg.Number, err = flags.GetInt(flagNumber); err != nil {
			return subgraph.ServiceConfig{}, err
		}
	}
	if flags.Changed(flagProfile) {
		v, err := flags.GetString(flagProfile)
		if err != nil {
			return subgraph.ServiceConfig{}, err
		}
		cfg.Profile = strings.TrimSpace(v)
	}
	if flags.Changed(flagBusURL) {
		v, err := flags.GetString(flagBusURL)
		if err != nil {
			return subgraph.ServiceConfig{}, err
		}
		cfg.Bus.Config.URL = strings.TrimSpace(v)
	}
	if flags.Changed(flagBusPolicy) {
		v, err := flags.GetString(flagBusPolicy)
		if err != nil {
			return subgraph.ServiceConfig{}, err
		}
		cfg.Bus.Policy = subgraph.BusPolicy(strings.ToLower(strings.TrimSpace(v)))
	}
	if flags.Changed(flagListenAny) {
		if cfg.ListenAny, err = flags.GetBool(flagListenAny); err != nil {
			return subgraph.ServiceConfig{}, err
		}
	}
	if flags.Changed(flagAddr) {
		v, err := flags.GetString(flagAddr)
		if err != nil {
			return subgraph.ServiceConfig{}, err
		}
		cfg.Addr = strings.TrimSpace(v)
	}

	if err := cfg.Validate(); err != nil {
		return subgraph.ServiceConfig{}, err
	}
	return cfg, nil
}
