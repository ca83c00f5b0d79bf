// Package config loads meshfetch settings from a YAML file, MESHFETCH_*
// environment variables and built-in defaults, in that order of precedence
// (environment beats file).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/jmerrifield20/meshfetch/internal/fetch"
	"github.com/jmerrifield20/meshfetch/internal/logging"
	"github.com/jmerrifield20/meshfetch/internal/mesh"
	"github.com/jmerrifield20/meshfetch/internal/pageserver"
)

// EnvPrefix is prepended to every environment override, e.g.
// MESHFETCH_FETCH_RESPONSE_TIMEOUT=30s.
const EnvPrefix = "MESHFETCH"

// Config is the full application configuration.
type Config struct {
	Fetch     fetch.Config
	Transport mesh.Config
	Server    ServerConfig
	Log       logging.Config
}

// ServerConfig covers the serve command.
type ServerConfig struct {
	Page        pageserver.Config
	AdminAddr   string // empty disables the admin HTTP listener
	CORSOrigins []string
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	fd := fetch.DefaultConfig()
	v.SetDefault("fetch.path_discovery_timeout", fd.PathDiscoveryTimeout)
	v.SetDefault("fetch.path_poll_interval", fd.PathPollInterval)
	v.SetDefault("fetch.link_poll_interval", fd.LinkPollInterval)
	v.SetDefault("fetch.link_poll_attempts", fd.LinkPollAttempts)
	v.SetDefault("fetch.response_timeout", fd.ResponseTimeout)
	v.SetDefault("fetch.app_name", fd.AppName)
	v.SetDefault("fetch.aspects", fd.Aspects)
	v.SetDefault("fetch.user_agent", fd.UserAgent)

	md := mesh.DefaultConfig()
	v.SetDefault("transport.identity_file", defaultIdentityFile())
	v.SetDefault("transport.listen_addrs", md.ListenAddrs)
	v.SetDefault("transport.bootstrap_peers", []string{})
	v.SetDefault("transport.mdns_enabled", md.MDNSEnabled)
	v.SetDefault("transport.mdns_service", md.MDNSService)
	v.SetDefault("transport.dht_enabled", md.DHTEnabled)
	v.SetDefault("transport.announce_interval", md.AnnounceInterval)
	v.SetDefault("transport.announce_ttl", md.AnnounceTTL)
	v.SetDefault("transport.link_timeout", md.LinkTimeout)
	v.SetDefault("transport.max_resource_bytes", md.MaxResourceBytes)

	v.SetDefault("server.root_dir", "./site")
	v.SetDefault("server.rate_limit_rps", 5)
	v.SetDefault("server.rate_limit_burst", 10)
	v.SetDefault("server.admin_addr", "")
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
}

// Load reads configuration into v and decodes it. When file is empty the
// usual search path is used (configs/, ., $HOME/.meshfetch) and a missing
// file is not an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("meshfetch")
		v.SetConfigType("yaml")
		v.AddConfigPath("configs")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".meshfetch"))
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		Fetch: fetch.Config{
			PathDiscoveryTimeout: v.GetDuration("fetch.path_discovery_timeout"),
			PathPollInterval:     v.GetDuration("fetch.path_poll_interval"),
			LinkPollInterval:     v.GetDuration("fetch.link_poll_interval"),
			LinkPollAttempts:     v.GetInt("fetch.link_poll_attempts"),
			ResponseTimeout:      v.GetDuration("fetch.response_timeout"),
			AppName:              v.GetString("fetch.app_name"),
			Aspects:              v.GetStringSlice("fetch.aspects"),
			UserAgent:            v.GetString("fetch.user_agent"),
		},
		Transport: mesh.Config{
			IdentityFile:     expandHome(v.GetString("transport.identity_file")),
			ListenAddrs:      v.GetStringSlice("transport.listen_addrs"),
			BootstrapPeers:   v.GetStringSlice("transport.bootstrap_peers"),
			MDNSEnabled:      v.GetBool("transport.mdns_enabled"),
			MDNSService:      v.GetString("transport.mdns_service"),
			DHTEnabled:       v.GetBool("transport.dht_enabled"),
			AnnounceInterval: v.GetDuration("transport.announce_interval"),
			AnnounceTTL:      v.GetDuration("transport.announce_ttl"),
			LinkTimeout:      v.GetDuration("transport.link_timeout"),
			MaxResourceBytes: v.GetInt64("transport.max_resource_bytes"),
		},
		Server: ServerConfig{
			Page: pageserver.Config{
				Root:         v.GetString("server.root_dir"),
				RateLimitRPS: v.GetFloat64("server.rate_limit_rps"),
				RateBurst:    v.GetInt("server.rate_limit_burst"),
				MaxFileBytes: v.GetInt64("transport.max_resource_bytes"),
			},
			AdminAddr:   v.GetString("server.admin_addr"),
			CORSOrigins: v.GetStringSlice("server.cors_origins"),
		},
		Log: logging.Config{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        expandHome(v.GetString("log.file")),
		},
	}

	if err := cfg.Fetch.Validate(); err != nil {
		return nil, fmt.Errorf("fetch config: %w", err)
	}
	return cfg, nil
}

func defaultIdentityFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".meshfetch", "identity.key")
	}
	return filepath.Join(home, ".meshfetch", "identity.key")
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
