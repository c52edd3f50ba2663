package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Address string `yaml:"address"`
		Port    int    `yaml:"port"`
		TLS     struct {
			CertFile string `yaml:"cert_file"`
			KeyFile  string `yaml:"key_file"`
		} `yaml:"tls"`
	} `yaml:"server"`
	Storage struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"storage"`
	Security struct {
		CORS struct {
			AllowedOrigins []string `yaml:"allowed_origins"`
		} `yaml:"cors"`
		RateLimit struct {
			RPS   float64 `yaml:"rps"`
			Burst int     `yaml:"burst"`
		} `yaml:"rate_limit"`
		IPWhitelist []string `yaml:"ip_whitelist"`
	} `yaml:"security"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
	Validation struct {
		MaxContentBytes SizeBytes `yaml:"max_content_bytes"`
	} `yaml:"validation"`
	Presence struct {
		TTL Duration `yaml:"ttl"`
	} `yaml:"presence"`
	Stream struct {
		SubscriberBuffer int      `yaml:"subscriber_buffer"`
		KeepAlive        Duration `yaml:"keepalive"`
	} `yaml:"stream"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Retention   RetentionConfig   `yaml:"retention"`
}

// AdapterConfig describes the subprocess invoked for one participant id.
type AdapterConfig struct {
	Command []string          `yaml:"command"`
	Cwd     string            `yaml:"cwd"`
	Env     map[string]string `yaml:"env"`
}

// CoordinatorConfig controls the in-process participation coordinator.
type CoordinatorConfig struct {
	Enabled        bool                     `yaml:"enabled"`
	ID             string                   `yaml:"id"`
	StartupMode    string                   `yaml:"startup_mode"` // end | resume
	ContextWindow  int                      `yaml:"context_window"`
	AdapterTimeout Duration                 `yaml:"adapter_timeout"`
	MaxReplySize   SizeBytes                `yaml:"max_reply_size"`
	ThreadPoll     Duration                 `yaml:"thread_poll"`
	MentionPrefix  string                   `yaml:"mention_prefix"`
	Adapters       map[string]AdapterConfig `yaml:"adapters"`
}

// RetentionConfig holds configuration for the scheduled maintenance runner:
// pruning of expired coordinator idempotency marks and optional thread index
// rebuilds.
type RetentionConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Cron         string   `yaml:"cron"`
	SeenMaxAge   Duration `yaml:"seen_max_age"`
	RebuildIndex bool     `yaml:"rebuild_index"`
}

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 5111
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// ApplyDefaults fills zero values with the defaults documented in
// bridged.yaml.example.
func (c *Config) ApplyDefaults() {
	if c.Presence.TTL == 0 {
		c.Presence.TTL = Duration(120 * time.Second)
	}
	if c.Stream.SubscriberBuffer == 0 {
		c.Stream.SubscriberBuffer = 256
	}
	if c.Stream.KeepAlive == 0 {
		c.Stream.KeepAlive = Duration(15 * time.Second)
	}
	if c.Coordinator.ID == "" {
		c.Coordinator.ID = "bridge-coordinator"
	}
	if c.Coordinator.StartupMode == "" {
		c.Coordinator.StartupMode = "end"
	}
	if c.Coordinator.ContextWindow == 0 {
		c.Coordinator.ContextWindow = 25
	}
	if c.Coordinator.AdapterTimeout == 0 {
		c.Coordinator.AdapterTimeout = Duration(10 * time.Minute)
	}
	if c.Coordinator.MaxReplySize == 0 {
		c.Coordinator.MaxReplySize = SizeBytes(64 * 1024)
	}
	if c.Coordinator.ThreadPoll == 0 {
		c.Coordinator.ThreadPoll = Duration(5 * time.Second)
	}
	if c.Coordinator.MentionPrefix == "" {
		c.Coordinator.MentionPrefix = "@"
	}
	if c.Retention.Cron == "" {
		c.Retention.Cron = "0 3 * * *"
	}
	if c.Retention.SeenMaxAge == 0 {
		c.Retention.SeenMaxAge = Duration(14 * 24 * time.Hour)
	}
}

// EffectiveConfigResult carries the merged config plus the resolved listen
// address, DB path and the source that won ("flags", "env" or "config").
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DBPath string
	Source string
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseCommandFlags defines and parses command-line flags and returns their
// values along with a map indicating which flags were explicitly set.
func ParseCommandFlags() (addr string, dbPath string, cfgPath string, setFlags map[string]bool) {
	addrPtr := flag.String("addr", ":5111", "HTTP listen address")
	dbPtr := flag.String("db", "./.bridged", "Pebble DB path")
	cfgPtr := flag.String("config", "./bridged.yaml", "Path to config file")
	flag.Parse()
	setFlags = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return *addrPtr, *dbPtr, *cfgPtr, setFlags
}

// LoadEnvOverrides applies environment overrides onto the provided cfg and
// reports whether any env var was used.
func LoadEnvOverrides(cfg *Config) bool {
	envUsed := false
	parseList := func(v string) []string {
		if v == "" {
			return nil
		}
		parts := []string{}
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				parts = append(parts, s)
			}
		}
		return parts
	}

	if v := os.Getenv("BRIDGED_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	}
	if v := os.Getenv("BRIDGED_DB_PATH"); v != "" {
		envUsed = true
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("BRIDGED_CORS_ORIGINS"); v != "" {
		envUsed = true
		cfg.Security.CORS.AllowedOrigins = parseList(v)
	}
	if v := os.Getenv("BRIDGED_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			cfg.Security.RateLimit.RPS = f
		}
	}
	if v := os.Getenv("BRIDGED_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Security.RateLimit.Burst = n
		}
	}
	if v := os.Getenv("BRIDGED_IP_WHITELIST"); v != "" {
		envUsed = true
		cfg.Security.IPWhitelist = parseList(v)
	}
	if v := os.Getenv("BRIDGED_PRESENCE_TTL"); v != "" {
		if td, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Presence.TTL = Duration(td)
		}
	}
	if v := os.Getenv("BRIDGED_COORDINATOR_ID"); v != "" {
		envUsed = true
		cfg.Coordinator.ID = v
	}
	if v := os.Getenv("BRIDGED_STARTUP_MODE"); v != "" {
		envUsed = true
		cfg.Coordinator.StartupMode = strings.ToLower(strings.TrimSpace(v))
	}
	if c := os.Getenv("BRIDGED_TLS_CERT"); c != "" {
		envUsed = true
		cfg.Server.TLS.CertFile = c
	}
	if k := os.Getenv("BRIDGED_TLS_KEY"); k != "" {
		envUsed = true
		cfg.Server.TLS.KeyFile = k
	}
	return envUsed
}

// LoadEffective loads config from the given path (file) and applies
// environment overrides and defaults.
func LoadEffective(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err != nil {
		cfg = &Config{}
	}
	envUsed := LoadEnvOverrides(cfg)
	cfg.ApplyDefaults()
	return cfg, envUsed, nil
}

// ResolveConfigPath decides the config file path using the flag-provided
// value and the environment variable BRIDGED_CONFIG when the flag was not
// set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("BRIDGED_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
