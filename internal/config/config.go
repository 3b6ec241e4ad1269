// Package config loads the gencached daemon configuration from YAML with
// GENCACHE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Name       string `yaml:"name"`
	Threshold  uint64 `yaml:"threshold"`
	Listen     string `yaml:"listen"`
	Admin      string `yaml:"admin"`
	MaxBacklog int    `yaml:"max_backlog"`
	Codec      string `yaml:"codec"`
	MaxValue   int    `yaml:"max_value_bytes"`

	Log   Log   `yaml:"log"`
	Store Store `yaml:"store"`
	Lease Lease `yaml:"lease"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type Log struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // zap, logrus, slog
}

type Store struct {
	Backend   string    `yaml:"backend"` // bigcache, redis, postgres
	ReadCache ReadCache `yaml:"read_cache"`
	Bigcache  Bigcache  `yaml:"bigcache"`
	Redis     Redis     `yaml:"redis"`
	Postgres  Postgres  `yaml:"postgres"`
}

type ReadCache struct {
	Enabled bool  `yaml:"enabled"`
	MaxCost int64 `yaml:"max_cost_bytes"`
}

type Bigcache struct {
	Shards  int `yaml:"shards"`
	MaxRows int `yaml:"max_rows"` // 0 = unlimited
}

type Redis struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Namespace string `yaml:"namespace"`
}

type Postgres struct {
	DSN          string `yaml:"dsn"`
	Table        string `yaml:"table"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type Lease struct {
	Backend string `yaml:"backend"` // none, local, etcd
	Etcd    Etcd   `yaml:"etcd"`
}

type Etcd struct {
	Endpoints []string      `yaml:"endpoints"`
	Prefix    string        `yaml:"prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// Load reads path (optional), applies environment overrides and defaults,
// and validates the result.
func Load(path string) (Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if err := yaml.UnmarshalStrict(b, &c); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	c = c.withDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "gencache"
	}
	if c.Threshold == 0 {
		c.Threshold = 4
	}
	if c.Listen == "" {
		c.Listen = ":7070"
	}
	if c.Admin == "" {
		c.Admin = ":7071"
	}
	if c.Codec == "" {
		c.Codec = "json"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "zap"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "bigcache"
	}
	if c.Store.ReadCache.Enabled && c.Store.ReadCache.MaxCost == 0 {
		c.Store.ReadCache.MaxCost = 64 << 20
	}
	if c.Store.Redis.Namespace == "" {
		c.Store.Redis.Namespace = c.Name
	}
	if c.Store.Postgres.Table == "" {
		c.Store.Postgres.Table = c.Name
	}
	if c.Lease.Backend == "" {
		c.Lease.Backend = "local"
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 15 * time.Second
	}
	return c
}

func (c Config) Validate() error {
	var errs []error
	if c.Threshold < 2 {
		errs = append(errs, errors.New("threshold must be >= 2"))
	}
	switch c.Log.Format {
	case "zap", "logrus", "slog":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	switch c.Store.Backend {
	case "bigcache":
	case "redis":
		if c.Store.Redis.Addr == "" {
			errs = append(errs, errors.New("store.redis.addr is required"))
		}
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			errs = append(errs, errors.New("store.postgres.dsn is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q", c.Store.Backend))
	}
	switch c.Lease.Backend {
	case "none", "local":
	case "etcd":
		if len(c.Lease.Etcd.Endpoints) == 0 {
			errs = append(errs, errors.New("lease.etcd.endpoints is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown lease.backend %q", c.Lease.Backend))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// applyEnv overrides fields from GENCACHE_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"GENCACHE_NAME":          &c.Name,
		"GENCACHE_LISTEN":        &c.Listen,
		"GENCACHE_ADMIN":         &c.Admin,
		"GENCACHE_CODEC":         &c.Codec,
		"GENCACHE_LOG_LEVEL":     &c.Log.Level,
		"GENCACHE_LOG_FORMAT":    &c.Log.Format,
		"GENCACHE_STORE_BACKEND":  &c.Store.Backend,
		"GENCACHE_REDIS_ADDR":    &c.Store.Redis.Addr,
		"GENCACHE_REDIS_PASSWORD": &c.Store.Redis.Password,
		"GENCACHE_POSTGRES_DSN":  &c.Store.Postgres.DSN,
		"GENCACHE_LEASE_BACKEND":  &c.Lease.Backend,
	}
	for k, p := range str {
		if v, ok := lookup(k); ok {
			*p = v
		}
	}

	if v, ok := lookup("GENCACHE_THRESHOLD"); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: GENCACHE_THRESHOLD: %w", err)
		}
		c.Threshold = n
	}
	if v, ok := lookup("GENCACHE_MAX_BACKLOG"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: GENCACHE_MAX_BACKLOG: %w", err)
		}
		c.MaxBacklog = n
	}
	if v, ok := lookup("GENCACHE_ETCD_ENDPOINTS"); ok {
		c.Lease.Etcd.Endpoints = nil
		for _, ep := range strings.Split(v, ",") {
			if ep = strings.TrimSpace(ep); ep != "" {
				c.Lease.Etcd.Endpoints = append(c.Lease.Etcd.Endpoints, ep)
			}
		}
	}
	return nil
}
