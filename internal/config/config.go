// Package config loads the service configuration from a TOML file and
// applies environment overrides on top of it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
	"maunium.net/go/mautrix/id"
)

const (
	EnvConfigPath = "PUBLIC_APPSERVICE_CONFIG"
	envPort       = "PUBLIC_APPSERVICE_PORT"
	envRedisURL   = "PUBLIC_APPSERVICE_REDIS_URL"
	envOrigins    = "PUBLIC_APPSERVICE_ALLOW_ORIGIN"
	envLogLevel   = "PUBLIC_APPSERVICE_LOG_LEVEL"

	defaultPort       = 8989
	defaultCacheTTL   = 300
	defaultPoolSize   = 10
	defaultTimeoutSec = 5

	configDirName  = "public-appservice"
	configFileName = "config.toml"
)

var ErrNotFound = errors.New("config file not found")

type Config struct {
	Server      Server      `toml:"server"`
	Appservice  Appservice  `toml:"appservice"`
	Matrix      Matrix      `toml:"matrix"`
	Redis       Redis       `toml:"redis"`
	Cache       Cache       `toml:"cache"`
	PublicRooms PublicRooms `toml:"public_rooms"`
	Spaces      Spaces      `toml:"spaces"`
	Search      Search      `toml:"search"`
	Logging     Logging     `toml:"logging"`
}

type Server struct {
	Port        int      `toml:"port"`
	AllowOrigin []string `toml:"allow_origin"`
}

type Appservice struct {
	ID              string `toml:"id"`
	SenderLocalpart string `toml:"sender_localpart"`
	AccessToken     string `toml:"access_token"`
	HSAccessToken   string `toml:"hs_access_token"`
	// AdminToken guards the join/leave override routes. Empty disables them.
	AdminToken string `toml:"admin_token"`
	// URL the homeserver uses to reach this service, written into the
	// generated registration.
	URL   string `toml:"url"`
	Rules Rules  `toml:"rules"`
}

type Rules struct {
	AutoJoin                  bool     `toml:"auto_join"`
	InviteByLocalUser         bool     `toml:"invite_by_local_user"`
	FederationDomainWhitelist []string `toml:"federation_domain_whitelist"`
}

type Matrix struct {
	Homeserver string `toml:"homeserver"`
	ServerName string `toml:"server_name"`
}

type Redis struct {
	// URL is "host:port" or a redis:// URL. Empty uses an in-process cache.
	URL         string `toml:"url"`
	PoolSize    int    `toml:"pool_size"`
	TimeoutSecs int    `toml:"timeout_secs"`
}

func (r Redis) Timeout() time.Duration { return time.Duration(r.TimeoutSecs) * time.Second }

type CacheOptions struct {
	Enabled     bool `toml:"enabled"`
	ExpireAfter int  `toml:"expire_after"`
}

func (c CacheOptions) TTL() time.Duration { return time.Duration(c.ExpireAfter) * time.Second }

type Cache struct {
	Requests    CacheOptions `toml:"requests"`
	RoomState   CacheOptions `toml:"room_state"`
	Messages    CacheOptions `toml:"messages"`
	Generic     CacheOptions `toml:"generic"`
	Search      CacheOptions `toml:"search"`
	PublicRooms CacheOptions `toml:"public_rooms"`
	JoinedRooms CacheOptions `toml:"joined_rooms"`
}

type PublicRooms struct {
	Curated      bool     `toml:"curated"`
	IncludeRooms []string `toml:"include_rooms"`
}

type Spaces struct {
	Default          []string `toml:"default"`
	IncludeAllJoined bool     `toml:"include_all_joined"`
	Cache            bool     `toml:"cache"`
	TTL              int      `toml:"ttl"`
}

type Search struct {
	Disabled bool `toml:"disabled"`
}

type Logging struct {
	Level  string `toml:"level"`
	Pretty bool   `toml:"pretty"`
}

// Default returns a config with every optional value filled in.
func Default() Config {
	enabled := CacheOptions{Enabled: true, ExpireAfter: defaultCacheTTL}
	return Config{
		Server: Server{Port: defaultPort, AllowOrigin: []string{"*"}},
		Appservice: Appservice{
			ID:              "public",
			SenderLocalpart: "public",
			Rules:           Rules{AutoJoin: true, InviteByLocalUser: true},
		},
		Redis: Redis{PoolSize: defaultPoolSize, TimeoutSecs: defaultTimeoutSec},
		Cache: Cache{
			Requests:    CacheOptions{ExpireAfter: defaultCacheTTL},
			RoomState:   enabled,
			Messages:    enabled,
			Generic:     enabled,
			Search:      enabled,
			PublicRooms: CacheOptions{ExpireAfter: defaultCacheTTL},
			JoinedRooms: enabled,
		},
		Spaces:  Spaces{TTL: defaultCacheTTL},
		Logging: Logging{Level: "info"},
	}
}

// Find returns the config path to use: explicit, then the environment,
// then the XDG config directory, then the working directory.
func Find(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}
	var candidates []string
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, configDirName, configFileName))
	}
	candidates = append(candidates, configFileName)
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: looked in %s", ErrNotFound, strings.Join(candidates, ", "))
}

// Load reads path over the defaults and applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	for _, key := range meta.Undecoded() {
		log.Warn().Str("key", key.String()).Str("path", path).Msg("Ignoring unknown config key")
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = envInt(envPort, c.Server.Port)
	c.Server.AllowOrigin = envCSV(envOrigins, c.Server.AllowOrigin)
	c.Redis.URL = envOr(envRedisURL, c.Redis.URL)
	c.Logging.Level = envOr(envLogLevel, c.Logging.Level)
}

// Validate reports every missing or inconsistent required setting.
func (c Config) Validate() error {
	var errs []error
	require := func(v, name string) {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	require(c.Matrix.Homeserver, "matrix.homeserver")
	require(c.Matrix.ServerName, "matrix.server_name")
	require(c.Appservice.ID, "appservice.id")
	require(c.Appservice.SenderLocalpart, "appservice.sender_localpart")
	require(c.Appservice.AccessToken, "appservice.access_token")
	require(c.Appservice.HSAccessToken, "appservice.hs_access_token")

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Appservice.AdminToken != "" && c.Appservice.AdminToken == c.Appservice.HSAccessToken {
		errs = append(errs, errors.New("appservice.admin_token must differ from hs_access_token"))
	}
	if c.Redis.PoolSize < 0 || c.Redis.TimeoutSecs < 0 {
		errs = append(errs, errors.New("redis.pool_size and redis.timeout_secs must not be negative"))
	}
	return errors.Join(errs...)
}

// BotUserID is the appservice's own user id.
func (c Config) BotUserID() id.UserID {
	return id.NewUserID(c.Appservice.SenderLocalpart, c.Matrix.ServerName)
}

// Addr is the listen address.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Server.Port)
}

// envOr returns the environment value for key, or def when unset.
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envInt parses key as an integer, falling back to def when unset or invalid.
func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			log.Warn().Str("key", key).Str("value", v).Int("default", def).Msg("Invalid integer in environment, using default")
			return def
		}
		return i
	}
	return def
}

// envCSV splits a comma separated environment value, dropping blanks.
func envCSV(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
