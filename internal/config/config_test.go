package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/id"
)

const sampleConfig = `
[server]
port = 9000

[appservice]
id = "commune"
sender_localpart = "public"
access_token = "as_token"
hs_access_token = "hs_token"

[appservice.rules]
auto_join = false
federation_domain_whitelist = ["trusted.org"]

[matrix]
homeserver = "http://localhost:8008"
server_name = "example.org"

[redis]
url = "redis://localhost:6379/0"

[cache.requests]
enabled = true
expire_after = 60

[cache.search]
enabled = true
expire_after = 30

[public_rooms]
curated = true
include_rooms = ["lobby", "#news:example.org"]

[spaces]
default = ["commune"]
cache = true
ttl = 120
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowOrigin)
	assert.Equal(t, "commune", cfg.Appservice.ID)
	assert.False(t, cfg.Appservice.Rules.AutoJoin)
	// Untouched keys keep their defaults.
	assert.True(t, cfg.Appservice.Rules.InviteByLocalUser)
	assert.Equal(t, 10, cfg.Redis.PoolSize)
	assert.True(t, cfg.Cache.RoomState.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)

	assert.Equal(t, id.UserID("@public:example.org"), cfg.BotUserID())
	assert.Equal(t, ":9000", cfg.Addr())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PUBLIC_APPSERVICE_PORT", "7000")
	t.Setenv("PUBLIC_APPSERVICE_REDIS_URL", "cache:6379")
	t.Setenv("PUBLIC_APPSERVICE_ALLOW_ORIGIN", "https://a.example, ,https://b.example")
	t.Setenv("PUBLIC_APPSERVICE_LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "cache:6379", cfg.Redis.URL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowOrigin)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadInvalidEnvIntKeepsValue(t *testing.T) {
	t.Setenv("PUBLIC_APPSERVICE_PORT", "eighty")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "[server\nport = 1"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	for _, field := range []string{"matrix.homeserver", "matrix.server_name", "appservice.access_token", "appservice.hs_access_token"} {
		assert.Contains(t, err.Error(), field)
	}

	cfg, err = Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	cfg.Server.Port = 0
	assert.ErrorContains(t, cfg.Validate(), "server.port")

	cfg.Server.Port = 8989
	cfg.Appservice.AdminToken = cfg.Appservice.HSAccessToken
	assert.ErrorContains(t, cfg.Validate(), "admin_token")
}

func TestFind(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Chdir(t.TempDir())

	p, err := Find("/etc/explicit.toml")
	require.NoError(t, err)
	assert.Equal(t, "/etc/explicit.toml", p)

	_, err = Find("")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, os.WriteFile(configFileName, []byte(sampleConfig), 0o600))
	p, err = Find("")
	require.NoError(t, err)
	assert.Equal(t, configFileName, p)

	xdg := filepath.Join(os.Getenv("XDG_CONFIG_HOME"), configDirName, configFileName)
	require.NoError(t, os.MkdirAll(filepath.Dir(xdg), 0o755))
	require.NoError(t, os.WriteFile(xdg, []byte(sampleConfig), 0o600))
	p, err = Find("")
	require.NoError(t, err)
	assert.Equal(t, xdg, p)

	t.Setenv(EnvConfigPath, "/from/env.toml")
	p, err = Find("")
	require.NoError(t, err)
	assert.Equal(t, "/from/env.toml", p)
}

func TestDerivedOptions(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	rules := cfg.SyncRules()
	assert.Equal(t, "example.org", rules.ServerName)
	assert.Equal(t, []string{"trusted.org"}, rules.FederationWhitelist)
	assert.Equal(t, 300*time.Second, rules.JoinedTTL)

	dir := cfg.DirectoryOptions()
	assert.True(t, dir.Curated)
	assert.Equal(t, []string{"lobby", "#news:example.org"}, dir.IncludeRooms)
	assert.Equal(t, []string{"commune"}, dir.DefaultSpaces)
	assert.True(t, dir.Spaces.Enabled)
	assert.Equal(t, 120*time.Second, dir.Spaces.TTL)
	assert.False(t, dir.PublicRooms.Enabled)

	pol := cfg.ProxyPolicy()
	assert.True(t, pol.Enabled)
	assert.Equal(t, time.Minute, pol.TTL)
	assert.True(t, pol.Search)
	assert.Equal(t, 30*time.Second, pol.SearchTTL)

	cfg.Search.Disabled = true
	assert.False(t, cfg.ProxyPolicy().Search)

	ro := cfg.RedisOptions()
	assert.Equal(t, "redis://localhost:6379/0", ro.Addr)
	assert.Equal(t, 5*time.Second, ro.Timeout)
}
