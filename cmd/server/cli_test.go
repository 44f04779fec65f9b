package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/commune-sh/public-appservice/internal/config"
)

const validConfig = `
[appservice]
id = "public"
sender_localpart = "public"
access_token = "as_token"
hs_access_token = "hs_token"
url = "http://appservice:8989"

[matrix]
homeserver = "http://localhost:8008"
server_name = "example.org"
`

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := newCLIApp()
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"public-appservice"}, args...))
	return out.String(), err
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestCheckConfig(t *testing.T) {
	p := writeFile(t, validConfig)
	out, err := runCLI(t, "--config", p, "check-config")
	require.NoError(t, err)
	assert.Contains(t, out, p+": ok")

	_, err = runCLI(t, "--config", writeFile(t, "[matrix]\nserver_name = \"example.org\"\n"), "check-config")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "matrix.homeserver")
}

func TestGenerateRegistration(t *testing.T) {
	p := writeFile(t, validConfig)
	out, err := runCLI(t, "--config", p, "generate-registration")
	require.NoError(t, err)

	var reg registration
	require.NoError(t, yaml.Unmarshal([]byte(out), &reg))
	assert.Equal(t, "public", reg.ID)
	assert.Equal(t, "http://appservice:8989", reg.URL)
	assert.Equal(t, "as_token", reg.ASToken)
	assert.Equal(t, "hs_token", reg.HSToken)
	assert.Equal(t, "public", reg.SenderLocalpart)
	assert.False(t, reg.RateLimited)

	dest := filepath.Join(t.TempDir(), "registration.yaml")
	_, err = runCLI(t, "--config", p, "generate-registration", "--output", dest)
	require.NoError(t, err)
	written, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, out, string(written))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger(loggingConfig("warn", false), &buf)
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, log.GetLevel())

	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"message":"shown"`)

	log, err = newLogger(loggingConfig("", true), &buf)
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, log.GetLevel())

	_, err = newLogger(loggingConfig("loud", false), &buf)
	assert.Error(t, err)
}

func loggingConfig(level string, pretty bool) config.Logging {
	return config.Logging{Level: level, Pretty: pretty}
}
