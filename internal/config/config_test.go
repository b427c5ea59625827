package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()
	c, err := Load([]string{"--jwt-key", "secret"})
	require.NoError(t, err)
	require.Equal(t, "secret", c.JWTKey)
	require.Equal(t, ":8443", c.GRPCAddr)
	require.Equal(t, 24*time.Hour, c.AccessTTL)
	require.Equal(t, 20, c.PageSize)
	require.Equal(t, 5, c.LoginMaxFails)
	require.Empty(t, c.RedisURL)
}

func TestLoad_RequiresJWTKey(t *testing.T) {
	t.Parallel()
	_, err := Load(nil)
	require.ErrorContains(t, err, "jwt_key")
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("jwt_key: from-file\npage_size: 10\nhttp_addr: \":9000\"\nlogin_block: 1h\n"), 0o600))

	t.Setenv("RELAY_PAGE_SIZE", "30")
	t.Setenv("RELAY_REDIS_URL", "redis://localhost:6379/0")

	c, err := Load([]string{"--config", path, "--http-addr", ":9100"})
	require.NoError(t, err)
	require.Equal(t, "from-file", c.JWTKey)
	require.Equal(t, 30, c.PageSize, "env beats file")
	require.Equal(t, ":9100", c.HTTPAddr, "flag beats file")
	require.Equal(t, time.Hour, c.LoginBlock)
	require.Equal(t, "redis://localhost:6379/0", c.RedisURL)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Parallel()
	_, err := Load([]string{"--config", filepath.Join(t.TempDir(), "nope.yaml"), "--jwt-key", "k"})
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	c, err := Load([]string{"--jwt-key", "k"})
	require.NoError(t, err)

	bad := *c
	bad.TLSCert = "cert.pem"
	require.ErrorContains(t, bad.Validate(), "tls_cert")

	bad = *c
	bad.PageSize = 500
	require.ErrorContains(t, bad.Validate(), "page_size")
}
