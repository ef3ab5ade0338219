package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()
	assert.Equal(t, "127.0.0.1:50051", c.ServerEndpointAddr)
	assert.Equal(t, "securechat.key", c.KeyFile)
	assert.Empty(t, c.AccessToken)
}

func TestLoadConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "client.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"server_endpoint_addr":"json:1","key_file":"json.key"}`), 0o600))

	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	os.Args = []string{"cli", "-c", file, "-k", "flag.key"}
	t.Setenv(EnvAccessToken, "tok")

	c := LoadConfig()
	assert.Equal(t, "json:1", c.ServerEndpointAddr)
	assert.Equal(t, "flag.key", c.KeyFile)
	assert.Equal(t, "tok", c.AccessToken)
}

func TestParseJson_BadFilePanics(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	os.Args = []string{"cli", "-c", filepath.Join(t.TempDir(), "missing.json")}

	assert.Panics(t, func() { parseJson(&Config{}) })
}
