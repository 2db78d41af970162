package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Operative-001/torchat/internal/engine"
	"github.com/Operative-001/torchat/internal/identity"
	"github.com/Operative-001/torchat/internal/protocol"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "torchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestDefaults(t *testing.T) {
	path := writeConfig(t, "data_dir: /tmp/torchat-test\n")
	v, err := New(path)
	require.NoError(t, err)
	c, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9050", c.TorProxy)
	assert.Equal(t, 11009, c.ServicePort)
	assert.Equal(t, engine.DefaultConnectTimeout, c.ConnectTimeout)
	assert.Equal(t, engine.DefaultClientName, c.ClientName)
	assert.Equal(t, protocol.StatusAvailable, c.ProfileStatus)
	assert.True(t, c.Autoconnect)
	assert.False(t, c.AcceptUnknown)
	assert.Empty(t, c.MetricsListen)
	assert.Equal(t, "/tmp/torchat-test", c.DataDir)
}

func TestFileValues(t *testing.T) {
	path := writeConfig(t, `
service:
  id: abcdefghijklmnop
  listen: 127.0.0.1:12000
engine:
  connect_timeout: 5s
  reject_cooldown: 0s
profile:
  name: alice
  status: busy
buddies:
  accept_unknown: true
`)
	v, err := New(path)
	require.NoError(t, err)
	c, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "abcdefghijklmnop", c.ID)
	assert.Equal(t, "127.0.0.1:12000", c.Listen)
	assert.Equal(t, 5*time.Second, c.ConnectTimeout)
	assert.Zero(t, c.RejectCooldown)
	assert.True(t, c.AcceptUnknown)

	info := c.Info()
	assert.Equal(t, "alice", info.ProfileName)
	assert.Equal(t, protocol.StatusBusy, info.Status)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "tor:\n  proxy: 10.0.0.1:9050\n")
	t.Setenv("TORCHAT_TOR_PROXY", "10.0.0.2:9150")
	t.Setenv("TORCHAT_LOGGING_LEVEL", "debug")

	v, err := New(path)
	require.NoError(t, err)
	c, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2:9150", c.TorProxy)
	assert.Equal(t, "debug", c.LogLevel)
}

func TestMissingExplicitFile(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadRejects(t *testing.T) {
	cases := map[string]string{
		"bad id":       "service:\n  id: short\n",
		"bad status":   "profile:\n  status: sleeping\n",
		"bad port":     "tor:\n  service_port: 70000\n",
		"zero timeout": "engine:\n  connect_timeout: 0s\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			v, err := New(writeConfig(t, body))
			require.NoError(t, err)
			_, err = Load(v)
			assert.Error(t, err)
		})
	}
}

func TestResolveIDOrder(t *testing.T) {
	dir := t.TempDir()
	c := &Config{DataDir: dir}

	_, err := c.ResolveID()
	assert.Error(t, err)

	saved, err := identity.New("ssssssssssssssss")
	require.NoError(t, err)
	require.NoError(t, saved.Save(c.IdentityPath()))
	id, err := c.ResolveID()
	require.NoError(t, err)
	assert.Equal(t, "ssssssssssssssss", id)

	host := filepath.Join(dir, "hostname")
	require.NoError(t, os.WriteFile(host, []byte("hhhhhhhhhhhhhhhh.onion\n"), 0600))
	c.HostnameFile = host
	id, err = c.ResolveID()
	require.NoError(t, err)
	assert.Equal(t, "hhhhhhhhhhhhhhhh", id)

	c.ID = "iiiiiiiiiiiiiiii"
	id, err = c.ResolveID()
	require.NoError(t, err)
	assert.Equal(t, "iiiiiiiiiiiiiiii", id)
}
