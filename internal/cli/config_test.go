package cli

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromPath_MissingFileIsDefault(t *testing.T) {
	config, err := LoadConfigFromPath(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "local", config.CurrentContext)

	ctx, err := config.GetCurrentContext()
	require.NoError(t, err)
	assert.Equal(t, DefaultServer, ctx.Server)
}

func TestConfig_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	config := DefaultConfig()
	config.SetContext("follower", &ContextConfig{Server: "10.0.0.2:9092", Timeout: 10})
	require.NoError(t, config.UseContext("follower"))
	require.NoError(t, config.SaveToPath(path))

	loaded, err := LoadConfigFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "follower", loaded.CurrentContext)
	assert.Equal(t, []string{"follower", "local"}, loaded.ListContexts())

	ctx, err := loaded.GetContext("follower")
	require.NoError(t, err)
	assert.Equal(t, 10, ctx.Timeout)
}

func TestConfig_DeleteCurrentContext(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, config.DeleteContext("local"))
	assert.Empty(t, config.CurrentContext)

	_, err := config.GetCurrentContext()
	assert.Error(t, err)
	assert.Error(t, config.DeleteContext("local"))
	assert.Error(t, config.UseContext("local"))
}

func TestResolveServer_Precedence(t *testing.T) {
	config := DefaultConfig()
	config.SetContext("follower", &ContextConfig{Server: "10.0.0.2:9092"})

	t.Setenv(EnvServer, "")
	t.Setenv(EnvContext, "")

	assert.Equal(t, DefaultServer, ResolveServer("", "", config))
	assert.Equal(t, "10.0.0.2:9092", ResolveServer("", "follower", config))
	assert.Equal(t, DefaultServer, ResolveServer("", "", nil))

	t.Setenv(EnvContext, "follower")
	assert.Equal(t, "10.0.0.2:9092", ResolveServer("", "", config))

	t.Setenv(EnvServer, "env:9092")
	assert.Equal(t, "env:9092", ResolveServer("", "", config))
	assert.Equal(t, "flag:9092", ResolveServer("flag:9092", "", config))
}

func TestResolveTimeout_Precedence(t *testing.T) {
	config := DefaultConfig()
	config.SetContext("slow", &ContextConfig{Server: "x:1", Timeout: 30})

	t.Setenv(EnvTimeout, "")
	t.Setenv(EnvContext, "")

	assert.Equal(t, DefaultTimeout, ResolveTimeout(0, "", config))
	assert.Equal(t, 30*time.Second, ResolveTimeout(0, "slow", config))

	t.Setenv(EnvTimeout, "2")
	assert.Equal(t, 2*time.Second, ResolveTimeout(0, "slow", config))

	t.Setenv(EnvTimeout, "250ms")
	assert.Equal(t, 250*time.Millisecond, ResolveTimeout(0, "", config))
	assert.Equal(t, time.Minute, ResolveTimeout(time.Minute, "", config))
}
