package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapmux/leapmux/internal/config"
)

func TestLoadWorkerConfig_RequiresInviteURL(t *testing.T) {
	_, err := config.LoadWorkerConfig(nil, "")
	assert.Error(t, err)
}

func TestLoadWorkerConfig_FlagsOverrideDefaults(t *testing.T) {
	cfg, err := config.LoadWorkerConfig([]string{
		"--invite-url", "https://deaddrop.example/invite/abc",
		"--agent-id", "worker-7",
		"--permission-timeout", "30s",
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "https://deaddrop.example/invite/abc", cfg.InviteURL)
	assert.Equal(t, "worker-7", cfg.AgentID)
	assert.Equal(t, 30*time.Second, cfg.PermissionTimeout)
	assert.NotEmpty(t, cfg.DataDir)
}

func TestLoadWorkerConfig_EnvVarsSupplyDefaults(t *testing.T) {
	t.Setenv("DEADDROP_INVITE_URL", "https://deaddrop.example/invite/env")
	t.Setenv("COORDINATION_AGENT_ID", "worker-env")

	cfg, err := config.LoadWorkerConfig(nil, "")
	require.NoError(t, err)
	assert.Equal(t, "https://deaddrop.example/invite/env", cfg.InviteURL)
	assert.Equal(t, "worker-env", cfg.AgentID)
	assert.Equal(t, 2*time.Minute, cfg.PermissionTimeout)
}

func TestLoadWorkerConfig_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("DEADDROP_INVITE_URL", "https://deaddrop.example/invite/env")

	cfg, err := config.LoadWorkerConfig([]string{
		"--invite-url", "https://deaddrop.example/invite/flag",
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "https://deaddrop.example/invite/flag", cfg.InviteURL)
}

func TestLoadCoordinatorConfig_RequiresBusOrServer(t *testing.T) {
	_, err := config.LoadCoordinatorConfig(nil, "")
	assert.Error(t, err)
}

func TestLoadCoordinatorConfig_Defaults(t *testing.T) {
	cfg, err := config.LoadCoordinatorConfig([]string{"--local-bus", "/tmp/bus"}, "")
	require.NoError(t, err)
	assert.Equal(t, "coordinator", cfg.DisplayName)
	assert.Equal(t, 5*time.Minute, cfg.StaleAfter)
	assert.Equal(t, ":9327", cfg.AdminAddr)
	assert.NotEmpty(t, cfg.StateDir)
}

func TestLoadCoordinatorConfig_FlagsOverrideDefaults(t *testing.T) {
	cfg, err := config.LoadCoordinatorConfig([]string{
		"--server-url", "https://deaddrop.example",
		"--display-name", "prod-coordinator",
		"--stale-after", "90s",
		"--admin-addr", ":9999",
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "prod-coordinator", cfg.DisplayName)
	assert.Equal(t, "https://deaddrop.example", cfg.ServerURL)
	assert.Equal(t, 90*time.Second, cfg.StaleAfter)
	assert.Equal(t, ":9999", cfg.AdminAddr)
}

func TestLoadCoordinatorConfig_EnvPrefixIsCoordhub(t *testing.T) {
	t.Setenv("COORDHUB_SERVER_URL", "https://deaddrop.example/env")

	cfg, err := config.LoadCoordinatorConfig(nil, "")
	require.NoError(t, err)
	assert.Equal(t, "https://deaddrop.example/env", cfg.ServerURL)
}
