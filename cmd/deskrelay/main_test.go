package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/codefionn/deskrelay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRegistryHonorsDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Actions.Disabled = []string{"screenshot", "type"}

	reg, cleanup, err := buildRegistry(cfg, newDesktop(cfg))
	require.NoError(t, err)
	defer cleanup()

	gen, err := reg.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"click", "dragrel", "dragto", "hotkey", "keydown", "move", "press", "scroll"}, gen.Names())
}

func TestBuildRegistryWithEmptyPluginDir(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Plugins.Dir = t.TempDir()

	reg, cleanup, err := buildRegistry(cfg, newDesktop(cfg))
	require.NoError(t, err)
	defer cleanup()

	gen, err := reg.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, gen.Len())
}

func TestActionsCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("actions:\n  disabled: [hotkey]\n"), 0o644))

	configFile = path
	envFile = ""
	t.Cleanup(func() {
		configFile = ""
		envFile = ".env"
	})

	var out bytes.Buffer
	actionsCmd.SetOut(&out)
	actionsCmd.SetContext(context.Background())
	require.NoError(t, actionsCmd.RunE(actionsCmd, nil))

	assert.Contains(t, out.String(), "move")
	assert.Contains(t, out.String(), "builtin")
	assert.NotContains(t, out.String(), "hotkey")
	assert.Contains(t, out.String(), "9 actions")
}

func TestConfigInitWritesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	configFile = path
	t.Cleanup(func() {
		configFile = ""
		configForce = false
	})

	var out bytes.Buffer
	configInitCmd.SetOut(&out)
	require.NoError(t, configInitCmd.RunE(configInitCmd, nil))
	assert.Contains(t, out.String(), path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.AuthToken)
	assert.Equal(t, 8765, cfg.Port)
	require.NoError(t, cfg.Validate())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	err = configInitCmd.RunE(configInitCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	configForce = true
	require.NoError(t, configInitCmd.RunE(configInitCmd, nil))
	again, err := config.Load(path)
	require.NoError(t, err)
	assert.NotEqual(t, cfg.AuthToken, again.AuthToken)
}
