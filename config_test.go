package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pilab.json")

	cm, err := LoadConfig(path)
	require.NoError(t, err)

	cfg := cm.Get()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "dynamic", cfg.DataDir)
	assert.Equal(t, "run", cfg.RunDir)
	assert.Equal(t, 18, cfg.LEDPin)
	assert.FileExists(t, path, "defaults are persisted on first load")
}

func TestConfigUpdatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pilab.json")
	cm, err := LoadConfig(path)
	require.NoError(t, err)

	require.NoError(t, cm.Update(func(c *Config) error {
		c.HTTPPort = 9090
		c.AgentUser = "pi"
		return nil
	}))

	reloaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, reloaded.Get().HTTPPort)
	assert.Equal(t, "pi", reloaded.Get().AgentUser)
}

func TestAuthenticate(t *testing.T) {
	cm, err := LoadConfig(filepath.Join(t.TempDir(), "pilab.json"))
	require.NoError(t, err)
	require.NoError(t, cm.Update(func(c *Config) error {
		c.Users = append(c.Users, User{Username: "operator", PasswordHash: hashPassword("secret")})
		return nil
	}))

	_, err = cm.Authenticate("operator", "secret")
	assert.NoError(t, err)

	_, err = cm.Authenticate("operator", "nope")
	assert.Error(t, err)

	_, err = cm.Authenticate("ghost", "secret")
	assert.Error(t, err)
}

func TestAuthRequiredOnlyWithUsers(t *testing.T) {
	cm, err := LoadConfig(filepath.Join(t.TempDir(), "pilab.json"))
	require.NoError(t, err)
	assert.False(t, cm.AuthRequired())

	require.NoError(t, cm.Update(func(c *Config) error {
		c.Users = append(c.Users, User{Username: "u", PasswordHash: hashPassword("p")})
		return nil
	}))
	assert.True(t, cm.AuthRequired())
}
