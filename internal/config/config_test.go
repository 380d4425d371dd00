package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rileyhilliard/jumpssh/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, CurrentConfigVersion, cfg.Version)
	assert.NotNil(t, cfg.Chains)
	assert.Empty(t, cfg.Chains)
	assert.Equal(t, 22, cfg.Defaults.Port)
	assert.Equal(t, 10*time.Second, cfg.Defaults.ConnectTimeout)
	assert.Zero(t, cfg.Defaults.CommandTimeout)
	assert.Zero(t, cfg.Defaults.Retry)
	assert.Equal(t, 2*time.Second, cfg.Defaults.RetryInterval)
	assert.True(t, cfg.Defaults.StrictHostKeyChecking)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.NoError(t, Validate(cfg))
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("JUMP_TEST_GATEWAY_HOST", "bastion.internal")
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	path := writeConfig(t, `
version: 1
defaults:
  connect_timeout: 5s
  retry: 3
  strict_host_key_checking: false
log:
  level: debug
chains:
  prod:
    - host: ${JUMP_TEST_GATEWAY_HOST}
      user: ops
      agent: true
    - host: 10.0.0.5
      port: 2222
      user: deploy
      key_file: ~/.ssh/deploy
      timeout: 30s
      retry: 0
  Staging:
    - host: staging.example.com
default: prod
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	assert.Equal(t, 5*time.Second, cfg.Defaults.ConnectTimeout)
	assert.Equal(t, 3, cfg.Defaults.Retry)
	assert.False(t, cfg.Defaults.StrictHostKeyChecking)
	// Untouched defaults survive a partial section.
	assert.Equal(t, 22, cfg.Defaults.Port)
	assert.Equal(t, 2*time.Second, cfg.Defaults.RetryInterval)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)

	require.Len(t, cfg.Chains["prod"], 2)
	gateway, target := cfg.Chains["prod"][0], cfg.Chains["prod"][1]
	assert.Equal(t, "bastion.internal", gateway.Host)
	assert.True(t, gateway.Agent)
	assert.Equal(t, 2222, target.Port)
	assert.Equal(t, filepath.Join(home, ".ssh/deploy"), target.KeyFile)
	assert.Equal(t, 30*time.Second, target.Timeout)
	require.NotNil(t, target.Retry)
	assert.Equal(t, 0, *target.Retry)
	assert.Nil(t, gateway.Retry)

	assert.Contains(t, cfg.Chains, "staging", "chain names are case-insensitive")
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.IsCode(err, errors.ErrConfig))

	path := writeConfig(t, "chains: [unclosed\n")
	_, err = Load(path)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}

func TestFind(t *testing.T) {
	t.Run("explicit path", func(t *testing.T) {
		path := writeConfig(t, "version: 1\n")
		found, err := Find(path)
		require.NoError(t, err)
		assert.Equal(t, path, found)
	})

	t.Run("explicit path missing", func(t *testing.T) {
		_, err := Find(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.True(t, errors.IsCode(err, errors.ErrConfig))
	})

	t.Run("parent directory up to git root", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0755))
		configPath := filepath.Join(root, ConfigFileName)
		require.NoError(t, os.WriteFile(configPath, []byte("version: 1\n"), 0644))
		nested := filepath.Join(root, "a", "b")
		require.NoError(t, os.MkdirAll(nested, 0755))
		t.Chdir(nested)

		found, err := Find("")
		require.NoError(t, err)
		assert.Equal(t, configPath, found)
	})

	t.Run("nothing found", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0755))
		t.Setenv("HOME", t.TempDir())
		t.Chdir(root)

		found, err := Find("")
		require.NoError(t, err)
		assert.Empty(t, found)

		cfg, path, err := LoadOrDefault("")
		require.NoError(t, err)
		assert.Empty(t, path)
		assert.Equal(t, DefaultConfig(), cfg)
	})
}

func TestExpand(t *testing.T) {
	t.Setenv("JUMP_TEST_VAR", "value")
	t.Setenv("HOME", "/home/tester")
	t.Setenv("USER", "tester")

	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"${JUMP_TEST_VAR}", "value"},
		{"pre-${JUMP_TEST_VAR}-post", "pre-value-post"},
		{"${HOME}/keys", "/home/tester/keys"},
		{"${USER}@host", "tester@host"},
		{"${JUMP_TEST_UNSET_VAR}", ""},
		{"pa$$word", "pa$$word"},
		{"${unterminated", "${unterminated"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Expand(tt.in))
		})
	}
}

func TestExpandTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, "", ExpandTilde(""))
	assert.Equal(t, home, ExpandTilde("~"))
	assert.Equal(t, filepath.Join(home, ".ssh/id_rsa"), ExpandTilde("~/.ssh/id_rsa"))
	assert.Equal(t, "~other/x", ExpandTilde("~other/x"))
	assert.Equal(t, "/abs", ExpandTilde("/abs"))
}

func TestExpandChain_LeavesPasswordsAlone(t *testing.T) {
	t.Setenv("JUMP_TEST_VAR", "value")
	chain := ExpandChain(Chain{{Host: "${JUMP_TEST_VAR}", Password: "${JUMP_TEST_VAR}"}})
	assert.Equal(t, "value", chain[0].Host)
	assert.Equal(t, "${JUMP_TEST_VAR}", chain[0].Password)
}
