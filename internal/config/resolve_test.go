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

func sshConfigFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ssh_config")
	content := `Host bastion
    HostName 203.0.113.10
    Port 2200
    User ops
    IdentityFile /keys/bastion
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func testResolver(t *testing.T) *Resolver {
	d := DefaultConfig().Defaults
	d.StrictHostKeyChecking = false
	d.Retry = 2
	d.CommandTimeout = time.Minute
	r := NewResolver(d)
	r.SSHConfig = sshConfigFile(t)
	return r
}

func TestResolveHop_Alias(t *testing.T) {
	cfg, err := testResolver(t).ResolveHop(Hop{Host: "bastion"})
	require.NoError(t, err)

	assert.Equal(t, "203.0.113.10", cfg.Host)
	assert.Equal(t, 2200, cfg.Port)
	assert.Equal(t, "ops", cfg.User)
	assert.Equal(t, "/keys/bastion", cfg.KeyFile)
	assert.False(t, cfg.UseAgent)
	assert.Nil(t, cfg.HostKeyCallback)
}

func TestResolveHop_HopOverridesAlias(t *testing.T) {
	cfg, err := testResolver(t).ResolveHop(Hop{Host: "bastion", Port: 22, User: "root", KeyFile: "/keys/mine"})
	require.NoError(t, err)

	assert.Equal(t, 22, cfg.Port)
	assert.Equal(t, "root", cfg.User)
	assert.Equal(t, "/keys/mine", cfg.KeyFile)
}

func TestResolveHop_Defaults(t *testing.T) {
	t.Setenv("USER", "tester")
	one := 1

	cfg, err := testResolver(t).ResolveHop(Hop{Host: "10.0.0.5"})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", cfg.Host)
	assert.Equal(t, 22, cfg.Port)
	assert.Equal(t, "tester", cfg.User)
	assert.True(t, cfg.UseAgent, "no credentials falls back to the agent")
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, 2, cfg.Retry)
	assert.Equal(t, 2*time.Second, cfg.RetryInterval)
	assert.Equal(t, time.Minute, cfg.CommandTimeout)

	cfg, err = testResolver(t).ResolveHop(Hop{Host: "10.0.0.5", Timeout: 3 * time.Second, Retry: &one, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
	assert.Equal(t, 1, cfg.Retry)
	assert.False(t, cfg.UseAgent)
}

func TestResolveHop_SecretsFromEnv(t *testing.T) {
	t.Setenv("JUMP_TEST_PW", "s3cret")
	t.Setenv("JUMP_TEST_PASSPHRASE", "phrase")

	cfg, err := testResolver(t).ResolveHop(Hop{Host: "h", PasswordEnv: "JUMP_TEST_PW", PassphraseEnv: "JUMP_TEST_PASSPHRASE"})
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Password)
	assert.Equal(t, "phrase", cfg.Passphrase)

	_, err = testResolver(t).ResolveHop(Hop{Host: "h", PasswordEnv: "JUMP_TEST_UNSET_PW"})
	assert.ErrorContains(t, err, "JUMP_TEST_UNSET_PW")
}

func TestResolveHop_StrictHostKeys(t *testing.T) {
	r := testResolver(t)
	r.Defaults.StrictHostKeyChecking = true
	r.Defaults.KnownHosts = filepath.Join(t.TempDir(), "ssh", "known_hosts")

	cfg, err := r.ResolveHop(Hop{Host: "h"})
	require.NoError(t, err)
	assert.NotNil(t, cfg.HostKeyCallback)
	assert.FileExists(t, r.Defaults.KnownHosts)
}

func TestResolveChain(t *testing.T) {
	hops, err := testResolver(t).ResolveChain(Chain{{Host: "bastion"}, {Host: "10.0.0.5", User: "deploy"}})
	require.NoError(t, err)
	require.Len(t, hops, 2)
	assert.Equal(t, "203.0.113.10", hops[0].Host)
	assert.Equal(t, "deploy", hops[1].User)

	_, err = testResolver(t).ResolveChain(Chain{{Host: "h", PasswordEnv: "JUMP_TEST_UNSET_PW"}})
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
	assert.Contains(t, err.Error(), "hop 1")
}

func TestSelect(t *testing.T) {
	cfg := validConfig()
	cfg.Chains["qa"] = Chain{{Host: "qa"}}

	name, chain, err := cfg.Select("")
	require.NoError(t, err)
	assert.Equal(t, "prod", name)
	assert.Len(t, chain, 2)

	name, _, err = cfg.Select("QA")
	require.NoError(t, err)
	assert.Equal(t, "qa", name)

	_, _, err = cfg.Select("missing")
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
	assert.Contains(t, err.Error(), "prod, qa")
	assert.NotContains(t, err.Error(), "Did you mean")

	_, _, err = cfg.Select("prdo")
	assert.Contains(t, err.Error(), "Did you mean 'prod'?")

	cfg.Default = ""
	_, _, err = cfg.Select("")
	assert.ErrorContains(t, err, "No chain selected")

	delete(cfg.Chains, "qa")
	name, _, err = cfg.Select("")
	require.NoError(t, err)
	assert.Equal(t, "prod", name, "a single chain is picked without a default")
}
