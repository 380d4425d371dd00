package sshutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSSHConfig = `
Host bastion
    HostName 203.0.113.10
    User jump
    Port 2222
    IdentityFile ~/.ssh/id_bastion

Host db-1 db-primary
    HostName 10.0.0.12
    User postgres

Host *
    ServerAliveInterval 60

Host web-*
    User www
`

func writeSSHConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestListHostsFrom(t *testing.T) {
	hosts, err := ListHostsFrom(writeSSHConfig(t, sampleSSHConfig))
	require.NoError(t, err)

	aliases := make([]string, len(hosts))
	for i, h := range hosts {
		aliases[i] = h.Alias
	}
	assert.Equal(t, []string{"bastion", "db-1", "db-primary"}, aliases)

	bastion := hosts[0]
	assert.Equal(t, "203.0.113.10", bastion.Hostname)
	assert.Equal(t, "jump", bastion.User)
	assert.Equal(t, "2222", bastion.Port)
	assert.Equal(t, filepath.Join(homeDir(), ".ssh", "id_bastion"), bastion.IdentityFile)

	assert.Equal(t, "10.0.0.12", hosts[2].Hostname)
}

func TestListHostsFrom_Missing(t *testing.T) {
	hosts, err := ListHostsFrom(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Nil(t, hosts)
}

func TestListHostsFrom_StopsAtMatch(t *testing.T) {
	path := writeSSHConfig(t, `
Host before-match
    HostName before.example.com

Match host *.example.com
    User matchuser

Host after-match
    HostName after.example.com
`)

	hosts, err := ListHostsFrom(path)
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	assert.Equal(t, "before-match", hosts[0].Alias)
}

func TestResolveHostFrom(t *testing.T) {
	path := writeSSHConfig(t, sampleSSHConfig)

	settings := ResolveHostFrom(path, "bastion")
	assert.Equal(t, "203.0.113.10", settings.Hostname)
	assert.Equal(t, "2222", settings.Port)
	assert.Equal(t, "jump", settings.User)

	settings = ResolveHostFrom(path, "web-3")
	assert.Equal(t, "", settings.Hostname)
	assert.Equal(t, "www", settings.User)

	assert.Equal(t, HostSettings{}, ResolveHostFrom(filepath.Join(t.TempDir(), "nope"), "bastion"))
}

func TestResolveHostFrom_MatchWarning(t *testing.T) {
	path := writeSSHConfig(t, `
Host early
    HostName early.example.com

Match all
    User nobody
`)

	var warnings []string
	WarningHandler = func(msg string) { warnings = append(warnings, msg) }
	defer func() { WarningHandler = nil }()

	settings := ResolveHostFrom(path, "early")
	assert.Equal(t, "early.example.com", settings.Hostname)
	assert.Empty(t, warnings)

	settings = ResolveHostFrom(path, "late")
	assert.Equal(t, HostSettings{}, settings)
	// The warning fires at most once per process.
	assert.LessOrEqual(t, len(warnings), 1)
}

func TestHostEntry_Description(t *testing.T) {
	tests := []struct {
		entry    HostEntry
		expected string
	}{
		{HostEntry{Alias: "plain"}, "plain"},
		{HostEntry{Alias: "x", HostSettings: HostSettings{Hostname: "10.0.0.1"}}, "10.0.0.1"},
		{HostEntry{Alias: "x", HostSettings: HostSettings{Hostname: "x", User: "deploy"}}, "user: deploy"},
		{HostEntry{Alias: "x", HostSettings: HostSettings{Port: "22"}}, "x"},
		{HostEntry{Alias: "x", HostSettings: HostSettings{Hostname: "h", User: "u", Port: "2222"}}, "h, user: u, port: 2222"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.entry.Description())
	}
}

func TestHostEntry_HasKey(t *testing.T) {
	key := filepath.Join(t.TempDir(), "id_test")
	require.NoError(t, os.WriteFile(key, []byte("key"), 0600))

	assert.True(t, HostEntry{HostSettings: HostSettings{IdentityFile: key}}.HasKey())
	assert.False(t, HostEntry{HostSettings: HostSettings{IdentityFile: key + ".missing"}}.HasKey())
	assert.False(t, HostEntry{}.HasKey())
}
