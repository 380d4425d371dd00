package config

import "time"

// CurrentConfigVersion is the schema version for the config file.
// Increment when making breaking changes to the config structure.
const CurrentConfigVersion = 1

// Config represents the complete .jump.yaml configuration file.
type Config struct {
	Version  int              `yaml:"version" mapstructure:"version"`
	Defaults Defaults         `yaml:"defaults" mapstructure:"defaults"`
	Log      LogConfig        `yaml:"log" mapstructure:"log"`
	Chains   map[string]Chain `yaml:"chains" mapstructure:"chains"`
	Default  string           `yaml:"default,omitempty" mapstructure:"default"`
}

// Chain is an ordered list of hops: the first is dialed directly, each
// following hop is reached through the one before it.
type Chain []Hop

// Hop defines one host in a chain and how to log in to it.
type Hop struct {
	// Host is a hostname, IP, or SSH config alias.
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port,omitempty" mapstructure:"port"`
	User string `yaml:"user,omitempty" mapstructure:"user"`

	// Password is used as given. Prefer PasswordEnv to keep secrets out of the file.
	Password    string `yaml:"password,omitempty" mapstructure:"password"`
	PasswordEnv string `yaml:"password_env,omitempty" mapstructure:"password_env"`

	// KeyFile is a private key path; ~ is expanded.
	KeyFile       string `yaml:"key_file,omitempty" mapstructure:"key_file"`
	PassphraseEnv string `yaml:"passphrase_env,omitempty" mapstructure:"passphrase_env"`

	// Agent offers keys from SSH_AUTH_SOCK.
	Agent bool `yaml:"agent,omitempty" mapstructure:"agent"`

	// Timeout and Retry override the defaults for this hop.
	Timeout time.Duration `yaml:"timeout,omitempty" mapstructure:"timeout"`
	Retry   *int          `yaml:"retry,omitempty" mapstructure:"retry"`
}

// Defaults apply to every hop unless the hop overrides them.
type Defaults struct {
	Port           int           `yaml:"port" mapstructure:"port"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`
	// CommandTimeout bounds each remote command. Zero means none.
	CommandTimeout time.Duration `yaml:"command_timeout" mapstructure:"command_timeout"`
	Retry          int           `yaml:"retry" mapstructure:"retry"`
	RetryInterval  time.Duration `yaml:"retry_interval" mapstructure:"retry_interval"`

	// StrictHostKeyChecking verifies host keys against KnownHosts.
	// When false any host key is accepted.
	StrictHostKeyChecking bool   `yaml:"strict_host_key_checking" mapstructure:"strict_host_key_checking"`
	KnownHosts            string `yaml:"known_hosts" mapstructure:"known_hosts"`
}

// LogConfig controls CLI logging.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level" mapstructure:"level"`
	// Format is console or json.
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentConfigVersion,
		Defaults: Defaults{
			Port:                  22,
			ConnectTimeout:        10 * time.Second,
			CommandTimeout:        0,
			Retry:                 0,
			RetryInterval:         2 * time.Second,
			StrictHostKeyChecking: true,
			KnownHosts:            "~/.ssh/known_hosts",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Chains: make(map[string]Chain),
	}
}
