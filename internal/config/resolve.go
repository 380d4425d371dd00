package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rileyhilliard/jumpssh/internal/errors"
	"github.com/rileyhilliard/jumpssh/internal/util"
	"github.com/rileyhilliard/jumpssh/pkg/jump"
	"github.com/rileyhilliard/jumpssh/pkg/sshutil"
	"golang.org/x/crypto/ssh"
)

// Select returns the named chain, or the default chain when name is empty.
func (c *Config) Select(name string) (string, Chain, error) {
	name = strings.ToLower(name)
	if name == "" {
		name = c.Default
	}
	if name == "" {
		if len(c.Chains) == 1 {
			for only := range c.Chains {
				name = only
			}
		} else {
			return "", nil, errors.New(errors.ErrConfig,
				"No chain selected",
				"Pass --chain, set 'default' in .jump.yaml, or give hosts with --hop")
		}
	}

	chain, ok := c.Chains[name]
	if !ok {
		names := ChainNames(c)
		suggestion := "Available chains: " + util.JoinOrNone(names)
		if similar := util.SuggestSimilar(name, names, 1); len(similar) > 0 {
			suggestion = fmt.Sprintf("Did you mean '%s'? %s", similar[0], suggestion)
		}
		return "", nil, errors.New(errors.ErrConfig,
			fmt.Sprintf("Chain '%s' isn't defined", name), suggestion)
	}
	return name, chain, nil
}

// Resolver turns configured hops into session configs.
type Resolver struct {
	Defaults Defaults
	// SSHConfig is the ssh config consulted for host aliases.
	// Empty means ~/.ssh/config.
	SSHConfig string

	hostKeys ssh.HostKeyCallback
}

// NewResolver returns a Resolver for cfg's defaults.
func NewResolver(d Defaults) *Resolver {
	return &Resolver{Defaults: d}
}

// ResolveChain resolves every hop of chain in order.
func (r *Resolver) ResolveChain(chain Chain) ([]jump.Config, error) {
	out := make([]jump.Config, 0, len(chain))
	for i, hop := range chain {
		cfg, err := r.ResolveHop(hop)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				fmt.Sprintf("Couldn't resolve hop %d (%s)", i+1, hop.Host),
				"Check the hop's credentials in your .jump.yaml.")
		}
		out = append(out, cfg)
	}
	return out, nil
}

// ResolveHop fills a session config from hop, the ssh config alias it names
// and the defaults, in that order of precedence.
func (r *Resolver) ResolveHop(hop Hop) (jump.Config, error) {
	alias := r.lookupAlias(hop.Host)

	cfg := jump.Config{
		Host:           hop.Host,
		Port:           hop.Port,
		User:           hop.User,
		Password:       hop.Password,
		KeyFile:        hop.KeyFile,
		UseAgent:       hop.Agent,
		Timeout:        r.Defaults.ConnectTimeout,
		Retry:          r.Defaults.Retry,
		RetryInterval:  r.Defaults.RetryInterval,
		CommandTimeout: r.Defaults.CommandTimeout,
	}

	if alias.Hostname != "" {
		cfg.Host = alias.Hostname
	}
	if cfg.Port == 0 && alias.Port != "" {
		if p, err := strconv.Atoi(alias.Port); err == nil {
			cfg.Port = p
		}
	}
	if cfg.Port == 0 {
		cfg.Port = r.Defaults.Port
	}
	if cfg.User == "" {
		cfg.User = alias.User
	}
	if cfg.User == "" {
		cfg.User = getUser()
	}
	if cfg.KeyFile == "" {
		cfg.KeyFile = alias.IdentityFile
	}

	if hop.PasswordEnv != "" {
		pw, ok := os.LookupEnv(hop.PasswordEnv)
		if !ok {
			return jump.Config{}, fmt.Errorf("password_env %s is not set", hop.PasswordEnv)
		}
		cfg.Password = pw
	}
	if hop.PassphraseEnv != "" {
		cfg.Passphrase = os.Getenv(hop.PassphraseEnv)
	}

	if hop.Timeout > 0 {
		cfg.Timeout = hop.Timeout
	}
	if hop.Retry != nil {
		cfg.Retry = *hop.Retry
	}

	// Nothing configured: fall back to the agent like ssh does.
	if cfg.Password == "" && cfg.KeyFile == "" && !cfg.UseAgent {
		cfg.UseAgent = true
	}

	if r.Defaults.StrictHostKeyChecking {
		cb, err := r.hostKeyCallback()
		if err != nil {
			return jump.Config{}, err
		}
		cfg.HostKeyCallback = cb
	}

	return cfg, nil
}

func (r *Resolver) lookupAlias(host string) sshutil.HostSettings {
	if r.SSHConfig != "" {
		return sshutil.ResolveHostFrom(r.SSHConfig, host)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return sshutil.HostSettings{}
	}
	return sshutil.ResolveHostFrom(filepath.Join(home, ".ssh", "config"), host)
}

func (r *Resolver) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if r.hostKeys != nil {
		return r.hostKeys, nil
	}
	cb, err := sshutil.KnownHostsCallback(r.Defaults.KnownHosts)
	if err != nil {
		return nil, fmt.Errorf("couldn't load known_hosts %s: %w", r.Defaults.KnownHosts, err)
	}
	r.hostKeys = cb
	return cb, nil
}
