package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rileyhilliard/jumpssh/internal/errors"
	"github.com/rileyhilliard/jumpssh/internal/util"
)

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"console", "json"}
)

// Validate checks the config for errors and returns structured error messages.
func Validate(cfg *Config) error {
	if cfg.Version > CurrentConfigVersion {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("This config is from the future (version %d, but jump only knows up to %d)", cfg.Version, CurrentConfigVersion),
			"Upgrade jump to read this file.")
	}

	if err := validateDefaults(cfg.Defaults); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(), "Check the 'defaults' section in your .jump.yaml.")
	}

	if err := validateLog(cfg.Log); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(), "Check the 'log' section in your .jump.yaml.")
	}

	if cfg.Default != "" {
		if _, ok := cfg.Chains[cfg.Default]; !ok {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Default chain '%s' isn't defined", cfg.Default),
				"Available chains: "+util.JoinOrNone(ChainNames(cfg)))
		}
	}

	for _, name := range ChainNames(cfg) {
		if err := ValidateChain(name, cfg.Chains[name]); err != nil {
			return err
		}
	}

	return nil
}

// ValidateChain checks a single chain.
func ValidateChain(name string, chain Chain) error {
	if len(chain) == 0 {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Chain '%s' has no hops", name),
			"Add at least one host to the chain.")
	}
	for i, hop := range chain {
		if err := validateHop(hop); err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig,
				fmt.Sprintf("Chain '%s', hop %d: %v", name, i+1, err),
				"Check the hop in your .jump.yaml.")
		}
	}
	return nil
}

func validateHop(h Hop) error {
	if strings.TrimSpace(h.Host) == "" {
		return fmt.Errorf("host is required")
	}
	if strings.ContainsAny(h.Host, " /") {
		return fmt.Errorf("host '%s' should be a hostname, IP, or SSH alias", h.Host)
	}
	if h.Port < 0 || h.Port > 65535 {
		return fmt.Errorf("port %d is out of range", h.Port)
	}
	if h.Password != "" && h.PasswordEnv != "" {
		return fmt.Errorf("set either password or password_env, not both")
	}
	if h.Timeout < 0 {
		return fmt.Errorf("timeout can't be negative")
	}
	if h.Retry != nil && *h.Retry < 0 {
		return fmt.Errorf("retry can't be negative")
	}
	return nil
}

func validateDefaults(d Defaults) error {
	if d.Port < 0 || d.Port > 65535 {
		return fmt.Errorf("port %d is out of range", d.Port)
	}
	if d.ConnectTimeout < 0 || d.CommandTimeout < 0 || d.RetryInterval < 0 {
		return fmt.Errorf("timeouts can't be negative")
	}
	if d.Retry < 0 {
		return fmt.Errorf("retry can't be negative")
	}
	if d.StrictHostKeyChecking && d.KnownHosts == "" {
		return fmt.Errorf("known_hosts is required when strict_host_key_checking is on")
	}
	return nil
}

func validateLog(l LogConfig) error {
	if !contains(validLogLevels, l.Level) {
		return fmt.Errorf("invalid log level '%s' (valid: %s)", l.Level, strings.Join(validLogLevels, ", "))
	}
	if !contains(validLogFormats, l.Format) {
		return fmt.Errorf("invalid log format '%s' (valid: %s)", l.Format, strings.Join(validLogFormats, ", "))
	}
	return nil
}

// ChainNames returns the configured chain names in sorted order.
func ChainNames(cfg *Config) []string {
	names := make([]string, 0, len(cfg.Chains))
	for name := range cfg.Chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
