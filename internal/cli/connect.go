package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rileyhilliard/jumpssh/internal/config"
	"github.com/rileyhilliard/jumpssh/internal/errors"
	"github.com/rileyhilliard/jumpssh/internal/logger"
	"github.com/rileyhilliard/jumpssh/internal/ui"
	"github.com/rileyhilliard/jumpssh/pkg/jump"
	"github.com/rileyhilliard/jumpssh/pkg/sshutil"
	"github.com/spf13/cobra"
)

// Hooks replaced by tests.
var (
	dialFunc       jump.DialFunc
	promptPassword = ui.PromptPassword
	confirm        = ui.Confirm
	interactive    = ui.IsInteractive
)

// env is what a command needs after config, logging and hops are resolved.
type env struct {
	flags     *GlobalFlags
	cfg       *config.Config
	cfgPath   string
	chainName string
	hops      []jump.Config
	log       *logger.ZapLogger
	stdout    io.Writer
	stderr    io.Writer
}

// loadEnv loads config and builds the logger. Hops are resolved by resolveHops.
func loadEnv(cmd *cobra.Command, flags *GlobalFlags) (*env, error) {
	cfg, path, err := config.LoadOrDefault(flags.Config)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if flags.Verbose {
		level = "debug"
	}
	log, err := logger.NewZap(logger.ZapConfig{Level: level, Format: cfg.Log.Format, Output: cmd.ErrOrStderr()})
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig, "Couldn't set up logging", "Check the 'log' section in your .jump.yaml.")
	}

	sshutil.WarningHandler = func(msg string) { log.Warn("%s", msg) }

	return &env{
		flags:   flags,
		cfg:     cfg,
		cfgPath: path,
		log:     log,
		stdout:  cmd.OutOrStdout(),
		stderr:  cmd.ErrOrStderr(),
	}, nil
}

// resolveHops picks the chain from --hop or --chain and resolves it into
// session configs with flag overrides applied.
func (e *env) resolveHops() error {
	var chain config.Chain
	if len(e.flags.Hops) > 0 {
		parsed, err := ParseHops(e.flags.Hops)
		if err != nil {
			return err
		}
		chain = config.ExpandChain(parsed)
		e.chainName = "command line"
		if err := config.ValidateChain(e.chainName, chain); err != nil {
			return err
		}
	} else {
		name, selected, err := e.cfg.Select(e.flags.Chain)
		if err != nil {
			return err
		}
		e.chainName, chain = name, selected
	}

	defaults := e.cfg.Defaults
	if e.flags.Insecure {
		defaults.StrictHostKeyChecking = false
	}
	timeout, err := ParseDuration("connect timeout", e.flags.ConnectTimeout)
	if err != nil {
		return err
	}

	hops, err := config.NewResolver(defaults).ResolveChain(chain)
	if err != nil {
		return err
	}
	for i := range hops {
		if e.flags.Retry >= 0 {
			hops[i].Retry = e.flags.Retry
		}
		if timeout > 0 {
			hops[i].Timeout = timeout
		}
		hops[i].Logger = e.log.Named(hops[i].Host)
		hops[i].Dial = dialFunc
		if err := e.askPassword(&hops[i]); err != nil {
			return err
		}
	}
	e.hops = hops
	return nil
}

// askPassword prompts when asked to, or when the hop has nothing to log in
// with: no password, no key, and no agent to fall back on.
func (e *env) askPassword(hop *jump.Config) error {
	noCredentials := hop.Password == "" && hop.KeyFile == "" && os.Getenv("SSH_AUTH_SOCK") == ""
	if !e.flags.AskPassword && !noCredentials {
		return nil
	}
	if !interactive() {
		if e.flags.AskPassword {
			return errors.New(errors.ErrConfig,
				"--ask-password needs a terminal",
				"Set password_env on the hop instead.")
		}
		return nil
	}
	pw, err := promptPassword(fmt.Sprintf("Password for %s", hop.Destination()))
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "Password prompt canceled", "")
	}
	hop.Password = pw
	return nil
}

// showProgress reports whether connection phases go to stderr.
func (e *env) showProgress() bool {
	return !e.flags.Quiet && !e.flags.JSON
}

// open connects every hop in order and returns the first session and the
// last. Closing root closes the whole chain.
func (e *env) open(ctx context.Context) (root, target *jump.Session, err error) {
	if len(e.hops) == 0 {
		if err := e.resolveHops(); err != nil {
			return nil, nil, err
		}
	}

	var display *ui.PhaseDisplay
	if e.showProgress() {
		display = ui.NewPhaseDisplay(e.stderr)
	}

	for i, hop := range e.hops {
		name := hop.Destination().String()
		if display != nil {
			display.RenderProgress("Connecting to " + name)
		}
		start := time.Now()

		var s *jump.Session
		if i == 0 {
			s, err = jump.Dial(ctx, hop)
			root = s
		} else {
			s, err = target.GetRemoteSession(ctx, hop)
		}
		if err != nil {
			if display != nil {
				display.RenderFailed(name, time.Since(start), nil)
			}
			if root != nil {
				_ = root.Close()
			}
			return nil, nil, err
		}
		if display != nil {
			display.RenderSuccess(name, time.Since(start))
		}
		target = s
	}
	return root, target, nil
}

// withTarget opens the chain, runs fn against the last hop, and closes the
// chain.
func withTarget(cmd *cobra.Command, flags *GlobalFlags, fn func(e *env, target *jump.Session) error) error {
	e, err := loadEnv(cmd, flags)
	if err != nil {
		return err
	}
	defer func() { _ = e.log.Sync() }()

	root, target, err := e.open(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := root.Close(); cerr != nil {
			e.log.Warn("closing chain: %v", cerr)
		}
	}()
	return fn(e, target)
}
