package cli

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rileyhilliard/jumpssh/internal/config"
	"github.com/rileyhilliard/jumpssh/internal/errors"
	"github.com/spf13/cobra"
)

// GlobalFlags are the persistent flags shared by every command.
type GlobalFlags struct {
	Config  string
	Chain   string
	Hops    []string
	Verbose bool
	JSON    bool
	Quiet   bool

	// Retry is -1 when unset so the config value applies.
	Retry          int
	ConnectTimeout string
	AskPassword    bool
	Insecure       bool
}

// AddGlobalFlags registers the persistent flags on root.
func AddGlobalFlags(root *cobra.Command, flags *GlobalFlags) {
	pf := root.PersistentFlags()
	pf.StringVar(&flags.Config, "config", "", "config file (default: .jump.yaml, searched upward)")
	pf.StringVarP(&flags.Chain, "chain", "C", "", "chain name from the config file")
	pf.StringArrayVarP(&flags.Hops, "hop", "J", nil, "hop as [user@]host[:port]; repeat in order, overrides --chain")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "debug logging")
	pf.BoolVar(&flags.JSON, "json", false, "machine-readable JSON output")
	pf.BoolVarP(&flags.Quiet, "quiet", "q", false, "hide connection progress")
	pf.IntVar(&flags.Retry, "retry", -1, "extra connection attempts per hop")
	pf.StringVar(&flags.ConnectTimeout, "connect-timeout", "", "per-hop connect timeout (e.g., 5s, 1m)")
	pf.BoolVar(&flags.AskPassword, "ask-password", false, "prompt for every hop's password")
	pf.BoolVar(&flags.Insecure, "insecure", false, "skip host key verification")
}

// FileFlags are the ownership and privilege flags of put and write.
type FileFlags struct {
	Owner string
	Mode  string
	Sudo  bool
}

// AddFileFlags registers --owner, --mode and --sudo on cmd.
func AddFileFlags(cmd *cobra.Command, flags *FileFlags) {
	cmd.Flags().StringVar(&flags.Owner, "owner", "", "chown the file to this user")
	cmd.Flags().StringVar(&flags.Mode, "mode", "", "chmod the file to this octal mode (e.g., 600)")
	cmd.Flags().BoolVar(&flags.Sudo, "sudo", false, "write through sudo")
}

// ParseHop parses [user@]host[:port] into a config hop.
func ParseHop(s string) (config.Hop, error) {
	var hop config.Hop
	rest := strings.TrimSpace(s)
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		hop.User = rest[:at]
		rest = rest[at+1:]
	}

	host := rest
	if strings.Contains(rest, ":") {
		h, p, err := net.SplitHostPort(rest)
		if err != nil {
			return hop, badHop(s, err)
		}
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return hop, badHop(s, fmt.Errorf("invalid port %q", p))
		}
		host = h
		hop.Port = port
	}
	if host == "" {
		return hop, badHop(s, fmt.Errorf("missing host"))
	}
	hop.Host = host
	return hop, nil
}

func badHop(s string, err error) error {
	return errors.WrapWithCode(err, errors.ErrConfig,
		fmt.Sprintf("'%s' doesn't look like a hop", s),
		"Use [user@]host[:port], for example deploy@10.0.0.5:2222.")
}

// ParseHops parses every --hop value in order.
func ParseHops(values []string) (config.Chain, error) {
	chain := make(config.Chain, 0, len(values))
	for _, v := range values {
		hop, err := ParseHop(v)
		if err != nil {
			return nil, err
		}
		chain = append(chain, hop)
	}
	return chain, nil
}

// ParseDuration parses a duration flag. Returns zero duration if the flag is empty.
func ParseDuration(name, flag string) (time.Duration, error) {
	if flag == "" {
		return 0, nil
	}

	duration, err := time.ParseDuration(flag)
	if err != nil || duration < 0 {
		return 0, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("'%s' doesn't look like a valid %s", flag, name),
			"Try something like 5s, 2m, or 500ms.")
	}
	return duration, nil
}

// ParseInputs parses --input values of the form prompt=answer.
func ParseInputs(values []string) (map[string]string, error) {
	inputs := make(map[string]string, len(values))
	for _, v := range values {
		prompt, answer, ok := strings.Cut(v, "=")
		if !ok || prompt == "" {
			return nil, errors.New(errors.ErrConfig,
				fmt.Sprintf("'%s' isn't a prompt=answer pair", v),
				"For example: --input 'Continue? [y/N]=y'")
		}
		inputs[prompt] = answer
	}
	return inputs, nil
}
