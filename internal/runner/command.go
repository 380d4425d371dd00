// Package runner executes shell commands over an SSH exec channel, answering
// interactive prompts and enforcing timeouts.
package runner

import (
	"fmt"
	"strings"

	"github.com/rileyhilliard/jumpssh/internal/errors"
	"github.com/rileyhilliard/jumpssh/internal/util"
)

// Command is an ordered list of shell commands run as one invocation.
// Each runs only if the previous one succeeded, and later commands see the
// effects of earlier ones (cd, export).
type Command []string

// Cmd returns a single-command Command.
func Cmd(cmd string) Command {
	return Command{cmd}
}

// Cmds returns a Command running cmds in order.
func Cmds(cmds ...string) Command {
	return Command(cmds)
}

// String returns the command as the caller wrote it: a single command
// verbatim, a list one command per line.
func (c Command) String() string {
	return strings.Join(c, "\n")
}

// Shell returns the single shell line sent to the remote host.
func (c Command) Shell() string {
	return util.JoinCommands(c)
}

// Validate rejects empty commands.
func (c Command) Validate() error {
	if len(c) == 0 {
		return errors.New(errors.ErrType, "Command is empty", "Pass a command string or a list of commands.")
	}
	for i, cmd := range c {
		if strings.TrimSpace(cmd) == "" {
			return errors.New(errors.ErrType,
				fmt.Sprintf("Command %d of %d is empty", i+1, len(c)),
				"Remove blank entries from the command list.")
		}
	}
	return nil
}

// ParseCommand converts loosely typed input, as decoded from YAML or JSON,
// into a Command. Accepted: string, []string, []any of strings, Command.
func ParseCommand(v any) (Command, error) {
	var cmd Command
	switch val := v.(type) {
	case Command:
		cmd = val
	case string:
		cmd = Cmd(val)
	case []string:
		cmd = Cmds(val...)
	case []any:
		cmd = make(Command, 0, len(val))
		for i, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, errors.New(errors.ErrType,
					fmt.Sprintf("Command list item %d is %T, not a string", i, item),
					"Every entry of a command list must be a string.")
			}
			cmd = append(cmd, s)
		}
	default:
		return nil, errors.New(errors.ErrType,
			fmt.Sprintf("Command must be a string or a list of strings, got %T", v),
			"Pass a command string or a list of commands.")
	}

	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}
