package testing

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// shell emulates the handful of commands jumpssh issues: test -e, cp, mv,
// rm, chmod, chown, cat, echo, true, false and exit, optionally behind sudo
// and joined with &&. Anything else exits 127.
func (m *MockConn) shell(_ context.Context, cmd string, _ io.Reader, stdout, stderr io.Writer) int {
	words, err := splitWords(cmd)
	if err != nil {
		fmt.Fprintf(stderr, "sh: %v\n", err)
		return 2
	}

	code := 0
	for _, segment := range splitAnd(words) {
		code = m.run(segment, false, stdout, stderr)
		if code != 0 {
			return code
		}
	}
	return code
}

func (m *MockConn) run(args []string, privileged bool, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		return 0
	}

	if args[0] == "sudo" {
		args = args[1:]
		for len(args) > 0 && strings.HasPrefix(args[0], "-") {
			if args[0] == "-u" && len(args) > 1 {
				args = args[2:]
				continue
			}
			args = args[1:]
		}
		return m.run(args, true, stdout, stderr)
	}

	if args[0] == "sh" && len(args) == 3 && args[1] == "-c" {
		words, err := splitWords(args[2])
		if err != nil {
			fmt.Fprintf(stderr, "sh: %v\n", err)
			return 2
		}
		code := 0
		for _, segment := range splitAnd(words) {
			if code = m.run(segment, privileged, stdout, stderr); code != 0 {
				return code
			}
		}
		return code
	}

	fs := m.fs
	denied := func(p string) bool { return !privileged && fs.Denied(p) }
	operands := func() []string {
		var out []string
		for _, a := range args[1:] {
			if !strings.HasPrefix(a, "-") {
				out = append(out, a)
			}
		}
		return out
	}

	switch args[0] {
	case "true":
		return 0
	case "false":
		return 1
	case "exit":
		if len(args) < 2 {
			return 0
		}
		n, _ := strconv.Atoi(args[1])
		return n
	case "echo":
		fmt.Fprintln(stdout, strings.Join(args[1:], " "))
		return 0

	case "test":
		if len(args) != 3 {
			return 2
		}
		p := args[2]
		if denied(p) {
			return 1
		}
		switch args[1] {
		case "-e":
			return boolStatus(fs.Exists(p))
		case "-f":
			return boolStatus(fs.IsFile(p))
		case "-d":
			return boolStatus(fs.IsDir(p))
		}
		return 2

	case "cat":
		for _, p := range operands() {
			if denied(p) {
				fmt.Fprintf(stderr, "cat: %s: Permission denied\n", p)
				return 1
			}
			data, err := fs.ReadFile(p)
			if err != nil {
				fmt.Fprintf(stderr, "cat: %s: No such file or directory\n", p)
				return 1
			}
			_, _ = stdout.Write(data)
		}
		return 0

	case "cp", "mv":
		ops := operands()
		if len(ops) != 2 {
			fmt.Fprintf(stderr, "%s: missing operand\n", args[0])
			return 1
		}
		if denied(ops[0]) || denied(ops[1]) {
			fmt.Fprintf(stderr, "%s: cannot stat '%s': Permission denied\n", args[0], ops[0])
			return 1
		}
		var err error
		if args[0] == "cp" {
			err = fs.Copy(ops[0], ops[1])
		} else {
			err = fs.Rename(ops[0], ops[1])
		}
		if err != nil {
			fmt.Fprintf(stderr, "%s: cannot stat '%s': No such file or directory\n", args[0], ops[0])
			return 1
		}
		return 0

	case "rm":
		for _, p := range operands() {
			if denied(p) {
				fmt.Fprintf(stderr, "rm: cannot remove '%s': Permission denied\n", p)
				return 1
			}
			_ = fs.Remove(p)
		}
		return 0

	case "chmod":
		ops := operands()
		if len(ops) != 2 {
			fmt.Fprintln(stderr, "chmod: missing operand")
			return 1
		}
		if denied(ops[1]) {
			fmt.Fprintf(stderr, "chmod: changing permissions of '%s': Operation not permitted\n", ops[1])
			return 1
		}
		mode, err := fs.Mode(ops[1])
		if err != nil {
			fmt.Fprintf(stderr, "chmod: cannot access '%s': No such file or directory\n", ops[1])
			return 1
		}
		if ops[0] == "a+r" {
			mode |= 0444
		} else {
			parsed, err := strconv.ParseUint(ops[0], 8, 32)
			if err != nil {
				fmt.Fprintf(stderr, "chmod: invalid mode: '%s'\n", ops[0])
				return 1
			}
			mode = os.FileMode(parsed)
		}
		_ = fs.Chmod(ops[1], mode)
		return 0

	case "chown":
		ops := operands()
		if len(ops) != 2 {
			fmt.Fprintln(stderr, "chown: missing operand")
			return 1
		}
		if !privileged {
			fmt.Fprintf(stderr, "chown: changing ownership of '%s': Operation not permitted\n", ops[1])
			return 1
		}
		if err := fs.Chown(ops[1], ops[0]); err != nil {
			fmt.Fprintf(stderr, "chown: cannot access '%s': No such file or directory\n", ops[1])
			return 1
		}
		return 0
	}

	fmt.Fprintf(stderr, "sh: %s: command not found\n", args[0])
	return 127
}

func boolStatus(ok bool) int {
	if ok {
		return 0
	}
	return 1
}

// splitWords splits a shell command into words, honoring single quotes,
// double quotes and backslash escapes. && becomes its own word.
func splitWords(cmd string) ([]string, error) {
	var (
		words   []string
		current strings.Builder
		inWord  bool
	)
	flush := func() {
		if inWord {
			words = append(words, current.String())
			current.Reset()
			inWord = false
		}
	}

	for i := 0; i < len(cmd); i++ {
		c := cmd[i]
		switch {
		case c == '\'':
			end := strings.IndexByte(cmd[i+1:], '\'')
			if end < 0 {
				return nil, fmt.Errorf("unterminated quote")
			}
			current.WriteString(cmd[i+1 : i+1+end])
			inWord = true
			i += end + 1
		case c == '"':
			end := strings.IndexByte(cmd[i+1:], '"')
			if end < 0 {
				return nil, fmt.Errorf("unterminated quote")
			}
			current.WriteString(cmd[i+1 : i+1+end])
			inWord = true
			i += end + 1
		case c == '\\' && i+1 < len(cmd):
			current.WriteByte(cmd[i+1])
			inWord = true
			i++
		case c == ' ' || c == '\t' || c == '\n':
			flush()
		case c == '&' && i+1 < len(cmd) && cmd[i+1] == '&':
			flush()
			words = append(words, "&&")
			i++
		default:
			current.WriteByte(c)
			inWord = true
		}
	}
	flush()
	return words, nil
}

func splitAnd(words []string) [][]string {
	var (
		segments [][]string
		current  []string
	)
	for _, w := range words {
		if w == "&&" {
			segments = append(segments, current)
			current = nil
			continue
		}
		current = append(current, w)
	}
	return append(segments, current)
}
