package config

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ExpandTilde replaces ~ or ~/path with the user's home directory.
// Does not support ~username syntax - just ~ for the current user.
func ExpandTilde(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}

	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}

	return path
}

// Expand replaces ${VAR} references with environment values.
// ${USER} and ${HOME} fall back to the current user and home directory when
// the variables are unset. Unknown variables expand to the empty string.
// Bare $VAR is left alone so passwords containing $ survive.
func Expand(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}

	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:start])
		b.WriteString(lookup(rest[start+2 : start+end]))
		rest = rest[start+end+1:]
	}
	return b.String()
}

func lookup(name string) string {
	switch name {
	case "USER":
		return getUser()
	case "HOME":
		return getHome()
	}
	return os.Getenv(name)
}

// ExpandHop expands variables in a hop's host, user and key file, and ~ in
// the key file.
func ExpandHop(h Hop) Hop {
	h.Host = Expand(h.Host)
	h.User = Expand(h.User)
	h.KeyFile = ExpandTilde(Expand(h.KeyFile))
	return h
}

// ExpandChain expands every hop.
func ExpandChain(c Chain) Chain {
	out := make(Chain, len(c))
	for i, h := range c {
		out[i] = ExpandHop(h)
	}
	return out
}

// getUser returns the current username for ${USER} expansion and for hops
// without a user.
func getUser() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}

	// POSIX
	if user := os.Getenv("LOGNAME"); user != "" {
		return user
	}

	// Windows
	if user := os.Getenv("USERNAME"); user != "" {
		return user
	}

	cmd := exec.Command("whoami")
	out, err := cmd.Output()
	if err != nil {
		return "user"
	}
	return strings.TrimSpace(string(out))
}

// getHome returns the home directory for ${HOME} expansion.
func getHome() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "~"
}
