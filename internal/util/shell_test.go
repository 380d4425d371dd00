package util

import "testing"

func TestShellQuote(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", "'simple'"},
		{"with space", "'with space'"},
		{"with'quote", "'with'\\''quote'"},
		{"", "''"},
		{"path/to/file", "'path/to/file'"},
		{"$variable", "'$variable'"},
		{"$(command)", "'$(command)'"},
		{"`backtick`", "'`backtick`'"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ShellQuote(tt.input)
			if got != tt.expected {
				t.Errorf("ShellQuote(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestShellQuotePreserveTilde(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"~", "~"},
		{"~/path", "~/'path'"},
		{"~/path/to/dir", "~/'path/to/dir'"},
		{"~/path with spaces", "~/'path with spaces'"},
		{"~/path'quote", "~/'path'\\''quote'"},
		{"/absolute/path", "'/absolute/path'"},
		{"relative/path", "'relative/path'"},
		{"~user/path", "'~user/path'"}, // Not current user's home, quote it
		{"", "''"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ShellQuotePreserveTilde(tt.input)
			if got != tt.expected {
				t.Errorf("ShellQuotePreserveTilde(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestJoinCommands(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected string
	}{
		{"single", []string{"ls"}, "ls"},
		{"multiple", []string{"cd /tmp", "ls -la", "pwd"}, "cd /tmp && ls -la && pwd"},
		{"empty", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := JoinCommands(tt.input); got != tt.expected {
				t.Errorf("JoinCommands(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestAsUser(t *testing.T) {
	tests := []struct {
		user     string
		cmd      string
		expected string
	}{
		{"", "whoami", "whoami"},
		{"deploy", "whoami", "sudo -u 'deploy' -H sh -c 'whoami'"},
		{"deploy", "echo 'hi'", "sudo -u 'deploy' -H sh -c 'echo '\\''hi'\\'''"},
	}

	for _, tt := range tests {
		t.Run(tt.user+"/"+tt.cmd, func(t *testing.T) {
			if got := AsUser(tt.user, tt.cmd); got != tt.expected {
				t.Errorf("AsUser(%q, %q) = %q, want %q", tt.user, tt.cmd, got, tt.expected)
			}
		})
	}
}

func TestSudo(t *testing.T) {
	if got := Sudo(false, "test -e /etc"); got != "test -e /etc" {
		t.Errorf("Sudo(false) = %q", got)
	}
	if got := Sudo(true, "test -e /etc"); got != "sudo -n test -e /etc" {
		t.Errorf("Sudo(true) = %q", got)
	}
}
