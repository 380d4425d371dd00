package testing

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// WithFiles pre-populates the mock filesystem with files.
// Keys are paths, values are file contents.
func WithFiles(fs *MockFS, files map[string]string) {
	for path, content := range files {
		_ = fs.WriteFile(path, []byte(content))
	}
}

// WithDirs pre-populates the mock filesystem with directories.
func WithDirs(fs *MockFS, dirs []string) {
	for _, dir := range dirs {
		_ = fs.MkdirAll(dir)
	}
}

// Sleep returns a Handler that runs for d, or until its channel is closed,
// then exits 0.
func Sleep(d time.Duration) Handler {
	return func(ctx context.Context, _ string, _ io.Reader, _, _ io.Writer) int {
		select {
		case <-time.After(d):
			return 0
		case <-ctx.Done():
			return 255
		}
	}
}

// Ask returns a Handler that writes each prompt (without newline), reads one
// line of stdin per prompt, then prints the answers joined by commas.
// It exits 1 if stdin ends before every prompt is answered.
func Ask(prompts ...string) Handler {
	return func(_ context.Context, _ string, stdin io.Reader, stdout, _ io.Writer) int {
		reader := bufio.NewReader(stdin)
		answers := make([]string, 0, len(prompts))
		for _, prompt := range prompts {
			fmt.Fprint(stdout, prompt)
			line, err := reader.ReadString('\n')
			if err != nil {
				return 1
			}
			answers = append(answers, strings.TrimSuffix(line, "\n"))
		}
		fmt.Fprintf(stdout, "\nanswers: %s\n", strings.Join(answers, ","))
		return 0
	}
}
