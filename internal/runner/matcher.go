package runner

import (
	"bytes"
	"sort"
)

// promptMatcher scans streamed output for prompts. It keeps the last
// maxPromptLen-1 bytes between chunks so a prompt split across reads still
// matches, and fires each prompt at most once.
type promptMatcher struct {
	pending map[string]string
	order   []string
	keep    int
	tail    []byte
}

func newPromptMatcher(inputs map[string]string) *promptMatcher {
	m := &promptMatcher{pending: make(map[string]string, len(inputs))}
	for prompt, value := range inputs {
		if prompt == "" {
			continue
		}
		m.pending[prompt] = value
		m.order = append(m.order, prompt)
		if len(prompt)-1 > m.keep {
			m.keep = len(prompt) - 1
		}
	}
	sort.Strings(m.order)
	return m
}

// feed consumes chunk and returns the values of prompts that just appeared,
// in prompt order.
func (m *promptMatcher) feed(chunk []byte) []string {
	if m.done() {
		return nil
	}

	window := append(m.tail, chunk...)

	var answers []string
	remaining := m.order[:0]
	for _, prompt := range m.order {
		if bytes.Contains(window, []byte(prompt)) {
			answers = append(answers, m.pending[prompt])
			delete(m.pending, prompt)
			continue
		}
		remaining = append(remaining, prompt)
	}
	m.order = remaining

	if len(window) > m.keep {
		window = window[len(window)-m.keep:]
	}
	m.tail = append(m.tail[:0], window...)
	return answers
}

// done reports whether every prompt has fired.
func (m *promptMatcher) done() bool {
	return len(m.pending) == 0
}
