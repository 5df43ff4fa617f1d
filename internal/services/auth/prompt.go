package auth

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter asks the operator for authentication material
type Prompter interface {
	Prompt(label string, secret bool) (string, error)
	Notify(message string)
}

// TerminalPrompter reads from the terminal, hiding secret input
type TerminalPrompter struct {
	in     *os.File
	out    io.Writer
	reader *bufio.Reader
}

// NewTerminalPrompter creates a prompter on stdin/stderr
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{
		in:     os.Stdin,
		out:    os.Stderr,
		reader: bufio.NewReader(os.Stdin),
	}
}

// Prompt prints label and reads one line
func (p *TerminalPrompter) Prompt(label string, secret bool) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)

	fd := int(p.in.Fd())
	if secret && term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(p.out)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", strings.ToLower(label), err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := p.reader.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", fmt.Errorf("failed to read %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimSpace(line), nil
}

// Notify prints an informational message
func (p *TerminalPrompter) Notify(message string) {
	fmt.Fprintln(p.out, message)
}
