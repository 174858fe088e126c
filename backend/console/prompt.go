package console

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter supplies interactive input. Session depends only on this interface
// so it can run without a terminal.
type Prompter interface {
	Prompt(label string) (string, error)
	// PromptSecret reads a value that must not be echoed.
	PromptSecret(label string) (string, error)
}

type TerminalPrompter struct {
	in     *bufio.Reader
	fd     int
	isTerm bool
	out    io.Writer
}

// NewTerminalPrompter reads from in and writes labels to out. Secrets are read
// without echo when in is a terminal, and as ordinary lines otherwise.
func NewTerminalPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	p := &TerminalPrompter{in: bufio.NewReader(in), out: out}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.fd = int(f.Fd())
		p.isTerm = true
	}
	return p
}

func (p *TerminalPrompter) Prompt(label string) (string, error) {
	fmt.Fprint(p.out, label)
	return p.readLine()
}

func (p *TerminalPrompter) PromptSecret(label string) (string, error) {
	fmt.Fprint(p.out, label)
	if !p.isTerm {
		return p.readLine()
	}
	b, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (p *TerminalPrompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
