package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/derSebastian/ble-printer-probe/internal/session"
)

// stdinOracle answers session questions from an interactive terminal.
// Reads run on the calling goroutine, so a closed stdin surfaces as an
// error and aborts the session rather than hanging it.
type stdinOracle struct {
	in  *bufio.Reader
	out io.Writer
}

var _ session.Oracle = (*stdinOracle)(nil)

func newStdinOracle(in io.Reader, out io.Writer) *stdinOracle {
	return &stdinOracle{in: bufio.NewReader(in), out: out}
}

// Confirm asks a yes/no question and insists on an answer.
func (o *stdinOracle) Confirm(question string) (bool, error) {
	for {
		fmt.Fprintf(o.out, "%s [y/n]: ", question)
		line, err := o.in.ReadString('\n')
		if err != nil {
			return false, fmt.Errorf("reading answer: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintln(o.out, "Please answer y or n.")
	}
}

// Ask asks a free-form question. An empty answer picks the default.
func (o *stdinOracle) Ask(question, defaultValue string) (string, error) {
	if defaultValue != "" {
		fmt.Fprintf(o.out, "%s [%s]: ", question, defaultValue)
	} else {
		fmt.Fprintf(o.out, "%s: ", question)
	}
	line, err := o.in.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading answer: %w", err)
	}
	answer := strings.TrimSpace(line)
	if answer == "" {
		return defaultValue, nil
	}
	return answer, nil
}
