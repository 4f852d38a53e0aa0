// File: internal/ingress/console.go
package ingress

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/herobine/internal/instruction"
)

// ErrQuit is returned by Console.Run when the operator asked to stop.
var ErrQuit = errors.New("operator requested shutdown")

const consoleSource = "console"

// Console reads instructions typed by an operator, one per line.
type Console struct {
	queue  *instruction.Queue
	in     io.Reader
	out    io.Writer
	logger *zap.Logger
}

// NewConsole creates a console reading from in. Acknowledgements go to out.
func NewConsole(queue *instruction.Queue, in io.Reader, out io.Writer, logger *zap.Logger) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	if out == nil {
		out = io.Discard
	}
	return &Console{queue: queue, in: in, out: out, logger: logger.Named("ingress.console")}
}

// Run appends each non-empty line to the queue until ctx is done or input ends.
// "quit" and "exit" end the session with ErrQuit.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	fmt.Fprintln(c.out, "Type an instruction and press enter. \"reset\" restores the default task, \"quit\" stops the agent.")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errc:
					if err != nil {
						return fmt.Errorf("console input failed: %w", err)
					}
				default:
				}
				return nil
			}
			text := strings.TrimSpace(line)
			switch strings.ToLower(text) {
			case "":
				continue
			case "quit", "exit":
				fmt.Fprintln(c.out, "Stopping.")
				return ErrQuit
			}
			if c.queue.Append(consoleSource, text) {
				fmt.Fprintln(c.out, "Reset: back to the default instruction.")
			} else {
				fmt.Fprintf(c.out, "Queued: %s\n", text)
			}
		}
	}
}
