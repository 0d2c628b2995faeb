// Package cli provides the line-oriented lorekeep console: terminal I/O,
// output formatting and command dispatch over the engine.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/nathoo/lorekeep/engine"
)

// CLI reads console lines and prints their results.
type CLI struct {
	Session   *Session
	In        io.Reader
	Out       io.Writer
	EchoInput bool // echo each input line after the prompt (for script playback)
}

// New creates a CLI over eng reading stdin.
func New(eng *engine.Engine) *CLI {
	return &CLI{
		Session: NewSession(eng),
		In:      os.Stdin,
		Out:     os.Stdout,
	}
}

// Run loops prompt, input, dispatch and output until /quit or end of input.
func (c *CLI) Run(ctx context.Context) {
	c.printLine("lorekeep console. Type /help for commands.")

	scanner := bufio.NewScanner(c.In)
	for {
		c.print("> ")
		if !scanner.Scan() {
			break
		}
		input := scanner.Text()
		// Skip comment lines (for script files).
		if len(input) > 0 && input[0] == '#' {
			continue
		}
		if c.EchoInput {
			c.printLine(input)
		}

		result := c.Session.Exec(ctx, input)
		c.printResult(result)
		if result.Quit {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (c *CLI) printResult(result Result) {
	for _, line := range result.Output {
		if result.System {
			c.printSystem(line)
		} else {
			c.printLine(line)
		}
	}
}

func (c *CLI) printLine(text string) {
	fmt.Fprintln(c.Out, text)
}

func (c *CLI) print(text string) {
	fmt.Fprint(c.Out, text)
}

func (c *CLI) printSystem(text string) {
	if text == "" {
		c.printLine("")
		return
	}
	fmt.Fprintf(c.Out, "[%s]\n", text)
}
