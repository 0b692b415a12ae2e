package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/slush-dev/fcm-demo/internal/config"
	"github.com/slush-dev/fcm-demo/notify"
)

// console shares one input stream between the interactive command loop and
// the permission dialog. A single reader goroutine hands each line either to
// a pending prompt or to the command loop.
type console struct {
	out   io.Writer
	lines chan string
	eof   chan struct{}

	mu      sync.Mutex
	pending chan string
}

func newConsole(in io.Reader, out io.Writer) *console {
	c := &console{
		out:   out,
		lines: make(chan string),
		eof:   make(chan struct{}),
	}
	go c.read(in)
	return c
}

func (c *console) read(in io.Reader) {
	defer close(c.eof)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()

		c.mu.Lock()
		p := c.pending
		c.pending = nil
		c.mu.Unlock()

		if p != nil {
			p <- line
			continue
		}
		c.lines <- line
	}
}

// Prompt is a notify.Prompter reading the answer from the console.
func (c *console) Prompt(appName string) notify.Prompter {
	return func(ctx context.Context) (notify.PermissionState, error) {
		answer := make(chan string, 1)
		c.mu.Lock()
		c.pending = answer
		c.mu.Unlock()

		fmt.Fprintf(c.out, "Allow %s to send you notifications? [y]es / [p]rovisional / [N]o: ", appName)

		select {
		case line := <-answer:
			return notify.ParseAnswer(line), nil
		case <-c.eof:
			return notify.Undetermined, fmt.Errorf("reading permission answer: %w", io.EOF)
		case <-ctx.Done():
			c.mu.Lock()
			if c.pending == answer {
				c.pending = nil
			}
			c.mu.Unlock()
			return notify.Undetermined, ctx.Err()
		}
	}
}

// Lines returns command lines. The channel is never closed; Done reports
// the end of input.
func (c *console) Lines() <-chan string { return c.lines }

// Done is closed when the input ends.
func (c *console) Done() <-chan struct{} { return c.eof }

// promptFor answers the permission dialog according to the configured mode.
func promptFor(mode string, interactive notify.Prompter) notify.Prompter {
	switch mode {
	case config.PermissionGrant:
		return notify.Always(notify.Granted)
	case config.PermissionDeny:
		return notify.Always(notify.Denied)
	default:
		return interactive
	}
}
