// Package console is the terminal front-end: a line-oriented REPL that
// renders the conversation as it streams in.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/user/flowchat/internal/chat"
	"github.com/user/flowchat/internal/tokens"
	"github.com/user/flowchat/internal/types"
	"github.com/user/flowchat/pkg/workflow"
)

// PageFetcher renders a workflow link as text.
type PageFetcher interface {
	Page(ctx context.Context, link string) (string, error)
}

// Controller reads questions from in and writes the conversation to out.
type Controller struct {
	session *chat.Session
	pages   PageFetcher
	budget  *tokens.Budget
	in      io.Reader
	out     io.Writer
	lastErr error
}

// New creates a controller around a fresh session. pages and budget may be
// nil.
func New(provider workflow.Provider, pages PageFetcher, budget *tokens.Budget, in io.Reader, out io.Writer, opts ...chat.Option) *Controller {
	c := &Controller{
		pages:  pages,
		budget: budget,
		in:     in,
		out:    out,
	}
	opts = append(opts, chat.WithObserver(c.render))
	c.session = chat.New(provider, opts...)
	return c
}

func (c *Controller) Session() *chat.Session { return c.session }

// LastError returns the error currently shown to the user, if any.
func (c *Controller) LastError() error { return c.lastErr }

// Run loops until EOF, /quit or ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	fmt.Fprintln(c.out, "Ask about automation workflows. Type /help for commands.")
	for {
		if c.lastErr != nil {
			fmt.Fprint(c.out, "(!) ")
		}
		fmt.Fprint(c.out, "you> ")
		if !scanner.Scan() {
			fmt.Fprintln(c.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := c.command(ctx, line); quit {
				return nil
			}
			continue
		}

		if err := c.Ask(ctx, line); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Ask runs one turn. Errors are shown to the user and returned.
func (c *Controller) Ask(ctx context.Context, text string) error {
	if err := c.budget.Check(text); err != nil {
		c.surface(err)
		return err
	}
	c.lastErr = nil
	if err := c.session.Send(ctx, text); err != nil {
		c.surface(err)
		return err
	}
	return nil
}

func (c *Controller) command(ctx context.Context, line string) (quit bool) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true

	case "/help":
		fmt.Fprintln(c.out, "/open N   show the N-th workflow of the last answer")
		fmt.Fprintln(c.out, "/clear    dismiss the last error")
		fmt.Fprintln(c.out, "/status   show session state")
		fmt.Fprintln(c.out, "/quit     leave")

	case "/clear":
		c.lastErr = nil

	case "/status":
		fmt.Fprintf(c.out, "session %s: %d messages, %s\n",
			c.session.ID(), len(c.session.Messages()), c.session.State())
		if c.lastErr != nil {
			fmt.Fprintf(c.out, "last error: %v\n", c.lastErr)
		}

	case "/open":
		if len(fields) != 2 {
			fmt.Fprintln(c.out, "usage: /open N")
			return false
		}
		if err := c.open(ctx, fields[1]); err != nil {
			c.surface(err)
		}

	default:
		fmt.Fprintf(c.out, "unknown command %s, try /help\n", fields[0])
	}
	return false
}

func (c *Controller) open(ctx context.Context, arg string) error {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return fmt.Errorf("invalid workflow number %q", arg)
	}
	last, ok := c.session.LastAssistant()
	if !ok || n > len(last.Workflows) {
		return fmt.Errorf("no workflow %d in the last answer", n)
	}
	if c.pages == nil {
		return errors.New("page fetching is not available")
	}
	ref := last.Workflows[n-1]
	page, err := c.pages.Page(ctx, ref.Link)
	if err != nil {
		return fmt.Errorf("open %s: %w", ref.Name, err)
	}
	fmt.Fprintf(c.out, "# %s\n%s\n\n%s\n", ref.Name, ref.Link, page)
	return nil
}

func (c *Controller) surface(err error) {
	c.lastErr = err
	var ferr *workflow.FallbackError
	switch {
	case errors.As(err, &ferr):
		fmt.Fprintf(c.out, "error: %v\n", ferr.Err)
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(c.out, "cancelled")
	default:
		fmt.Fprintf(c.out, "error: %v\n", err)
	}
}

// render runs on the goroutine inside Send after every session update.
func (c *Controller) render(u chat.Update) {
	switch u.Kind {
	case chat.UpdateAppended:
		if u.Message.Role == types.RoleAssistant {
			fmt.Fprint(c.out, "flowchat> ")
		}

	case chat.UpdateChanged:
		if u.Delta != "" {
			fmt.Fprint(c.out, u.Delta)
		}
		if u.State == chat.StateFinalized {
			fmt.Fprintln(c.out)
			c.printWorkflows(u.Message.Workflows)
		}

	case chat.UpdateState:
		if u.State == chat.StateFallbackPending {
			fmt.Fprintln(c.out, "\n[stream interrupted, fetching the full answer]")
		}

	case chat.UpdateReplaced:
		fmt.Fprintln(c.out, u.Message.Content)
		c.printWorkflows(u.Message.Workflows)

	case chat.UpdateRemoved:
		fmt.Fprintln(c.out)
	}
}

func (c *Controller) printWorkflows(refs []workflow.WorkflowRef) {
	if len(refs) == 0 {
		return
	}
	fmt.Fprintln(c.out, "\nWorkflows:")
	for i, ref := range refs {
		fmt.Fprintf(c.out, "  [%d] %s\n", i+1, ref.Name)
		if ref.Description != "" {
			fmt.Fprintf(c.out, "      %s\n", ref.Description)
		}
		fmt.Fprintf(c.out, "      %s\n", ref.Link)
	}
}
