package modal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

type line struct {
	text string
	err  error
}

// ConsoleInput asks the user on a text terminal.
//
// Lines typed before a prompt appears answer it in order. Once a prompt is
// interrupted, lines typed before the next prompt starts are discarded so a
// late answer to the abandoned prompt never answers the next one.
type ConsoleInput struct {
	in  io.Reader
	out io.Writer

	once   sync.Once
	mu     sync.Mutex
	queue  []string
	waiter chan line
	stale  bool
	err    error
}

// NewConsoleInput reads answers from in and writes dialogs to out.
func NewConsoleInput(in io.Reader, out io.Writer) *ConsoleInput {
	return &ConsoleInput{in: in, out: out}
}

func (c *ConsoleInput) scan() {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		c.deliver(scanner.Text())
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
	if c.waiter != nil {
		c.waiter <- line{err: err}
		c.waiter = nil
	}
}

func (c *ConsoleInput) deliver(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.waiter != nil:
		c.waiter <- line{text: text}
		c.waiter = nil
	case c.stale:
		// A late answer to an interrupted prompt.
	default:
		c.queue = append(c.queue, text)
	}
}

func (c *ConsoleInput) readLine(ctx context.Context) (string, error) {
	c.once.Do(func() { go c.scan() })

	c.mu.Lock()
	c.stale = false
	if len(c.queue) > 0 {
		text := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()
		return strings.TrimRight(text, "\r"), nil
	}
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return "", err
	}
	// Buffered so deliver never blocks while holding mu.
	waiter := make(chan line, 1)
	c.waiter = waiter
	c.mu.Unlock()

	select {
	case l := <-waiter:
		return strings.TrimRight(l.text, "\r"), l.err
	case <-ctx.Done():
		c.mu.Lock()
		if c.waiter == waiter {
			c.waiter = nil
		}
		c.stale = true
		c.mu.Unlock()
		return "", fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err())
	}
}

// PromptAlert shows message and waits for Enter.
func (c *ConsoleInput) PromptAlert(ctx context.Context, title, message string) error {
	fmt.Fprintf(c.out, "[%s] %s\nPress Enter to continue...", title, message)
	_, err := c.readLine(ctx)
	if err == io.EOF {
		return nil
	}
	return err
}

// PromptConfirm accepts y or yes. Anything else, including end of input, cancels.
func (c *ConsoleInput) PromptConfirm(ctx context.Context, title, message string) (bool, error) {
	fmt.Fprintf(c.out, "[%s] %s [y/N]: ", title, message)
	text, err := c.readLine(ctx)
	if err == io.EOF {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(text))
	return answer == "y" || answer == "yes", nil
}

// PromptInput returns the typed line, or defaultValue for an empty line. End
// of input cancels and returns nil.
func (c *ConsoleInput) PromptInput(ctx context.Context, title, message string, defaultValue *string) (*string, error) {
	if defaultValue != nil {
		fmt.Fprintf(c.out, "[%s] %s [%s]: ", title, message, *defaultValue)
	} else {
		fmt.Fprintf(c.out, "[%s] %s: ", title, message)
	}

	text, err := c.readLine(ctx)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if text == "" && defaultValue != nil {
		value := *defaultValue
		return &value, nil
	}
	return &text, nil
}

// HeadlessInput answers every interaction without a user.
type HeadlessInput struct {
	// AcceptConfirm is the answer given to confirm interactions.
	AcceptConfirm bool
	// PromptValue answers prompts. When nil the prompt's default value is
	// used, and a prompt without one is cancelled.
	PromptValue *string
}

func (h HeadlessInput) PromptAlert(ctx context.Context, title, message string) error {
	return nil
}

func (h HeadlessInput) PromptConfirm(ctx context.Context, title, message string) (bool, error) {
	return h.AcceptConfirm, nil
}

func (h HeadlessInput) PromptInput(ctx context.Context, title, message string, defaultValue *string) (*string, error) {
	if h.PromptValue != nil {
		value := *h.PromptValue
		return &value, nil
	}
	if defaultValue != nil {
		value := *defaultValue
		return &value, nil
	}
	return nil, nil
}

var (
	_ InputService = (*ConsoleInput)(nil)
	_ InputService = HeadlessInput{}
)
