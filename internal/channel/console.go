package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

const (
	ConsoleID           = "console"
	ConsoleConversation = "local"
)

// Console reads one utterance per line from in and writes replies and
// notifications to out.
type Console struct {
	in     io.Reader
	out    io.Writer
	prefix string

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
}

func NewConsole(in io.Reader, out io.Writer, mentionPrefix string) *Console {
	return &Console{in: in, out: out, prefix: mentionPrefix, done: make(chan struct{})}
}

func (c *Console) ID() string { return ConsoleID }

func (c *Console) Start(ctx context.Context, inbox chan<- InboundMessage) error {
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			text, ok := StripMention(c.prefix, scanner.Text())
			if !ok {
				continue
			}
			msg := InboundMessage{
				ChannelID:      ConsoleID,
				ConversationID: ConsoleConversation,
				SenderID:       "operator",
				Content:        text,
				Timestamp:      time.Now(),
			}
			select {
			case inbox <- msg:
			case <-ctx.Done():
				return
			case <-c.done:
				return
			}
		}
	}()
	return nil
}

func (c *Console) Send(_ context.Context, msg OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return fmt.Errorf("console closed")
	}
	_, err := fmt.Fprintf(c.out, "panelpilot> %s\n", msg.Content)
	return err
}

func (c *Console) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopped {
		c.stopped = true
		close(c.done)
	}
	return nil
}
