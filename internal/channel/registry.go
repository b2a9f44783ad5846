package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opentalon/panelpilot/internal/origin"
)

// conversationIdle is how long a conversation worker waits for another
// message before it exits.
const conversationIdle = 5 * time.Minute

// MessageHandler turns an inbound message into the reply for its
// conversation.
type MessageHandler func(ctx context.Context, msg InboundMessage) (OutboundMessage, error)

// Registry manages channel lifecycle, dispatches inbound messages to the
// handler and routes replies and notifications back to their channel.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
	handler  MessageHandler
	logger   *slog.Logger
	idle     time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRegistry(handler MessageHandler, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		channels: make(map[string]Channel),
		handler:  handler,
		logger:   logger.With("component", "channels"),
		idle:     conversationIdle,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (r *Registry) Register(ch Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := ch.ID()
	if _, exists := r.channels[id]; exists {
		return fmt.Errorf("channel %q already registered", id)
	}
	r.channels[id] = ch

	inbox := make(chan InboundMessage, 64)
	if err := ch.Start(r.ctx, inbox); err != nil {
		delete(r.channels, id)
		return fmt.Errorf("starting channel %q: %w", id, err)
	}

	r.wg.Add(1)
	go r.dispatch(ch, inbox)
	r.logger.Info("channel started", "channel", id)
	return nil
}

func (r *Registry) Get(id string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	return ch, ok
}

// Send routes an outbound message to a specific channel.
func (r *Registry) Send(ctx context.Context, channelID string, msg OutboundMessage) error {
	r.mu.RLock()
	ch, ok := r.channels[channelID]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("channel %q not found", channelID)
	}
	return ch.Send(ctx, msg)
}

// Notify implements provision.Notifier.
func (r *Registry) Notify(ctx context.Context, to origin.Origin, text string) error {
	if to.IsZero() {
		return fmt.Errorf("notification without a destination")
	}
	return r.Send(ctx, to.Channel, OutboundMessage{ConversationID: to.Conversation, Content: text})
}

// StopAll shuts down every registered channel and waits for the
// dispatchers to return.
func (r *Registry) StopAll() {
	r.cancel()

	r.mu.RLock()
	channels := make([]Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		channels = append(channels, ch)
	}
	r.mu.RUnlock()

	for _, ch := range channels {
		if err := ch.Stop(); err != nil {
			r.logger.Warn("stopping channel", "channel", ch.ID(), "error", err)
		}
	}
	r.wg.Wait()
}

// conversation is the worker queue for one conversation of a channel.
type conversation struct {
	id    string
	queue chan InboundMessage
}

// dispatch routes a channel's messages to one worker per conversation.
// Messages of a conversation are handled in arrival order; conversations
// do not wait for each other.
func (r *Registry) dispatch(ch Channel, inbox <-chan InboundMessage) {
	defer r.wg.Done()

	workers := make(map[string]*conversation)
	idle := make(chan *conversation)
	for {
		select {
		case <-r.ctx.Done():
			return
		case c := <-idle:
			// Only dispatch sends on c.queue, so an empty queue stays empty.
			if len(c.queue) == 0 && workers[c.id] == c {
				delete(workers, c.id)
				close(c.queue)
			}
		case msg, ok := <-inbox:
			if !ok {
				return
			}
			if msg.ChannelID == "" {
				msg.ChannelID = ch.ID()
			}
			c, exists := workers[msg.ConversationID]
			if !exists {
				c = &conversation{id: msg.ConversationID, queue: make(chan InboundMessage, 16)}
				workers[c.id] = c
				r.wg.Add(1)
				go r.converse(ch, c, idle)
			}
			select {
			case c.queue <- msg:
			case <-r.ctx.Done():
				return
			}
		}
	}
}

// converse handles one conversation's messages until its queue is closed
// after an idle period or the registry stops.
func (r *Registry) converse(ch Channel, c *conversation, idle chan<- *conversation) {
	defer r.wg.Done()

	timer := time.NewTimer(r.idle)
	defer timer.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case msg, ok := <-c.queue:
			if !ok {
				return
			}
			r.handle(ch, msg)
			timer.Reset(r.idle)
		case <-timer.C:
			select {
			case idle <- c:
			case msg, ok := <-c.queue:
				if !ok {
					return
				}
				r.handle(ch, msg)
			case <-r.ctx.Done():
				return
			}
			timer.Reset(r.idle)
		}
	}
}

func (r *Registry) handle(ch Channel, msg InboundMessage) {
	resp, err := r.handler(r.ctx, msg)
	if err != nil {
		r.logger.Error("handling message", "channel", ch.ID(), "conversation", msg.ConversationID, "error", err)
		return
	}
	if err := ch.Send(r.ctx, resp); err != nil {
		r.logger.Warn("sending reply", "channel", ch.ID(), "conversation", msg.ConversationID, "error", err)
	}
}
