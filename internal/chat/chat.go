// Package chat keeps one client's conversation with the comparison
// service.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/smartbot/internal/catalog"
	"github.com/sakif/smartbot/internal/comparison"
)

const (
	Greeting     = "Hello! How can I help you today?"
	ErrorMessage = "Sorry, I had trouble processing that request."
)

// Senders.
const (
	SenderUser = "user"
	SenderAI   = "ai"
)

// ErrBusy is returned when a send is already in flight.
var ErrBusy = errors.New("chat: a request is already in progress")

type Message struct {
	ID         string           `json:"id"`
	Sender     string           `json:"sender"`
	Text       string           `json:"text"`
	Comparison *comparison.Data `json:"comparisonData,omitempty"`
}

// Selection is the membership test for the client's chosen stores.
type Selection interface {
	Has(id string) bool
}

// Conversation is one client's message history. At most one Send runs at
// a time; a second concurrent Send gets ErrBusy.
//
// Reset starts a new generation. A reply that arrives for an older
// generation belongs to whoever was signed in before and is dropped.
type Conversation struct {
	svc     comparison.Service
	catalog *catalog.Catalog
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	messages []Message
	busy     bool
	gen      uint64
}

func NewConversation(svc comparison.Service, cat *catalog.Catalog, timeout time.Duration, logger *slog.Logger) *Conversation {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Conversation{svc: svc, catalog: cat, timeout: timeout, logger: logger}
	c.reset()
	return c
}

// Messages returns a copy of the history, oldest first.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages...)
}

// Reset drops everything but the greeting. A Send still in flight keeps
// running but its reply is discarded.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.busy = false
	c.reset()
}

func (c *Conversation) reset() {
	c.messages = []Message{{ID: "greeting", Sender: SenderAI, Text: Greeting}}
}

// Send records prompt, asks the comparison service about the selected
// stores and records the reply. Blank prompts are ignored and return nil,
// as does a reply dropped because the conversation was reset meanwhile.
// Service failures become an apology message, never an error.
func (c *Conversation) Send(ctx context.Context, prompt string, sel Selection) (*Message, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, nil
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.busy = true
	gen := c.gen
	c.messages = append(c.messages, Message{ID: xid.New().String(), Sender: SenderUser, Text: prompt})
	c.mu.Unlock()

	reply := c.ask(ctx, prompt, c.catalog.Names(sel.Has))

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		c.logger.DebugContext(ctx, "dropping reply for a reset conversation")
		return nil, nil
	}
	c.busy = false
	c.messages = append(c.messages, reply)
	return &reply, nil
}

func (c *Conversation) ask(ctx context.Context, prompt string, stores []string) Message {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	msg := Message{ID: xid.New().String(), Sender: SenderAI}
	res, err := c.svc.GenerateComparison(ctx, prompt, stores)
	if err != nil || res == nil {
		if err != nil {
			c.logger.ErrorContext(ctx, "comparison failed", slog.String("error", err.Error()))
		}
		msg.Text = ErrorMessage
		return msg
	}
	msg.Text = res.Text
	msg.Comparison = res.Data
	return msg
}
