// Package bus carries worker → page messages. Delivery is fire-and-forget:
// there are no acknowledgements, and a message sent while no page is open is
// dropped.
package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Kind is the message type.
type Kind int

const (
	// PriceUpdate tells a page about a price the worker observed.
	PriceUpdate Kind = iota + 1
	// CheckThresholds asks a page to evaluate and dispatch for price.
	CheckThresholds
)

func (k Kind) String() string {
	switch k {
	case PriceUpdate:
		return "PRICE_UPDATE"
	case CheckThresholds:
		return "CHECK_THRESHOLDS"
	default:
		return "UNKNOWN"
	}
}

// Message is one page-bound message.
type Message struct {
	ID     string
	Kind   Kind
	Price  decimal.Decimal
	SentAt time.Time
}

// NewMessage stamps a message with a fresh id.
func NewMessage(kind Kind, price decimal.Decimal) Message {
	return Message{ID: uuid.NewString(), Kind: kind, Price: price, SentAt: time.Now()}
}

// Client is an open page as seen from the worker.
type Client interface {
	ID() string
	// Deliver must not block.
	Deliver(msg Message)
	// Focus brings the page to the front.
	Focus() error
}

// Bus tracks open pages in registration order.
type Bus struct {
	mu      sync.RWMutex
	clients []Client
	logger  zerolog.Logger
}

// New constructs an empty bus.
func New(logger zerolog.Logger) *Bus {
	return &Bus{logger: logger.With().Str("component", "bus").Logger()}
}

// NewClientID returns an id for a new page.
func NewClientID() string {
	return uuid.NewString()
}

// Register adds c and returns a func that removes it.
func (b *Bus) Register(c Client) func() {
	b.mu.Lock()
	b.clients = append(b.clients, c)
	b.mu.Unlock()
	b.logger.Debug().Str("client", c.ID()).Msg("client registered")

	var once sync.Once
	return func() {
		once.Do(func() { b.unregister(c.ID()) })
	}
}

func (b *Bus) unregister(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, c := range b.clients {
		if c.ID() == id {
			b.clients = append(b.clients[:i:i], b.clients[i+1:]...)
			b.logger.Debug().Str("client", id).Msg("client unregistered")
			return
		}
	}
}

// Clients returns a snapshot of the open pages.
func (b *Bus) Clients() []Client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Client, len(b.clients))
	copy(out, b.clients)
	return out
}

// Broadcast delivers msg to every open page and returns how many got it.
func (b *Bus) Broadcast(msg Message) int {
	clients := b.Clients()
	for _, c := range clients {
		c.Deliver(msg)
	}
	if len(clients) == 0 {
		b.logger.Debug().Str("kind", msg.Kind.String()).Msg("no open pages; message dropped")
	}
	return len(clients)
}

// PostFirst delivers msg to the first open page only.
func (b *Bus) PostFirst(msg Message) bool {
	clients := b.Clients()
	if len(clients) == 0 {
		b.logger.Debug().Str("kind", msg.Kind.String()).Msg("no open pages; message dropped")
		return false
	}
	clients[0].Deliver(msg)
	return true
}
