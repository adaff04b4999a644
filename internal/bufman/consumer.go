package bufman

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/randomizedcoder/go-daq-bufman/internal/mailbox"
	"github.com/randomizedcoder/go-daq-bufman/internal/ring"
)

// Mode selects how the dispatcher answers a consumer request.
type Mode int

const (
	// PointerRef returns the slot's own buffer. The dispatcher holds the
	// slot until the consumer's next request. Obligatory.
	PointerRef Mode = iota

	// DataCopy returns a private copy. Not obligatory.
	DataCopy

	// ObligatoryCopy returns a private copy and is still waited for.
	ObligatoryCopy
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case PointerRef:
		return "pointer"
	case DataCopy:
		return "copy"
	case ObligatoryCopy:
		return "obligatory-copy"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m >= PointerRef && m <= ObligatoryCopy
}

// Obligatory reports whether the dispatcher waits for consumers in mode m.
func (m Mode) Obligatory() bool {
	return m == PointerRef || m == ObligatoryCopy
}

// ParseMode accepts the names returned by Mode.String and the numeric
// codes 0, 1 and 2.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pointer", "ptr", "0":
		return PointerRef, nil
	case "copy", "1":
		return DataCopy, nil
	case "obligatory-copy", "obligatory", "2":
		return ObligatoryCopy, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// ConsumerID identifies a registration. Local and external consumers are
// numbered independently.
type ConsumerID int

// Event is one delivered frame. In PointerRef mode Data aliases the ring
// slot and is valid only until the consumer's next request.
type Event struct {
	ring.Frame
	Mode Mode
}

type registration struct {
	id        ConsumerID
	requests  *mailbox.Cell[Mode]
	responses *mailbox.Cell[Event]
	served    atomic.Uint64
}

// Register allocates a request/response mailbox pair for an in-process
// consumer.
func (m *Manager) Register() (ConsumerID, error) {
	if m.State() == StateEnded {
		return 0, ErrManagerEnded
	}

	m.regMu.Lock()
	defer m.regMu.Unlock()

	if m.regClosed {
		return 0, ErrManagerEnded
	}
	if len(m.locals)+len(m.externals) >= m.cfg.MaxConsumers {
		return 0, ErrTooManyConsumers
	}
	r := &registration{
		id:        ConsumerID(len(m.locals)),
		requests:  mailbox.New[Mode](),
		responses: mailbox.New[Event](),
	}
	m.locals = append(m.locals, r)
	m.logger.Debug("consumer_registered", "consumer", r.id)
	return r.id, nil
}

func (m *Manager) lookup(id ConsumerID) (*registration, error) {
	m.regMu.Lock()
	defer m.regMu.Unlock()
	if id < 0 || int(id) >= len(m.locals) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownConsumer, id)
	}
	return m.locals[id], nil
}

// Request posts mode into the consumer's request mailbox without waiting.
// A request that the dispatcher has not yet picked up is replaced: the
// latest request wins.
//
// For an obligatory consumer, posting the next request is what tells the
// dispatcher the previous frame is no longer needed.
func (m *Manager) Request(id ConsumerID, mode Mode) error {
	if !mode.Valid() {
		m.logger.Error("invalid_request_mode",
			"consumer", id,
			"mode", int(mode),
			"fatal", true,
		)
		return fmt.Errorf("%w: %d", ErrInvalidMode, int(mode))
	}

	r, err := m.lookup(id)
	if err != nil {
		return err
	}
	replaced, err := r.requests.Overwrite(mode)
	if err != nil {
		return ErrManagerEnded
	}
	if replaced {
		m.logger.Debug("request_replaced", "consumer", id, "mode", mode.String())
	}

	select {
	case m.reqNotify <- struct{}{}:
	default:
	}
	return nil
}

// Await blocks until the consumer's response mailbox holds an event.
func (m *Manager) Await(ctx context.Context, id ConsumerID) (Event, error) {
	r, err := m.lookup(id)
	if err != nil {
		return Event{}, err
	}
	ev, err := r.responses.Take(ctx)
	if errors.Is(err, mailbox.ErrClosed) {
		return Event{}, ErrManagerEnded
	}
	return ev, err
}

// GetEvent posts a request and waits for the response. It returns
// ErrManagerEnded if the manager ends first.
func (m *Manager) GetEvent(ctx context.Context, id ConsumerID, mode Mode) (Event, error) {
	if err := m.Request(id, mode); err != nil {
		return Event{}, err
	}
	return m.Await(ctx, id)
}

// Served returns how many responses consumer id has been given.
func (m *Manager) Served(id ConsumerID) uint64 {
	r, err := m.lookup(id)
	if err != nil {
		return 0
	}
	return r.served.Load()
}

// ExternalChannel is a best-effort delivery slot for a consumer outside
// the dispatcher's control. The dispatcher fills it only when empty and
// never waits for it.
type ExternalChannel struct {
	id      ConsumerID
	cell    *mailbox.Cell[Event]
	skipped atomic.Uint64
}

// ID returns the channel's id.
func (c *ExternalChannel) ID() ConsumerID {
	return c.id
}

// Receive blocks until a snapshot is available.
func (c *ExternalChannel) Receive(ctx context.Context) (Event, error) {
	ev, err := c.cell.Take(ctx)
	if errors.Is(err, mailbox.ErrClosed) {
		return Event{}, ErrManagerEnded
	}
	return ev, err
}

// TryReceive returns a pending snapshot without blocking.
func (c *ExternalChannel) TryReceive() (Event, bool) {
	return c.cell.TryTake()
}

// Stats returns delivery counters.
func (c *ExternalChannel) Stats() mailbox.Stats {
	return c.cell.Stats()
}

// Skipped returns how many frames were not offered because the previous
// snapshot was still unread.
func (c *ExternalChannel) Skipped() uint64 {
	return c.skipped.Load()
}

// RegisterExternal allocates a best-effort channel.
func (m *Manager) RegisterExternal() (ConsumerID, *ExternalChannel, error) {
	if m.State() == StateEnded {
		return 0, nil, ErrManagerEnded
	}

	m.regMu.Lock()
	defer m.regMu.Unlock()

	if m.regClosed {
		return 0, nil, ErrManagerEnded
	}
	if len(m.locals)+len(m.externals) >= m.cfg.MaxConsumers {
		return 0, nil, ErrTooManyConsumers
	}
	c := &ExternalChannel{
		id:   ConsumerID(len(m.externals)),
		cell: mailbox.New[Event](),
	}
	m.externals = append(m.externals, c)
	m.logger.Debug("external_registered", "consumer", c.id)
	return c.id, c, nil
}

// Consumers returns the number of local and external registrations.
func (m *Manager) Consumers() (local, external int) {
	m.regMu.Lock()
	defer m.regMu.Unlock()
	return len(m.locals), len(m.externals)
}

func (m *Manager) snapshotRegistrations() ([]*registration, []*ExternalChannel) {
	m.regMu.Lock()
	defer m.regMu.Unlock()
	return m.locals[:len(m.locals):len(m.locals)], m.externals[:len(m.externals):len(m.externals)]
}

// closeMailboxes wakes every consumer blocked on the manager.
func (m *Manager) closeMailboxes() {
	m.regMu.Lock()
	m.regClosed = true
	m.regMu.Unlock()

	locals, externals := m.snapshotRegistrations()
	for _, r := range locals {
		r.requests.Close()
		r.responses.Close()
	}
	for _, c := range externals {
		c.cell.Close()
	}
}
