package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/tvremote/internal/protocol/wire"
)

var ErrPendingClosed = errors.New("session: pending table closed")

// Outcome is delivered to a waiter exactly once. Value carries whatever
// the reader decoded from the reply; Err is a fault or a terminal error.
type Outcome struct {
	Reply wire.Envelope
	Value any
	Err   error
}

// Waiter is one outstanding request.
type Waiter struct {
	ID       uint64
	Kind     wire.MessageType
	QueuedAt time.Time
	done     chan Outcome
}

// Done delivers the single outcome.
func (w *Waiter) Done() <-chan Outcome {
	return w.done
}

// PendingInfo is a snapshot row for diagnostics.
type PendingInfo struct {
	ID       uint64
	Kind     wire.MessageType
	QueuedAt time.Time
}

// PendingTable maps correlation ids to waiters. Once FailAll runs the table
// refuses new waiters, so nothing registered after teardown can hang.
type PendingTable struct {
	mu     sync.Mutex
	items  map[uint64]*Waiter
	closed error
}

func NewPendingTable() *PendingTable {
	return &PendingTable{
		items: make(map[uint64]*Waiter),
	}
}

func (p *PendingTable) Add(id uint64, kind wire.MessageType, now time.Time) (*Waiter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed != nil {
		return nil, p.closed
	}
	w := &Waiter{ID: id, Kind: kind, QueuedAt: now, done: make(chan Outcome, 1)}
	p.items[id] = w
	return w, nil
}

// Resolve hands out to the waiter registered under id. It returns false
// for a stale reply whose waiter is gone.
func (p *PendingTable) Resolve(id uint64, out Outcome) (*Waiter, bool) {
	p.mu.Lock()
	w, ok := p.items[id]
	if ok {
		delete(p.items, id)
	}
	p.mu.Unlock()
	if !ok {
		return nil, false
	}
	w.done <- out
	return w, true
}

// Remove forgets a waiter whose caller gave up (context cancelled).
func (p *PendingTable) Remove(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.items, id)
}

// FailAll completes every waiter with err and closes the table.
func (p *PendingTable) FailAll(err error) int {
	if err == nil {
		err = ErrPendingClosed
	}
	p.mu.Lock()
	items := p.items
	p.items = make(map[uint64]*Waiter)
	if p.closed == nil {
		p.closed = err
	}
	p.mu.Unlock()

	for _, w := range items {
		w.done <- Outcome{Err: err}
	}
	return len(items)
}

func (p *PendingTable) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

func (p *PendingTable) List() []PendingInfo {
	p.mu.Lock()
	out := make([]PendingInfo, 0, len(p.items))
	for _, w := range p.items {
		out = append(out, PendingInfo{ID: w.ID, Kind: w.Kind, QueuedAt: w.QueuedAt})
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}
