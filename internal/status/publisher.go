package status

import (
	"sync"
	"sync/atomic"
)

// Publisher hands snapshots from the single writer to any number of
// readers. Latest is lock-free; subscribers receive every snapshot over a
// buffered channel and miss snapshots when they fall behind.
type Publisher struct {
	latest atomic.Pointer[Snapshot]

	mu     sync.RWMutex
	subs   map[int]chan *Snapshot
	nextID int
	closed bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewPublisher returns an empty publisher.
func NewPublisher() *Publisher {
	return &Publisher{subs: make(map[int]chan *Snapshot)}
}

// Publish makes s the latest snapshot and fans it out. The caller must not
// modify s afterwards.
func (p *Publisher) Publish(s *Snapshot) {
	if s == nil {
		return
	}
	p.latest.Store(s)
	p.published.Add(1)

	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.subs {
		select {
		case ch <- s:
		default:
			p.dropped.Add(1)
		}
	}
}

// Latest returns the most recent snapshot, or nil before the first cycle.
func (p *Publisher) Latest() *Snapshot {
	return p.latest.Load()
}

// Subscribe registers a subscriber with the given buffer. The returned
// cancel func unregisters it and closes the channel; it is safe to call
// more than once.
func (p *Publisher) Subscribe(buffer int) (<-chan *Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan *Snapshot, buffer)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := p.nextID
	p.nextID++
	p.subs[id] = ch
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			if c, ok := p.subs[id]; ok {
				delete(p.subs, id)
				close(c)
			}
			p.mu.Unlock()
		})
	}
}

// Close unregisters and closes every subscriber channel. Later Subscribe
// calls get an already-closed channel.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
}

// Stats reports publish totals.
type Stats struct {
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

func (p *Publisher) Stats() Stats {
	p.mu.RLock()
	n := len(p.subs)
	p.mu.RUnlock()
	return Stats{
		Published:   p.published.Load(),
		Dropped:     p.dropped.Load(),
		Subscribers: n,
	}
}
