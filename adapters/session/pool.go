package session

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/artpar/apikit/ports"
)

// Pool holds named sessions shared by many gateways.
type Pool struct {
	mu       sync.RWMutex
	sessions map[string]ports.Session
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{sessions: make(map[string]ports.Session)}
}

// Get returns the session registered under name.
func (p *Pool) Get(name string) (ports.Session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.sessions[name]
	return s, ok
}

// Register stores s under name, replacing any previous session.
func (p *Pool) Register(name string, s ports.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[name] = s
}

// Names returns the registered names in sorted order.
func (p *Pool) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.sessions))
	for n := range p.sessions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Close closes every session that implements io.Closer and empties the pool.
func (p *Pool) Close() error {
	p.mu.Lock()
	sessions := p.sessions
	p.sessions = make(map[string]ports.Session)
	p.mu.Unlock()

	var errs []error
	for name, s := range sessions {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close session %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}
