// Package pool owns the fixed set of browser-profile tokens.
//
// A token is one unit of exclusive execution capacity: a job holds exactly
// one token for its whole run, and a token is held by at most one job.
package pool

import (
	"strings"
	"sync"

	logx "scraperd/pkg/logx"
)

// DefaultToken is used when no profile tokens are configured. Running with a
// single synthetic token serializes all browser work.
const DefaultToken = "default"

type Pool struct {
	mu    sync.Mutex
	total map[string]bool
	free  map[string]bool

	log logx.Logger
}

func New(tokens []string, log logx.Logger) *Pool {
	if log.IsZero() {
		log = logx.Nop()
	}

	total := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		total[t] = true
	}
	if len(total) == 0 {
		log.Warn("no profile tokens configured; using a single synthetic token", logx.String("token", DefaultToken))
		total[DefaultToken] = true
	}

	free := make(map[string]bool, len(total))
	for t := range total {
		free[t] = true
	}
	return &Pool{total: total, free: free, log: log}
}

// Acquire removes and returns a free token. It never blocks.
// There is no ordering guarantee: the pool is a set, not a queue.
func (p *Pool) Acquire() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for t := range p.free {
		delete(p.free, t)
		p.log.Debug("token acquired", logx.String("token", t), logx.Int("free", len(p.free)))
		return t, true
	}
	return "", false
}

// Release returns a token to the free set.
//
// Returning an unknown token or double-releasing is a bookkeeping bug
// somewhere upstream; the pool refuses the insert and logs a warning rather
// than corrupting the free-token invariant.
func (p *Pool) Release(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.total[token] {
		p.log.Warn("refusing release of unknown token", logx.String("token", token))
		return
	}
	if p.free[token] {
		p.log.Warn("refusing double release of token", logx.String("token", token))
		return
	}
	p.free[token] = true
	p.log.Debug("token released", logx.String("token", token), logx.Int("free", len(p.free)))
}

// Free returns the number of currently unheld tokens.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Size returns the total pool size.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.total)
}
