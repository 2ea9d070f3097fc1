// Package lock provides the mutual exclusion that point mutations run under.
//
// A Locker hands out a critical section for a user id. Global serializes every caller
// regardless of user; PerUser serializes callers of the same user only. Both honour
// context cancellation while waiting: a caller whose ctx ends before it gets the
// section receives ctx.Err() and holds nothing.
package lock

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

type Mode string

const (
	ModeGlobal  Mode = "global"
	ModePerUser Mode = "per_user"
)

type Locker interface {
	// Lock blocks until the caller owns the section for userID or ctx is done.
	// The returned func releases the section and must be called exactly once.
	Lock(ctx context.Context, userID int64) (unlock func(), err error)
	Mode() Mode
}

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeGlobal:
		return ModeGlobal, nil
	case ModePerUser, "":
		return ModePerUser, nil
	default:
		return "", fmt.Errorf("lock: unknown mode %q", s)
	}
}

func New(m Mode) Locker {
	if m == ModeGlobal {
		return NewGlobal()
	}
	return NewPerUser()
}

// ----------------- global -----------------

type Global struct {
	sem *semaphore.Weighted
}

func NewGlobal() *Global { return &Global{sem: semaphore.NewWeighted(1)} }

func (g *Global) Mode() Mode { return ModeGlobal }

func (g *Global) Lock(ctx context.Context, _ int64) (func(), error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { g.sem.Release(1) }, nil
}

// ----------------- per user -----------------

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// PerUser keeps one semaphore per user id. Entries are created on first use and
// dropped once no caller holds or waits on them, so the table stays bounded by the
// number of users with in-flight mutations.
type PerUser struct {
	mu      sync.Mutex
	entries map[int64]*entry
}

func NewPerUser() *PerUser { return &PerUser{entries: make(map[int64]*entry)} }

func (p *PerUser) Mode() Mode { return ModePerUser }

func (p *PerUser) Lock(ctx context.Context, userID int64) (func(), error) {
	p.mu.Lock()
	e, ok := p.entries[userID]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		p.entries[userID] = e
	}
	e.refs++
	p.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		p.release(userID, e)
		return nil, err
	}
	return func() {
		e.sem.Release(1)
		p.release(userID, e)
	}, nil
}

func (p *PerUser) release(userID int64, e *entry) {
	p.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(p.entries, userID)
	}
	p.mu.Unlock()
}

// Len reports how many user entries are live.
func (p *PerUser) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
