// Package balancer picks the next chip for a unit of work.
package balancer

import (
	"errors"

	"chipsend/internal/session"
)

// ErrNoSessionsAvailable is returned when the ready set is empty.
var ErrNoSessionsAvailable = errors.New("no sessions available")

// Pool is the slice of the registry the balancer needs.
type Pool interface {
	ListReady() []*session.Chip
}

// RoundRobin walks ready chips in display order, skipping non-ready ones.
//
// It holds no lock: the orchestrator drives one dispatch at a time. Callers
// must not issue concurrent Next()-based sends against the same chip without
// external coordination.
type RoundRobin struct {
	pool   Pool
	cursor int
}

func New(pool Pool) *RoundRobin {
	return &RoundRobin{pool: pool}
}

// Next returns one ready chip, deterministic round-robin over the ready set.
func (b *RoundRobin) Next() (*session.Chip, error) {
	ready := b.pool.ListReady() // already sorted by display order
	if len(ready) == 0 {
		return nil, ErrNoSessionsAvailable
	}
	chip := ready[b.cursor%len(ready)]
	b.cursor++
	return chip, nil
}
