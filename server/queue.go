// queue.go - Zulassung von Inferenz-Anfragen
// Enthaelt: admission (Semaphore + Warteschlangen-Limit), ErrMaxQueue

package server

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrMaxQueue wird zurueckgegeben wenn die Warteschlange voll ist
var ErrMaxQueue = errors.New("server busy, please try again.  maximum pending requests exceeded")

// admission begrenzt laufende und wartende Anfragen
type admission struct {
	sem      *semaphore.Weighted
	waiting  atomic.Int64
	maxQueue int64
}

func newAdmission(parallel, maxQueue uint) *admission {
	return &admission{
		sem:      semaphore.NewWeighted(int64(max(parallel, 1))),
		maxQueue: int64(maxQueue),
	}
}

// acquire wartet auf einen freien Platz; release muss genau einmal aufgerufen werden
func (a *admission) acquire(ctx context.Context) (release func(), err error) {
	release = func() { a.sem.Release(1) }
	if a.sem.TryAcquire(1) {
		return release, nil
	}

	if a.waiting.Add(1) > a.maxQueue {
		a.waiting.Add(-1)
		return nil, ErrMaxQueue
	}
	defer a.waiting.Add(-1)

	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return release, nil
}
