// context.go - Ausfuehrungskontext fuer CPU-Operatoren
// Hauptfunktionen: NewContext, parallel
package ml

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Context legt fest, wie viele Goroutinen ein Operator nutzen darf
type Context struct {
	threads int
}

// NewContext erstellt einen Kontext; threads <= 0 nutzt alle CPUs
func NewContext(threads int) *Context {
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	return &Context{threads: threads}
}

// Threads gibt die konfigurierte Thread-Anzahl zurueck
func (c *Context) Threads() int {
	return c.threads
}

// parallel teilt [0, n) in zusammenhaengende Bloecke und bearbeitet sie nebenlaeufig
func (c *Context) parallel(n int, fn func(lo, hi int)) {
	if n <= 0 {
		return
	}

	workers := min(c.threads, n)
	if workers <= 1 {
		fn(0, n)
		return
	}

	chunk := (n + workers - 1) / workers
	var g errgroup.Group
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			fn(lo, hi)
			return nil
		})
	}
	_ = g.Wait()
}
