// Package ident issues process-local identifiers.
package ident

import "sync/atomic"

// Generator hands out strictly increasing ids for one entity kind.
// Ids are not persisted and never reused within a process.
type Generator struct {
	last atomic.Int64
}

// New returns a generator whose first id is base.
func New(base int64) *Generator {
	g := &Generator{}
	g.last.Store(base - 1)
	return g
}

// Next returns the next id.
func (g *Generator) Next() int64 {
	return g.last.Add(1)
}
