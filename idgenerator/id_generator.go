package idgenerator

import "sync/atomic"

// IdGenerator hands out monotonically increasing uint64 ids and is safe for
// concurrent use. The zero value is ready and starts at 1, leaving 0 free to
// mean "no id".
type IdGenerator struct {
	id atomic.Uint64
}

// NewIdGenerator returns a generator whose first Id is startValue+1.
//
// Parameters:
//   - startValue: Initial counter value
//
// Returns:
//   - A new IdGenerator instance
func NewIdGenerator(startValue uint64) *IdGenerator {
	gen := &IdGenerator{}
	gen.id.Store(startValue)
	return gen
}

// Id returns the next id.
func (g *IdGenerator) Id() uint64 {
	return g.id.Add(1)
}
