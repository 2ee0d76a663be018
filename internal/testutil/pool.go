package testutil

import (
	"testing"

	"github.com/roach88/deltapivot/internal/pool"
)

// NewPool creates a pool with a fixed id that shuts down with the test.
// Options are applied after the id generator.
func NewPool(t testing.TB, id string, opts ...pool.Option) *pool.Pool {
	t.Helper()
	p := pool.New(append([]pool.Option{pool.WithIDGenerator(pool.NewFixedGenerator(id))}, opts...)...)
	t.Cleanup(p.Shutdown)
	return p
}
