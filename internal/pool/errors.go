package pool

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolClosed is returned by Submit and RegisterSource after Shutdown.
	ErrPoolClosed = errors.New("pool: closed")
	// ErrUnknownSource is returned by Submit for an id that is not registered.
	ErrUnknownSource = errors.New("pool: unknown source")
)

// SourceError reports a source whose Process failed during a round.
type SourceError struct {
	SourceID SourceID
	Name     string
	Epoch    uint64
	Err      error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %d (%s) failed in epoch %d: %v", e.SourceID, e.Name, e.Epoch, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// FailedSources returns the ids of every source that failed in err, which
// may be a joined round error.
func FailedSources(err error) []SourceID {
	var ids []SourceID
	var walk func(error)
	walk = func(err error) {
		switch e := err.(type) {
		case nil:
		case *SourceError:
			ids = append(ids, e.SourceID)
		case interface{ Unwrap() []error }:
			for _, inner := range e.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(e.Unwrap())
		}
	}
	walk(err)
	return ids
}
