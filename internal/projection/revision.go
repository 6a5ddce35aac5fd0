package projection

import (
	"errors"
	"fmt"

	"github.com/hylla/strom/internal/readmodel"
)

// step decides whether an event at incoming revision applies to a document at current.
// An equal or older event is already reflected; a gap means an earlier event has not
// been projected yet.
func step(kind, id string, current, incoming uint64) (bool, error) {
	switch {
	case current >= incoming:
		return false, nil
	case current+1 == incoming:
		return true, nil
	default:
		return false, fmt.Errorf("%w: %s %s at revision %d, event revision %d", ErrNotCaughtUp, kind, id, current, incoming)
	}
}

// notYet turns a missing document into ErrNotCaughtUp.
func notYet(kind, id string, err error) error {
	if errors.Is(err, readmodel.ErrNotFound) {
		return fmt.Errorf("%w: %s %s not projected", ErrNotCaughtUp, kind, id)
	}
	return err
}

// swapped checks the outcome of a conditional update. Zero rows means another
// writer moved the document first.
func swapped(kind, id string, ok bool, err error) error {
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s %s changed concurrently", ErrNotCaughtUp, kind, id)
	}
	return nil
}
