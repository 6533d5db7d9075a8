package loader

import (
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

var (
	// ErrNotFound is returned by natural key lookups that match no row.
	ErrNotFound = errors.New("no row matches the natural key", j.C("ERR_8c1f3a7e2d94b06a"))
	// ErrAmbiguous is returned by natural key lookups and targeted updates
	// that match more than one row.
	ErrAmbiguous = errors.New("multiple rows match the natural key", j.C("ERR_4b7d91c0e53a28f6"))
	// ErrConflict is returned when a write violates a uniqueness or foreign
	// key constraint.
	ErrConflict = errors.New("write violates a storage constraint", j.C("ERR_d2e85f13c6a79b40"))
	// ErrConnLost is returned when the storage connection is unusable and
	// could not be re-established within the retry bound. It is the only
	// error that terminates the loader.
	ErrConnLost = errors.New("storage connection lost", j.C("ERR_19fa6c84b3d07e52"))
	// ErrUnhandledEvent is logged when a record carries an event tag with no
	// registered handler.
	ErrUnhandledEvent = errors.New("no handler for event type", j.C("ERR_7e20d4a8f1c5b963"))
	// ErrUnmappableField is logged when a record field cannot be assigned to
	// the target entity. The field is dropped, the record survives.
	ErrUnmappableField = errors.New("unable to assign record field", j.C("ERR_a65b0e92d48c317f"))
)
