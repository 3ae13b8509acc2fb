// Package match selects the record belonging to a lookup key.
package match

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrAmbiguous is returned when more than one record carries the target key.
var ErrAmbiguous = errors.New("ambiguous match")

// Status is the outcome of a resolution.
type Status int

const (
	// NotFound means no record carries the key.
	NotFound Status = iota
	// Found means exactly one record carries the key.
	Found
	// Ambiguous means several records carry the key.
	Ambiguous
)

func (s Status) String() string {
	switch s {
	case NotFound:
		return "not_found"
	case Found:
		return "found"
	case Ambiguous:
		return "ambiguous"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Keyed is a record with a key prefix.
type Keyed interface {
	Key() []byte
}

// Result is the outcome of Resolve. Record is only set when Status is Found.
type Result[T Keyed] struct {
	Status Status
	Record T
	Count  int
}

// Err returns ErrAmbiguous for ambiguous results and nil otherwise.
func (r Result[T]) Err() error {
	if r.Status == Ambiguous {
		return fmt.Errorf("%w: %d records share the key", ErrAmbiguous, r.Count)
	}
	return nil
}

// Resolve scans all records and counts those whose key equals target.
func Resolve[T Keyed](records []T, target []byte) Result[T] {
	var res Result[T]
	for _, rec := range records {
		if !bytes.Equal(rec.Key(), target) {
			continue
		}
		res.Count++
		if res.Count == 1 {
			res.Record = rec
		}
	}

	switch res.Count {
	case 0:
		res.Status = NotFound
	case 1:
		res.Status = Found
	default:
		var zero T
		res.Record = zero
		res.Status = Ambiguous
	}
	return res
}
