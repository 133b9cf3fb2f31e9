package common

import "github.com/oklog/ulid/v2"

// NewULID returns a 26 char, time-sortable identifier.
func NewULID() string {
	return ulid.Make().String()
}
