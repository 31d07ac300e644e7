// Package uuid provides ID generation for queue items and API resources.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator produces unique identifiers. The queue takes one so tests can
// supply predictable IDs.
type Generator func() string

// New generates a new UUID v4.
func New() string {
	return uuid.New().String()
}

// Sequence returns a Generator yielding prefix-1, prefix-2, ...
// It is not safe for concurrent use.
func Sequence(prefix string) Generator {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}
