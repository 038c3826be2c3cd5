// Package uuid provides ID generation helpers.
package uuid

import (
	"github.com/google/uuid"
)

// Generator creates UUID v7 strings. Job and task IDs sort by creation
// time, which keeps snapshot tables naturally clustered.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string, falling back to v4 if the system
// clock source fails.
func (Generator) NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
