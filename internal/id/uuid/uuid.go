// Package uuid generates job identifiers.
package uuid

import guuid "github.com/google/uuid"

// Generator produces random UUIDv4 job ids.
type Generator struct{}

// New returns a Generator.
func New() Generator { return Generator{} }

// NewID returns a random UUID string.
func (Generator) NewID() (string, error) {
	id, err := guuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
