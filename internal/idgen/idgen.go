package idgen

import "github.com/google/uuid"

// NewFunc mints request identifiers. Tests stub it to get stable ids.
var NewFunc = func() string { return uuid.New().String() }

// New returns a new globally unique identifier as string.
func New() string { return NewFunc() }
