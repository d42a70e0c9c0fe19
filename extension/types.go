package extension

import (
	"github.com/viant/x"
)

// Types registers handler payload Go types by name so surfaces can expose
// the expected input shape for a kind.
type Types struct {
	x.Registry
}

// Register adds a data type to the registry
func (t *Types) Register(dataType *x.Type) {
	t.Registry.Register(dataType)
}

// Lookup returns a data type from the registry or nil
func (t *Types) Lookup(dataType string) *x.Type {
	return t.Registry.Lookup(dataType)
}

// NewTypes creates a new types registry
func NewTypes(options ...x.RegistryOption) *Types {
	return &Types{
		Registry: *x.NewRegistry(options...),
	}
}
