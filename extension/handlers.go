package extension

import (
	"sort"
	"sync"

	"github.com/viant/nexus/service/worker"
	"github.com/viant/x"
)

// Handlers indexes worker handlers by request kind.
type Handlers struct {
	types    *Types
	handlers map[string]worker.Handler
	mux      sync.RWMutex
}

// Types returns the payload type registry
func (s *Handlers) Types() *Types {
	return s.types
}

// Lookup returns a handler by kind
func (s *Handlers) Lookup(kind string) worker.Handler {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.handlers[kind]
}

// Register registers a handler, recording its typed input when it exposes
// one
func (s *Handlers) Register(handler worker.Handler) {
	s.mux.Lock()
	defer s.mux.Unlock()

	if typer, ok := handler.(worker.InputTyper); ok {
		s.types.Register(x.NewType(typer.InputType(), x.WithName(handler.Kind()+".Input")))
	}
	s.handlers[handler.Kind()] = handler
}

// Kinds returns the registered kinds in sorted order
func (s *Handlers) Kinds() []string {
	s.mux.RLock()
	defer s.mux.RUnlock()
	kinds := make([]string, 0, len(s.handlers))
	for kind := range s.handlers {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// All returns the registered handlers ordered by kind
func (s *Handlers) All() []worker.Handler {
	kinds := s.Kinds()
	s.mux.RLock()
	defer s.mux.RUnlock()
	handlers := make([]worker.Handler, 0, len(kinds))
	for _, kind := range kinds {
		handlers = append(handlers, s.handlers[kind])
	}
	return handlers
}

// NewHandlers creates a handler registry
func NewHandlers(goTypes ...*x.Type) *Handlers {
	ret := &Handlers{
		types:    NewTypes(),
		handlers: make(map[string]worker.Handler),
	}
	for _, t := range goTypes {
		if t != nil {
			ret.types.Register(t)
		}
	}
	return ret
}
