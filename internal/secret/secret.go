// Package secret resolves sensitive configuration values through viant/scy
// resources so credentials never have to sit in plain text next to the rest
// of the configuration.
package secret

import (
	"context"
	"fmt"

	"github.com/viant/scy"
)

// Source points at one sensitive value. Value carries it inline (local and
// test setups); URL references an encrypted scy resource with an optional
// key, e.g. blowfish://default.
type Source struct {
	Value string `json:"value,omitempty" yaml:"value,omitempty"`
	URL   string `json:"url,omitempty" yaml:"url,omitempty"`
	Key   string `json:"key,omitempty" yaml:"key,omitempty"`
}

// Empty reports whether the source references no value at all.
func (s *Source) Empty() bool {
	return s == nil || (s.Value == "" && s.URL == "")
}

// Resolver loads secret sources.
type Resolver struct {
	service *scy.Service
}

// New creates a resolver backed by the default scy service.
func New() *Resolver {
	return &Resolver{service: scy.New()}
}

// Resolve returns the plain value behind a source. Inline values win over
// resource URLs; an empty source resolves to an empty string.
func (r *Resolver) Resolve(ctx context.Context, source *Source) (string, error) {
	if source.Empty() {
		return "", nil
	}
	if source.Value != "" {
		return source.Value, nil
	}
	resource := scy.NewResource(nil, source.URL, source.Key)
	secret, err := r.service.Load(ctx, resource)
	if err != nil {
		return "", fmt.Errorf("failed to load secret from %s: %w", source.URL, err)
	}
	return secret.String(), nil
}
