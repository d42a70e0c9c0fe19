// Package policy provides a simple, optional approval layer applied when a
// request is submitted.  It is deliberately decoupled from the rest of the
// pipeline so that using it is entirely opt-in – runtimes that do not embed a
// Policy keep the original "auto" behaviour.

package policy

import (
	"context"
	"strings"
)

// Submission modes recognised by the runtime.
const (
	ModeAsk  = "ask"  // require a human decision before dispatch
	ModeAuto = "auto" // dispatch automatically (default)
	ModeDeny = "deny" // block submission
)

// AskFunc is invoked at submit time when Mode==ask.  Returning true
// pre-approves the request (it skips the asynchronous gate), false rejects
// it.  Implementations MAY mutate the policy (for example, switching to
// ModeAuto after the first approval).
type AskFunc func(
	ctx context.Context,
	kind string, // request kind
	payload []byte, // raw request payload – may be nil
	p *Policy,
) bool

// Policy represents the approval settings applied to submissions.
//
//   - Mode controls the high-level behaviour (ask / auto / deny).
//   - AllowList, BlockList allow coarse filtering by kind regardless of Mode.
//   - Ask is only used when Mode==ask.
//
// A nil *Policy means "dispatch everything automatically" and is therefore the
// zero-cost default.
type Policy struct {
	Mode      string   // ask / auto / deny      (default = auto)
	AllowList []string // whitelist (empty => all kinds)
	BlockList []string // blacklist
	Ask       AskFunc  // used only when Mode==ask
}

// ---------------------------------------------------------------------------
// Config <-> Policy converters (Config is a serialisable subset used when a
// Policy with AskFunc cannot be persisted).
// ---------------------------------------------------------------------------

// Config represents the declarative, serialisable part of a Policy.
type Config struct {
	Mode      string   `json:"mode,omitempty" yaml:"mode,omitempty"`
	AllowList []string `json:"allow,omitempty" yaml:"allow,omitempty"`
	BlockList []string `json:"block,omitempty" yaml:"block,omitempty"`
}

// ToConfig converts a runtime Policy into a persistable Config.
func ToConfig(p *Policy) *Config {
	if p == nil {
		return nil
	}
	return &Config{
		Mode:      p.Mode,
		AllowList: append([]string(nil), p.AllowList...),
		BlockList: append([]string(nil), p.BlockList...),
	}
}

// FromConfig converts a stored Config back to a runtime Policy (without
// AskFunc).
func FromConfig(c *Config) *Policy {
	if c == nil {
		return nil
	}
	return &Policy{
		Mode:      c.Mode,
		AllowList: append([]string(nil), c.AllowList...),
		BlockList: append([]string(nil), c.BlockList...),
	}
}

// IsAllowed evaluates AllowList / BlockList.  Both lists match by exact string
// comparison (case-insensitive) of the request kind.
func (p *Policy) IsAllowed(kind string) bool {
	if p == nil {
		return true
	}

	normalized := strings.ToLower(kind)

	// BlockList has priority.
	for _, b := range p.BlockList {
		if normalized == strings.ToLower(b) {
			return false
		}
	}

	// AllowList – if empty everything is allowed, otherwise only the listed
	// entries.
	if len(p.AllowList) == 0 {
		return true
	}

	for _, a := range p.AllowList {
		if normalized == strings.ToLower(a) {
			return true
		}
	}

	return false
}

// ---------------------------------------------------------------------------
// Context helpers
// ---------------------------------------------------------------------------

type ctxKeyT struct{}

var ctxKey ctxKeyT

// WithPolicy embeds policy in ctx.
func WithPolicy(ctx context.Context, p *Policy) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey, p)
}

// FromContext extracts (*Policy, ok).
func FromContext(ctx context.Context) *Policy {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxKey).(*Policy); ok {
		return v
	}
	return nil
}
