// Package idgen wraps the UUID generator behind a stubbable seam. It lives
// under `internal` because request identifiers are opaque strings to every
// caller – nothing outside the runtime may depend on their shape.
package idgen
