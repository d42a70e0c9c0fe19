// Package progress defines primitives for reporting and aggregating the
// movement of AI requests through the Nexus pipeline.  It abstracts away the
// underlying communication mechanism so that callers can consume counter
// updates in a uniform way regardless of whether they are delivered via
// in-memory callbacks, metric gauges or external observers.
package progress
