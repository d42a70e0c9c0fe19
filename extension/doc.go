// Package extension provides run-time registries that bind worker handlers
// and their payload Go types to request kinds.
//
// The registries are normally populated through the public APIs under the
// root nexus package, therefore most applications do not need to import
// this package directly.
package extension
