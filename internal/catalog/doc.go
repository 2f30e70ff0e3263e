// Package catalog holds the static table of build tools buildany knows about.
//
// The catalog is an ordered list of marker rules plus a command template per
// tool:
//
//	Makefile      -> make   {run} {test} {build}
//	Cargo.toml    -> cargo  {run} {test} {build}
//	go.mod        -> go     {run ./...} {test ./...} {build ./...}
//
// Rule order is priority: when a directory holds several marker files the
// rule declared first wins. The default order puts Make first so a
// hand-written makefile wraps whatever toolchain sits next to it; callers
// that prefer a different policy derive a new catalog with Reorder.
//
// A Catalog is immutable. Reorder and WithTemplate return new values, so a
// catalog can be shared freely between goroutines.
package catalog
