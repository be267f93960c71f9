// Package api contains the public types of the simmer recipe engine:
// recipe and step definitions, session state, capability interfaces for
// agent and shell invocation, observers, and the error taxonomy used by
// the step executor.
//
// Most users interact with the root simmer package, which re-exports the
// common types and provides engine constructors.
package api
